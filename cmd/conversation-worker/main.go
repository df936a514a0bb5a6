package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thiagorragazzo/clinic-assistant/cmd/mainconfig"
	"github.com/thiagorragazzo/clinic-assistant/internal/app/bootstrap"
	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// conversation-worker consumes the SQS conversation queue. Run it when the
// API is deployed with USE_MEMORY_QUEUE=false.
func main() {
	cfg := appconfig.Load()
	logger, closeLog := logging.NewWithFile(cfg.LogLevel, cfg.LogFile)
	defer func() { _ = closeLog() }()

	if cfg.UseMemoryQueue {
		logger.Error("conversation worker requires USE_MEMORY_QUEUE=false and CONVERSATION_QUEUE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loadAWS := func(ctx context.Context) (aws.Config, error) { return mainconfig.LoadAWSConfig(ctx, cfg) }
	app, err := bootstrap.BuildApp(ctx, cfg, loadAWS, prometheus.NewRegistry(), logger)
	if err != nil {
		logger.Error("failed to build conversation worker", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	app.Worker.Start(ctx)
	logger.Info("conversation worker started", "shards", cfg.WorkerCount, "queue", cfg.ConversationQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		app.Worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
