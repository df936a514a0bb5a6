package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thiagorragazzo/clinic-assistant/cmd/mainconfig"
	"github.com/thiagorragazzo/clinic-assistant/internal/api/router"
	"github.com/thiagorragazzo/clinic-assistant/internal/app/bootstrap"
	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger, closeLog := logging.NewWithFile(cfg.LogLevel, cfg.LogFile)
	defer func() { _ = closeLog() }()
	logger.Info("starting clinic-assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, metricsHandler := setupMetrics()
	app, err := bootstrap.BuildApp(ctx, cfg, awsLoader(cfg), registry, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// Background work outlives the request context so shutdown can drain it.
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	inlineWorker := startInlineWorker(bgCtx, cfg, app, logger)
	if err := app.Reminders.Start(bgCtx); err != nil {
		return fmt.Errorf("start reminder runner: %w", err)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(app.RouterConfig(cfg, metricsHandler, logger)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	app.Reminders.Stop(shutdownCtx)
	cancelBackground()
	if inlineWorker {
		waitForWorker(shutdownCtx, app, logger)
	}
	logger.Info("server stopped")
	return nil
}

// setupMetrics returns a dedicated registry so the engine collectors and the
// process collectors are exported together on /metrics.
func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// awsLoader loads the AWS config once, on first use by an integration.
func awsLoader(cfg *appconfig.Config) bootstrap.AWSConfigLoader {
	var (
		once   sync.Once
		awsCfg aws.Config
		err    error
	)
	return func(ctx context.Context) (aws.Config, error) {
		once.Do(func() { awsCfg, err = mainconfig.LoadAWSConfig(ctx, cfg) })
		return awsCfg, err
	}
}

// startInlineWorker runs the conversation worker inside the API process when
// the in-memory queue is used. With SQS, cmd/conversation-worker consumes.
func startInlineWorker(ctx context.Context, cfg *appconfig.Config, app *bootstrap.App, logger *logging.Logger) bool {
	if !cfg.UseMemoryQueue {
		logger.Info("inline conversation worker disabled; queue consumed by conversation-worker")
		return false
	}
	app.Worker.Start(ctx)
	logger.Info("inline conversation worker started", "shards", cfg.WorkerCount)
	return true
}

func waitForWorker(ctx context.Context, app *bootstrap.App, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		app.Worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("conversation worker stopped")
	case <-ctx.Done():
		logger.Error("conversation worker shutdown timed out", "error", ctx.Err())
	}
}
