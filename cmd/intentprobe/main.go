// intentprobe resolves one patient message with the configured NLP provider
// and with the keyword fallback, and prints both results.
//
//	go run ./cmd/intentprobe "quero marcar consulta amanhã às 14h, CPF 111.444.777-35"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/thiagorragazzo/clinic-assistant/cmd/mainconfig"
	"github.com/thiagorragazzo/clinic-assistant/internal/app/bootstrap"
	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/internal/intent"
	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

func main() {
	if len(os.Args) < 2 || strings.TrimSpace(strings.Join(os.Args[1:], " ")) == "" {
		fmt.Fprintln(os.Stderr, "usage: intentprobe <message>")
		os.Exit(2)
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, cleanup, err := bootstrap.BuildLLMClient(ctx, cfg, func(ctx context.Context) (aws.Config, error) {
		return mainconfig.LoadAWSConfig(ctx, cfg)
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llm client: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := probe(ctx, os.Stdout, client, cfg.Location(), strings.Join(os.Args[1:], " "), logger); err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		os.Exit(1)
	}
}

func probe(ctx context.Context, w io.Writer, client llm.Client, loc *time.Location, text string, logger *logging.Logger) error {
	history := []llm.Message{{Role: llm.RoleUser, Content: text}}

	start := time.Now()
	resolved := intent.NewResolver(client, logger, intent.WithLocation(loc)).Resolve(ctx, history)
	elapsed := time.Since(start)
	fallback := intent.Fallback(text, time.Now().In(loc), loc)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	fmt.Fprintf(w, "resolver (%s, %v):\n", resolved.Source, elapsed.Round(time.Millisecond))
	if err := enc.Encode(resolved); err != nil {
		return err
	}
	fmt.Fprintln(w, "keyword fallback:")
	return enc.Encode(fallback)
}
