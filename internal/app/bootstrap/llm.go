package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// AWSConfigLoader returns the shared AWS config on first use.
type AWSConfigLoader func(ctx context.Context) (aws.Config, error)

// BuildLLMClient wires the configured provider, optionally behind a failover
// to a second provider. It returns nil when no provider is usable, which
// leaves intent resolution to the keyword fallback.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, loadAWS AWSConfigLoader, logger *logging.Logger) (llm.Client, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	primary, closePrimary, err := buildProvider(ctx, cfg.LLMProvider, cfg, loadAWS)
	if err != nil {
		return nil, nil, err
	}
	if closePrimary != nil {
		closers = append(closers, closePrimary)
	}
	secondary, closeSecondary, err := buildProvider(ctx, cfg.LLMFallbackProvider, cfg, loadAWS)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if closeSecondary != nil {
		closers = append(closers, closeSecondary)
	}

	switch {
	case primary != nil && secondary != nil:
		logger.Info("llm failover enabled", "primary", cfg.LLMProvider, "secondary", cfg.LLMFallbackProvider)
		return llm.NewFailoverClient(primary, secondary, logger), cleanup, nil
	case primary != nil:
		logger.Info("llm provider configured", "provider", cfg.LLMProvider)
		return primary, cleanup, nil
	case secondary != nil:
		logger.Warn("primary llm provider unavailable, using fallback provider", "provider", cfg.LLMFallbackProvider)
		return secondary, cleanup, nil
	default:
		logger.Warn("no llm provider configured; intents use keyword fallback only")
		return nil, cleanup, nil
	}
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, loadAWS AWSConfigLoader) (llm.Client, func(), error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return nil, nil, nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, nil, nil
		}
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		return client, func() { _ = client.Close() }, nil
	case "bedrock":
		if cfg.BedrockModelID == "" || loadAWS == nil {
			return nil, nil, nil
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown llm provider %q", name)
	}
}
