package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/internal/db"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// App is a fully connected Engine plus the handles it owns.
type App struct {
	*Engine

	pool    *pgxpool.Pool
	redis   *redis.Client
	closers []func()
}

// BuildApp connects to Postgres and the optional integrations named by cfg
// and wires the Engine over them. Close releases everything.
func BuildApp(ctx context.Context, cfg *appconfig.Config, loadAWS AWSConfigLoader, reg prometheus.Registerer, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("bootstrap: DATABASE_URL is required")
	}

	app := &App{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	pool, err := db.ConnectPostgres(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		return nil, err
	}
	app.pool = pool
	app.closers = append(app.closers, pool.Close)

	app.redis = BuildRedisClient(ctx, cfg, logger, true)
	if app.redis != nil {
		client := app.redis
		app.closers = append(app.closers, func() { _ = client.Close() })
	}

	cal, err := BuildCalendar(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	llmClient, llmCleanup, err := BuildLLMClient(ctx, cfg, loadAWS, logger)
	if err != nil {
		return nil, err
	}
	if llmCleanup != nil {
		app.closers = append(app.closers, llmCleanup)
	}
	email, err := BuildEmailSender(ctx, cfg, loadAWS, logger)
	if err != nil {
		return nil, err
	}
	queue, err := BuildQueue(ctx, cfg, loadAWS, logger)
	if err != nil {
		return nil, err
	}

	engine, err := BuildEngine(cfg, Dependencies{
		Pool:       pool,
		Redis:      app.redis,
		Calendar:   cal,
		LLM:        llmClient,
		Messenger:  BuildOutboundMessenger(cfg, logger),
		Email:      email,
		Queue:      queue,
		Registerer: reg,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: build engine: %w", err)
	}
	app.Engine = engine
	app.closers = append(app.closers, func() { _ = engine.Close() })

	if cfg.PIIMigrateLegacy {
		if err := engine.MigrateLegacyIdentities(ctx, logger); err != nil {
			return nil, err
		}
	}

	ok = true
	return app, nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
