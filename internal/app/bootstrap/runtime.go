package bootstrap

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/internal/conversation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildContactLocker picks the Redis lock when Redis is reachable so several
// API replicas serialize the same contact; otherwise an in-process lock.
func BuildContactLocker(client *redis.Client, cfg *appconfig.Config, logger *logging.Logger) conversation.ContactLocker {
	if client == nil {
		if logger != nil {
			logger.Info("using in-process contact lock")
		}
		return conversation.NewLocalContactLocker()
	}
	return conversation.NewRedisContactLocker(client, cfg.RedisLockTTL)
}

// BuildInboundDeduper shares seen webhook message ids through Redis when it is
// available; otherwise each process remembers its own.
func BuildInboundDeduper(client *redis.Client) conversation.InboundDeduper {
	if client == nil {
		return conversation.NewLocalInboundDeduper(0)
	}
	return conversation.NewRedisInboundDeduper(client, 0)
}
