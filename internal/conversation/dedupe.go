package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 24 * time.Hour

// InboundDeduper remembers provider message ids so a redelivered webhook is
// enqueued once. Release forgets an id whose enqueue failed, letting the
// provider's retry through.
type InboundDeduper interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

// LocalInboundDeduper keeps seen ids in process memory until they expire.
type LocalInboundDeduper struct {
	mu     sync.Mutex
	ttl    time.Duration
	seen   map[string]time.Time
	claims int
	now    func() time.Time
}

func NewLocalInboundDeduper(ttl time.Duration) *LocalInboundDeduper {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &LocalInboundDeduper{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (d *LocalInboundDeduper) Claim(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.claims++
	if d.claims%256 == 0 {
		for id, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, id)
			}
		}
	}
	if exp, ok := d.seen[messageID]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[messageID] = now.Add(d.ttl)
	return true, nil
}

func (d *LocalInboundDeduper) Release(_ context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, messageID)
	return nil
}

// RedisInboundDeduper shares seen ids across replicas.
type RedisInboundDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisInboundDeduper(client *redis.Client, ttl time.Duration) *RedisInboundDeduper {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisInboundDeduper{client: client, ttl: ttl}
}

func (d *RedisInboundDeduper) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupeKey(messageID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("conversation: claim inbound message: %w", err)
	}
	return ok, nil
}

func (d *RedisInboundDeduper) Release(ctx context.Context, messageID string) error {
	if err := d.client.Del(ctx, dedupeKey(messageID)).Err(); err != nil {
		return fmt.Errorf("conversation: release inbound message: %w", err)
	}
	return nil
}

func dedupeKey(messageID string) string {
	return "inbound:seen:" + strings.TrimSpace(messageID)
}
