package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when a contact lock could not be taken
// before the context ended.
var ErrLockNotAcquired = errors.New("conversation: contact lock not acquired")

// ContactLocker serializes turns of one contact address.
type ContactLocker interface {
	WithContactLock(ctx context.Context, contact string, fn func(ctx context.Context) error) error
}

// LocalContactLocker is a keyed mutex for a single process.
type LocalContactLocker struct {
	mu    sync.Mutex
	locks map[string]*contactLock
}

type contactLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalContactLocker() *LocalContactLocker {
	return &LocalContactLocker{locks: make(map[string]*contactLock)}
}

func (l *LocalContactLocker) WithContactLock(ctx context.Context, contact string, fn func(ctx context.Context) error) error {
	key := strings.TrimSpace(contact)
	lock := l.acquireRef(key)
	defer l.releaseRef(key, lock)

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
	}
	defer func() { <-lock.ch }()
	return fn(ctx)
}

func (l *LocalContactLocker) acquireRef(key string) *contactLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &contactLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (l *LocalContactLocker) releaseRef(key string, lock *contactLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

// RedisContactLocker holds a per-contact Redis key for the duration of a
// turn so replicas never interleave one contact's turns.
type RedisContactLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisContactLocker builds a locker whose keys expire after ttl, which
// bounds both a turn and the damage of a crashed holder.
func NewRedisContactLocker(client *redis.Client, ttl time.Duration) *RedisContactLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisContactLocker{client: client, ttl: ttl, retry: 100 * time.Millisecond}
}

func (l *RedisContactLocker) WithContactLock(ctx context.Context, contact string, fn func(ctx context.Context) error) error {
	key := "lock:contact:" + strings.TrimSpace(contact)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("conversation: acquire contact lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *RedisContactLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("conversation: release contact lock: %w", err)
	}
	return nil
}
