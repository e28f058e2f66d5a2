package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/redis/go-redis/v9"
)

// ErrTooManyAttempts is returned while an email is locked out.
var ErrTooManyAttempts = apperr.New(apperr.ErrThrottled, "too_many_requests", "too many failed sign-in attempts, try again later")

// FailureCounter counts failures per key inside a fixed window that starts
// at the first failure.
type FailureCounter interface {
	Count(ctx context.Context, key string) (int, error)
	Increment(ctx context.Context, key string, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

// LoginThrottle locks an email out after too many failed sign-ins.
type LoginThrottle struct {
	counter     FailureCounter
	maxAttempts int
	window      time.Duration
}

// NewLoginThrottle creates a LoginThrottle.
func NewLoginThrottle(counter FailureCounter, maxAttempts int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{counter: counter, maxAttempts: maxAttempts, window: window}
}

func throttleKey(email string) string {
	return "login:failures:" + strings.ToLower(strings.TrimSpace(email))
}

// Check returns ErrTooManyAttempts once the failure budget is spent.
func (t *LoginThrottle) Check(ctx context.Context, email string) error {
	n, err := t.counter.Count(ctx, throttleKey(email))
	if err != nil {
		return err
	}
	if n >= t.maxAttempts {
		return ErrTooManyAttempts
	}
	return nil
}

// Failed records one failed attempt.
func (t *LoginThrottle) Failed(ctx context.Context, email string) error {
	_, err := t.counter.Increment(ctx, throttleKey(email), t.window)
	return err
}

// Succeeded clears the failure count.
func (t *LoginThrottle) Succeeded(ctx context.Context, email string) error {
	return t.counter.Reset(ctx, throttleKey(email))
}

// RedisCounter keeps counters in Redis so every instance shares them.
type RedisCounter struct {
	rdb *redis.Client
}

// NewRedisCounter creates a RedisCounter.
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (r *RedisCounter) Count(ctx context.Context, key string) (int, error) {
	n, err := r.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read login failures: %w", err)
	}
	return n, nil
}

func (r *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count login failure: %w", err)
	}
	if n == 1 {
		if err := r.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set login failure window: %w", err)
		}
	}
	return int(n), nil
}

func (r *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	return nil
}

type memoryCount struct {
	n       int
	expires time.Time
}

// MemoryCounter is a process-local FailureCounter.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]memoryCount
	now    func() time.Time
}

// NewMemoryCounter creates a MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]memoryCount), now: time.Now}
}

func (m *MemoryCounter) Count(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[key]
	if !ok || !m.now().Before(c.expires) {
		return 0, nil
	}
	return c.n, nil
}

func (m *MemoryCounter) Increment(_ context.Context, key string, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	c, ok := m.counts[key]
	if !ok || !now.Before(c.expires) {
		c = memoryCount{expires: now.Add(window)}
	}
	c.n++
	m.counts[key] = c
	return c.n, nil
}

func (m *MemoryCounter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	return nil
}
