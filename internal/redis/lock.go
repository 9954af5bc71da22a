package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("practitioner lock not acquired")
)

const retryInterval = 25 * time.Millisecond

// PractitionerLocker serializes schedule changes for one practitioner
// across every api-server instance.
type PractitionerLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisPractitionerLocker creates a locker that uses a per practitioner
// Redis key. A busy key is retried until wait has elapsed.
func NewRedisPractitionerLocker(client *redis.Client, ttl, wait time.Duration) *PractitionerLocker {
	return &PractitionerLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func lockKey(practitionerID string) string {
	return fmt.Sprintf("lock:practitioner:%s", practitionerID)
}

func (l *PractitionerLocker) WithPractitionerLock(ctx context.Context, practitionerID string, fn func(ctx context.Context) error) error {
	key := lockKey(practitionerID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release even when ctx is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *PractitionerLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire practitioner lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *PractitionerLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release practitioner lock: %w", err)
	}
	return nil
}

// LocalLocker is the single-process locker used when Redis is not
// configured. Keys are never evicted; the practitioner set is small.
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		wait:  wait,
		locks: make(map[string]chan struct{}),
	}
}

func (l *LocalLocker) slot(practitionerID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.locks[practitionerID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[practitionerID] = ch
	}
	return ch
}

func (l *LocalLocker) WithPractitionerLock(ctx context.Context, practitionerID string, fn func(ctx context.Context) error) error {
	ch := l.slot(practitionerID)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()

	return fn(ctx)
}
