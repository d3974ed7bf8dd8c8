package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestWithLockReleases(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, time.Minute)

	ran := false
	err := locker.WithLock(context.Background(), "reminders", func(ctx context.Context) error {
		ran = true
		if !mr.Exists("lock:reminders") {
			t.Fatalf("lock key missing while held")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if !ran {
		t.Fatalf("fn not called")
	}
	if mr.Exists("lock:reminders") {
		t.Fatalf("lock key not released")
	}
}

func TestWithLockHeld(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, time.Minute)

	if err := mr.Set("lock:reminders", "someone-else"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := locker.WithLock(context.Background(), "reminders", func(ctx context.Context) error {
		t.Fatalf("fn must not run while the lock is held")
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}

	// a foreign holder's key survives
	if got, _ := mr.Get("lock:reminders"); got != "someone-else" {
		t.Fatalf("foreign lock was touched: %q", got)
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	_, rdb := newTestClient(t)
	locker := NewRedisLocker(rdb, time.Minute)

	boom := errors.New("boom")
	err := locker.WithLock(context.Background(), "reminders", func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
}
