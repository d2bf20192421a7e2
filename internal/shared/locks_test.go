package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) *MutationLocker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewMutationLocker(client, time.Minute)
}

func TestMutationLockerSerialisesPerUser(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	token, err := locker.Acquire(ctx, 42)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, 42); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	// A different user is not blocked.
	if _, err := locker.Acquire(ctx, 43); err != nil {
		t.Fatalf("acquire other user: %v", err)
	}
	if err := locker.Release(ctx, 42, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := locker.Acquire(ctx, 42); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestMutationLockerReleaseIgnoresStaleToken(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	token, err := locker.Acquire(ctx, 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := locker.Release(ctx, 7, "not-the-token"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	// The real holder still owns the lock.
	if _, err := locker.Acquire(ctx, 7); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected lock still held, got %v", err)
	}
	if err := locker.Release(ctx, 7, token); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestAcquireAllRollsBackOnContention(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	blocker, err := locker.Acquire(ctx, 2)
	if err != nil {
		t.Fatalf("acquire blocker: %v", err)
	}
	if _, err := locker.AcquireAll(ctx, []int64{1, 2, 3}); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected contention, got %v", err)
	}
	// User 1 must have been rolled back.
	tok, err := locker.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("user 1 should be free: %v", err)
	}
	_ = locker.Release(ctx, 1, tok)
	_ = locker.Release(ctx, 2, blocker)
}
