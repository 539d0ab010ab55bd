package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T, mr *miniredis.Miniredis) *RedisLocker {
	t.Helper()
	l, err := NewRedisLocker("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisLocker failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRedisLocker_TryLock(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestLocker(t, mr)
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "checks", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}

	if _, ok, err := l.TryLock(ctx, "checks", time.Minute); err != nil || ok {
		t.Fatalf("expected held lock, got ok=%v err=%v", ok, err)
	}

	release()
	if mr.Exists(keyPrefix + "checks") {
		t.Error("release should delete the key")
	}

	release2, ok, err := l.TryLock(ctx, "checks", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock after release: ok=%v err=%v", ok, err)
	}
	release2()
}

func TestRedisLocker_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestLocker(t, mr)
	b := newTestLocker(t, mr)
	ctx := context.Background()

	release, ok, _ := a.TryLock(ctx, "checks", time.Minute)
	if !ok {
		t.Fatal("instance a should acquire")
	}
	defer release()

	if _, ok, _ := b.TryLock(ctx, "checks", time.Minute); ok {
		t.Error("instance b must not acquire a lock held by a")
	}
}

func TestRedisLocker_ForeignTokenCannotRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestLocker(t, mr)
	ctx := context.Background()

	release, ok, _ := l.TryLock(ctx, "checks", time.Minute)
	if !ok {
		t.Fatal("expected to acquire")
	}
	defer release()

	l.buildRelease("checks", "not-the-owner")()
	if !mr.Exists(keyPrefix + "checks") {
		t.Error("a foreign token must not delete the lock")
	}
}

func TestRedisLocker_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestLocker(t, mr)
	ctx := context.Background()

	if _, ok, _ := l.TryLock(ctx, "checks", 500*time.Millisecond); !ok {
		t.Fatal("expected to acquire")
	}
	mr.FastForward(time.Second)

	release, ok, err := l.TryLock(ctx, "checks", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock free after TTL, ok=%v err=%v", ok, err)
	}
	release()
	release()
}

func TestRedisLocker_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	l := NewRedisLockerFromClient(client)
	mr.Close()

	if _, ok, err := l.TryLock(context.Background(), "checks", time.Minute); err == nil || ok {
		t.Errorf("expected error with redis down, got ok=%v err=%v", ok, err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close on a borrowed client should be a no-op: %v", err)
	}
}

func TestNewRedisLocker_InvalidURL(t *testing.T) {
	if _, err := NewRedisLocker("not a url"); err == nil {
		t.Error("expected parse error")
	}
}
