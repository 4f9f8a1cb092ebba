package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisClient(client, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestSetGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok := store.Get(ctx, "missing"); ok {
		t.Error("expected miss for absent key")
	}

	store.Set(ctx, "k", "v", time.Minute)
	val, ok := store.Get(ctx, "k")
	if !ok || val != "v" {
		t.Errorf("Get = %q, %v, want v, true", val, ok)
	}
}

func TestGetAfterExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "k", "v", time.Second)
	mr.FastForward(2 * time.Second)

	if _, ok := store.Get(ctx, "k"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestIncrCreatesWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if n := store.Incr(ctx, "counter", time.Minute); n != 1 {
		t.Errorf("first Incr = %d, want 1", n)
	}
	if n := store.Incr(ctx, "counter", time.Minute); n != 2 {
		t.Errorf("second Incr = %d, want 2", n)
	}

	if ttl := mr.TTL("counter"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("counter TTL = %v, want (0, 1m]", ttl)
	}

	// The window is anchored at the first increment: later increments
	// must not extend it
	mr.FastForward(30 * time.Second)
	store.Incr(ctx, "counter", time.Minute)
	if ttl := mr.TTL("counter"); ttl > 30*time.Second {
		t.Errorf("counter TTL extended to %v after re-increment", ttl)
	}
}

func TestIncrReArmsLostTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	// A counter stranded without expiry (crash between INCR and EXPIRE)
	// must not rate-limit the domain forever
	if err := mr.Set("counter", "5"); err != nil {
		t.Fatal(err)
	}
	if n := store.Incr(ctx, "counter", time.Minute); n != 6 {
		t.Errorf("Incr = %d, want 6", n)
	}
	if ttl := mr.TTL("counter"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("stranded counter TTL = %v, want (0, 1m]", ttl)
	}

	// Persistent keys stay persistent
	if err := mr.Set("index", "3"); err != nil {
		t.Fatal(err)
	}
	store.Incr(ctx, "index", 0)
	if ttl := mr.TTL("index"); ttl != 0 {
		t.Errorf("persistent key TTL = %v, want none", ttl)
	}
}

func TestExistsAndSetTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if store.Exists(ctx, "k") {
		t.Error("Exists = true for absent key")
	}
	store.Set(ctx, "k", "v", time.Minute)
	if !store.Exists(ctx, "k") {
		t.Error("Exists = false for present key")
	}

	store.SetTTL(ctx, "k", time.Hour)
	if ttl := mr.TTL("k"); ttl != time.Hour {
		t.Errorf("TTL after SetTTL = %v, want 1h", ttl)
	}
}

func TestFailsOpenWhenBackendDown(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	if _, ok := store.Get(ctx, "k"); ok {
		t.Error("Get should miss with backend down")
	}
	store.Set(ctx, "k", "v", time.Minute) // must not panic
	if n := store.Incr(ctx, "c", time.Minute); n != 1 {
		t.Errorf("Incr with backend down = %d, want 1", n)
	}
	if store.Exists(ctx, "k") {
		t.Error("Exists should report false with backend down")
	}
}

func TestKeyFamilies(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{VerifyKey("User@Example.COM"), "verify:user@example.com"},
		{MXKey("Example.com"), "dns:mx:example.com"},
		{MinuteKey("gmail.com"), "smtp:gmail.com:minute"},
		{HourKey("gmail.com"), "smtp:gmail.com:hour"},
		{BlockedKey("gmail.com"), "smtp:blocked:gmail.com"},
		{IPIndexKey(), "smtp:ip_index"},
		{UsageKey("tenant-1"), "usage:tenant-1"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("key = %q, want %q", tc.got, tc.want)
		}
	}
}
