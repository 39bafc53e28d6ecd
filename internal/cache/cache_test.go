package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if value, ok, _ := m.Get(ctx, "k"); !ok || value != "v" {
		t.Fatalf("expected hit got %q %v", value, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestReadThroughCachesLoads(t *testing.T) {
	ctx := context.Background()
	calls := 0
	rt := NewReadThrough(NewMemory(time.Minute), "group:", func(_ context.Context, key string) (string, error) {
		calls++
		return "name-" + key, nil
	})

	for i := 0; i < 3; i++ {
		value, err := rt.Get(ctx, "g1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if value != "name-g1" {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load got %d", calls)
	}
}

func TestReadThroughDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	calls := 0
	rt := NewReadThrough(NewMemory(time.Minute), "", func(context.Context, string) (string, error) {
		calls++
		return "", errors.New("down")
	})

	for i := 0; i < 2; i++ {
		if _, err := rt.Get(ctx, "g1"); err == nil {
			t.Fatal("expected error")
		}
	}
	if calls != 2 {
		t.Fatalf("expected failed loads to be retried got %d calls", calls)
	}
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	store, err := NewRedis(ctx, server.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	defer store.Close()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss got %v %v", ok, err)
	}
	if err := store.Set(ctx, "user:u1", "Alice"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := store.Get(ctx, "user:u1")
	if err != nil || !ok || value != "Alice" {
		t.Fatalf("unexpected get %q %v %v", value, ok, err)
	}

	server.FastForward(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "user:u1"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestReadThroughBypassesBrokenRedis(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	store, err := NewRedis(ctx, server.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	defer store.Close()
	server.Close()

	rt := NewReadThrough(store, "", func(context.Context, string) (string, error) { return "loaded", nil })
	value, err := rt.Get(ctx, "k")
	if err != nil || value != "loaded" {
		t.Fatalf("expected loader fallback got %q %v", value, err)
	}
}
