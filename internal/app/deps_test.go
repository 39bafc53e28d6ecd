package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/glimpse/backend/internal/cache"
	"github.com/glimpse/backend/internal/config"
	"github.com/glimpse/backend/internal/memstore"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		StoreBackend: config.StoreMemory,
		Feed:         config.FeedConfig{DefaultLimit: 10, MaxLimit: 50, Concurrency: 2},
		Auth:         config.AuthConfig{AccessTTL: time.Minute, RefreshTTL: time.Hour, RateLimit: 5, RateWindow: time.Minute},
		ObjectStore:  config.ObjectStoreConfig{LocalDir: t.TempDir()},
		Cache:        config.CacheConfig{NameTTL: time.Minute},
		Uploads:      config.UploadConfig{Workers: 1, QueueSize: 2, MaxBytes: 1 << 20, SpoolDir: t.TempDir()},
	}
}

func TestBuildDependencies(t *testing.T) {
	cfg := testConfig(t)

	svc, cleanup, err := buildDependencies(context.Background(), memoryBackend(memstore.New()), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := cleanup(ctx); err != nil {
			t.Errorf("cleanup: %v", err)
		}
	}()

	deps := svc.handlers
	if deps.Auth == nil || deps.Authenticator == nil {
		t.Fatal("expected auth service to be configured")
	}
	if deps.Sessions == nil || svc.coordinator == nil {
		t.Fatal("expected session coordinator to be configured")
	}
	if deps.Groups == nil {
		t.Fatal("expected group service to be configured")
	}
	if deps.Uploads == nil || svc.pipeline == nil {
		t.Fatal("expected upload pipeline to be configured")
	}
	if deps.Media == nil {
		t.Fatal("expected blob store to be configured")
	}
	if deps.MediaDir != cfg.ObjectStore.LocalDir {
		t.Fatalf("expected local media dir %q got %q", cfg.ObjectStore.LocalDir, deps.MediaDir)
	}
	if deps.AuthLimiter == nil || deps.Metrics == nil {
		t.Fatal("expected limiter and metrics handler to be configured")
	}
	if deps.HealthCheck != nil {
		t.Fatal("memory store should not register a health probe")
	}
}

func TestBuildDependenciesUsesS3WhenBucketSet(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStore = config.ObjectStoreConfig{Bucket: "test-bucket", Endpoint: "http://localhost:9000", Region: "us-east-1"}

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	svc, cleanup, err := buildDependencies(context.Background(), memoryBackend(memstore.New()), cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup(context.Background())

	if svc.handlers.MediaDir != "" {
		t.Fatalf("S3 media must not be served from disk, got %q", svc.handlers.MediaDir)
	}
}

func TestNameCacheSelection(t *testing.T) {
	ctx := context.Background()

	local, err := nameCache(ctx, config.CacheConfig{NameTTL: time.Minute})
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}
	if _, ok := local.(*cache.Memory); !ok {
		t.Fatalf("expected memory cache got %T", local)
	}

	server := miniredis.RunT(t)
	addr := server.Addr()
	shared, err := nameCache(ctx, config.CacheConfig{RedisAddr: addr, NameTTL: time.Minute})
	if err != nil {
		t.Fatalf("redis cache: %v", err)
	}
	r, ok := shared.(*cache.Redis)
	if !ok {
		t.Fatalf("expected redis cache got %T", shared)
	}
	defer r.Close()

	server.Close()
	if _, err := nameCache(ctx, config.CacheConfig{RedisAddr: addr}); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestOpenBackendRejectsUnknownStore(t *testing.T) {
	if _, err := openBackend(context.Background(), config.Config{StoreBackend: "floppy"}); err == nil {
		t.Fatal("expected error for unknown store")
	}
}
