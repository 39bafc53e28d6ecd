package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimpse/backend/internal/auth"
	"github.com/glimpse/backend/internal/cache"
	"github.com/glimpse/backend/internal/config"
	"github.com/glimpse/backend/internal/db"
	"github.com/glimpse/backend/internal/dynamo"
	"github.com/glimpse/backend/internal/feed"
	"github.com/glimpse/backend/internal/groups"
	"github.com/glimpse/backend/internal/handlers"
	"github.com/glimpse/backend/internal/invitations"
	"github.com/glimpse/backend/internal/media"
	"github.com/glimpse/backend/internal/membership"
	"github.com/glimpse/backend/internal/memstore"
	"github.com/glimpse/backend/internal/metrics"
	"github.com/glimpse/backend/internal/middleware"
	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
	"github.com/glimpse/backend/internal/session"
	"github.com/glimpse/backend/internal/storage"
	"github.com/glimpse/backend/internal/uploads"
)

const mediaPrefix = "/media"

type userStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// backend is one document store seen through the repository interfaces.
type backend struct {
	users       userStore
	groups      repositories.GroupRepository
	videos      repositories.VideoRepository
	invitations repositories.InvitationRepository
	sessions    auth.SessionStore
	ping        func(ctx context.Context) error
	close       func()
}

// openBackend connects to the store selected by cfg.StoreBackend.
func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return memoryBackend(memstore.New()), nil
	case config.StoreDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.Dynamo.Region, cfg.Dynamo.Endpoint)
		if err != nil {
			return backend{}, err
		}
		return dynamoBackend(dynamo.New(client, cfg.Dynamo.TablePrefix)), nil
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, err
		}
		return postgresBackend(pool), nil
	default:
		return backend{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func postgresBackend(pool db.Pool) backend {
	return backend{
		users:       repositories.NewPostgresUserRepository(pool),
		groups:      repositories.NewPostgresGroupRepository(pool),
		videos:      repositories.NewPostgresVideoRepository(pool),
		invitations: repositories.NewPostgresInvitationRepository(pool),
		sessions:    repositories.NewPostgresSessionStore(pool),
		ping:        pool.Ping,
		close:       pool.Close,
	}
}

func dynamoBackend(store *dynamo.Store) backend {
	return backend{
		users:       store.Users,
		groups:      store.Groups,
		videos:      store.Videos,
		invitations: store.Invitations,
		sessions:    store.Sessions,
	}
}

func memoryBackend(store *memstore.Store) backend {
	return backend{
		users:       store.Users,
		groups:      store.Groups,
		videos:      store.Videos,
		invitations: store.Invitations,
		sessions:    auth.NewInMemorySessionStore(),
	}
}

// services holds everything serve needs besides the listener.
type services struct {
	handlers    handlers.Dependencies
	coordinator *session.Coordinator
	pipeline    *uploads.Pipeline
	metrics     *metrics.Metrics
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup drains the upload pipeline and releases the
// cache and store connections.
func buildDependencies(ctx context.Context, b backend, cfg config.Config, logger *slog.Logger) (services, func(context.Context) error, error) {
	m := metrics.New()

	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		if b.close != nil {
			b.close()
		}
		return errors.Join(errs...)
	}

	names, err := nameCache(ctx, cfg.Cache)
	if err != nil {
		_ = cleanup(ctx)
		return services{}, nil, err
	}
	if closer, ok := names.(interface{ Close() error }); ok {
		closers = append(closers, func(context.Context) error { return closer.Close() })
	}

	var (
		blobs    storage.BlobStore
		mediaDir string
	)
	if cfg.ObjectStore.Bucket != "" {
		s3, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			_ = cleanup(ctx)
			return services{}, nil, err
		}
		blobs = s3
	} else {
		local, err := storage.NewLocalStorage(cfg.ObjectStore.LocalDir, mediaPrefix)
		if err != nil {
			_ = cleanup(ctx)
			return services{}, nil, err
		}
		blobs = local
		mediaDir = local.Dir()
	}

	authSvc := auth.NewService(b.users, auth.NewManager(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, b.sessions))
	resolver := membership.NewResolver(b.groups)
	aggregator := feed.NewAggregator(resolver, b.videos, feed.Options{
		DefaultLimit: cfg.Feed.DefaultLimit,
		MaxLimit:     cfg.Feed.MaxLimit,
		Concurrency:  cfg.Feed.Concurrency,
	}, m)
	workflow := invitations.NewWorkflow(b.invitations, b.groups, b.users, names, m)
	coordinator := session.NewCoordinator(authSvc, resolver, aggregator, workflow, b.users, cfg.Feed.DefaultLimit)

	probe := media.NewProbe(cfg.Uploads.FFProbePath, cfg.Uploads.FFmpegPath, 0)
	pipeline := uploads.NewPipeline(b.groups, b.videos, blobs, probe, uploads.Config{
		Workers:     cfg.Uploads.Workers,
		QueueSize:   cfg.Uploads.QueueSize,
		MaxBytes:    cfg.Uploads.MaxBytes,
		SpoolDir:    cfg.Uploads.SpoolDir,
		MaxDuration: cfg.Uploads.MaxDuration,
	}, m, logger)
	closers = append(closers, pipeline.Shutdown)

	deps := handlers.Dependencies{
		Auth:           authSvc,
		Authenticator:  authSvc,
		Sessions:       coordinator,
		Groups:         groups.NewService(b.groups, b.invitations, b.users),
		Uploads:        pipeline,
		Media:          blobs,
		AuthLimiter:    middleware.NewClientLimiter(cfg.Auth.RateLimit, cfg.Auth.RateWindow, cfg.Auth.RateLimitBurst),
		Metrics:        m.Handler(),
		HealthCheck:    b.ping,
		MediaDir:       mediaDir,
		MaxUploadBytes: cfg.Uploads.MaxBytes,
	}

	return services{
		handlers:    deps,
		coordinator: coordinator,
		pipeline:    pipeline,
		metrics:     m,
	}, cleanup, nil
}

// nameCache returns the shared Redis cache when an address is configured and
// a process-local one otherwise.
func nameCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(cfg.NameTTL), nil
	}
	r, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.NameTTL)
	if err != nil {
		return nil, err
	}
	return r, nil
}
