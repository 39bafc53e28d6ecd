package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/glimpse/backend/internal/config"
	"github.com/glimpse/backend/internal/db"
	"github.com/glimpse/backend/internal/dynamo"
	"github.com/glimpse/backend/internal/handlers"
	"github.com/glimpse/backend/internal/httpserver"
	"github.com/glimpse/backend/internal/logging"
	"github.com/glimpse/backend/internal/middleware"
)

// Run bootstraps the Glimpse backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, os.Stdout, args[1:])
	case "seed":
		return runSeed(ctx, os.Stdout, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(nil, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(logging.WithLogger(ctx, logger), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	svc, cleanup, err := buildDependencies(ctx, b, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			logger.Error("release dependencies", slog.Any("error", err))
		}
	}()

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, svc.handlers)

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "X-Request-ID"},
	}).Handler(middleware.RequestLogger(logger, svc.metrics)(mux))

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.AppPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.AppPort, err)
	}
	srv := httpserver.New(cfg.AppPort, handler)

	logger.Info("starting http server", slog.Int("port", cfg.AppPort), slog.String("store", cfg.StoreBackend))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.coordinator.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx, l, logger)
	})
	return g.Wait()
}

func runMigrations(ctx context.Context, out io.Writer, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	switch command {
	case "up", "status":
	case "down":
		return errors.New("down migrations are not supported")
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}

	switch cfg.StoreBackend {
	case config.StoreMemory:
		fmt.Fprintln(out, "memory store needs no migrations")
		return nil
	case config.StoreDynamoDB:
		return migrateDynamo(ctx, out, cfg, command)
	}

	migrationDir, err := resolveDir(cfg.MigrationDir)
	if err != nil {
		return err
	}
	migrations, err := listMigrations(migrationDir)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
                version TEXT PRIMARY KEY,
                applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	if command == "status" {
		for _, name := range migrations {
			mark := " "
			if _, ok := applied[name]; ok {
				mark = "x"
			}
			fmt.Fprintf(out, "[%s] %s\n", mark, name)
		}
		return nil
	}

	pending := 0
	for _, name := range migrations {
		if _, ok := applied[name]; ok {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationDir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := applyMigration(ctx, pool, name, string(contents)); err != nil {
			return err
		}
		pending++
		fmt.Fprintf(out, "applied migration %s\n", name)
	}
	if pending == 0 {
		fmt.Fprintln(out, "no migrations to apply")
	}
	return nil
}

func migrateDynamo(ctx context.Context, out io.Writer, cfg config.Config, command string) error {
	client, err := dynamo.NewClient(ctx, cfg.Dynamo.Region, cfg.Dynamo.Endpoint)
	if err != nil {
		return err
	}
	store := dynamo.New(client, cfg.Dynamo.TablePrefix)
	if command == "status" {
		fmt.Fprintf(out, "dynamodb tables are created on demand by \"migrate up\" (prefix %q)\n", cfg.Dynamo.TablePrefix)
		return nil
	}
	created, err := store.EnsureTables(ctx)
	if err != nil {
		return err
	}
	if len(created) == 0 {
		fmt.Fprintln(out, "no tables to create")
	}
	for _, name := range created {
		fmt.Fprintf(out, "created table %s\n", name)
	}
	return nil
}

// listMigrations returns the .sql files of dir in lexical order.
func listMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		migrations = append(migrations, entry.Name())
	}
	sort.Strings(migrations)
	return migrations, nil
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]struct{}, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("fetch applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// applyMigration runs one migration and records it in the same transaction,
// retrying serialization failures.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, name, contents string) error {
	err := crdbpgx.ExecuteTx(ctx, pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, contents); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	return nil
}

func runSeed(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("expected seed name (e.g. dev)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreBackend != config.StorePostgres {
		return fmt.Errorf("seeds are SQL files and need the %s store, not %s", config.StorePostgres, cfg.StoreBackend)
	}

	seedDir, err := resolveDir(cfg.SeedDir)
	if err != nil {
		return err
	}
	seedPath, err := resolveSeed(seedDir, args[0])
	if err != nil {
		return err
	}
	seedName := filepath.Base(seedPath)

	contents, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", seedName, err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := pool.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("apply seed %s: %w", seedName, err)
	}

	fmt.Fprintf(out, "applied seed %s\n", seedName)
	return nil
}

// resolveSeed maps a seed name such as "dev" to the single file in dir named
// NNNN_dev.sql. A name ending in .sql is taken as a file name.
func resolveSeed(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid seed name %q", name)
	}
	if strings.HasSuffix(name, ".sql") {
		return filepath.Join(dir, name), nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*_"+name+".sql"))
	if err != nil {
		return "", fmt.Errorf("find seed %s: %w", name, err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no seed named %q in %s", name, dir)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("seed name %q is ambiguous: %s", name, strings.Join(matches, ", "))
	}
}

func resolveDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return filepath.Join(wd, dir), nil
}
