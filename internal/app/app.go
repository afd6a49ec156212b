// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/config"
	"github.com/JakeFAU/policy-crawler/internal/output"
	"github.com/JakeFAU/policy-crawler/internal/progress"
	"github.com/JakeFAU/policy-crawler/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/policy-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/policy-crawler/internal/storage"
	"github.com/JakeFAU/policy-crawler/internal/storage/gcs"
	"github.com/JakeFAU/policy-crawler/internal/storage/local"
	"github.com/JakeFAU/policy-crawler/internal/storage/memory"
	"github.com/JakeFAU/policy-crawler/internal/storage/postgres"
)

// App holds the shared, long-lived services of one process: the blob store
// records are written to, and the optional Postgres stores and Pub/Sub
// publisher. It is built once at startup and closed when the command ends.
type App struct {
	logger    *zap.Logger
	store     storage.BlobStore
	pool      *pgxpool.Pool
	policies  *postgres.PolicyStore
	runs      *postgres.RunStore
	publisher publisher.Publisher
	closers   []func() error
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the configured blob store.
func (a *App) Store() storage.BlobStore {
	return a.store
}

// Policies returns the Postgres policy store, or nil when no database is
// configured.
func (a *App) Policies() output.PolicyStore {
	if a.policies == nil {
		return nil
	}
	return a.policies
}

// RunSink returns the Postgres run tracker, or nil when run tracking is off.
func (a *App) RunSink() progress.Sink {
	if a.runs == nil {
		return nil
	}
	return a.runs
}

// Publisher returns the notification publisher, or nil when disabled.
func (a *App) Publisher() publisher.Publisher {
	return a.publisher
}

// Ready pings the database when one is configured.
func (a *App) Ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// NewApp creates and initializes the services selected by cfg. It fails fast
// if any configured service cannot be initialized, releasing whatever was
// already opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger}
	logger.Info("initializing application services")

	store, err := a.openStore(ctx, cfg.Storage)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.store = store

	if cfg.DB.Enabled() {
		if err := a.openDatabase(ctx, cfg.DB); err != nil {
			_ = a.Close()
			return nil, err
		}
	} else {
		logger.Info("no database configured; policies are written to blob storage only")
	}

	if cfg.PubSub.Enabled() {
		pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
			ProjectID:      cfg.PubSub.ProjectID,
			TopicID:        cfg.PubSub.TopicID,
			EnableOrdering: cfg.PubSub.Ordering,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		logger.Info("publishing record notifications", zap.String("topic", cfg.PubSub.TopicID))
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		a.logger.Info("using local blob store", zap.String("dir", cfg.LocalDir))
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory blob store; output is discarded on exit")
		return memory.NewBlobStore(), nil
	case config.BackendGCS:
		a.logger.Info("using GCS blob store", zap.String("bucket", cfg.GCSBucket))
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func (a *App) openDatabase(ctx context.Context, cfg config.DBConfig) error {
	a.logger.Info("connecting to postgres")
	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if cfg.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	policies, err := postgres.NewPolicyStore(pool, cfg.Table)
	if err != nil {
		return fmt.Errorf("init policy store: %w", err)
	}
	a.policies = policies
	if cfg.TrackRuns {
		runs, err := postgres.NewRunStore(pool)
		if err != nil {
			return fmt.Errorf("init run store: %w", err)
		}
		a.runs = runs
	}
	return nil
}

// Close shuts down services in reverse order of creation and flushes the
// logger. Errors are logged and joined.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
