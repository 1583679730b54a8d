package server

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"threatlens/internal/cache"
	"threatlens/internal/config"
	"threatlens/internal/database"
	"threatlens/internal/ledger"
	"threatlens/internal/records"
)

// Backends are the storage components selected by configuration.
type Backends struct {
	DB      *database.Database
	Redis   *redis.Client
	Alerts  records.AlertStore
	Reports records.ReportStore
	Ledger  *ledger.Ledger
}

// OpenBackends connects whatever the configuration asks for and runs the
// postgres migrations. On error everything opened so far is closed again.
func OpenBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (b *Backends, err error) {
	b = &Backends{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.Close())
			b = nil
		}
	}()

	if cfg.UsesPostgres() {
		if b.DB, err = database.New(cfg.Database, cfg.Debug, logger); err != nil {
			return b, err
		}
	}

	switch cfg.Records.Backend {
	case "postgres":
		if err = b.DB.AutoMigrate(); err != nil {
			return b, err
		}
		b.Alerts = records.NewPostgresAlertStore(b.DB.DB, logger)
		b.Reports = records.NewPostgresReportStore(b.DB.DB, logger)
	default:
		b.Alerts = records.NewMemoryAlertStore()
		b.Reports = records.NewMemoryReportStore()
	}

	alg, err := ledger.ParseAlgorithm(cfg.Ledger.Algorithm)
	if err != nil {
		return b, err
	}
	store, err := b.openEntryStore(ctx, cfg, logger)
	if err != nil {
		return b, err
	}
	b.Ledger = ledger.New(store,
		ledger.WithAlgorithm(alg),
		ledger.WithTimeout(cfg.Database.QueryTimeout),
		ledger.WithLogger(logger))

	logger.Info("Storage backends ready",
		zap.String("records_backend", cfg.Records.Backend),
		zap.String("ledger_backend", cfg.Ledger.Backend),
		zap.String("ledger_algorithm", string(alg)),
		zap.Bool("ledger_cache", b.Redis != nil))
	return b, nil
}

func (b *Backends) openEntryStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.EntryStore, error) {
	var store ledger.EntryStore
	switch cfg.Ledger.Backend {
	case "badger":
		badgerStore, err := ledger.OpenBadgerStore(cfg.Ledger.BadgerDir, logger)
		if err != nil {
			return nil, err
		}
		store = badgerStore
	case "postgres":
		pgStore := ledger.NewPostgresStore(b.DB.DB)
		if err := pgStore.Migrate(); err != nil {
			return nil, errors.Wrap(err, "failed to migrate ledger table")
		}
		store = pgStore
	default:
		store = ledger.NewMemoryStore()
	}

	if !cfg.Ledger.CacheEnabled {
		return store, nil
	}
	client, err := cache.NewRedisClient(ctx, cache.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	b.Redis = client
	return ledger.NewCachingStore(store, cache.NewRedisCache(client, cfg.Redis.KeyPrefix), cfg.Ledger.CacheTTL, logger), nil
}

// Close releases every backend that was opened.
func (b *Backends) Close() error {
	var err error
	if b.Ledger != nil {
		err = multierr.Append(err, b.Ledger.Close())
	}
	if b.Redis != nil {
		err = multierr.Append(err, b.Redis.Close())
	}
	if b.DB != nil {
		err = multierr.Append(err, b.DB.Close())
	}
	return err
}
