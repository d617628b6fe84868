// Package app wires the store, locks, notifiers and services described by a
// config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/phillip/case-funding-ledger/batch"
	"github.com/phillip/case-funding-ledger/config"
	"github.com/phillip/case-funding-ledger/ledger"
	"github.com/phillip/case-funding-ledger/lock"
	"github.com/phillip/case-funding-ledger/notify"
	"github.com/phillip/case-funding-ledger/store"
	"github.com/phillip/case-funding-ledger/utils"
)

// Closer releases everything Build opened.
type Closer func(ctx context.Context) error

// Build opens the configured store, runs its migrations and fills in the
// service fields of cfg.
func Build(ctx context.Context, cfg *config.Config) (Closer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
		cfg.Logger = logger
	}

	var closers []func(context.Context) error
	closeAll := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (Closer, error) {
		_ = closeAll(ctx)
		return nil, err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closers = append(closers, s.Close)
	if cfg.StoreDriver == config.DriverMongo && !cfg.MongoTransactions {
		logger.Warn("mongo transactions are disabled, multi-document writes are not atomic")
	}
	if err := s.Migrate(ctx); err != nil {
		return fail(fmt.Errorf("failed to migrate store: %w", err))
	}
	cfg.Store = s

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("invalid REDIS_URL: %w", err))
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fail(fmt.Errorf("failed to ping redis: %w", err))
		}
		closers = append(closers, func(context.Context) error { return client.Close() })
		locker = lock.NewRedis(client)
		logger.Info("using redis case locks")
	}

	dispatchers := notify.Multi{notify.NewInApp(s)}
	if cfg.EmailEnabled() {
		mailer, err := utils.NewZeptoMailer(cfg.ZeptoAPIURL, cfg.ZeptoAPIKey, cfg.EmailFrom)
		if err != nil {
			return fail(err)
		}
		dispatchers = append(dispatchers, &notify.Email{Mailer: mailer, Users: s})
	}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return k.Close() })
		dispatchers = append(dispatchers, k)
		logger.Info("publishing ledger events", "topic", cfg.KafkaTopic)
	}

	strategy, err := ledger.ParseStrategy(cfg.Aggregation)
	if err != nil {
		return fail(err)
	}
	agg := ledger.NewAggregator(s, locker, strategy, logger)
	cfg.Ledger = ledger.NewService(s, agg, dispatchers, logger)

	pipelineCfg := batch.Config{DefaultPaymentMethod: cfg.DefaultPayment, StaleAfter: cfg.BatchStaleAfter}
	if cfg.CloudinaryEnabled() {
		cld, err := utils.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			return fail(err)
		}
		pipelineCfg.Archiver = cld
		cfg.Uploader = cld
	}
	cfg.Batches = batch.NewPipeline(s, cfg.Ledger, pipelineCfg, logger)

	return closeAll, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return store.NewSQLiteStore(cfg.SQLitePath)
	case config.DriverMongo:
		client, err := store.NewMongoClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		cfg.MongoClient = client
		return store.NewMongoStore(client, cfg.DBName, cfg.MongoTransactions), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
