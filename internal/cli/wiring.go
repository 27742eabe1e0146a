package cli

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/adapter/archive"
	"github.com/cwygoda/haul/internal/adapter/badger"
	"github.com/cwygoda/haul/internal/adapter/downloader"
	"github.com/cwygoda/haul/internal/adapter/drive"
	"github.com/cwygoda/haul/internal/adapter/filestore"
	"github.com/cwygoda/haul/internal/adapter/redis"
	"github.com/cwygoda/haul/internal/adapter/s3"
	"github.com/cwygoda/haul/internal/adapter/sqlite"
	"github.com/cwygoda/haul/internal/config"
	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/worker"
)

// backends holds the opened store and queue plus whatever must be closed.
type backends struct {
	store   domain.JobStore
	queue   domain.Queue
	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackends opens the configured store and queue. Backends that share a
// resource (one SQLite file, one Redis connection) open it once.
func openBackends(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	var repo *sqlite.Repository
	openSQLite := func() (*sqlite.Repository, error) {
		if repo != nil {
			return repo, nil
		}
		r, err := sqlite.New(cfg.Store.SQLitePath, log.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Store.SQLitePath, err)
		}
		b.closers = append(b.closers, r.Close)
		repo = r
		return r, nil
	}

	var client *goredis.Client
	connectRedis := func() (*goredis.Client, error) {
		if client != nil {
			return client, nil
		}
		c, err := redis.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, c.Close)
		client = c
		return c, nil
	}

	switch cfg.Store.Backend {
	case config.StoreFile:
		if b.store, err = filestore.Open(cfg.Store.Dir, log.Named("store")); err != nil {
			return nil, err
		}
	case config.StoreSQLite:
		if b.store, err = openSQLite(); err != nil {
			return nil, err
		}
	case config.StoreRedis:
		c, err := connectRedis()
		if err != nil {
			return nil, err
		}
		b.store = redis.NewStore(c, cfg.Redis.KeyPrefix, log.Named("store"))
	case config.StoreBadger:
		s, err := badger.Open(cfg.Store.BadgerDir, log.Named("store"))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		b.store = s
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	switch cfg.Queue.Backend {
	case config.QueueDir:
		if b.queue, err = filestore.OpenQueue(cfg.Queue.Dir, cfg.Queue.PollInterval); err != nil {
			return nil, err
		}
	case config.QueueSQLite:
		if b.queue, err = openSQLite(); err != nil {
			return nil, err
		}
	case config.QueueRedis:
		c, err := connectRedis()
		if err != nil {
			return nil, err
		}
		b.queue = redis.NewQueue(c, cfg.Redis.QueueKey)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}

	log.Info("backends opened",
		zap.String("store", cfg.Store.Backend),
		zap.String("queue", cfg.Queue.Backend),
	)
	return b, nil
}

// newUploader builds the configured storage uploader. Missing or invalid
// credentials fail here so a worker never starts without them.
func newUploader(ctx context.Context, cfg *config.Config, log *zap.Logger) (domain.Uploader, error) {
	switch cfg.Uploader.Backend {
	case config.UploaderDrive:
		return drive.New(ctx, cfg.Drive.TokenFile, log.Named("drive"))
	case config.UploaderS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Profile:         cfg.S3.Profile,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
			PresignExpiry:   cfg.S3.PresignExpiry,
		}, log.Named("s3"))
	default:
		return nil, fmt.Errorf("unknown uploader backend %q", cfg.Uploader.Backend)
	}
}

// newWorker assembles the executor pipeline on top of opened backends.
func newWorker(ctx context.Context, cfg *config.Config, b *backends, log *zap.Logger) (*worker.Worker, error) {
	registry, err := downloader.FromConfig(cfg.Worker.YtDLPBin, cfg.Worker.YtDLPArgs, cfg.Downloaders)
	if err != nil {
		return nil, err
	}
	uploader, err := newUploader(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("uploader: %w", err)
	}
	exec := worker.NewExecutor(b.store, registry, archive.NewZip(), uploader, worker.ExecutorConfig{
		WorkDir:  cfg.Worker.WorkDir,
		ParentID: cfg.Uploader.ParentID,
	}, log.Named("executor"))
	return worker.New(b.queue, exec, cfg.Worker.PopTimeout, log.Named("worker")), nil
}
