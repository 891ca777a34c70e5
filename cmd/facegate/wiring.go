package main

import (
	"context"
	"fmt"

	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/decision"
	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/MrCodeEU/facegate/pkg/recorder"
	"github.com/MrCodeEU/facegate/pkg/stats"
	"github.com/MrCodeEU/facegate/pkg/storage"
	"github.com/MrCodeEU/facegate/pkg/store/sqlstore"
)

// openStore opens the configured event store and applies migrations.
func openStore(ctx context.Context, c *config.Config) (*sqlstore.Store, error) {
	st, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:       c.Database.Driver,
		Path:         c.Database.Path,
		DSN:          c.Database.DSN,
		MaxOpenConns: c.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	logging.Component("cli").WithField("driver", c.Database.Driver).Debug("Event store opened")
	return st, nil
}

// openBlobSink returns where failed-attempt images are archived.
func openBlobSink(c *config.Config, fs *storage.FileStorage) (events.BlobSink, error) {
	if c.Storage.BlobBackend != "s3" {
		return fs, nil
	}
	s3, err := storage.NewS3BlobStore(storage.S3Options{
		Bucket:   c.Storage.S3.Bucket,
		Region:   c.Storage.S3.Region,
		Prefix:   c.Storage.S3.Prefix,
		Endpoint: c.Storage.S3.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up S3 blob store: %w", err)
	}
	return s3, nil
}

func loadEngine(c *config.Config) (*recognition.DlibEngine, error) {
	engine := recognition.NewEngine()
	if err := engine.LoadModels(c.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("%w (run 'facegate models download' first)", err)
	}
	return engine, nil
}

func recorderOptions(c *config.Config) recorder.Options {
	opts := recorder.DefaultOptions()
	opts.QueueSize = c.Persistence.QueueSize
	opts.WriteTimeout = c.Persistence.WriteTimeout
	opts.EnqueueTimeout = c.Persistence.EnqueueTimeout
	opts.RetryBackoff = c.Persistence.RetryBackoff
	return opts
}

func newStatsService(c *config.Config, st events.Store) (*stats.Service, error) {
	cmp, err := decision.ParseComparator(c.Recognition.Comparator)
	if err != nil {
		return nil, err
	}
	return stats.NewService(st, cmp), nil
}
