// Copyright © 2018 One Concern

// Package engine assembles an entity store from its configuration: object storage, ref database,
// repository, retries, metrics and change listeners.
package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/oneconcern/refdb/pkg/config"
	"github.com/oneconcern/refdb/pkg/core"
	"github.com/oneconcern/refdb/pkg/dlogger"
	"github.com/oneconcern/refdb/pkg/metrics"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/notify"
	"github.com/oneconcern/refdb/pkg/refs"
	"github.com/oneconcern/refdb/pkg/refs/badgerdb"
	"github.com/oneconcern/refdb/pkg/refs/sqldb"
	"github.com/oneconcern/refdb/pkg/repository"
	"github.com/oneconcern/refdb/pkg/retry"
	"github.com/oneconcern/refdb/pkg/storage"
	"github.com/oneconcern/refdb/pkg/storage/localfs"
	"github.com/oneconcern/refdb/pkg/storage/sthree"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Engine is a configured entity store, with its change listeners
type Engine struct {
	*core.Store

	config  config.Config
	objects storage.Store
	journal *notify.Journal
	metrics *metrics.Metrics
	closers []func()
	l       *zap.Logger
}

// New engine from a configuration
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, apply := range opts {
		apply(o)
	}

	l := o.l
	if l == nil {
		var err error
		if l, err = dlogger.GetLogger(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
	}
	e := &Engine{
		config: cfg,
		l:      l,
	}

	objects, err := openObjects(ctx, cfg.Objects, o.fs)
	if err != nil {
		return nil, err
	}
	if cfg.Objects.Tracing {
		objects = storage.Instrument(o.tracer, l, objects)
	}
	e.objects = objects

	db, err := openRefs(ctx, cfg.Refs, l)
	if err != nil {
		return nil, err
	}

	repo, err := repository.Open(objects, db,
		repository.Name(cfg.Repository),
		repository.Logger(l),
		repository.CacheSize(cfg.Cache.Revisions),
		repository.IndexCacheSize(cfg.Cache.Indexes),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		if e.metrics, err = metrics.New(metrics.WithNamespace(cfg.Metrics.Namespace), metrics.WithRegisterer(o.registerer)); err != nil {
			_ = repo.Close()
			return nil, err
		}
	}

	notifier := notify.New(notify.Logger(l), notify.Metrics(e.metrics), notify.Listeners(o.listeners...))
	if cfg.Journal.Enabled {
		e.journal = notify.NewJournal(objects, notify.JournalLogger(l), notify.Skew(cfg.Journal.Skew))
		notifier.Subscribe(e.journal)
	}
	if cfg.NATS.URL != "" {
		publisher, closer, err := notify.ConnectNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("nats: connecting to %s: %w", cfg.NATS.URL, err)
		}
		e.closers = append(e.closers, closer)
		notifier.Subscribe(publisher)
	}

	e.Store = core.New(repo,
		core.Actor(model.Contributor{Name: cfg.Actor.Name, Email: cfg.Actor.Email}),
		core.Logger(l),
		core.Metrics(e.metrics),
		core.Notifier(notifier),
		core.Retry(
			retry.Timeout(cfg.Retry.Timeout),
			retry.Intervals(cfg.Retry.InitialInterval, cfg.Retry.MaxInterval),
			retry.MaxAttempts(cfg.Retry.MaxAttempts),
		),
	)

	l.Debug("engine ready",
		zap.String("repository", cfg.Repository),
		zap.Stringer("objects", objects),
		zap.Stringer("refs", db),
		zap.Strings("listeners", notifier.Listeners()),
	)
	return e, nil
}

// Config of the engine
func (e *Engine) Config() config.Config {
	return e.config
}

// Journal of changes, nil when disabled
func (e *Engine) Journal() *notify.Journal {
	return e.journal
}

// Metrics of the engine, nil when disabled
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Logger of the engine
func (e *Engine) Logger() *zap.Logger {
	return e.l
}

// Close listener connections and the ref database
func (e *Engine) Close() error {
	for _, closer := range e.closers {
		closer()
	}
	e.closers = nil
	_ = e.l.Sync()
	return e.Store.Close()
}

func openObjects(ctx context.Context, cfg config.ObjectsConfig, fs afero.Fs) (storage.Store, error) {
	switch cfg.Backend {
	case config.StorageS3:
		opts := []sthree.Option{sthree.Region(cfg.Region), sthree.PathStyle(cfg.PathStyle)}
		if cfg.Endpoint != "" {
			opts = append(opts, sthree.Endpoint(cfg.Endpoint))
		}
		return sthree.New(ctx, sthree.Bucket(cfg.Bucket), opts...)

	default:
		if fs == nil {
			if cfg.Path == "" {
				fs = afero.NewMemMapFs()
			} else {
				if err := os.MkdirAll(cfg.Path, 0700); err != nil {
					return nil, fmt.Errorf("objects: %w", err)
				}
				fs = afero.NewBasePathFs(afero.NewOsFs(), cfg.Path)
			}
		}
		return localfs.NewAtomic(fs)
	}
}

func openRefs(ctx context.Context, cfg config.RefsConfig, l *zap.Logger) (refs.Database, error) {
	switch cfg.Backend {
	case config.RefsSQLite:
		return sqldb.Open(ctx, sqldb.SQLite, cfg.Path, sqldb.Logger(l))

	case config.RefsPostgres:
		return sqldb.Open(ctx, sqldb.Postgres, cfg.DSN, sqldb.Logger(l))

	default:
		memTable, valueLog, err := cfg.BadgerSizes()
		if err != nil {
			return nil, err
		}
		return badgerdb.Open(cfg.Path,
			badgerdb.Logger(l),
			badgerdb.MemTableSize(memTable),
			badgerdb.ValueLogFileSize(valueLog),
			badgerdb.SyncWrites(cfg.SyncWrites),
		)
	}
}

// tracer used when tracing is enabled
func defaultTracer() opentracing.Tracer {
	return opentracing.GlobalTracer()
}
