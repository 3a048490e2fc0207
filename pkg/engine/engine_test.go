// Copyright © 2018 One Concern

package engine

import (
	"context"
	"testing"

	"github.com/oneconcern/refdb/pkg/config"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/notify"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Repository = "test"
	cfg.Objects.Path = ""
	cfg.Refs.Path = ""
	cfg.Refs.SyncWrites = false
	return cfg
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Objects.Tracing = true
	cfg.Metrics.Enabled = true
	cfg.Actor = config.ActorConfig{Name: "ops", Email: "ops@example.com"}

	tracer := mocktracer.New()
	registry := prometheus.NewRegistry()
	var events []model.ChangeEvent
	e, err := New(ctx, cfg,
		Logger(zap.NewNop()),
		Tracer(tracer),
		Registerer(registry),
		Listeners(notify.Func("test", func(_ context.Context, ev model.ChangeEvent) error {
			events = append(events, ev)
			return nil
		})),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, e.Close()) }()

	assert.Equal(t, cfg, e.Config())
	assert.Equal(t, model.Contributor{Name: "ops", Email: "ops@example.com"}, e.Actor())
	require.NotNil(t, e.Journal())
	require.NotNil(t, e.Metrics())

	g, err := e.Create(ctx, model.GroupKey(""), model.Static(model.Delta{Name: model.SetString("g1")}))
	require.NoError(t, err)
	owner, err := e.LookupIndex(ctx, model.GroupNames, "g1")
	require.NoError(t, err)
	assert.Equal(t, g.Key, owner)

	require.Len(t, events, 1)
	assert.Equal(t, "test", events[0].Repository)
	journaled, _, err := e.Journal().List(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, events, journaled)

	assert.NotEmpty(t, tracer.FinishedSpans(), "storage calls are traced")
	count, err := testutil.GatherAndCount(registry, "refdb_txn_batches_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEngineBackends(t *testing.T) {
	ctx := context.Background()
	for _, testCase := range []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "badger", mutate: func(*config.Config) {}},
		{name: "sqlite", mutate: func(c *config.Config) { c.Refs.Backend = config.RefsSQLite }},
		{name: "no journal", mutate: func(c *config.Config) { c.Journal.Enabled = false }},
	} {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			cfg := memoryConfig()
			testCase.mutate(&cfg)
			fs := afero.NewMemMapFs()

			e, err := New(ctx, cfg, Logger(zap.NewNop()), Fs(fs))
			require.NoError(t, err)
			defer func() { require.NoError(t, e.Close()) }()
			assert.Nil(t, e.Metrics())
			assert.Equal(t, cfg.Journal.Enabled, e.Journal() != nil)

			a, err := e.Create(ctx, model.AccountKey("1"), model.Static(model.Delta{ExternalIDs: model.AddTo("username:one")}))
			require.NoError(t, err)
			got, err := e.Get(ctx, a.Key)
			require.NoError(t, err)
			assert.Equal(t, a, got)

			journalDir, err := afero.DirExists(fs, "journal")
			require.NoError(t, err)
			assert.Equal(t, cfg.Journal.Enabled, journalDir, "the journal lives in the object store")
		})
	}
}

func TestEngineErrors(t *testing.T) {
	ctx := context.Background()

	cfg := memoryConfig()
	cfg.Refs.Backend = "etcd"
	_, err := New(ctx, cfg, Logger(zap.NewNop()))
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.LogLevel = "chatty"
	_, err = New(ctx, cfg)
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.NATS.URL = "nats://127.0.0.1:1"
	_, err = New(ctx, cfg, Logger(zap.NewNop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats")
}
