// Copyright © 2018 One Concern

package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/index"
	"github.com/oneconcern/refdb/pkg/metrics"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/notify"
	"github.com/oneconcern/refdb/pkg/refs"
	"github.com/oneconcern/refdb/pkg/refs/badgerdb"
	"github.com/oneconcern/refdb/pkg/refs/sqldb"
	"github.com/oneconcern/refdb/pkg/repository"
	"github.com/oneconcern/refdb/pkg/retry"
	"github.com/oneconcern/refdb/pkg/storage/localfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	t0   = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	jane = model.Contributor{Name: "Jane", Email: "jane@example.com"}

	errInjected = errors.New("injected failure")
)

// recorder is a change listener keeping all events
type recorder struct {
	mx     sync.Mutex
	events []model.ChangeEvent
}

func (r *recorder) Name() string {
	return "recorder"
}

func (r *recorder) OnChange(_ context.Context, ev model.ChangeEvent) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Events() []model.ChangeEvent {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]model.ChangeEvent(nil), r.events...)
}

type fixture struct {
	store    *Store
	events   *recorder
	registry *prometheus.Registry
	fail     atomic.Bool
	ticks    atomic.Int64
}

// clock is a deterministic clock, moving one second forward on each call. It is safe for concurrent use.
func (f *fixture) clock() time.Time {
	return t0.Add(time.Duration(f.ticks.Add(1)) * time.Second)
}

func (f *fixture) hook(context.Context, []refs.Command) error {
	if f.fail.Load() {
		return errInjected
	}
	return nil
}

func newFixture(t testing.TB, opts ...Option) *fixture {
	f := &fixture{
		events:   &recorder{},
		registry: prometheus.NewRegistry(),
	}
	db, err := badgerdb.Open("", badgerdb.BeforeCommit(f.hook))
	require.NoError(t, err)
	return f.open(t, db, opts...)
}

func (f *fixture) open(t testing.TB, db refs.Database, opts ...Option) *fixture {
	// atomic puts: concurrent writers stage identical objects
	objects, err := localfs.NewAtomic(afero.NewMemMapFs())
	require.NoError(t, err)
	repo, err := repository.Open(objects, db, repository.Name("test"))
	require.NoError(t, err)

	m, err := metrics.New(metrics.WithRegisterer(f.registry))
	require.NoError(t, err)

	f.store = New(repo, append([]Option{
		Clock(f.clock),
		Metrics(m),
		Notifier(notify.New(notify.Metrics(m), notify.Listeners(f.events))),
		Retry(retry.Intervals(time.Millisecond, 20*time.Millisecond)),
	}, opts...)...)
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func createGroup(t testing.TB, s *Store, delta model.Delta) *model.Entity {
	g, err := s.Create(context.Background(), model.GroupKey(""), model.Static(delta))
	require.NoError(t, err)
	return g
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	owner := createGroup(t, f.store, model.Delta{Name: model.SetString("admins")})
	sub := createGroup(t, f.store, model.Delta{Name: model.SetString("operators")})
	g := createGroup(t, f.store, model.Delta{
		Name:        model.SetString("  engineering  "),
		Description: model.SetString("all engineers"),
		Owner:       model.SetString(owner.Key.ID),
		Members:     model.AddTo("42", "7", "42"),
		Subgroups:   model.AddTo(sub.Key.ID),
	})
	assert.Equal(t, model.Groups, g.Key.Class)
	assert.NotEmpty(t, g.Key.ID)
	assert.Equal(t, "engineering", g.Name)
	assert.Equal(t, []string{"42", "7"}, g.Members)
	assert.Equal(t, g.CreatedOn, g.UpdatedOn)

	stored, err := f.store.Get(ctx, g.Key)
	require.NoError(t, err)
	assert.Equal(t, g, stored)

	cold, err := repository.Open(f.store.Repository().Storage(), f.store.Repository().Refs())
	require.NoError(t, err)
	fresh, err := cold.Get(ctx, g.Key)
	require.NoError(t, err)
	assert.Equal(t, *g, fresh, "a cold repository decodes the same state")

	a, err := f.store.Create(ctx, model.AccountKey("42"), model.Static(model.Delta{
		Name:        model.SetString("Jane"),
		Email:       model.SetString("jane@example.com"),
		ExternalIDs: model.AddTo("username:jane", "github:jane"),
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"github:jane", "username:jane"}, a.ExternalIDs)

	keys, err := f.store.List(ctx, model.Groups)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
}

func TestDeterminism(t *testing.T) {
	ctx := context.Background()
	key := model.GroupKey("7f3a4c70-9b25-4f9c-9d0e-0e1cbbd2a3f1")
	delta := model.Delta{
		Name:    model.SetString("engineering"),
		Members: model.AddTo("3", "1", "2"),
	}

	var revisions []model.RevisionID
	for i := 0; i < 2; i++ {
		f := newFixture(t)
		g, err := f.store.Create(ctx, key, model.Static(delta))
		require.NoError(t, err)
		g, err = f.store.Update(ctx, key, model.Static(model.Delta{Members: model.RemoveFrom("2")}))
		require.NoError(t, err)
		revisions = append(revisions, g.Revision)
	}
	assert.Equal(t, revisions[0], revisions[1], "same inputs yield the same revisions")
}

func TestAtomicity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.store.Create(ctx, model.AccountKey("1"), model.Static(model.Delta{ExternalIDs: model.AddTo("username:one")}))
	require.NoError(t, err)
	b, err := f.store.Create(ctx, model.AccountKey("2"), nil)
	require.NoError(t, err)
	before := len(f.events.Events())

	f.fail.Store(true)
	_, err = f.store.UpdateBatch(ctx, []Update{
		{Key: a.Key, Updater: model.Static(model.Delta{
			Name:        model.SetString("one"),
			ExternalIDs: model.ReplaceWith("username:uno"),
		})},
		{Key: b.Key, Updater: model.Static(model.Delta{ExternalIDs: model.AddTo("username:one")})},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrStorage))
	assert.True(t, errors.Is(err, errInjected))
	f.fail.Store(false)

	for _, expected := range []*model.Entity{a, b} {
		current, err := f.store.Get(ctx, expected.Key)
		require.NoError(t, err)
		assert.Equal(t, expected.Revision, current.Revision, "no ref moved")
	}
	owner, err := f.store.LookupIndex(ctx, model.ExternalIDs, "username:one")
	require.NoError(t, err)
	assert.Equal(t, a.Key, owner)
	_, err = f.store.LookupIndex(ctx, model.ExternalIDs, "username:uno")
	assert.True(t, errors.Is(err, status.ErrNotFound))
	assert.Len(t, f.events.Events(), before, "no notification for a failed batch")

	// the same batch moves the external id from an account to the other
	entities, err := f.store.UpdateBatch(ctx, []Update{
		{Key: a.Key, Updater: model.Static(model.Delta{ExternalIDs: model.ReplaceWith("username:uno")})},
		{Key: b.Key, Updater: model.Static(model.Delta{ExternalIDs: model.AddTo("username:one")})},
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, []string{"username:uno"}, entities[0].ExternalIDs)
	assert.Equal(t, []string{"username:one"}, entities[1].ExternalIDs)

	owner, err = f.store.LookupIndex(ctx, model.ExternalIDs, "username:one")
	require.NoError(t, err)
	assert.Equal(t, b.Key, owner)

	events := f.events.Events()
	require.Len(t, events, before+1)
	assert.ElementsMatch(t, []string{a.Key.Ref(), b.Key.Ref(), model.ExternalIDs.Ref()}, events[before].Refs())
}

func TestConcurrentAppends(t *testing.T) {
	const writers = 8
	ctx := context.Background()
	f := newFixture(t, Retry(retry.Timeout(time.Minute)))
	g := createGroup(t, f.store, model.Delta{Name: model.SetString("g1")})

	var calls atomic.Int32
	grp, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= writers; i++ {
		member := fmt.Sprintf("%d", i)
		grp.Go(func() error {
			_, err := f.store.Update(gctx, g.Key, func(current model.Entity) (model.Delta, error) {
				calls.Add(1)
				return model.Delta{Members: model.AddTo(member)}, nil
			})
			return err
		})
	}
	require.NoError(t, grp.Wait())

	current, err := f.store.Get(ctx, g.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8"}, current.Members, "no update is lost")
	assert.GreaterOrEqual(t, int(calls.Load()), writers)

	history, err := f.store.History(ctx, g.Key, 0)
	require.NoError(t, err)
	assert.Len(t, history, writers+1)
	assert.Len(t, f.events.Events(), writers+1, "one event per committed batch")
}

func TestTwoMembersScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := createGroup(t, f.store, model.Delta{Name: model.SetString("g1")})
	assert.Empty(t, g.Members)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, member := range []string{"1", "2"} {
		wg.Add(1)
		go func(i int, member string) {
			defer wg.Done()
			_, errs[i] = f.store.Update(ctx, g.Key, model.Static(model.Delta{Members: model.AddTo(member)}))
		}(i, member)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	current, err := f.store.Get(ctx, g.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, current.Members)
}

func TestConcurrentUniqueness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []string{"100", "200"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.store.Create(ctx, model.AccountKey(id), model.Static(model.Delta{
				ExternalIDs: model.AddTo("username:jane"),
			}))
		}(i, id)
	}
	wg.Wait()

	var succeeded, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, status.ErrConflict):
			conflicts++
			var conflict *index.ConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, "username:jane", conflict.Key)
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)

	owner, err := f.store.LookupIndex(ctx, model.ExternalIDs, "username:jane")
	require.NoError(t, err)
	winner := errs[0] == nil
	if winner {
		assert.Equal(t, model.AccountKey("100"), owner)
	} else {
		assert.Equal(t, model.AccountKey("200"), owner)
	}

	expected := `
# HELP refdb_index_conflicts_total Updates rejected by a secondary index uniqueness constraint.
# TYPE refdb_index_conflicts_total counter
refdb_index_conflicts_total{index="external-ids"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "refdb_index_conflicts_total"))
}

func TestNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := createGroup(t, f.store, model.Delta{Name: model.SetString("g1"), Members: model.AddTo("1")})
	events := len(f.events.Events())

	for _, updater := range []model.Updater{
		nil,
		model.NoChange,
		model.Static(model.Delta{Name: model.SetString(" g1 "), Members: model.AddTo("1")}),
	} {
		same, err := f.store.Update(ctx, g.Key, updater)
		require.NoError(t, err)
		assert.Equal(t, g, same, "the prior state is returned")
	}

	history, err := f.store.History(ctx, g.Key, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "no commit for a no-op")
	assert.Len(t, f.events.Events(), events, "no notification for a no-op")
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := model.AccountKey("404")

	e, err := f.store.Update(ctx, key, model.Static(model.Delta{Name: model.SetString("ghost")}))
	assert.True(t, errors.Is(err, status.ErrNotFound))
	assert.Nil(t, e)

	_, err = f.store.Get(ctx, key)
	assert.True(t, errors.Is(err, status.ErrNotFound), "update does not create entities")

	assert.True(t, errors.Is(f.store.Delete(ctx, key), status.ErrNotFound))

	existing, err := f.store.Create(ctx, model.AccountKey("1"), nil)
	require.NoError(t, err)
	entities, err := f.store.UpdateBatch(ctx, []Update{
		{Key: key, Updater: model.Static(model.Delta{Name: model.SetString("ghost")})},
		{Key: existing.Key, Updater: model.Static(model.Delta{Name: model.SetString("one")})},
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Nil(t, entities[0])
	require.NotNil(t, entities[1])
	assert.Equal(t, "one", entities[1].Name)

	_, err = f.store.Create(ctx, existing.Key, nil)
	assert.True(t, errors.Is(err, status.ErrExists))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := createGroup(t, f.store, model.Delta{Name: model.SetString("platform")})

	require.NoError(t, f.store.Delete(ctx, g.Key))
	_, err := f.store.Get(ctx, g.Key)
	assert.True(t, errors.Is(err, status.ErrNotFound))
	_, err = f.store.LookupIndex(ctx, model.GroupNames, "platform")
	assert.True(t, errors.Is(err, status.ErrNotFound), "the name is released")

	// the name may be claimed again
	other := createGroup(t, f.store, model.Delta{Name: model.SetString("platform")})
	owner, err := f.store.LookupIndex(ctx, model.GroupNames, "platform")
	require.NoError(t, err)
	assert.Equal(t, other.Key, owner)

	events := f.events.Events()
	require.Len(t, events, 3)
	for _, change := range events[1].Changes {
		if change.Ref == g.Key.Ref() {
			assert.True(t, change.New.IsZero())
			assert.Equal(t, g.Revision, change.Old)
		}
	}
}

func TestActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.Equal(t, DefaultActor, f.store.Actor())

	s := f.store.WithActor(jane)
	assert.Equal(t, jane, s.Actor())
	assert.Equal(t, f.store, f.store.WithActor(model.Contributor{}))

	g, err := s.Create(ctx, model.GroupKey(""), nil)
	require.NoError(t, err)
	_, err = f.store.Update(ctx, g.Key, model.Static(model.Delta{Name: model.SetString("renamed")}))
	require.NoError(t, err)

	history, err := f.store.History(ctx, g.Key, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, DefaultActor, history[0].Author)
	assert.Equal(t, jane, history[1].Author)

	events := f.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, jane, events[0].Actor)
	assert.Equal(t, "test", events[0].Repository)
}

func TestListenerFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	unsubscribe := f.store.Subscribe(notify.Func("broken", func(context.Context, model.ChangeEvent) error {
		return errors.New("search index unavailable")
	}))

	g, err := f.store.Create(ctx, model.GroupKey(""), nil)
	require.NoError(t, err, "listener failures never fail an update")
	unsubscribe()
	_, err = f.store.Update(ctx, g.Key, model.Static(model.Delta{Name: model.SetString("g")}))
	require.NoError(t, err)

	expected := `
# HELP refdb_notify_listener_failures_total Change listeners which failed, by listener.
# TYPE refdb_notify_listener_failures_total counter
refdb_notify_listener_failures_total{listener="broken"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "refdb_notify_listener_failures_total"))
	assert.Len(t, f.events.Events(), 2)
}

func TestJournalListener(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	journal := notify.NewJournal(localfs.New(afero.NewMemMapFs()))
	f.store.Subscribe(journal)

	g := createGroup(t, f.store, model.Delta{Name: model.SetString("g")})
	_, err := f.store.Update(ctx, g.Key, model.Static(model.Delta{Members: model.AddTo("1")}))
	require.NoError(t, err)

	journaled, next, err := journal.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, f.events.Events(), journaled)
}

func TestSQLBackend(t *testing.T) {
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.SQLite, ":memory:")
	require.NoError(t, err)
	f := (&fixture{events: &recorder{}, registry: prometheus.NewRegistry()}).open(t, db)

	g := createGroup(t, f.store, model.Delta{Name: model.SetString("g1")})
	var wg sync.WaitGroup
	for _, member := range []string{"1", "2", "3"} {
		wg.Add(1)
		go func(member string) {
			defer wg.Done()
			_, err := f.store.Update(ctx, g.Key, model.Static(model.Delta{Members: model.AddTo(member)}))
			assert.NoError(t, err)
		}(member)
	}
	wg.Wait()

	current, err := f.store.Get(ctx, g.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, current.Members)
}
