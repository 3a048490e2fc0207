// Copyright © 2018 One Concern

package txn

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/index"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/refs"
	"github.com/oneconcern/refdb/pkg/refs/badgerdb"
	"github.com/oneconcern/refdb/pkg/repository"
	"github.com/oneconcern/refdb/pkg/storage/localfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0   = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	jane = model.Contributor{Name: "Jane", Email: "jane@example.com"}

	errInjected = errors.New("injected failure")
)

type fixture struct {
	repo *repository.Repository
	txn  *Transaction
	fail atomic.Bool
	now  time.Time
}

func newFixture(t testing.TB) *fixture {
	f := &fixture{now: t0}
	db, err := badgerdb.Open("", badgerdb.BeforeCommit(func(context.Context, []refs.Command) error {
		if f.fail.Load() {
			return errInjected
		}
		return nil
	}))
	require.NoError(t, err)

	f.repo, err = repository.Open(localfs.New(afero.NewMemMapFs()), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.repo.Close() })

	f.txn = New(f.repo, Clock(func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}))
	return f
}

func (f *fixture) run(t testing.TB, ops ...Op) *Batch {
	batch, err := f.txn.Run(context.Background(), jane, ops)
	require.NoError(t, err)
	return batch
}

func (f *fixture) tip(t testing.TB, ref string) model.RevisionID {
	tips, err := f.repo.Tips(context.Background(), ref)
	require.NoError(t, err)
	return tips[ref]
}

func TestCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := model.AccountKey("1000042")

	batch := f.run(t, Op{Key: key, Kind: Create, Updater: model.Static(model.Delta{
		Name:        model.SetString("Jane"),
		ExternalIDs: model.AddTo("username:jane"),
	})})
	require.Len(t, batch.Results, 1)
	created := batch.Results[0]
	assert.Equal(t, Created, created.Outcome)
	require.NotNil(t, created.Entity)
	assert.Equal(t, "Jane", created.Entity.Name)
	assert.Equal(t, created.Entity.CreatedOn, created.Entity.UpdatedOn)
	assert.Equal(t, 1, batch.IndexCommands)
	assert.Len(t, batch.Commands, 2, "entity and index refs move together")
	assert.Equal(t, created.Entity.Revision, f.tip(t, key.Ref()))

	owner, err := f.repo.LookupIndex(ctx, model.ExternalIDs, "username:jane")
	require.NoError(t, err)
	assert.Equal(t, key, owner)

	batch = f.run(t, Op{Key: key, Updater: func(current model.Entity) (model.Delta, error) {
		assert.Equal(t, "Jane", current.Name)
		return model.Delta{Email: model.SetString("jane@example.com")}, nil
	}})
	updated := batch.Results[0]
	assert.Equal(t, Updated, updated.Outcome)
	assert.Equal(t, created.Entity.CreatedOn, updated.Entity.CreatedOn)
	assert.True(t, updated.Entity.UpdatedOn.After(updated.Entity.CreatedOn))
	assert.Zero(t, batch.IndexCommands, "index untouched when index keys do not change")

	stored, err := f.repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, *updated.Entity, stored, "the returned state matches what a fresh read yields")

	history, err := f.repo.History(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, jane, history[0].Author)
	assert.Equal(t, "Update account", history[0].Summary())

	batch = f.run(t, Op{Key: key, Kind: Delete})
	assert.Equal(t, Deleted, batch.Results[0].Outcome)
	assert.Nil(t, batch.Results[0].Entity)
	assert.Len(t, batch.Commands, 2)
	assert.True(t, f.tip(t, key.Ref()).IsZero())

	_, err = f.repo.LookupIndex(ctx, model.ExternalIDs, "username:jane")
	assert.True(t, errors.Is(err, status.ErrNotFound), "delete releases index keys")

	changes := batch.Changes()
	for _, change := range changes {
		assert.True(t, change.New.IsZero() || model.IsIndexRef(change.Ref))
	}
}

func TestCreateEmpty(t *testing.T) {
	f := newFixture(t)
	key := model.NewGroupKey()

	batch := f.run(t, Op{Key: key, Kind: Create})
	require.Len(t, batch.Commands, 1, "a create with no property still commits")
	assert.Equal(t, Created, batch.Results[0].Outcome)

	_, err := f.txn.Run(context.Background(), jane, []Op{{Key: key, Kind: Create}})
	assert.True(t, errors.Is(err, status.ErrExists))
}

func TestUnchangedAndNotFound(t *testing.T) {
	f := newFixture(t)
	group := model.NewGroupKey()
	f.run(t, Op{Key: group, Kind: Create, Updater: model.Static(model.Delta{Members: model.AddTo("1", "2")})})
	tip := f.tip(t, group.Ref())

	batch := f.run(t,
		Op{Key: group, Updater: model.Static(model.Delta{Members: model.AddTo("2", "1")})},
		Op{Key: model.AccountKey("77")},
		Op{Key: model.AccountKey("78"), Kind: Delete},
	)
	assert.True(t, batch.IsEmpty())
	assert.Equal(t, Unchanged, batch.Results[0].Outcome)
	require.NotNil(t, batch.Results[0].Entity)
	assert.Equal(t, []string{"1", "2"}, batch.Results[0].Entity.Members)
	assert.Equal(t, NotFound, batch.Results[1].Outcome)
	assert.Nil(t, batch.Results[1].Entity)
	assert.Equal(t, NotFound, batch.Results[2].Outcome)
	assert.Equal(t, tip, f.tip(t, group.Ref()))
}

func TestInvalidBatches(t *testing.T) {
	f := newFixture(t)
	key := model.AccountKey("1")

	for name, toPin := range map[string]struct {
		Ops      []Op
		Sentinel error
	}{
		"empty":         {Ops: nil, Sentinel: status.ErrInvalidBatch},
		"duplicate key": {Ops: []Op{{Key: key, Kind: Create}, {Key: key}}, Sentinel: status.ErrInvalidBatch},
		"invalid key":   {Ops: []Op{{Key: model.AccountKey("x")}}, Sentinel: status.ErrInvalidKey},
		"invalid delta": {Ops: []Op{{Key: key, Kind: Create, Updater: model.Static(model.Delta{Members: model.AddTo("1")})}}, Sentinel: status.ErrInvalidDelta},
	} {
		testCase := toPin
		t.Run(name, func(t *testing.T) {
			_, err := f.txn.Stage(context.Background(), jane, testCase.Ops)
			require.Error(t, err)
			assert.True(t, errors.Is(err, testCase.Sentinel))
		})
	}

	failing := errors.New("updater failure")
	_, err := f.txn.Stage(context.Background(), jane, []Op{{Key: key, Kind: Create, Updater: func(model.Entity) (model.Delta, error) {
		return model.Delta{}, failing
	}}})
	assert.True(t, errors.Is(err, failing), "updater errors propagate unchanged")
}

func TestIndexConflicts(t *testing.T) {
	f := newFixture(t)
	first, second := model.AccountKey("1"), model.AccountKey("2")
	claim := func(ids ...string) model.Updater {
		return model.Static(model.Delta{ExternalIDs: model.AddTo(ids...)})
	}
	f.run(t, Op{Key: first, Kind: Create, Updater: claim("username:one")})

	_, err := f.txn.Stage(context.Background(), jane, []Op{{Key: second, Kind: Create, Updater: claim("username:one")}})
	var conflict *index.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first, conflict.Owner)
	assert.Equal(t, second, conflict.Claimant)

	_, err = f.txn.Stage(context.Background(), jane, []Op{
		{Key: second, Kind: Create, Updater: claim("username:two")},
		{Key: model.AccountKey("3"), Kind: Create, Updater: claim("username:two")},
	})
	assert.True(t, errors.Is(err, status.ErrConflict), "two claimants in one batch")

	// a key released and claimed in the same batch moves atomically
	batch := f.run(t,
		Op{Key: first, Updater: model.Static(model.Delta{ExternalIDs: model.RemoveFrom("username:one")})},
		Op{Key: second, Kind: Create, Updater: claim("username:one")},
	)
	assert.Len(t, batch.Commands, 3)
	owner, err := f.repo.LookupIndex(context.Background(), model.ExternalIDs, "username:one")
	require.NoError(t, err)
	assert.Equal(t, second, owner)
}

func TestGroupNames(t *testing.T) {
	f := newFixture(t)
	g1, g2 := model.NewGroupKey(), model.NewGroupKey()
	f.run(t, Op{Key: g1, Kind: Create, Updater: model.Static(model.Delta{Name: model.SetString("admins")})})

	_, err := f.txn.Run(context.Background(), jane, []Op{{Key: g2, Kind: Create, Updater: model.Static(model.Delta{Name: model.SetString("admins")})}})
	assert.True(t, errors.Is(err, status.ErrConflict))

	f.run(t, Op{Key: g1, Updater: model.Static(model.Delta{Name: model.SetString("operators")})})
	f.run(t, Op{Key: g2, Kind: Create, Updater: model.Static(model.Delta{Name: model.SetString("admins")})})

	owner, err := f.repo.LookupIndex(context.Background(), model.GroupNames, "operators")
	require.NoError(t, err)
	assert.Equal(t, g1, owner)
}

func TestAtomicity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	account, group := model.AccountKey("5"), model.NewGroupKey()
	f.run(t, Op{Key: account, Kind: Create, Updater: model.Static(model.Delta{ExternalIDs: model.AddTo("username:five")})})
	f.run(t, Op{Key: group, Kind: Create})

	newcomer := model.AccountKey("6")
	before := map[string]model.RevisionID{
		account.Ref():           f.tip(t, account.Ref()),
		group.Ref():             f.tip(t, group.Ref()),
		model.ExternalIDs.Ref(): f.tip(t, model.ExternalIDs.Ref()),
		newcomer.Ref():          model.ZeroRevision,
	}

	f.fail.Store(true)
	_, err := f.txn.Run(ctx, jane, []Op{
		{Key: account, Updater: model.Static(model.Delta{ExternalIDs: model.ReplaceWith("username:cinq")})},
		{Key: group, Updater: model.Static(model.Delta{Members: model.AddTo("5")})},
		{Key: newcomer, Kind: Create},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))

	for ref, tip := range before {
		assert.Equal(t, tip, f.tip(t, ref), "ref %s must not move", ref)
	}
}

func TestStaleBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	group := model.NewGroupKey()
	f.run(t, Op{Key: group, Kind: Create})

	stale, err := f.txn.Stage(ctx, jane, []Op{{Key: group, Updater: model.Static(model.Delta{Members: model.AddTo("1")})}})
	require.NoError(t, err)
	f.run(t, Op{Key: group, Updater: model.Static(model.Delta{Members: model.AddTo("2")})})

	err = f.txn.Commit(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrLockFailure))

	current, err := f.repo.Get(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, current.Members)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "create", Create.String())
	assert.Equal(t, "update", Update.String())
	assert.Equal(t, "delete", Delete.String())
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "not found", NotFound.String())
}
