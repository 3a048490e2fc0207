// Copyright © 2018 One Concern

// Package refstest provides a conformance test suite for ref databases.
package refstest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/refs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens a fresh, empty database, with an optional hook invoked before each commit.
//
// The database is closed by the suite.
type Factory func(t *testing.T, beforeCommit refs.Hook) refs.Database

const (
	refA     = "refs/groups/3f/3f1b2c4d-5e6f-4a8b-9c0d-1e2f3a4b5c6d"
	refB     = "refs/accounts/10/1000042"
	refIndex = "refs/meta/external-ids"
)

// Run the conformance suite
func Run(t *testing.T, factory Factory) {
	t.Run("create, update, delete", func(t *testing.T) { testLifecycle(t, factory) })
	t.Run("lock failure moves nothing", func(t *testing.T) { testLockFailure(t, factory) })
	t.Run("invalid batches", func(t *testing.T) { testInvalid(t, factory) })
	t.Run("list by prefix", func(t *testing.T) { testList(t, factory) })
	t.Run("hook failure moves nothing", func(t *testing.T) { testHookFailure(t, factory) })
	t.Run("concurrent writers", func(t *testing.T) { testConcurrent(t, factory) })
}

func open(t *testing.T, factory Factory, hook refs.Hook) refs.Database {
	db := factory(t, hook)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	return db
}

func testLifecycle(t *testing.T, factory Factory) {
	ctx := context.Background()
	db := open(t, factory, nil)
	require.NotEmpty(t, db.String())

	rev, err := db.Get(ctx, refA)
	require.NoError(t, err)
	assert.True(t, rev.IsZero())

	require.NoError(t, db.Commit(ctx, []refs.Command{
		{Ref: refA, New: "a1"},
		{Ref: refIndex, New: "i1"},
	}))
	rev, err = db.Get(ctx, refA)
	require.NoError(t, err)
	assert.Equal(t, model.RevisionID("a1"), rev)

	require.NoError(t, db.Commit(ctx, []refs.Command{{Ref: refA, Old: "a1", New: "a2"}}))
	all, err := db.GetMany(ctx, refA, refB, refIndex)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.RevisionID{refA: "a2", refIndex: "i1"}, all)

	require.NoError(t, db.Commit(ctx, []refs.Command{{Ref: refA, Old: "a2"}}))
	rev, err = db.Get(ctx, refA)
	require.NoError(t, err)
	assert.True(t, rev.IsZero())

	require.NoError(t, db.Commit(ctx, nil), "an empty batch is a no-op")
}

func testLockFailure(t *testing.T, factory Factory) {
	ctx := context.Background()
	db := open(t, factory, nil)

	require.NoError(t, db.Commit(ctx, []refs.Command{{Ref: refA, New: "a1"}, {Ref: refIndex, New: "i1"}}))

	// the index expectation is stale: the entity ref must not move either
	err := db.Commit(ctx, []refs.Command{
		{Ref: refA, Old: "a1", New: "a2"},
		{Ref: refB, New: "b1"},
		{Ref: refIndex, Old: "i0", New: "i2"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrLockFailure))
	var lockErr *refs.LockFailureError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, []string{refIndex}, lockErr.Refs)

	all, err := db.GetMany(ctx, refA, refB, refIndex)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.RevisionID{refA: "a1", refIndex: "i1"}, all)

	// creating an existing ref
	err = db.Commit(ctx, []refs.Command{{Ref: refA, New: "a3"}})
	assert.True(t, errors.Is(err, status.ErrLockFailure))

	// deleting with a stale expectation
	err = db.Commit(ctx, []refs.Command{{Ref: refA, Old: "a0"}})
	assert.True(t, errors.Is(err, status.ErrLockFailure))

	// updating an absent ref
	err = db.Commit(ctx, []refs.Command{{Ref: refB, Old: "b0", New: "b1"}})
	assert.True(t, errors.Is(err, status.ErrLockFailure))
}

func testInvalid(t *testing.T, factory Factory) {
	ctx := context.Background()
	db := open(t, factory, nil)

	err := db.Commit(ctx, []refs.Command{{Ref: refA, New: "a1"}, {Ref: refA, New: "a2"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidBatch))

	err = db.Commit(ctx, []refs.Command{{Ref: "", New: "a1"}})
	assert.True(t, errors.Is(err, status.ErrInvalidBatch))

	rev, err := db.Get(ctx, refA)
	require.NoError(t, err)
	assert.True(t, rev.IsZero())
}

func testList(t *testing.T, factory Factory) {
	ctx := context.Background()
	db := open(t, factory, nil)

	require.NoError(t, db.Commit(ctx, []refs.Command{
		{Ref: refA, New: "a1"},
		{Ref: refB, New: "b1"},
		{Ref: "refs/accounts/10/1000043", New: "b2"},
		{Ref: "refs/accounts_archive/10/1", New: "x"},
		{Ref: refIndex, New: "i1"},
	}))

	accounts, err := db.List(ctx, model.Accounts.RefPrefix())
	require.NoError(t, err)
	assert.Equal(t, map[string]model.RevisionID{refB: "b1", "refs/accounts/10/1000043": "b2"}, accounts)

	all, err := db.List(ctx, "refs/")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := db.List(ctx, "refs/projects/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testHookFailure(t *testing.T, factory Factory) {
	ctx := context.Background()
	var fail atomic.Bool
	db := open(t, factory, func(context.Context, []refs.Command) error {
		if fail.Load() {
			return fmt.Errorf("injected failure")
		}
		return nil
	})

	require.NoError(t, db.Commit(ctx, []refs.Command{{Ref: refA, New: "a1"}, {Ref: refIndex, New: "i1"}}))

	fail.Store(true)
	err := db.Commit(ctx, []refs.Command{
		{Ref: refA, Old: "a1", New: "a2"},
		{Ref: refB, New: "b1"},
		{Ref: refIndex, Old: "i1", New: "i2"},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, status.ErrLockFailure))

	all, err := db.GetMany(ctx, refA, refB, refIndex)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.RevisionID{refA: "a1", refIndex: "i1"}, all)
}

func testConcurrent(t *testing.T, factory Factory) {
	ctx := context.Background()
	db := open(t, factory, nil)
	require.NoError(t, db.Commit(ctx, []refs.Command{{Ref: refA, New: "base"}}))

	const writers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.Commit(ctx, []refs.Command{{Ref: refA, Old: "base", New: model.RevisionID(fmt.Sprintf("w%d", i))}})
			if err == nil {
				successes.Add(1)
				return
			}
			assert.True(t, errors.Is(err, status.ErrLockFailure), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load(), "exactly one writer wins the race")
}
