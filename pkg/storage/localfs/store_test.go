// Copyright © 2018 One Concern

package localfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/storage"
	"github.com/oneconcern/refdb/pkg/storage/status"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStores(t *testing.T) map[string]storage.Store {
	atomic, err := NewAtomic(afero.NewMemMapFs())
	require.NoError(t, err)

	stores := map[string]storage.Store{
		"plain":  New(afero.NewMemMapFs()),
		"atomic": atomic,
	}
	ctx := context.Background()
	for _, store := range stores {
		require.NoError(t, store.Put(ctx, "objects/ab/cdef", strings.NewReader("blob 3\x00abc"), storage.NoOverWrite))
		require.NoError(t, store.Put(ctx, "objects/ab/0123", strings.NewReader("tree 0\x00"), storage.NoOverWrite))
		require.NoError(t, store.Put(ctx, "journal/0001", strings.NewReader("{}"), storage.NoOverWrite))
	}
	return stores
}

func TestHasGet(t *testing.T) {
	ctx := context.Background()
	for name, store := range seededStores(t) {
		t.Run(name, func(t *testing.T) {
			has, err := store.Has(ctx, "objects/ab/cdef")
			require.NoError(t, err)
			assert.True(t, has)

			has, err = store.Has(ctx, "objects/ab/ffff")
			require.NoError(t, err)
			assert.False(t, has)

			has, err = store.Has(ctx, "objects/ab")
			require.NoError(t, err)
			assert.False(t, has, "directories are not keys")

			b, err := storage.ReadAll(ctx, store, "objects/ab/cdef")
			require.NoError(t, err)
			assert.Equal(t, "blob 3\x00abc", string(b))

			_, err = store.Get(ctx, "objects/ab/ffff")
			require.Error(t, err)
			assert.True(t, errors.Is(err, status.ErrNotExists))
		})
	}
}

func TestPutExclusive(t *testing.T) {
	ctx := context.Background()
	for name, store := range seededStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Put(ctx, "objects/ab/cdef", strings.NewReader("other"), storage.NoOverWrite)
			require.Error(t, err)
			assert.True(t, errors.Is(err, status.ErrExists))

			b, err := storage.ReadAll(ctx, store, "objects/ab/cdef")
			require.NoError(t, err)
			assert.Equal(t, "blob 3\x00abc", string(b), "exclusive put must not overwrite")

			require.NoError(t, store.Put(ctx, "objects/ab/cdef", bytes.NewBufferString("replaced"), storage.OverWrite))
			b, err = storage.ReadAll(ctx, store, "objects/ab/cdef")
			require.NoError(t, err)
			assert.Equal(t, "replaced", string(b))
		})
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	for name, store := range seededStores(t) {
		t.Run(name, func(t *testing.T) {
			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"journal/0001", "objects/ab/0123", "objects/ab/cdef"}, keys)
		})
	}
}

func TestKeysPrefix(t *testing.T) {
	ctx := context.Background()
	for name, store := range seededStores(t) {
		t.Run(name, func(t *testing.T) {
			keys, next, err := store.KeysPrefix(ctx, "", "objects/", "", 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"objects/ab/0123"}, keys)
			assert.Equal(t, "objects/ab/0123", next)

			keys, next, err = store.KeysPrefix(ctx, next, "objects/", "", 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"objects/ab/cdef"}, keys)
			assert.Empty(t, next)

			keys, next, err = store.KeysPrefix(ctx, "", "", "", 0)
			require.NoError(t, err)
			assert.Len(t, keys, 3)
			assert.Empty(t, next)
		})
	}
}

func TestDeleteClear(t *testing.T) {
	ctx := context.Background()
	for name, store := range seededStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Delete(ctx, "journal/0001"))
			require.NoError(t, store.Delete(ctx, "journal/0001"), "deleting a missing key is not an error")

			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.Len(t, keys, 2)

			require.NoError(t, store.Clear(ctx))
			keys, err = store.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)

			require.NoError(t, store.Put(ctx, "objects/cd/ef", strings.NewReader("x"), storage.NoOverWrite))
		})
	}
}

func TestAtomicStagingArea(t *testing.T) {
	ctx := context.Background()
	store, err := NewAtomic(afero.NewMemMapFs())
	require.NoError(t, err)

	err = store.Put(ctx, nestedPutStageName+"/x", strings.NewReader("x"), storage.OverWrite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidResource))

	_, err = store.Get(ctx, nestedPutStageName+"/x")
	assert.True(t, errors.Is(err, status.ErrInvalidResource))

	keys, next, err := store.KeysPrefix(ctx, "", ".", "", 10)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, next)
}

func TestAtomicConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store, err := NewAtomic(fs)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, "objects/ab/same", strings.NewReader("identical content"), storage.OverWrite))
		}()
	}
	wg.Wait()

	b, err := storage.ReadAll(ctx, store, "objects/ab/same")
	require.NoError(t, err)
	assert.Equal(t, "identical content", string(b))

	staged, err := afero.ReadDir(fs, nestedPutStageName+"/objects/ab")
	require.NoError(t, err)
	assert.Empty(t, staged, "no staging file should be left behind")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("broken pipe") }

func TestPutFailure(t *testing.T) {
	ctx := context.Background()
	store := New(afero.NewMemMapFs())

	err := store.Put(ctx, "objects/ab/cd", io.MultiReader(strings.NewReader("abc"), failingReader{}), storage.NoOverWrite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrStorageAPI))
}

func TestString(t *testing.T) {
	assert.Equal(t, "localfs", New(afero.NewMemMapFs()).String())
	store, err := NewAtomic(afero.NewBasePathFs(afero.NewMemMapFs(), "/data"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(store.String(), "localfs-atomic@"))
}
