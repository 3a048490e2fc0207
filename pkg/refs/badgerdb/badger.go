// Copyright © 2018 One Concern

// Package badgerdb implements the ref database on an embedded dgraph-io/badger/v3 key-value store.
//
// A batch of ref commands runs in a single badger transaction: compare-and-swap checks and writes
// are applied together or not at all. Badger detects conflicting concurrent transactions, which
// are reported as lock failures.
//
// A badger directory may only be opened by one process at a time.
package badgerdb

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v3"
	badgeroptions "github.com/dgraph-io/badger/v3/options"
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/refs"
	"go.uber.org/zap"
)

const keyPrefix = "ref:"

var _ refs.Database = &DB{}

// DB is a ref database backed by badger
type DB struct {
	*badgerOptions
	db *badger.DB
}

// Open a badger ref database. An empty path opens an in-memory database.
func Open(path string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(o)
	}

	var bopts badger.Options
	if path == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, status.ErrStorage.Wrap(fmt.Errorf("badger: mkdir: %w", err))
		}
		bopts = badger.DefaultOptions(path)
	}

	bopts = bopts.
		WithLogger(zapAdapter{l: o.l.Sugar()}).
		WithLoggingLevel(badger.WARNING).
		WithCompression(badgeroptions.None). // refs are random-like hashes: compression is futile
		WithMemTableSize(o.memTableSize).
		WithValueLogFileSize(o.valueLogFileSize).
		WithSyncWrites(o.syncWrites)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, status.ErrStorage.Wrap(fmt.Errorf("badger: open %q: %w", path, err))
	}
	return &DB{
		badgerOptions: o,
		db:            db,
	}, nil
}

func refKey(ref string) []byte {
	return []byte(keyPrefix + ref)
}

func getRef(txn *badger.Txn, ref string) (model.RevisionID, error) {
	item, err := txn.Get(refKey(ref))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return model.ZeroRevision, nil
		}
		return model.ZeroRevision, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return model.ZeroRevision, err
	}
	return model.RevisionID(value), nil
}

// Get the current revision of a ref
func (d *DB) Get(ctx context.Context, ref string) (model.RevisionID, error) {
	var rev model.RevisionID
	err := d.db.View(func(txn *badger.Txn) error {
		var e error
		rev, e = getRef(txn, ref)
		return e
	})
	if err != nil {
		return model.ZeroRevision, status.ErrStorage.Wrap(err)
	}
	return rev, nil
}

// GetMany reads several refs from one read-only transaction, hence from a consistent snapshot
func (d *DB) GetMany(ctx context.Context, names ...string) (map[string]model.RevisionID, error) {
	result := make(map[string]model.RevisionID, len(names))
	err := d.db.View(func(txn *badger.Txn) error {
		for _, ref := range names {
			rev, e := getRef(txn, ref)
			if e != nil {
				return e
			}
			if !rev.IsZero() {
				result[ref] = rev
			}
		}
		return nil
	})
	if err != nil {
		return nil, status.ErrStorage.Wrap(err)
	}
	return result, nil
}

// List refs with some prefix
func (d *DB) List(ctx context.Context, prefix string) (map[string]model.RevisionID, error) {
	result := make(map[string]model.RevisionID)
	err := d.db.View(func(txn *badger.Txn) error {
		iterator := txn.NewIterator(badger.IteratorOptions{
			PrefetchSize:   100,
			PrefetchValues: true,
			Prefix:         refKey(prefix),
		})
		defer iterator.Close()

		for iterator.Rewind(); iterator.Valid(); iterator.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iterator.Item()
			value, e := item.ValueCopy(nil)
			if e != nil {
				return e
			}
			result[strings.TrimPrefix(string(item.Key()), keyPrefix)] = model.RevisionID(value)
		}
		return nil
	})
	if err != nil {
		return nil, status.ErrStorage.Wrap(err)
	}
	return result, nil
}

// Commit applies a batch of commands in one badger transaction
func (d *DB) Commit(ctx context.Context, commands []refs.Command) error {
	if err := refs.Validate(commands); err != nil {
		return err
	}
	if len(commands) == 0 {
		return nil
	}

	err := d.db.Update(func(txn *badger.Txn) error {
		var mismatches []string
		for _, cmd := range commands {
			current, e := getRef(txn, cmd.Ref)
			if e != nil {
				return e
			}
			if current != cmd.Old {
				mismatches = append(mismatches, cmd.Ref)
			}
		}
		if len(mismatches) > 0 {
			return refs.NewLockFailure(mismatches...)
		}

		for _, cmd := range commands {
			var e error
			if cmd.IsDelete() {
				e = txn.Delete(refKey(cmd.Ref))
			} else {
				e = txn.Set(refKey(cmd.Ref), []byte(cmd.New))
			}
			if e != nil {
				return e
			}
		}

		if d.beforeCommit != nil {
			return d.beforeCommit(ctx, commands)
		}
		return nil
	})

	switch {
	case err == nil:
		d.l.Debug("refs committed", zap.Int("commands", len(commands)))
		return nil
	case errors.Is(err, status.ErrLockFailure):
		return err
	case errors.Is(err, badger.ErrConflict):
		// a concurrent transaction updated some of our refs
		names := make([]string, 0, len(commands))
		for _, cmd := range commands {
			names = append(names, cmd.Ref)
		}
		sort.Strings(names)
		return refs.NewLockFailure(names...)
	default:
		return status.ErrStorage.WrapWithLog(d.l, err, zap.Int("commands", len(commands)))
	}
}

// Close the database
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return status.ErrStorage.Wrap(err)
	}
	return nil
}

func (d *DB) String() string {
	if d.db.Opts().InMemory {
		return "badger@memory"
	}
	return "badger@" + d.db.Opts().Dir
}
