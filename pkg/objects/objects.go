// Copyright © 2018 One Concern

// Package objects stores the immutable, content-addressed objects of a repository:
// blobs (file contents), trees (flat lists of named blobs) and commits (revisions).
//
// Objects are written once and never modified. An object is keyed by the hex blake2b-256 digest
// of its serialized form: a "<kind> <length>\x00" header followed by the payload.
package objects

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	blake2b "github.com/minio/blake2b-simd"
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/storage"
	storagestatus "github.com/oneconcern/refdb/pkg/storage/status"
	"go.uber.org/zap"
)

// Kind of object
type Kind string

const (
	// KindBlob holds file contents
	KindBlob Kind = "blob"

	// KindTree maps file names to blobs
	KindTree Kind = "tree"

	// KindCommit describes a revision
	KindCommit Kind = "commit"
)

const objectsPrefix = "objects/"

// Option for the object store
type Option func(*Store)

// Logger for the object store
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// Store reads and writes objects on some storage backend
type Store struct {
	store storage.Store
	l     *zap.Logger
}

// New object store
func New(store storage.Store, opts ...Option) *Store {
	s := &Store{
		store: store,
		l:     zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// String describes the underlying storage
func (s *Store) String() string {
	return s.store.String()
}

// Key is the storage key of an object
func Key(id model.ObjectID) string {
	if len(id) < 3 {
		return objectsPrefix + string(id)
	}
	return objectsPrefix + string(id[:2]) + "/" + string(id[2:])
}

func frame(kind Kind, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(kind) + 24 + len(data))
	buf.WriteString(string(kind))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(len(data)))
	buf.WriteByte(0)
	buf.Write(data)
	return buf.Bytes()
}

// Hash computes the id of an object without storing it
func Hash(kind Kind, data []byte) model.ObjectID {
	return hashFramed(frame(kind, data))
}

func hashFramed(framed []byte) model.ObjectID {
	hasher := blake2b.New256()
	_, _ = hasher.Write(framed)
	return model.ObjectID(hex.EncodeToString(hasher.Sum(nil)))
}

// Put stores an object and returns its id. Storing an existing object is a no-op.
func (s *Store) Put(ctx context.Context, kind Kind, data []byte) (model.ObjectID, error) {
	framed := frame(kind, data)
	id := hashFramed(framed)
	key := Key(id)

	has, err := s.store.Has(ctx, key)
	if err != nil {
		return "", status.ErrStorage.Wrap(err)
	}
	if has {
		return id, nil
	}

	err = s.store.Put(ctx, key, bytes.NewReader(framed), storage.NoOverWrite)
	if err != nil && !errors.Is(err, storagestatus.ErrExists) {
		return "", status.ErrStorage.WrapWithLog(s.l, err, zap.String("object", string(id)), zap.String("kind", string(kind)))
	}
	return id, nil
}

// Get retrieves the payload of an object, checking its kind and its integrity
func (s *Store) Get(ctx context.Context, kind Kind, id model.ObjectID) ([]byte, error) {
	framed, err := storage.ReadAll(ctx, s.store, Key(id))
	if err != nil {
		return nil, status.ErrStorage.Wrap(fmt.Errorf("reading %s %s: %w", kind, id, err))
	}

	if actual := hashFramed(framed); actual != id {
		return nil, status.ErrCorruptRecord.WrapMessage("object %s has checksum %s", id, actual)
	}

	end := bytes.IndexByte(framed, 0)
	if end < 0 {
		return nil, status.ErrCorruptRecord.WrapMessage("object %s has no header", id)
	}
	header, data := string(framed[:end]), framed[end+1:]
	expected := string(kind) + " " + strconv.Itoa(len(data))
	if header != expected {
		return nil, status.ErrCorruptRecord.WrapMessage("object %s: expected header %q, got %q", id, expected, header)
	}
	return data, nil
}

// Has checks if an object is present
func (s *Store) Has(ctx context.Context, id model.ObjectID) (bool, error) {
	has, err := s.store.Has(ctx, Key(id))
	if err != nil {
		return false, status.ErrStorage.Wrap(err)
	}
	return has, nil
}
