// Copyright © 2018 One Concern

// Package repository reads and stages entity revisions in a repository made of
// content-addressed objects and a ref database.
//
// The repository never moves a ref by itself: staging writes immutable objects and yields the
// compare-and-swap command to apply. Commands are applied in batches with Commit.
package repository

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oneconcern/refdb/pkg/codec"
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/index"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/objects"
	"github.com/oneconcern/refdb/pkg/refs"
	"github.com/oneconcern/refdb/pkg/storage"
	"go.uber.org/zap"
)

// Version is an entity decoded at some revision
type Version struct {
	Entity   model.Entity
	Revision model.Revision
}

// Repository of entities
type Repository struct {
	name    string
	store   storage.Store
	objects *objects.Store
	refs    refs.Database
	indexes *index.Store
	cache   *lru.Cache[model.RevisionID, Version]
	l       *zap.Logger

	cacheSize      int
	indexCacheSize int
}

// Open a repository over an object store and a ref database
func Open(store storage.Store, db refs.Database, opts ...Option) (*Repository, error) {
	if store == nil || db == nil {
		return nil, status.ErrStorage.WrapMessage("a repository requires an object store and a ref database")
	}
	r := &Repository{
		name:           defaultName,
		store:          store,
		refs:           db,
		l:              zap.NewNop(),
		cacheSize:      defaultCacheSize,
		indexCacheSize: defaultIndexCacheSize,
	}
	for _, apply := range opts {
		apply(r)
	}

	cache, err := lru.New[model.RevisionID, Version](r.cacheSize)
	if err != nil {
		return nil, err
	}
	r.cache = cache
	r.l = r.l.With(zap.String("repository", r.name))
	r.objects = objects.New(store, objects.Logger(r.l))
	r.indexes = index.NewStore(r.objects, index.Logger(r.l), index.CacheSize(r.indexCacheSize))

	r.l.Info("repository opened", zap.Stringer("objects", store), zap.Stringer("refs", db))
	return r, nil
}

// Name of the repository
func (r *Repository) Name() string {
	return r.name
}

// Objects of the repository
func (r *Repository) Objects() *objects.Store {
	return r.objects
}

// Storage holding the objects of the repository
func (r *Repository) Storage() storage.Store {
	return r.store
}

// Refs is the ref database of the repository
func (r *Repository) Refs() refs.Database {
	return r.refs
}

// Logger of the repository
func (r *Repository) Logger() *zap.Logger {
	return r.l
}

// Close the ref database
func (r *Repository) Close() error {
	return r.refs.Close()
}

// CurrentTip is the latest revision of an entity, zero when the entity does not exist
func (r *Repository) CurrentTip(ctx context.Context, key model.Key) (model.RevisionID, error) {
	rev, err := r.refs.Get(ctx, key.Ref())
	if err != nil {
		return model.ZeroRevision, status.ErrStorage.Wrap(err)
	}
	return rev, nil
}

// Tips reads several refs from a single consistent snapshot. Absent refs are not in the result.
func (r *Repository) Tips(ctx context.Context, names ...string) (map[string]model.RevisionID, error) {
	tips, err := r.refs.GetMany(ctx, names...)
	if err != nil {
		return nil, status.ErrStorage.Wrap(err)
	}
	return tips, nil
}

// ReadVersion decodes an entity at some revision. Decoded revisions are cached.
func (r *Repository) ReadVersion(ctx context.Context, key model.Key, id model.RevisionID) (Version, error) {
	if id.IsZero() {
		return Version{}, status.ErrNotFound.WrapMessage("%s has no revision", key)
	}
	if v, ok := r.cache.Get(id); ok && v.Entity.Key == key {
		return cloneVersion(v), nil
	}

	rev, err := r.objects.ReadCommit(ctx, id)
	if err != nil {
		return Version{}, err
	}
	files, err := r.objects.ReadTree(ctx, rev.Tree)
	if err != nil {
		return Version{}, err
	}
	entity, err := codec.Decode(key, rev, files)
	if err != nil {
		return Version{}, err
	}
	if entity.CreatedOn, err = r.createdOn(ctx, rev); err != nil {
		return Version{}, err
	}

	v := Version{Entity: entity, Revision: rev}
	r.cache.Add(id, cloneVersion(v))
	return v, nil
}

// ReadRevision decodes an entity at some revision
func (r *Repository) ReadRevision(ctx context.Context, key model.Key, id model.RevisionID) (model.Entity, error) {
	v, err := r.ReadVersion(ctx, key, id)
	if err != nil {
		return model.Entity{}, err
	}
	return v.Entity, nil
}

// createdOn is the timestamp of the first revision in the history
func (r *Repository) createdOn(ctx context.Context, rev model.Revision) (time.Time, error) {
	for !rev.Parent.IsZero() {
		if parent, ok := r.cache.Peek(rev.Parent); ok {
			return parent.Entity.CreatedOn, nil
		}
		next, err := r.objects.ReadCommit(ctx, rev.Parent)
		if err != nil {
			return time.Time{}, err
		}
		rev = next
	}
	return rev.Timestamp, nil
}

// Get the current state of an entity
func (r *Repository) Get(ctx context.Context, key model.Key) (model.Entity, error) {
	if err := key.Validate(); err != nil {
		return model.Entity{}, err
	}
	tip, err := r.CurrentTip(ctx, key)
	if err != nil {
		return model.Entity{}, err
	}
	if tip.IsZero() {
		return model.Entity{}, status.ErrNotFound.WrapMessage("%s", key)
	}
	return r.ReadRevision(ctx, key, tip)
}

// History walks the revisions of an entity, latest first. A limit <= 0 walks the whole history.
func (r *Repository) History(ctx context.Context, key model.Key, limit int) ([]model.Revision, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	tip, err := r.CurrentTip(ctx, key)
	if err != nil {
		return nil, err
	}
	if tip.IsZero() {
		return nil, status.ErrNotFound.WrapMessage("%s", key)
	}

	var history []model.Revision
	for id := tip; !id.IsZero() && (limit <= 0 || len(history) < limit); {
		rev, err := r.objects.ReadCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		history = append(history, rev)
		id = rev.Parent
	}
	return history, nil
}

// List the keys of all entities of a class, sorted by ref name
func (r *Repository) List(ctx context.Context, class model.Class) ([]model.Key, error) {
	if !class.Valid() {
		return nil, status.ErrInvalidKey.WrapMessage("unknown entity class %q", class)
	}
	tips, err := r.refs.List(ctx, class.RefPrefix())
	if err != nil {
		return nil, status.ErrStorage.Wrap(err)
	}

	keys := make([]model.Key, 0, len(tips))
	for _, name := range sortedNames(tips) {
		key, err := model.KeyFromRef(name)
		if err != nil {
			r.l.Warn("skipping malformed ref", zap.String("ref", name), zap.Error(err))
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PendingUpdate is a staged, not yet committed, entity revision
type PendingUpdate struct {
	Command  refs.Command
	Revision model.Revision
}

// StageRefUpdate writes the objects of a new entity revision and returns the command moving the
// entity ref from expectedOld to it. The ref itself is not moved.
func (r *Repository) StageRefUpdate(ctx context.Context, key model.Key, expectedOld model.RevisionID,
	files map[string][]byte, message string, author model.Contributor, when time.Time) (PendingUpdate, error) {
	tree, err := r.objects.WriteTree(ctx, files)
	if err != nil {
		return PendingUpdate{}, err
	}
	rev := model.Revision{
		Parent:    expectedOld,
		Tree:      tree,
		Author:    author,
		Committer: author,
		Timestamp: when.UTC(),
		Message:   message,
	}
	if rev.ID, err = r.objects.WriteCommit(ctx, rev); err != nil {
		return PendingUpdate{}, err
	}

	r.l.Debug("staged revision",
		zap.Stringer("key", key),
		zap.Stringer("old", expectedOld),
		zap.Stringer("new", rev.ID),
	)
	return PendingUpdate{
		Command:  refs.Command{Ref: key.Ref(), Old: expectedOld, New: rev.ID},
		Revision: rev,
	}, nil
}

// Remember caches an entity state known to be encoded at some revision
func (r *Repository) Remember(v Version) {
	if v.Revision.ID.IsZero() {
		return
	}
	r.cache.Add(v.Revision.ID, cloneVersion(v))
}

// ReadIndex loads a secondary index at some revision
func (r *Repository) ReadIndex(ctx context.Context, name model.IndexName, rev model.RevisionID) (*index.Snapshot, error) {
	return r.indexes.Read(ctx, name, rev)
}

// StageIndexUpdate writes a new index revision and returns the command moving the index ref
func (r *Repository) StageIndexUpdate(ctx context.Context, snapshot *index.Snapshot, delta index.Delta,
	author model.Contributor, when time.Time) (index.PendingUpdate, error) {
	return r.indexes.StageRefUpdate(ctx, snapshot, delta, author, when.UTC())
}

// LookupIndex resolves the current owner of an external key
func (r *Repository) LookupIndex(ctx context.Context, name model.IndexName, key string) (model.Key, error) {
	tip, err := r.refs.Get(ctx, name.Ref())
	if err != nil {
		return model.Key{}, status.ErrStorage.Wrap(err)
	}
	snapshot, err := r.ReadIndex(ctx, name, tip)
	if err != nil {
		return model.Key{}, err
	}
	owner, ok := snapshot.Owner(key)
	if !ok {
		return model.Key{}, status.ErrNotFound.WrapMessage("%s %q", name, key)
	}
	return owner, nil
}

// Commit applies a batch of commands, all or none
func (r *Repository) Commit(ctx context.Context, commands []refs.Command) error {
	return r.refs.Commit(ctx, commands)
}

func cloneVersion(v Version) Version {
	v.Entity = v.Entity.Clone()
	return v
}
