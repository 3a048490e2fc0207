// Copyright © 2018 One Concern

package index

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-ini/ini"
	iradix "github.com/hashicorp/go-immutable-radix"
	lru "github.com/hashicorp/golang-lru/v2"
	blake2b "github.com/minio/blake2b-simd"
	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/objects"
	"github.com/oneconcern/refdb/pkg/refs"
	"go.uber.org/zap"
)

const (
	recordSection = "record"
	recordKey     = "key"
	recordOwner   = "owner"

	defaultCacheSize = 16
)

// Option for the index store
type Option func(*Store)

// Logger for the index store
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// CacheSize is the number of index snapshots kept in memory
func CacheSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.cacheSize = size
		}
	}
}

// Store reads and stages secondary indexes
type Store struct {
	objects   *objects.Store
	l         *zap.Logger
	cacheSize int
	cache     *lru.Cache[model.RevisionID, *Snapshot]
}

// NewStore builds an index store on top of an object store
func NewStore(objs *objects.Store, opts ...Option) *Store {
	s := &Store{
		objects:   objs,
		l:         zap.NewNop(),
		cacheSize: defaultCacheSize,
	}
	for _, apply := range opts {
		apply(s)
	}
	s.cache, _ = lru.New[model.RevisionID, *Snapshot](s.cacheSize)
	return s
}

// RecordPath is the tree path of the record for an external key
func RecordPath(key string) string {
	hasher := blake2b.New256()
	_, _ = hasher.Write([]byte(key))
	h := hex.EncodeToString(hasher.Sum(nil))
	return h[:2] + "/" + h[2:]
}

func encodeRecord(key string, owner model.Key) ([]byte, error) {
	cfg := ini.Empty()
	section, err := cfg.NewSection(recordSection)
	if err != nil {
		return nil, err
	}
	if _, err = section.NewKey(recordKey, key); err != nil {
		return nil, err
	}
	if _, err = section.NewKey(recordOwner, owner.String()); err != nil {
		return nil, err
	}
	var b strings.Builder
	if _, err = cfg.WriteTo(&b); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func decodeRecord(name model.IndexName, rev model.RevisionID, path string, data []byte) (string, model.Key, error) {
	corrupt := func(reason string) error {
		return status.ErrCorruptRecord.WrapMessage("index %s at revision %s: record %s %s", name, rev, path, reason)
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{PreserveSurroundedQuote: true}, data)
	if err != nil {
		return "", model.Key{}, corrupt(err.Error())
	}
	section, err := cfg.GetSection(recordSection)
	if err != nil {
		return "", model.Key{}, corrupt("has no [record] section")
	}
	key := section.Key(recordKey).String()
	if key == "" || RecordPath(key) != path {
		return "", model.Key{}, corrupt(fmt.Sprintf("does not match key %q", key))
	}
	class, id, ok := strings.Cut(section.Key(recordOwner).String(), "/")
	owner := model.Key{Class: model.Class(class), ID: id}
	if !ok || owner.Validate() != nil {
		return "", model.Key{}, corrupt("has a malformed owner")
	}
	return key, owner, nil
}

// Read the snapshot of an index at some revision. The zero revision yields an empty index.
func (s *Store) Read(ctx context.Context, name model.IndexName, rev model.RevisionID) (*Snapshot, error) {
	if rev.IsZero() {
		return Empty(name), nil
	}
	if snapshot, ok := s.cache.Get(rev); ok && snapshot.Name == name {
		return snapshot, nil
	}

	commit, err := s.objects.ReadCommit(ctx, rev)
	if err != nil {
		return nil, err
	}
	entries, err := s.objects.ReadTreeEntries(ctx, commit.Tree)
	if err != nil {
		return nil, err
	}
	files, err := s.objects.ReadBlobs(ctx, entries)
	if err != nil {
		return nil, err
	}

	txn := iradix.New().Txn()
	for path, data := range files {
		key, owner, err := decodeRecord(name, rev, path, data)
		if err != nil {
			return nil, err
		}
		txn.Insert([]byte(key), entry{owner: owner, path: path, blob: entries[path]})
	}
	snapshot := &Snapshot{Name: name, Revision: rev, tree: txn.Commit()}
	s.cache.Add(rev, snapshot)

	s.l.Debug("index loaded", zap.Stringer("index", name), zap.Stringer("revision", rev), zap.Int("keys", snapshot.Len()))
	return snapshot, nil
}

// PendingUpdate is a staged, not yet committed, index revision
type PendingUpdate struct {
	Command  refs.Command
	Snapshot *Snapshot
}

// StageRefUpdate writes the index revision resulting from a delta and returns the command moving
// the index ref from the snapshot revision to the new one. The ref itself is not moved.
func (s *Store) StageRefUpdate(ctx context.Context, snapshot *Snapshot, delta Delta, author model.Contributor, when time.Time) (PendingUpdate, error) {
	if delta.Index != snapshot.Name {
		return PendingUpdate{}, status.ErrInvalidBatch.WrapMessage("delta for index %s applied to index %s", delta.Index, snapshot.Name)
	}

	txn := snapshot.tree.Txn()
	for key := range delta.Removes {
		txn.Delete([]byte(key))
	}

	added := make([]string, 0, len(delta.Adds))
	for key := range delta.Adds {
		added = append(added, key)
	}
	sort.Strings(added)

	for _, key := range added {
		owner := delta.Adds[key]
		data, err := encodeRecord(key, owner)
		if err != nil {
			return PendingUpdate{}, status.ErrInvalidDelta.Wrap(err)
		}
		blob, err := s.objects.Put(ctx, objects.KindBlob, data)
		if err != nil {
			return PendingUpdate{}, err
		}
		txn.Insert([]byte(key), entry{owner: owner, path: RecordPath(key), blob: blob})
	}
	next := &Snapshot{Name: snapshot.Name, tree: txn.Commit()}

	tree, err := s.objects.Put(ctx, objects.KindTree, objects.EncodeTree(next.entries()))
	if err != nil {
		return PendingUpdate{}, err
	}
	rev, err := s.objects.WriteCommit(ctx, model.Revision{
		Parent:    snapshot.Revision,
		Tree:      tree,
		Author:    author,
		Committer: author,
		Timestamp: when,
		Message:   commitMessage(delta),
	})
	if err != nil {
		return PendingUpdate{}, err
	}
	next.Revision = rev

	// the commit is content-addressed: caching it is correct even if the ref never moves
	s.cache.Add(rev, next)

	return PendingUpdate{
		Command:  refs.Command{Ref: snapshot.Name.Ref(), Old: snapshot.Revision, New: rev},
		Snapshot: next,
	}, nil
}

func commitMessage(delta Delta) string {
	footers := make([]string, 0, len(delta.Adds)+len(delta.Removes))
	for key, owner := range delta.Adds {
		footers = append(footers, fmt.Sprintf("Add: %s => %s", key, owner))
	}
	for key, owner := range delta.Removes {
		footers = append(footers, fmt.Sprintf("Remove: %s => %s", key, owner))
	}
	sort.Strings(footers)

	var b strings.Builder
	b.WriteString("Update " + string(delta.Index) + " index\n")
	if len(footers) > 0 {
		b.WriteString("\n" + strings.Join(footers, "\n") + "\n")
	}
	return b.String()
}
