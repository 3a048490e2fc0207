// Copyright © 2018 One Concern

// Package index maintains secondary indexes: shared refs mapping external keys to the entity owning them.
//
// Each index lives at refs/meta/<name>. Its tree holds one small record per external key, at a path
// derived from the hash of the key, like git notes. Index revisions are immutable: a Snapshot is
// read once per revision and may be shared.
package index

import (
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/oneconcern/refdb/pkg/model"
)

type entry struct {
	owner model.Key
	path  string
	blob  model.ObjectID
}

// Snapshot is the immutable content of an index at some revision
type Snapshot struct {
	Name     model.IndexName
	Revision model.RevisionID
	tree     *iradix.Tree
}

// Empty snapshot of an index which has never been written
func Empty(name model.IndexName) *Snapshot {
	return &Snapshot{
		Name: name,
		tree: iradix.New(),
	}
}

// Owner of an external key
func (s *Snapshot) Owner(key string) (model.Key, bool) {
	v, ok := s.tree.Get([]byte(key))
	if !ok {
		return model.Key{}, false
	}
	return v.(entry).owner, true
}

// Len is the number of keys in the index
func (s *Snapshot) Len() int {
	return s.tree.Len()
}

// Walk all keys, in lexicographic order, until fn returns false
func (s *Snapshot) Walk(fn func(key string, owner model.Key) bool) {
	s.tree.Root().Walk(func(k []byte, v interface{}) bool {
		return !fn(string(k), v.(entry).owner)
	})
}

// KeysOwnedBy lists the keys owned by some entity
func (s *Snapshot) KeysOwnedBy(owner model.Key) []string {
	var keys []string
	s.Walk(func(key string, o model.Key) bool {
		if o == owner {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

func (s *Snapshot) entries() map[string]model.ObjectID {
	files := make(map[string]model.ObjectID, s.tree.Len())
	s.tree.Root().Walk(func(_ []byte, v interface{}) bool {
		e := v.(entry)
		files[e.path] = e.blob
		return false
	})
	return files
}
