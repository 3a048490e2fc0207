// Copyright © 2018 One Concern

package objects

import (
	"bufio"
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/model"
	"golang.org/x/sync/errgroup"
)

const maxParallelReads = 8

// TreeEntry is a named blob in a tree
type TreeEntry struct {
	Name string
	ID   model.ObjectID
}

// EncodeTree serializes tree entries, sorted by name: one "<id> <name>" line per entry
func EncodeTree(entries map[string]model.ObjectID) []byte {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		buf.WriteString(string(entries[name]))
		buf.WriteByte(' ')
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// DecodeTree parses a serialized tree
func DecodeTree(id model.ObjectID, data []byte) (map[string]model.ObjectID, error) {
	entries := make(map[string]model.ObjectID)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, status.ErrCorruptRecord.WrapMessage("tree %s: malformed entry %q", id, line)
		}
		entries[parts[1]] = model.ObjectID(parts[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, status.ErrCorruptRecord.Wrap(err)
	}
	return entries, nil
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "\n\x00")
}

// HashTree computes the id of the tree holding these files, without writing anything
func HashTree(files map[string][]byte) model.ObjectID {
	entries := make(map[string]model.ObjectID, len(files))
	for name, content := range files {
		entries[name] = Hash(KindBlob, content)
	}
	return Hash(KindTree, EncodeTree(entries))
}

// WriteTree stores the blobs of some files, then the tree holding them
func (s *Store) WriteTree(ctx context.Context, files map[string][]byte) (model.ObjectID, error) {
	for name := range files {
		if !validName(name) {
			return "", status.ErrInvalidDelta.WrapMessage("invalid file name %q", name)
		}
	}

	var mx sync.Mutex
	entries := make(map[string]model.ObjectID, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for name, content := range files {
		name, content := name, content
		g.Go(func() error {
			id, err := s.Put(gctx, KindBlob, content)
			if err != nil {
				return err
			}
			mx.Lock()
			entries[name] = id
			mx.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return s.Put(ctx, KindTree, EncodeTree(entries))
}

// ReadTreeEntries retrieves the entries of a tree, without their content
func (s *Store) ReadTreeEntries(ctx context.Context, id model.ObjectID) (map[string]model.ObjectID, error) {
	data, err := s.Get(ctx, KindTree, id)
	if err != nil {
		return nil, err
	}
	return DecodeTree(id, data)
}

// ReadTree retrieves all files of a tree, reading blobs in parallel
func (s *Store) ReadTree(ctx context.Context, id model.ObjectID) (map[string][]byte, error) {
	entries, err := s.ReadTreeEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.ReadBlobs(ctx, entries)
}

// ReadBlobs retrieves the content of named blobs, in parallel
func (s *Store) ReadBlobs(ctx context.Context, entries map[string]model.ObjectID) (map[string][]byte, error) {
	var mx sync.Mutex
	files := make(map[string][]byte, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelReads)
	for name, blobID := range entries {
		name, blobID := name, blobID
		g.Go(func() error {
			content, err := s.Get(gctx, KindBlob, blobID)
			if err != nil {
				return err
			}
			mx.Lock()
			files[name] = content
			mx.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
