// Copyright © 2018 One Concern

package repository

import (
	"sort"

	"github.com/oneconcern/refdb/pkg/model"
	"go.uber.org/zap"
)

const (
	defaultName           = "refdb"
	defaultCacheSize      = 1024
	defaultIndexCacheSize = 16
)

// Option for a repository
type Option func(*Repository)

// Name of the repository, reported in change events
func Name(name string) Option {
	return func(r *Repository) {
		if name != "" {
			r.name = name
		}
	}
}

// Logger for the repository
func Logger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.l = l
		}
	}
}

// CacheSize is the number of decoded revisions kept in memory
func CacheSize(size int) Option {
	return func(r *Repository) {
		if size > 0 {
			r.cacheSize = size
		}
	}
}

// IndexCacheSize is the number of index snapshots kept in memory
func IndexCacheSize(size int) Option {
	return func(r *Repository) {
		if size > 0 {
			r.indexCacheSize = size
		}
	}
}

func sortedNames(tips map[string]model.RevisionID) []string {
	names := make([]string, 0, len(tips))
	for name := range tips {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
