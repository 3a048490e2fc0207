// Copyright © 2018 One Concern

package badgerdb

import (
	"github.com/oneconcern/refdb/pkg/refs"
	"go.uber.org/zap"
)

// MB is one megabyte
const MB = 1 << 20

type badgerOptions struct {
	l                *zap.Logger
	memTableSize     int64
	valueLogFileSize int64
	syncWrites       bool
	beforeCommit     refs.Hook
}

func defaultOptions() *badgerOptions {
	return &badgerOptions{
		l:                zap.NewNop(),
		memTableSize:     16 * MB, // badger default: 64MB. Refs are tiny.
		valueLogFileSize: 64 * MB, // badger default: 1GB
		syncWrites:       true,
	}
}

// Option for the badger ref database
type Option func(*badgerOptions)

// Logger for the database. Badger internal logs are redirected to it.
func Logger(l *zap.Logger) Option {
	return func(o *badgerOptions) {
		if l != nil {
			o.l = l
		}
	}
}

// ValueLogFileSize sets the maximum size of badger value log files
func ValueLogFileSize(size int64) Option {
	return func(o *badgerOptions) {
		if size > 0 {
			o.valueLogFileSize = size
		}
	}
}

// MemTableSize sets the size of badger memtables
func MemTableSize(size int64) Option {
	return func(o *badgerOptions) {
		if size > 0 {
			o.memTableSize = size
		}
	}
}

// SyncWrites toggles fsync on every commit
func SyncWrites(enabled bool) Option {
	return func(o *badgerOptions) {
		o.syncWrites = enabled
	}
}

// BeforeCommit installs a hook invoked after all checks passed, before the transaction is committed
func BeforeCommit(hook refs.Hook) Option {
	return func(o *badgerOptions) {
		o.beforeCommit = hook
	}
}

// zapAdapter redirects badger logs to zap
type zapAdapter struct {
	l *zap.SugaredLogger
}

func (z zapAdapter) Errorf(format string, args ...interface{}) {
	z.l.Errorf(trim(format), args...)
}

func (z zapAdapter) Warningf(format string, args ...interface{}) {
	z.l.Warnf(trim(format), args...)
}

func (z zapAdapter) Infof(format string, args ...interface{}) {
	z.l.Infof(trim(format), args...)
}

func (z zapAdapter) Debugf(format string, args ...interface{}) {
	z.l.Debugf(trim(format), args...)
}

func trim(format string) string {
	if n := len(format); n > 0 && format[n-1] == '\n' {
		return format[:n-1]
	}
	return format
}
