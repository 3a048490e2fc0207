// Copyright © 2018 One Concern

package sqldb

import (
	"github.com/oneconcern/refdb/pkg/refs"
	"go.uber.org/zap"
)

type sqlOptions struct {
	l            *zap.Logger
	beforeCommit refs.Hook
}

func defaultOptions() *sqlOptions {
	return &sqlOptions{
		l: zap.NewNop(),
	}
}

// Option for the SQL ref database
type Option func(*sqlOptions)

// Logger for the database
func Logger(l *zap.Logger) Option {
	return func(o *sqlOptions) {
		if l != nil {
			o.l = l
		}
	}
}

// BeforeCommit installs a hook invoked after all statements succeeded, before the transaction is committed
func BeforeCommit(hook refs.Hook) Option {
	return func(o *sqlOptions) {
		o.beforeCommit = hook
	}
}
