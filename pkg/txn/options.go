// Copyright © 2018 One Concern

package txn

import (
	"time"

	"github.com/oneconcern/refdb/pkg/model"
	"go.uber.org/zap"
)

var defaultAuthor = model.Contributor{Name: "refdb", Email: "refdb@localhost"}

// Option for transactions
type Option func(*Transaction)

// Author recorded on revisions when the caller does not provide one
func Author(who model.Contributor) Option {
	return func(t *Transaction) {
		if !who.IsZero() {
			t.author = who
		}
	}
}

// Clock used to timestamp revisions
func Clock(now func() time.Time) Option {
	return func(t *Transaction) {
		if now != nil {
			t.clock = now
		}
	}
}

// Logger for transactions
func Logger(l *zap.Logger) Option {
	return func(t *Transaction) {
		if l != nil {
			t.l = l
		}
	}
}
