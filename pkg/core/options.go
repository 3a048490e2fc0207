// Copyright © 2018 One Concern

package core

import (
	"time"

	"github.com/oneconcern/refdb/pkg/metrics"
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/oneconcern/refdb/pkg/notify"
	"github.com/oneconcern/refdb/pkg/retry"
	"go.uber.org/zap"
)

// DefaultActor is recorded as the author of changes when none is configured
var DefaultActor = model.Contributor{Name: "refdb", Email: "refdb@localhost"}

// Option for the entity store
type Option func(*Store)

// Actor recorded as the author of changes
func Actor(actor model.Contributor) Option {
	return func(s *Store) {
		if !actor.IsZero() {
			s.actor = actor
		}
	}
}

// Clock used to timestamp revisions and change events
func Clock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.clock = now
		}
	}
}

// Logger for the entity store
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// Metrics collects commit, retry and uniqueness metrics
func Metrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Notifier dispatching change events. By default, the store uses a notifier without listeners.
func Notifier(n *notify.Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notifier = n
		}
	}
}

// Retry tunes the retry budget of transactions which lost a race with a concurrent writer
func Retry(opts ...retry.Option) Option {
	return func(s *Store) {
		s.retryOptions = append(s.retryOptions, opts...)
	}
}
