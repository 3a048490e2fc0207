// Copyright © 2018 One Concern

package notify

import (
	"time"

	"github.com/oneconcern/refdb/pkg/metrics"
	"go.uber.org/zap"
)

// Option for the notifier
type Option func(*Notifier)

// Logger for the notifier
func Logger(l *zap.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.l = l
		}
	}
}

// Metrics counts dispatched events and listener failures
func Metrics(m *metrics.Metrics) Option {
	return func(n *Notifier) {
		n.metrics = m
	}
}

// Listeners subscribed at creation time
func Listeners(listeners ...Listener) Option {
	return func(n *Notifier) {
		for _, listener := range listeners {
			n.Subscribe(listener)
		}
	}
}

// JournalOption configures a journal
type JournalOption func(*Journal)

// JournalLogger sets a logger for the journal
func JournalLogger(l *zap.Logger) JournalOption {
	return func(j *Journal) {
		if l != nil {
			j.l = l
		}
	}
}

// MaxConcurrency bounds parallel reads when listing the journal
func MaxConcurrency(c int) JournalOption {
	return func(j *Journal) {
		if c > 0 {
			j.maxConcurrency = c
		}
	}
}

// Skew widens listings back in time, to include events appended by writers whose clock lagged.
// Listings may then repeat events already seen.
func Skew(d time.Duration) JournalOption {
	return func(j *Journal) {
		if d >= 0 {
			j.skew = d
		}
	}
}
