// Copyright © 2018 One Concern

package retry

import (
	"time"

	"github.com/oneconcern/refdb/pkg/metrics"
	"go.uber.org/zap"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultInitialInterval = 10 * time.Millisecond
	defaultMaxInterval     = time.Second
)

// Option for the retry driver
type Option func(*Driver)

// Timeout bounds the wall-clock duration of the retry loop
func Timeout(d time.Duration) Option {
	return func(r *Driver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Intervals of the exponential backoff between attempts
func Intervals(initial, max time.Duration) Option {
	return func(r *Driver) {
		if initial > 0 {
			r.initialInterval = initial
		}
		if max >= initial && max > 0 {
			r.maxInterval = max
		}
	}
}

// MaxAttempts bounds the number of attempts. Zero means no bound other than the timeout.
func MaxAttempts(n uint64) Option {
	return func(r *Driver) {
		r.maxAttempts = n
	}
}

// Logger for the retry driver
func Logger(l *zap.Logger) Option {
	return func(r *Driver) {
		if l != nil {
			r.l = l
		}
	}
}

// Metrics records attempt results
func Metrics(m *metrics.Metrics) Option {
	return func(r *Driver) {
		r.metrics = m
	}
}
