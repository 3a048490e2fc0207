// Copyright © 2018 One Concern

package engine

import (
	"github.com/oneconcern/refdb/pkg/notify"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type options struct {
	l          *zap.Logger
	tracer     opentracing.Tracer
	registerer prometheus.Registerer
	listeners  []notify.Listener
	fs         afero.Fs
}

func defaultOptions() *options {
	return &options{
		tracer:     defaultTracer(),
		registerer: prometheus.DefaultRegisterer,
	}
}

// Option for the engine
type Option func(*options)

// Logger overrides the logger built from the configured log level
func Logger(l *zap.Logger) Option {
	return func(o *options) {
		o.l = l
	}
}

// Tracer used to trace storage calls, when tracing is enabled. Defaults to the global tracer.
func Tracer(tr opentracing.Tracer) Option {
	return func(o *options) {
		if tr != nil {
			o.tracer = tr
		}
	}
}

// Registerer for metrics, when metrics are enabled. Defaults to the prometheus default registerer.
func Registerer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// Listeners subscribed to changes, beside the configured journal and NATS listeners
func Listeners(listeners ...notify.Listener) Option {
	return func(o *options) {
		o.listeners = append(o.listeners, listeners...)
	}
}

// Fs overrides the file system of a local object store
func Fs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}
