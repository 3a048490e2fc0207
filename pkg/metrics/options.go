// Copyright © 2018 One Concern

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type settings struct {
	namespace  string
	registerer prometheus.Registerer
}

func defaultSettings() *settings {
	return &settings{
		namespace:  defaultNamespace,
		registerer: prometheus.DefaultRegisterer,
	}
}

// Option defines some options to the metrics initialization
type Option func(*settings)

// WithNamespace prefixes all metric names. The default is "refdb".
func WithNamespace(namespace string) Option {
	return func(s *settings) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

// WithRegisterer registers collectors on some registry. A nil registerer leaves collectors unregistered.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = r
	}
}
