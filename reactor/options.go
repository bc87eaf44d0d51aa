// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-net/control"
)

// Option customizes registry construction.
type Option func(*Registry)

// WithConfig replaces the default configuration.
func WithConfig(cfg control.Config) Option {
	return func(r *Registry) {
		r.cfg = cfg
	}
}

// WithLogger overrides the subsystem logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(m *control.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithProbes shares an existing probe registry.
func WithProbes(p *control.DebugProbes) Option {
	return func(r *Registry) {
		if p != nil {
			r.probes = p
		}
	}
}
