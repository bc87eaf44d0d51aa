// File: facade/hioload.go
// Unified facade layer for hioload-net.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HioloadNet owns one event registry together with its metrics and logger and
// hands out TCP and TLS channels bound to it.

package facade

import (
	stdtls "crypto/tls"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/control"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
	"github.com/momentics/hioload-net/transport/tls"
)

// Config holds parameters immutable per run.
type Config struct {
	Registry      control.Config        // Poll/callback workers, buffer and backlog sizes
	EnableMetrics bool                  // Whether to create Prometheus collectors
	Registerer    prometheus.Registerer // Where collectors go; nil means a private registry, see Gatherer
	TLS           *stdtls.Config        // Template for channels from NewTLS and ServerTLS
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Registry: control.DefaultConfig(),
	}
}

// Option customizes New.
type Option func(*HioloadNet)

// WithConfig replaces the whole configuration.
func WithConfig(cfg *Config) Option {
	return func(h *HioloadNet) {
		if cfg != nil {
			h.config = cfg
		}
	}
}

// WithEnvConfig loads registry sizing from HIOLOAD_* variables.
func WithEnvConfig() Option {
	return func(h *HioloadNet) {
		cfg, err := control.ConfigFromEnv()
		if err != nil {
			h.optErr = err
			return
		}
		h.config.Registry = cfg
	}
}

// WithMetrics enables Prometheus collectors registered with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(h *HioloadNet) {
		h.config.EnableMetrics = true
		h.config.Registerer = reg
	}
}

// WithTLS sets the TLS template.
func WithTLS(cfg *stdtls.Config) Option {
	return func(h *HioloadNet) {
		h.config.TLS = cfg
	}
}

// WithLogger overrides the facade logger; the registry derives its own from it.
func WithLogger(log *zap.Logger) Option {
	return func(h *HioloadNet) {
		if log != nil {
			h.log = log
		}
	}
}

// HioloadNet is the main facade type.
type HioloadNet struct {
	config  *Config
	log     *zap.Logger
	metrics *control.Metrics
	gather  prometheus.Gatherer
	reg     *reactor.Registry
	optErr  error

	mu      sync.RWMutex
	started bool
	stopped bool
}

var _ api.GracefulShutdown = (*HioloadNet)(nil)

// New builds the registry and its collaborators. The registry's poll workers
// and callback executor run from here on, so channels created before Start
// are fully usable.
func New(opts ...Option) (*HioloadNet, error) {
	h := &HioloadNet{config: DefaultConfig(), log: logging.Logger("facade")}
	for _, opt := range opts {
		opt(h)
	}
	if h.optErr != nil {
		return nil, fmt.Errorf("facade config: %w", h.optErr)
	}
	if h.config.EnableMetrics {
		r := h.config.Registerer
		if r == nil {
			r = prometheus.NewRegistry()
		}
		if g, ok := r.(prometheus.Gatherer); ok {
			h.gather = g
		}
		m, err := control.NewMetrics(r)
		if err != nil {
			return nil, fmt.Errorf("metrics init failure: %w", err)
		}
		h.metrics = m
	}
	reg, err := reactor.New(
		reactor.WithConfig(h.config.Registry),
		reactor.WithMetrics(h.metrics),
		reactor.WithLogger(h.log.Named("reactor")),
	)
	if err != nil {
		return nil, fmt.Errorf("registry init failure: %w", err)
	}
	h.reg = reg
	return h, nil
}

// Start is a lifecycle marker for hosts such as fx: it records the running
// state and logs once. It starts no workers. After Stop it fails with
// api.ErrRegistryClosed.
func (h *HioloadNet) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return api.ErrRegistryClosed
	}
	if !h.started {
		h.started = true
		h.log.Info("started", zap.Int("poll_workers", h.config.Registry.PollWorkers))
	}
	return nil
}

// Stop closes the registry: every pending operation resolves and the workers
// exit. Calling Stop again is a no-op.
func (h *HioloadNet) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	h.started = false
	return h.reg.Close()
}

// Shutdown implements api.GracefulShutdown by delegating to Stop().
func (h *HioloadNet) Shutdown() error {
	return h.Stop()
}

// Registry returns the event registry.
func (h *HioloadNet) Registry() *reactor.Registry { return h.reg }

// Metrics returns the collectors, nil when disabled.
func (h *HioloadNet) Metrics() *control.Metrics { return h.metrics }

// Gatherer returns the registry holding the collectors, nil when metrics are
// disabled or the configured Registerer cannot be gathered.
func (h *HioloadNet) Gatherer() prometheus.Gatherer { return h.gather }

// Probes returns the debug probe registry.
func (h *HioloadNet) Probes() *control.DebugProbes { return h.reg.Probes() }

// Submit dispatches a task to the callback executor.
func (h *HioloadNet) Submit(task func()) error {
	return h.reg.Submit(task)
}

// NewTCP returns an unconnected TCP channel.
func (h *HioloadNet) NewTCP() *tcp.Conn {
	return tcp.NewConn(h.reg)
}

// Listen binds and listens in one step. backlog <= 0 uses the configured default.
func (h *HioloadNet) Listen(address string, port, backlog int) (*tcp.Conn, error) {
	c := tcp.NewConn(h.reg)
	if err := c.Bind(port, address); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.Listen(backlog); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewTLS returns a client TLS channel using the configured template.
func (h *HioloadNet) NewTLS() *tls.Conn {
	return tls.NewConn(h.reg, h.config.TLS)
}

// ServerTLS wraps an accepted channel as a TLS server using the template.
func (h *HioloadNet) ServerTLS(c *tcp.Conn) *tls.Conn {
	return tls.Server(c, h.config.TLS)
}
