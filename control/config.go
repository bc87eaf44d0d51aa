// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration for the event registry and channels.

package control

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvPollWorkers     = "HIOLOAD_POLL_WORKERS"
	EnvCallbackWorkers = "HIOLOAD_CALLBACK_WORKERS"
	EnvMaxEvents       = "HIOLOAD_MAX_EVENTS"
	EnvReadChunk       = "HIOLOAD_READ_CHUNK"
	EnvListenBacklog   = "HIOLOAD_LISTEN_BACKLOG"
	EnvPinPollWorkers  = "HIOLOAD_PIN_POLL_WORKERS"
)

// Config holds parameters immutable per registry.
type Config struct {
	PollWorkers     int // Goroutines blocking in the readiness wait
	CallbackWorkers int // Goroutines running completion callbacks
	MaxEvents       int // Readiness events fetched per wait
	ReadChunkSize   int // Scratch buffer size for a single read syscall
	ListenBacklog   int // Default listen(2) backlog

	// PinPollWorkers locks each poll goroutine to an OS thread bound to one CPU.
	PinPollWorkers bool
}

// DefaultConfig returns default configuration values.
func DefaultConfig() Config {
	cb := runtime.NumCPU() * 2
	if cb < 8 {
		cb = 8
	}
	return Config{
		PollWorkers:     1,
		CallbackWorkers: cb,
		MaxEvents:       256,
		ReadChunkSize:   64 * 1024,
		ListenBacklog:   128,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by HIOLOAD_* variables.
// Unparsable values are reported instead of silently ignored.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	fields := []struct {
		env string
		dst *int
	}{
		{EnvPollWorkers, &cfg.PollWorkers},
		{EnvCallbackWorkers, &cfg.CallbackWorkers},
		{EnvMaxEvents, &cfg.MaxEvents},
		{EnvReadChunk, &cfg.ReadChunkSize},
		{EnvListenBacklog, &cfg.ListenBacklog},
	}
	for _, f := range fields {
		raw, ok := os.LookupEnv(f.env)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", f.env, err)
		}
		*f.dst = v
	}
	if raw := os.Getenv(EnvPinPollWorkers); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvPinPollWorkers, err)
		}
		cfg.PinPollWorkers = v
	}
	return cfg, cfg.Validate()
}

// Validate checks that every field is usable.
func (c Config) Validate() error {
	switch {
	case c.PollWorkers <= 0:
		return fmt.Errorf("poll workers must be positive, got %d", c.PollWorkers)
	case c.CallbackWorkers <= 0:
		return fmt.Errorf("callback workers must be positive, got %d", c.CallbackWorkers)
	case c.MaxEvents <= 0:
		return fmt.Errorf("max events must be positive, got %d", c.MaxEvents)
	case c.ReadChunkSize <= 0:
		return fmt.Errorf("read chunk size must be positive, got %d", c.ReadChunkSize)
	case c.ListenBacklog <= 0:
		return fmt.Errorf("listen backlog must be positive, got %d", c.ListenBacklog)
	}
	return nil
}
