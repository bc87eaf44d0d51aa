// Package logging
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Subsystem loggers on top of zap.
//
// Levels are configured through HIOLOAD_LOG_LEVEL using the form
// "subsystem=level,subsystem=level,default", e.g. "reactor=debug,warn".
// HIOLOAD_LOG_FORMAT selects "console" (default) or "json".
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "HIOLOAD_LOG_LEVEL"
	EnvLogFormat = "HIOLOAD_LOG_FORMAT"
)

type config struct {
	defaultLevel zapcore.Level
	levels       map[string]zapcore.Level
	json         bool
}

var (
	cfgOnce sync.Once
	cfg     *config

	loggers sync.Map // map[string]*zap.Logger
)

func loadConfig() *config {
	cfgOnce.Do(func() {
		cfg = parseConfig(os.Getenv(EnvLogLevel), os.Getenv(EnvLogFormat))
	})
	return cfg
}

func parseConfig(levelSpec, format string) *config {
	c := &config{
		defaultLevel: zapcore.WarnLevel,
		levels:       make(map[string]zapcore.Level),
		json:         strings.EqualFold(format, "json"),
	}
	for _, part := range strings.Split(levelSpec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, lvl, ok := strings.Cut(part, "="); ok {
			var l zapcore.Level
			if err := l.UnmarshalText([]byte(strings.TrimSpace(lvl))); err == nil {
				c.levels[strings.TrimSpace(name)] = l
			}
			continue
		}
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(part)); err == nil {
			c.defaultLevel = l
		}
	}
	return c
}

func (c *config) levelFor(subsystem string) zapcore.Level {
	if l, ok := c.levels[subsystem]; ok {
		return l
	}
	return c.defaultLevel
}

// Logger returns the cached logger for a subsystem.
func Logger(subsystem string) *zap.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*zap.Logger)
	}
	l := newLogger(loadConfig(), subsystem)
	actual, _ := loggers.LoadOrStore(subsystem, l)
	return actual.(*zap.Logger)
}

func newLogger(c *config, subsystem string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if c.json {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(c.levelFor(subsystem)))
	return zap.New(core).Named(subsystem)
}
