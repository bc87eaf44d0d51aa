package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseConfig(t *testing.T) {
	c := parseConfig("reactor=debug, tcp=error ,info", "json")
	assert.True(t, c.json)
	assert.Equal(t, zapcore.InfoLevel, c.defaultLevel)
	assert.Equal(t, zapcore.DebugLevel, c.levelFor("reactor"))
	assert.Equal(t, zapcore.ErrorLevel, c.levelFor("tcp"))
	assert.Equal(t, zapcore.InfoLevel, c.levelFor("tls"))
}

func TestParseConfigIgnoresGarbage(t *testing.T) {
	c := parseConfig("reactor=loud,nonsense", "")
	assert.False(t, c.json)
	assert.Equal(t, zapcore.WarnLevel, c.defaultLevel)
	assert.Equal(t, zapcore.WarnLevel, c.levelFor("reactor"))
}

func TestLoggerIsCached(t *testing.T) {
	a := Logger("cache-test")
	b := Logger("cache-test")
	assert.Same(t, a, b)
}
