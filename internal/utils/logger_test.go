package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"usis-service/internal/config"
)

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "usis.log")

	logger, err := NewLogger(&config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("hello", zap.String("port", "/dev/ttyUSB0"))
	require.NoError(t, CloseLogger(logger))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"port":"/dev/ttyUSB0"`)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud", Output: "stderr"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level)
}

func TestExchangeLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	el := NewExchangeLogger(zap.New(core), "ex-1", "framed")

	el.Start("GET;VERSION;VALUE\n")
	el.Success(zap.String("reply", "M00;VERSION;VALUE;OK;1\n"))
	el.Failure(2, "Timeout reached")

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, "Exchange started", entries[0].Message)
	assert.Equal(t, "Exchange completed", entries[1].Message)
	assert.Equal(t, "Exchange failed", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)

	fields := entries[2].ContextMap()
	assert.Equal(t, "ex-1", fields["exchange_id"])
	assert.Equal(t, int64(2), fields["code"])
	assert.Equal(t, "Timeout reached", fields["description"])
}

func TestServiceLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sl := NewServiceLogger(zap.New(core), "command")

	sl.LogAPIRequest("GET", "/api/v1/version", "curl", "127.0.0.1", 200, 0)
	sl.LogAPIRequest("POST", "/api/v1/commands", "curl", "127.0.0.1", 504, 0)
	sl.LogDatabaseQuery("SELECT 1", 0, errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "Database query failed", entries[2].Message)
	assert.Equal(t, "command", entries[0].ContextMap()["service"])
}
