package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibra/platform/pkg/logger"
)

type ctxKey struct{}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("hello")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("context values are injected", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithContextValue("trace", ctxKey{}))
		ctx := context.WithValue(context.Background(), ctxKey{}, "t-1")
		log.InfoContext(ctx, "hello")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "t-1", entry["trace"])
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("development is text and debug", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		opts := append(logger.FromConfig(logger.Config{Env: "development", Service: "billing"}), logger.WithOutput(buf))
		log := logger.New(opts...)
		log.Debug("msg")
		assert.Contains(t, buf.String(), "DEBUG")
		assert.Contains(t, buf.String(), "service=billing")
	})

	t.Run("production is json and honours explicit level", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		opts := append(logger.FromConfig(logger.Config{Env: "production", Service: "billing", Level: "warn"}), logger.WithOutput(buf))
		log := logger.New(opts...)
		log.Info("dropped")
		assert.Empty(t, buf.String())

		log.Warn("kept")
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "production", entry["env"])
		assert.True(t, log.Enabled(context.Background(), slog.LevelWarn))
	})
}
