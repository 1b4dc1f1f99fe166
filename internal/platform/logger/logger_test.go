package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Setup replaces the default logger, so these tests are not parallel.

func TestSetup_RespectsLevel(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	buf := &logger.TestLogBuffer{}
	l, err := logger.Setup(config.ServerConfig{LogLevel: "warn"}, logger.WithOutput(buf))
	require.NoError(t, err)
	require.NotNil(t, l)

	l.Info("hidden")
	l.Warn("shown", "task_id", "abc")

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["msg"])
	assert.Equal(t, "abc", entries[0]["task_id"])
	assert.Same(t, l, slog.Default())
}

func TestSetup_InvalidLevelFallsBackToInfo(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	buf := &logger.TestLogBuffer{}
	l, err := logger.Setup(config.ServerConfig{LogLevel: "verbose"}, logger.WithOutput(buf))
	require.NoError(t, err)

	l.Debug("dropped")
	l.Info("kept")

	logger.AssertLogContains(t, buf, "kept")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestSetup_FansOutToExtraHandler(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	primary := &logger.TestLogBuffer{}
	secondary := &logger.TestLogBuffer{}
	extra := slog.NewJSONHandler(secondary, &slog.HandlerOptions{Level: slog.LevelDebug})

	l, err := logger.Setup(config.ServerConfig{LogLevel: "info"},
		logger.WithOutput(primary), logger.WithHandler(extra))
	require.NoError(t, err)

	l.With("component", "test").Info("both")
	l.Debug("neither")

	logger.AssertLogContains(t, primary, "both")
	logger.AssertLogContains(t, secondary, `"component":"test"`)
	assert.NotContains(t, secondary.String(), "neither")
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	l, buf := logger.NewTestLogger(t)
	ctx := logger.WithLogger(context.Background(), l)

	logger.FromContext(ctx).Info("from context")
	logger.AssertLogContains(t, buf, "from context")

	def, _ := logger.NewTestLogger(t)
	assert.Same(t, def, logger.FromContextOrDefault(context.Background(), def))
	assert.Same(t, l, logger.FromContextOrDefault(ctx, def))
	assert.NotNil(t, logger.FromContextOrDefault(context.Background(), nil))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	lvl, ok := logger.ParseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, ok = logger.ParseLevel("loud")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, lvl)
}
