package cli

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chongmu/internal/config"
	applog "chongmu/internal/log"
)

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupLogger(&config.Config{LogLevel: "debug", LogFormat: "json"}, applog.ComponentWorker)
	require.NotNil(t, logger)
	assert.Equal(t, applog.ComponentWorker, logger.Component())
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	quiet := SetupLogger(&config.Config{LogLevel: "error", LogFormat: "text"}, "")
	assert.Equal(t, applog.ComponentApp, quiet.Component())
	assert.False(t, quiet.Enabled(context.Background(), slog.LevelWarn))
}

func TestSetupLogger_NilConfigUsesDefaults(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupLogger(nil, applog.ComponentHTTP)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_BACKEND", "memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, ":9090", ListenAddr(cfg.Port))

	t.Setenv("PORT", "not-a-port")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "invalid port")
}
