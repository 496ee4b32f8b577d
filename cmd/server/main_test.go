package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, level, err := parseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, ":7080", cfg.HTTPListen)
	assert.Equal(t, 25*time.Second, cfg.Heartbeat.Interval)
	assert.Empty(t, cfg.Events.Backend)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestParseConfigFlags(t *testing.T) {
	cfg, level, err := parseConfig([]string{
		"-listen", "127.0.0.1:9000",
		"-heartbeat-interval", "5s",
		"-grace-mode", "none",
		"-allow", "10.0.0.1,10.0.0.2",
		"-rabbitmq-url", "amqp://guest:guest@mq:5672/",
		"-log-level", "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, "none", cfg.Heartbeat.GraceMode)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.AllowIPs)
	assert.Equal(t, "rabbitmq", cfg.Events.Backend)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.Events.RabbitMQ.URL)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParseConfigFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sparkbeat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen = "0.0.0.0:8000"

[heartbeat]
interval = "30s"
allowed_skipped_beats = 3

[events]
backend = "nats"
`), 0o600))

	cfg, _, err := parseConfig([]string{"-config", path, "-allowed-skipped-beats", "5"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8000", cfg.Listen, "file value kept when flag not set")
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 5, cfg.Heartbeat.AllowedSkippedBeats, "explicit flag wins")
	assert.Equal(t, "nats", cfg.Events.Backend)
}

func TestParseConfigErrors(t *testing.T) {
	_, _, err := parseConfig([]string{"-grace-mode", "forever"})
	assert.Error(t, err)

	_, _, err = parseConfig([]string{"-log-level", "loud"})
	assert.Error(t, err)

	_, _, err = parseConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err)
}
