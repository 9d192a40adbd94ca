package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalEnv(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "client123")
	t.Setenv("TWITCH_BROADCASTER", "itsoik")
}

func TestLoad_Defaults(t *testing.T) {
	minimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "client123", cfg.TwitchClientID)
	assert.Equal(t, "itsoik", cfg.Broadcaster)
	assert.Equal(t, 30, cfg.KeepaliveSeconds)
	assert.Equal(t, 5*time.Minute, cfg.ConnectTimeout)
	assert.Equal(t, "token.json", cfg.TokenFile)
	assert.Equal(t, "commands.json", cfg.CommandsFile)
	assert.True(t, cfg.AnnounceConnect)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_MissingClientID(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "")
	t.Setenv("TWITCH_BROADCASTER", "itsoik")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWITCH_CLIENT_ID")
}

func TestLoad_MissingBroadcaster(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "client123")
	t.Setenv("TWITCH_BROADCASTER", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TWITCH_BROADCASTER")
}

func TestLoad_InvalidKeepalive(t *testing.T) {
	minimalEnv(t)
	t.Setenv("KEEPALIVE_SECONDS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KEEPALIVE_SECONDS")
}
