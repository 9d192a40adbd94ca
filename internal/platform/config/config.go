// Package config loads bot settings from the environment (and an optional
// .env file for local development).
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	TwitchClientID string `env:"TWITCH_CLIENT_ID"`

	// Broadcaster is a login name or numeric user id; resolved via the
	// users endpoint on connect.
	Broadcaster string `env:"TWITCH_BROADCASTER"`

	// ChatOwner is the login allowed to manage custom chat commands.
	ChatOwner string `env:"CHAT_OWNER"`

	KeepaliveSeconds int           `env:"KEEPALIVE_SECONDS" default:"30"`
	ConnectTimeout   time.Duration `env:"CONNECT_TIMEOUT" default:"5m"`

	TokenFile    string `env:"TOKEN_FILE" default:"token.json"`
	CommandsFile string `env:"COMMANDS_FILE" default:"commands.json"`

	// TokenEncryptionKey is a hex AES key; when set the credential file is
	// encrypted at rest.
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	// AnnounceConnect sends a confirmation chat message once connected.
	AnnounceConnect bool `env:"ANNOUNCE_CONNECT" default:"true"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"TWITCH_CLIENT_ID":   cfg.TwitchClientID,
		"TWITCH_BROADCASTER": cfg.Broadcaster,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.KeepaliveSeconds <= 0 {
		return fmt.Errorf("KEEPALIVE_SECONDS must be positive, got %d", cfg.KeepaliveSeconds)
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be positive, got %s", cfg.ConnectTimeout)
	}

	return nil
}
