package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/OikoumE/twitchwrapper/internal/auth"
	"github.com/OikoumE/twitchwrapper/internal/chat"
	"github.com/OikoumE/twitchwrapper/internal/crypto"
	"github.com/OikoumE/twitchwrapper/internal/eventsub"
	"github.com/OikoumE/twitchwrapper/internal/helix"
	"github.com/OikoumE/twitchwrapper/internal/platform/config"
	"github.com/OikoumE/twitchwrapper/internal/platform/logging"
	"github.com/OikoumE/twitchwrapper/internal/platform/version"
)

func main() {
	revoke := flag.Bool("revoke", false, "revoke the stored token and exit")
	showVersion := flag.Bool("version", false, "print build information and exit")
	flag.Parse()

	if *showVersion {
		info := version.Get()
		fmt.Printf("twitchwrapper %s (%s, built %s, %s)\n",
			info.Version, info.Commit, info.BuildTime, info.GoVersion)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	store, err := newTokenStore(cfg)
	if err != nil {
		slog.Error("Failed to set up token store", "error", err)
		os.Exit(1)
	}

	// categories with a handler below; their scopes are requested up front
	// so the device-flow token covers every subscription
	categories := []eventsub.Category{
		eventsub.ChannelChatMessage,
		eventsub.ChannelFollow,
		eventsub.ChannelSubscribe,
		eventsub.ChannelRaid,
		eventsub.StreamOnline,
		eventsub.StreamOffline,
	}

	authenticator := auth.NewAuthenticator(cfg.TwitchClientID, eventsub.ScopesFor(categories), store)

	if *revoke {
		if err := authenticator.Revoke(context.Background()); err != nil {
			slog.Error("Failed to revoke token", "error", err)
			os.Exit(1)
		}
		slog.Info("Token revoked")
		return
	}

	gateway := helix.NewClient(cfg.TwitchClientID, authenticator)

	commands := chat.NewStore(cfg.CommandsFile)
	if err := commands.Load(); err != nil {
		slog.Error("Failed to load custom commands", "error", err)
		os.Exit(1)
	}
	router := chat.NewRouter(gateway, commands, cfg.ChatOwner, nil)

	handlers := map[eventsub.Category]eventsub.Handler{
		eventsub.ChannelChatMessage: func(payload json.RawMessage) {
			router.Handle(context.Background(), payload)
		},
		eventsub.ChannelFollow:    logEvent("New follower"),
		eventsub.ChannelSubscribe: logEvent("New subscriber"),
		eventsub.ChannelRaid:      logEvent("Incoming raid"),
		eventsub.StreamOnline:     logEvent("Stream went live"),
		eventsub.StreamOffline:    logEvent("Stream went offline"),
	}

	session := eventsub.NewSession(
		eventsub.Config{
			Broadcaster:      cfg.Broadcaster,
			KeepaliveSeconds: cfg.KeepaliveSeconds,
			AnnounceConnect:  cfg.AnnounceConnect,
		},
		authenticator, gateway, handlers,
		eventsub.OnConnected(func(connected bool, broadcasterName string) {
			slog.Info("Session ready", "connected", connected, "broadcaster", broadcasterName)
		}),
		eventsub.OnError(func(err error) {
			slog.Error("Session error", "error", err)
		}),
	)

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := session.Connect(connectCtx); err != nil {
		slog.Error("Failed to connect", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutdown signal received, closing session")
	if err := session.Close(); err != nil {
		slog.Error("Failed to close session", "error", err)
		os.Exit(1)
	}
}

func newTokenStore(cfg *config.Config) (auth.Store, error) {
	if cfg.TokenEncryptionKey == "" {
		return auth.NewFileStore(cfg.TokenFile), nil
	}
	cipher, err := crypto.NewAesGcmService(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, err
	}
	return auth.NewFileStore(cfg.TokenFile, auth.WithCipher(cipher)), nil
}

func logEvent(message string) eventsub.Handler {
	return func(payload json.RawMessage) {
		slog.Info(message, "payload", string(payload))
	}
}
