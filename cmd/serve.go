package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nextlevelbuilder/relaydesk/internal/config"
	"github.com/nextlevelbuilder/relaydesk/internal/dispatch"
	"github.com/nextlevelbuilder/relaydesk/internal/state"
	"github.com/nextlevelbuilder/relaydesk/internal/telegram"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	store, err := state.NewStore(cfg.State.Path)
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	snap, err := store.Load()
	if err != nil {
		slog.Error("failed to load snapshot", "error", err)
		os.Exit(1)
	}
	// An explicit config or env value wins; otherwise the persisted
	// setting carries over.
	if cfg.Routing.AutoEndButton != nil {
		snap.Settings.AutoEndButton = *cfg.Routing.AutoEndButton
	}

	bot, err := telegram.NewBot(cfg.Telegram)
	if err != nil {
		slog.Error("failed to create telegram bot", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sender := telegram.NewSender(bot)
	sender.Start(ctx)

	dispatcher := dispatch.New(snap, store, sender, cfg.Telegram.Token)
	channel := telegram.NewChannel(bot, dispatcher, sender)

	if err := channel.Start(ctx); err != nil {
		slog.Error("failed to start telegram channel", "error", err)
		os.Exit(1)
	}

	if snap.Initialized() {
		slog.Info("relay ready", "admins", snap.Admins, "agents", len(snap.Agents))
	} else {
		slog.Warn("relay not initialized yet: send /init <BOT_TOKEN> to the bot")
	}

	<-ctx.Done()
	slog.Info("shutting down")

	channel.Stop()
	sender.Stop()
	if err := store.Save(dispatcher.Snapshot()); err != nil {
		slog.Error("final snapshot save failed", "error", err)
	}
	slog.Info("bye")
}
