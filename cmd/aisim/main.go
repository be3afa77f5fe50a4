// Package main contains the entrypoint for the companion service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tgbot "github.com/go-telegram/bot"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/app"
	"github.com/baltabekpro/aisimulator-sub001/internal/chat"
	"github.com/baltabekpro/aisimulator-sub001/internal/config"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
	"github.com/baltabekpro/aisimulator-sub001/internal/logger"
	"github.com/baltabekpro/aisimulator-sub001/internal/scheduler"
	"github.com/baltabekpro/aisimulator-sub001/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires all components, starts the app, and returns the exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("Logger initialized", "level", cfg.LogLevel, "format", cfg.LogFormat)

	db, err := database.NewDB(cfg.DBPath)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		return 1
	}
	defer database.CloseDB(db)

	store, err := database.NewStore(ctx, db, log)
	if err != nil {
		log.Error("Failed to initialize store", "error", err)
		return 1
	}

	oracle, err := ai.New(ctx, cfg.AI, log)
	if err != nil {
		log.Error("Failed to initialize AI oracle", "error", err)
		return 1
	}

	chatSvc := chat.New(store, oracle, cfg.Chat, cfg.AI, log)

	deps := telegram.HandlerDeps{
		Logger: log,
		Chat:   chatSvc,
		Store:  store,
		Config: cfg,
	}
	tg, err := telegram.NewBot(cfg.Telegram.Token, log,
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(telegram.NewMessageHandler(deps)),
	)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}
	telegram.RegisterHandlers(tg, log, telegram.RegisterAllCommands(deps))

	sched, err := scheduler.New(store, chatSvc, cfg.Scheduler, cfg.Chat.CompressThreshold, log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	log.Info("Starting service")
	if err := app.New(log, tg, sched).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service stopped due to error", "error", err)
		return 1
	}
	return 0
}
