// Package app orchestrates the service components: the Telegram listener and
// the background scheduler, tied together with graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/baltabekpro/aisimulator-sub001/internal/scheduler"
)

// App owns the long-running components.
type App struct {
	logger    *slog.Logger
	tgBot     *tgbot.Bot
	scheduler *scheduler.Scheduler
}

func New(logger *slog.Logger, tgBot *tgbot.Bot, sched *scheduler.Scheduler) *App {
	return &App{
		logger:    logger.With("component", "app"),
		tgBot:     tgBot,
		scheduler: sched,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting Telegram listener")
		a.tgBot.Start(gCtx)
		a.logger.Info("Telegram listener stopped")
		if gCtx.Err() == nil {
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		a.scheduler.Start()
		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("Stopped gracefully")
	return nil
}
