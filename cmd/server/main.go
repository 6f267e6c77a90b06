package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ipx/internal/app"
	"ipx/internal/platform/config"
	"ipx/internal/platform/logger"
)

// main loads configuration, wires the service and serves until SIGINT or
// SIGTERM. Business logic lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("wire service: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Error("shutdown cleanup failed", "error", err)
		}
	}()

	log.InfoContext(ctx, "starting ipx", "env", cfg.Env, "store", cfg.Store.Driver, "ledger", cfg.Ledger.Driver)
	return a.Run(ctx)
}
