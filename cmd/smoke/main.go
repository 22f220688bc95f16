package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/ledgerx-smoke/internal/app"
	"github.com/dvloznov/ledgerx-smoke/internal/config"
	"github.com/dvloznov/ledgerx-smoke/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(config.FileFromEnv())
	if err != nil {
		log := logger.New()
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	log := logger.NewWithLevel(cfg.LogLevel)

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := app.Run(ctx, cfg, log, app.Options{Out: os.Stdout})
	if err != nil {
		log.Error().Err(err).Msg("Smoke run setup failed")
		return 1
	}
	if !report.OK() {
		return 1
	}

	fmt.Println("SMOKE OK")
	return 0
}
