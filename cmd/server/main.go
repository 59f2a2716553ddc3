package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gatecharge/server/internal/config"
	"github.com/gatecharge/server/pkg/gatecharge"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	// Load .env if present; real environment still wins.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	app, err := gatecharge.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := app.Logger()
	log.Info().
		Str("version", gatecharge.Version).
		Str("address", cfg.Server.Address).
		Int("resources", len(cfg.Gate.Resources)).
		Msg("gatecharge.starting")

	if err := app.Run(ctx); err != nil {
		log.Error().Err(err).Msg("gatecharge.exited_with_error")
		os.Exit(1)
	}

	log.Info().Msg("gatecharge.stopped")
}
