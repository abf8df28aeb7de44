package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dota-pilot1/dota-admin-backend/internal/infra/app"
	"github.com/dota-pilot1/dota-admin-backend/internal/infra/config"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("dota-admin-backend: ")

	if err := run(); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

// run returns once the servers stop; a clean signal-driven shutdown is not an error.
func run() error {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application stopped: %w", err)
	}
	return nil
}
