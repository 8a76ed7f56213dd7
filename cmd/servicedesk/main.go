package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	servicedesk "github.com/fieldgrid/servicedesk"
	"github.com/fieldgrid/servicedesk/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("SDESK_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	servicedesk.SetupLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := servicedesk.Start(ctx, cfg, nil); err != nil {
		slog.Error("Service exited with error", "error", err)
		os.Exit(1)
	}
}
