package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgallion1/quizgest/internal/app"
	"github.com/dgallion1/quizgest/internal/config"
	"github.com/joho/godotenv"
)

func main() {
	configFile := flag.String("config", "", "config file (yaml, toml or json)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	log := app.NewLogger(os.Stdout, true, cfg.SlogLevel())
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Serve(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
