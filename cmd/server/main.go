// Package main is the entry point for the DataSteward trigger API. Cron
// endpoints enqueue work for the worker; CopyFiles runs inline.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dharsanguruparan/DataSteward/internal/api"
	"github.com/dharsanguruparan/DataSteward/internal/app"
	"github.com/dharsanguruparan/DataSteward/internal/config"
	"github.com/dharsanguruparan/DataSteward/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "err", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("init", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	pidDataset, pidTable, _ := strings.Cut(cfg.Retraction.PIDTable, ".")
	srv := api.New(api.Config{
		Address: cfg.Address,
		Queue:   client,
		Copier:  a.Pipeline,
		Runs:    a.Runs,
		Auth:    a.Signer,
		Retraction: queue.RetractionPayload{
			HPOID:      cfg.Retraction.HPOID,
			PIDDataset: pidDataset,
			PIDTable:   pidTable,
			Datasets:   cfg.Retraction.Datasets,
			Type:       cfg.Retraction.Type,
			Folder:     cfg.Retraction.Folder,
		},
		Logger: logger,
	})
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
