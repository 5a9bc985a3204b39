package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/DataSteward/internal/app"
	"github.com/dharsanguruparan/DataSteward/internal/config"
	"github.com/dharsanguruparan/DataSteward/internal/queue"
	"github.com/dharsanguruparan/DataSteward/internal/worker"
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

	redis := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Workers,
		Queues:      map[string]int{"default": 1},
	})
	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{Location: cfg.Location})
	if _, err := queue.RegisterSchedule(scheduler, cfg.ValidateAllCron); err != nil {
		logger.Error("schedule", "err", err)
		os.Exit(1)
	}

	processor := worker.NewProcessor(a.Pipeline, a.Analytics, a.Union, a.Retractor, logger)
	mux := processor.Handler()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		server.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		scheduler.Shutdown()
		return nil
	})
	logger.Info("worker started", "concurrency", cfg.Workers, "validate_all_cron", cfg.ValidateAllCron)
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}
