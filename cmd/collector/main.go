package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sharpline/pipeline/internal/app"
	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/infra"
	"github.com/sharpline/pipeline/internal/orchestrator"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("collector daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := infra.NewRedisClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	a := app.Wire(ctx, app.Deps{
		Pool:     pool,
		Redis:    redisClient,
		Config:   cfg,
		Logger:   logger,
		Producer: producer,
	})
	defer a.Orchestrator.Cleanup()

	a.Outbox.Start(ctx)

	if err := scheduleJobs(ctx, a, cfg, logger); err != nil {
		return fmt.Errorf("schedule jobs: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // plan execution is synchronous
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pipeline api starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("collector daemon stopped")
	return nil
}

// scheduleJobs registers the recurring work: per-source collection plans on
// their configured intervals, staging processing, detectors and buffer
// cleanup.
func scheduleJobs(ctx context.Context, a *app.App, cfg *infra.Config, logger *slog.Logger) error {
	c := cron.New()

	collectAndProcess := func(source string) func() {
		return func() {
			plan, err := a.Orchestrator.CreatePlan("scheduled_"+source, []string{source}, 0, 0)
			if err != nil {
				logger.Error("create scheduled plan failed", "source", source, "error", err)
				return
			}
			if _, err := a.Orchestrator.ExecutePlan(ctx, plan); err != nil {
				logger.Error("scheduled plan failed", "source", source, "error", err)
				return
			}
			// The schedule feed has no staging shape; it only serves
			// resolution.
			if source == domain.SourceMLBSchedule {
				return
			}
			if _, err := a.Processor.ProcessSource(ctx, source, 0); err != nil {
				logger.Error("scheduled staging run failed", "source", source, "error", err)
			}
		}
	}

	for _, sc := range orchestrator.DefaultSourceConfigs() {
		if !sc.Enabled || sc.Interval <= 0 {
			continue
		}
		spec := fmt.Sprintf("@every %s", sc.Interval)
		if _, err := c.AddFunc(spec, collectAndProcess(sc.Name)); err != nil {
			return fmt.Errorf("register %s schedule: %w", sc.Name, err)
		}
		logger.Info("collection scheduled", "source", sc.Name, "interval", sc.Interval.String())
	}

	if _, err := c.AddFunc("@every 1h", func() {
		if _, err := a.Alerts.CheckCollectionGaps(ctx, cfg.GapThresholdHours); err != nil {
			logger.Error("gap detection failed", "error", err)
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 6h", func() {
		if _, err := a.Alerts.CheckDeadTuples(ctx); err != nil {
			logger.Error("dead tuple detection failed", "error", err)
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 30m", func() {
		if _, err := a.Alerts.CheckCascade(ctx, 3, time.Hour); err != nil {
			logger.Error("cascade detection failed", "error", err)
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc("@every 10m", func() {
		removed := a.Synchronizer.Cleanup(time.Duration(cfg.SyncMaxSkewSeconds) * time.Second)
		if removed > 0 {
			logger.Debug("synchronizer buffer cleanup", "evicted", removed)
		}
	}); err != nil {
		return err
	}

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}
