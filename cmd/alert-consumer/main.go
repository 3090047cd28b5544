package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sharpline/pipeline/internal/infra"
)

// alert-consumer drains the pipeline alert topics and logs each event. It is
// the reference consumer for teams wiring alerts into their own tooling.

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("alert consumer failed", "error", err)
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

	severity := os.Getenv("ALERT_SEVERITY")
	if severity == "" {
		severity = "critical"
	}
	topic := cfg.AlertTopicPrefix + "." + severity

	consumer := infra.NewKafkaConsumer(cfg.KafkaBrokers, topic, "pipeline-alert-consumer", cfg.KafkaEnabled, logger)
	if !consumer.Enabled() {
		return fmt.Errorf("kafka is disabled; set KAFKA_ENABLED=true and KAFKA_BROKERS")
	}
	defer consumer.Close()

	logger.Info("alert consumer started", "topic", topic)

	for {
		msg, err := consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("alert consumer shutting down")
				return nil
			}
			logger.Error("read message failed", "error", err)
			continue
		}

		var event map[string]any
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("malformed alert event", "error", err)
			continue
		}

		logger.Warn("alert event",
			"topic", msg.Topic,
			"source", event["source"],
			"alert_type", event["alert_type"],
			"severity", event["severity"],
			"alert_id", event["alert_id"],
		)
	}
}
