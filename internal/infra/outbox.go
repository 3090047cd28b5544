package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AlertOutboxPoller polls operational.alert_outbox and publishes alert
// events to Kafka. Alerts are written to the outbox inside the same
// transaction as the alert row, so delivery survives process restarts.
type AlertOutboxPoller struct {
	pool        *pgxpool.Pool
	producer    *KafkaProducer
	logger      *slog.Logger
	topicPrefix string
	interval    time.Duration
	batchSize   int
}

// NewAlertOutboxPoller creates a new alert outbox poller.
func NewAlertOutboxPoller(pool *pgxpool.Pool, producer *KafkaProducer, topicPrefix string, logger *slog.Logger) *AlertOutboxPoller {
	return &AlertOutboxPoller{
		pool:        pool,
		producer:    producer,
		logger:      logger,
		topicPrefix: topicPrefix,
		interval:    time.Second,
		batchSize:   100,
	}
}

// Start begins polling in a goroutine. Stops when ctx is cancelled.
func (p *AlertOutboxPoller) Start(ctx context.Context) {
	p.logger.Info("alert outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("alert outbox poller stopped")
				return
			case <-ticker.C:
				if err := p.poll(ctx); err != nil {
					p.logger.Error("alert outbox poll error", "error", err)
				}
			}
		}
	}()
}

type outboxAlert struct {
	SeqID      int64
	AlertID    uuid.UUID
	Source     string
	AlertType  string
	Severity   string
	Payload    json.RawMessage
	OccurredAt time.Time
}

func (p *AlertOutboxPoller) poll(ctx context.Context) error {
	rows, err := p.pool.Query(ctx, `
		SELECT seq_id, alert_id, source, alert_type, severity, payload, occurred_at
		FROM operational.alert_outbox
		WHERE published_at IS NULL
		ORDER BY occurred_at ASC
		LIMIT $1`, p.batchSize)
	if err != nil {
		return err
	}
	defer rows.Close()

	var alerts []outboxAlert
	for rows.Next() {
		var a outboxAlert
		if err := rows.Scan(&a.SeqID, &a.AlertID, &a.Source, &a.AlertType, &a.Severity, &a.Payload, &a.OccurredAt); err != nil {
			return err
		}
		alerts = append(alerts, a)
	}

	if len(alerts) == 0 {
		return nil
	}

	for _, a := range alerts {
		topic := p.topicPrefix + "." + a.Severity
		key := []byte(a.Source)

		msg, _ := json.Marshal(map[string]interface{}{
			"alert_id":    a.AlertID,
			"source":      a.Source,
			"alert_type":  a.AlertType,
			"severity":    a.Severity,
			"payload":     a.Payload,
			"occurred_at": a.OccurredAt,
		})

		if err := p.producer.Publish(ctx, topic, key, msg); err != nil {
			p.logger.Error("kafka publish failed", "alert_id", a.AlertID, "error", err)
			continue
		}

		_, err := p.pool.Exec(ctx,
			`UPDATE operational.alert_outbox SET published_at = now() WHERE seq_id = $1`, a.SeqID)
		if err != nil {
			p.logger.Error("mark published failed", "alert_id", a.AlertID, "error", err)
		}
	}

	p.logger.Debug("alert outbox poll complete", "published", len(alerts))
	return nil
}
