package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
)

// HealthRepository persists rolling health-metric snapshots for history.
type HealthRepository struct {
	db DBTX
}

// NewHealthRepository returns a pgx-backed health snapshot store.
func NewHealthRepository(db DBTX) *HealthRepository {
	return &HealthRepository{db: db}
}

// SaveHealthSnapshot appends one snapshot row.
func (r *HealthRepository) SaveHealthSnapshot(ctx context.Context, m domain.CollectionHealthMetrics) error {
	patterns, _ := json.Marshal(m.FailurePatterns)

	_, err := r.db.Exec(ctx, `
		INSERT INTO operational.collection_health_snapshots (
			source, total_attempts, total_successes, total_failures,
			consecutive_failures, last_success_at, gap_seconds,
			success_rate, avg_response_time_ms, confidence_score,
			failure_patterns, alert_level, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.Source, m.TotalAttempts, m.TotalSuccesses, m.TotalFailures,
		m.ConsecutiveFailures, m.LastSuccessAt, m.GapDuration.Seconds(),
		m.SuccessRate, m.AvgResponseTimeMS, m.ConfidenceScore,
		patterns, string(m.AlertLevel), m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save health snapshot: %w", err)
	}
	return nil
}

// History returns snapshots for one source over the window, newest first.
func (r *HealthRepository) History(ctx context.Context, source string, since time.Time, limit int) ([]domain.CollectionHealthMetrics, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT source, total_attempts, total_successes, total_failures,
		       consecutive_failures, last_success_at, gap_seconds,
		       success_rate, avg_response_time_ms, confidence_score,
		       failure_patterns, alert_level, recorded_at
		FROM operational.collection_health_snapshots
		WHERE source = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC
		LIMIT $3`, source, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query health history: %w", err)
	}
	defer rows.Close()

	var out []domain.CollectionHealthMetrics
	for rows.Next() {
		var m domain.CollectionHealthMetrics
		var gapSeconds float64
		var patterns []byte
		var alertLevel string
		if err := rows.Scan(&m.Source, &m.TotalAttempts, &m.TotalSuccesses, &m.TotalFailures,
			&m.ConsecutiveFailures, &m.LastSuccessAt, &gapSeconds,
			&m.SuccessRate, &m.AvgResponseTimeMS, &m.ConfidenceScore,
			&patterns, &alertLevel, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan health snapshot: %w", err)
		}
		m.GapDuration = time.Duration(gapSeconds * float64(time.Second))
		m.AlertLevel = domain.AlertLevel(alertLevel)
		json.Unmarshal(patterns, &m.FailurePatterns)
		out = append(out, m)
	}
	return out, rows.Err()
}
