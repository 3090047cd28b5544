package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sharpline/pipeline/internal/alert"
	"github.com/sharpline/pipeline/internal/domain"
)

// AlertRepository is the durable alert state plus the operational queries
// the detectors run. Alert inserts also write the outbox row in the same
// transaction so the Kafka chat channel delivers exactly what was stored.
type AlertRepository struct {
	db  TxBeginner
	raw *RawRepository
	stg *StagingRepository
}

// NewAlertRepository returns a pgx-backed alert store.
func NewAlertRepository(db TxBeginner, raw *RawRepository, stg *StagingRepository) *AlertRepository {
	return &AlertRepository{db: db, raw: raw, stg: stg}
}

// Insert stores the alert and its outbox row in one transaction.
func (r *AlertRepository) Insert(ctx context.Context, a *domain.Alert) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	suggestions, _ := json.Marshal(a.RecoverySuggestions)
	metadata := a.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO operational.alerts (
			id, source, alert_type, severity, message,
			created_at, resolved_at, resolution_notes, is_active,
			auto_recoverable, metadata, recovery_suggestions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Source, string(a.Type), string(a.Severity), a.Message,
		a.CreatedAt, a.ResolvedAt, a.ResolutionNotes, a.IsActive,
		a.AutoRecoverable, metadata, suggestions)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	payload, _ := json.Marshal(a)
	_, err = tx.Exec(ctx, `
		INSERT INTO operational.alert_outbox (alert_id, source, alert_type, severity, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Source, string(a.Type), string(a.Severity), payload, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert outbox row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Resolve marks an alert inactive with resolution time and notes.
func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID, notes string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE operational.alerts
		SET is_active = false, resolved_at = $2, resolution_notes = $3
		WHERE id = $1 AND is_active`, id, at, notes)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("active alert", id.String())
	}
	return nil
}

// ListActive lists active alerts, optionally filtered by source, severity
// and type.
func (r *AlertRepository) ListActive(ctx context.Context, f alert.Filter) ([]domain.Alert, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, source, alert_type, severity, message,
		       created_at, resolved_at, resolution_notes, is_active,
		       auto_recoverable, metadata, recovery_suggestions
		FROM operational.alerts
		WHERE is_active
		  AND ($1 = '' OR source = $1)
		  AND ($2 = '' OR severity = $2)
		  AND ($3 = '' OR alert_type = $3)
		ORDER BY created_at DESC`,
		f.Source, string(f.Severity), string(f.Type))
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var alertType, severity string
		var suggestions []byte
		if err := rows.Scan(&a.ID, &a.Source, &alertType, &severity, &a.Message,
			&a.CreatedAt, &a.ResolvedAt, &a.ResolutionNotes, &a.IsActive,
			&a.AutoRecoverable, &a.Metadata, &suggestions); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = domain.AlertType(alertType)
		a.Severity = domain.AlertSeverity(severity)
		json.Unmarshal(suggestions, &a.RecoverySuggestions)
		out = append(out, a)
	}
	return out, rows.Err()
}

// LatestCollectionTimes delegates to the raw store for the gap detector.
func (r *AlertRepository) LatestCollectionTimes(ctx context.Context) (map[string]time.Time, error) {
	return r.raw.LatestCollectionTimes(ctx)
}

// DeadTupleRatios delegates to the staging store for the bloat detector.
func (r *AlertRepository) DeadTupleRatios(ctx context.Context) (map[string]float64, error) {
	return r.stg.DeadTupleRatios(ctx)
}
