package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sharpline/pipeline/internal/domain"
)

// The detectors run independently of the per-result rule path, on a timer,
// against store-level state.

const criticalGapHours = 8.0

// CheckCollectionGaps compares each source's latest collection timestamp
// against the threshold. Gaps of eight hours or more are critical.
func (m *Manager) CheckCollectionGaps(ctx context.Context, thresholdHours float64) ([]*domain.Alert, error) {
	latest, err := m.store.LatestCollectionTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest collection times: %w", err)
	}

	now := m.now()
	var alerts []*domain.Alert
	for source, ts := range latest {
		gapHours := now.Sub(ts).Hours()
		if gapHours < thresholdHours {
			continue
		}

		severity := domain.SeverityWarning
		if gapHours >= criticalGapHours {
			severity = domain.SeverityCritical
		}

		ok, err := m.book.Allow(ctx, "collection_gap", source, time.Hour, 3)
		if err != nil || !ok {
			continue
		}

		meta, _ := json.Marshal(map[string]any{
			"gap_hours":       gapHours,
			"last_collection": ts,
		})
		a := &domain.Alert{
			ID:       uuid.New(),
			Source:   source,
			Type:     domain.AlertCollectionGap,
			Severity: severity,
			Message: fmt.Sprintf("no collections from %s for %.1f hours (threshold %.1f)",
				source, gapHours, thresholdHours),
			CreatedAt:           now,
			IsActive:            true,
			AutoRecoverable:     true,
			Metadata:            meta,
			RecoverySuggestions: []string{"check provider availability", "run a manual collection"},
		}
		m.Emit(ctx, a, ChannelFlags{Email: severity == domain.SeverityCritical, Webhook: true, Chat: true})
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// CheckDeadTuples inspects per-table dead/live tuple ratios. Bloat alerts
// are never auto-recoverable; they need a vacuum.
func (m *Manager) CheckDeadTuples(ctx context.Context) ([]*domain.Alert, error) {
	ratios, err := m.store.DeadTupleRatios(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead tuple ratios: %w", err)
	}

	var alerts []*domain.Alert
	for table, ratio := range ratios {
		if ratio <= 0.5 {
			continue
		}
		severity := domain.SeverityWarning
		if ratio > 0.8 {
			severity = domain.SeverityCritical
		}

		ok, err := m.book.Allow(ctx, "dead_tuples", table, 6*time.Hour, 2)
		if err != nil || !ok {
			continue
		}

		meta, _ := json.Marshal(map[string]any{"table": table, "dead_ratio": ratio})
		a := &domain.Alert{
			ID:                  uuid.New(),
			Source:              table,
			Type:                domain.AlertDeadTuples,
			Severity:            severity,
			Message:             fmt.Sprintf("dead tuple ratio %.2f on %s", ratio, table),
			CreatedAt:           m.now(),
			IsActive:            true,
			AutoRecoverable:     false,
			Metadata:            meta,
			RecoverySuggestions: []string{"run VACUUM ANALYZE on the table"},
		}
		m.Emit(ctx, a, ChannelFlags{Webhook: true})
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// CheckCascade emits a single cascade alert when minSources or more sources
// have active warning/critical alerts inside the rolling window.
func (m *Manager) CheckCascade(ctx context.Context, minSources int, window time.Duration) (*domain.Alert, error) {
	active, err := m.store.ListActive(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}

	cutoff := m.now().Add(-window)
	sources := make(map[string]bool)
	for _, a := range active {
		if a.Type == domain.AlertCascade {
			continue
		}
		if a.Severity != domain.SeverityWarning && a.Severity != domain.SeverityCritical {
			continue
		}
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		sources[a.Source] = true
	}

	if len(sources) < minSources {
		return nil, nil
	}

	ok, err := m.book.Allow(ctx, "cascade", "pipeline", 30*time.Minute, 2)
	if err != nil || !ok {
		return nil, err
	}

	names := make([]string, 0, len(sources))
	for s := range sources {
		names = append(names, s)
	}
	meta, _ := json.Marshal(map[string]any{"sources": names})

	a := &domain.Alert{
		ID:       uuid.New(),
		Source:   "pipeline",
		Type:     domain.AlertCascade,
		Severity: domain.SeverityCritical,
		Message: fmt.Sprintf("%d sources alerting inside %s window — possible systemic failure",
			len(sources), window),
		CreatedAt:           m.now(),
		IsActive:            true,
		AutoRecoverable:     false,
		Metadata:            meta,
		RecoverySuggestions: []string{"check shared infrastructure (network, database, provider outage)"},
	}
	m.Emit(ctx, a, ChannelFlags{Email: true, Webhook: true, Chat: true})
	return a, nil
}
