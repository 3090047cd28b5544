package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity grades a collection alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertType names the alert category.
type AlertType string

const (
	AlertCollectionFailure AlertType = "collection_failure"
	AlertCollectionGap     AlertType = "collection_gap"
	AlertCircuitOpen       AlertType = "circuit_open"
	AlertCircuitRecovered  AlertType = "circuit_recovered"
	AlertSchemaChange      AlertType = "schema_change"
	AlertDeadTuples        AlertType = "dead_tuples"
	AlertCascade           AlertType = "cascade"
)

// Alert is a live or resolved failure notice, retained for audit.
type Alert struct {
	ID                  uuid.UUID       `json:"id"`
	Source              string          `json:"source"`
	Type                AlertType       `json:"type"`
	Severity            AlertSeverity   `json:"severity"`
	Message             string          `json:"message"`
	CreatedAt           time.Time       `json:"created_at"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
	ResolutionNotes     string          `json:"resolution_notes,omitempty"`
	IsActive            bool            `json:"is_active"`
	AutoRecoverable     bool            `json:"auto_recoverable"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	RecoverySuggestions []string        `json:"recovery_suggestions,omitempty"`
}

// Resolve marks the alert inactive with a resolution time and notes.
func (a *Alert) Resolve(at time.Time, notes string) {
	a.IsActive = false
	a.ResolvedAt = &at
	a.ResolutionNotes = notes
}
