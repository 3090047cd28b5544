package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sharpline/pipeline/internal/alert"
	"github.com/sharpline/pipeline/internal/domain"
)

// AlertsHandler exposes the alert API: list, resolve, rule toggles and the
// on-demand detectors.
type AlertsHandler struct {
	manager      *alert.Manager
	gapThreshold float64
}

// NewAlertsHandler creates the alerts handler.
func NewAlertsHandler(manager *alert.Manager, gapThresholdHours float64) *AlertsHandler {
	return &AlertsHandler{manager: manager, gapThreshold: gapThresholdHours}
}

// ListActive lists active alerts filtered by source/severity/type.
func (h *AlertsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	f := alert.Filter{
		Source:   r.URL.Query().Get("source"),
		Severity: domain.AlertSeverity(r.URL.Query().Get("severity")),
		Type:     domain.AlertType(r.URL.Query().Get("type")),
	}
	alerts, err := h.manager.ListActive(r.Context(), f)
	if err != nil {
		RespondError(w, domain.ErrInternal("list alerts", err))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// Resolve marks one alert resolved with notes.
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid alert id"))
		return
	}

	var body struct {
		Notes string `json:"notes"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	if err := h.manager.ResolveAlert(r.Context(), id, body.Notes); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"resolved": id})
}

// SetRuleEnabled toggles one alert rule.
func (h *AlertsHandler) SetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	enabled, err := strconv.ParseBool(chi.URLParam(r, "enabled"))
	if err != nil {
		RespondError(w, domain.ErrValidation("enabled must be true or false"))
		return
	}
	if err := h.manager.SetRuleEnabled(id, enabled); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"rule": id, "enabled": enabled})
}

// ListRules lists the rule set.
func (h *AlertsHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]any{"rules": h.manager.Rules()})
}

// CheckGaps runs the gap detector on demand.
func (h *AlertsHandler) CheckGaps(w http.ResponseWriter, r *http.Request) {
	threshold := h.gapThreshold
	if s := r.URL.Query().Get("threshold_hours"); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
			threshold = v
		}
	}
	alerts, err := h.manager.CheckCollectionGaps(r.Context(), threshold)
	if err != nil {
		RespondError(w, domain.ErrInternal("gap detection", err))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"threshold_hours": threshold, "alerts": alerts})
}

// CheckDeadTuples runs the bloat detector on demand.
func (h *AlertsHandler) CheckDeadTuples(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.manager.CheckDeadTuples(r.Context())
	if err != nil {
		RespondError(w, domain.ErrInternal("dead tuple detection", err))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// CheckCascade runs the cascade detector on demand.
func (h *AlertsHandler) CheckCascade(w http.ResponseWriter, r *http.Request) {
	a, err := h.manager.CheckCascade(r.Context(), 3, time.Hour)
	if err != nil {
		RespondError(w, domain.ErrInternal("cascade detection", err))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"cascade": a})
}
