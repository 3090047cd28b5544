package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/infra"
	"github.com/sharpline/pipeline/internal/orchestrator"
	"github.com/sharpline/pipeline/internal/repository"
)

// HealthHandler returns the liveness endpoint.
func HealthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := infra.HealthCheck(r.Context(), pool)
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

// MetricsHandler serves the nested operational metrics view.
type MetricsHandler struct {
	orch    *orchestrator.Orchestrator
	history *repository.HealthRepository
}

// NewMetricsHandler creates the metrics handler.
func NewMetricsHandler(orch *orchestrator.Orchestrator, history *repository.HealthRepository) *MetricsHandler {
	return &MetricsHandler{orch: orch, history: history}
}

// GetEnhancedMetrics returns per-source health, breaker states, recovery
// plans and the alert summary.
func (h *MetricsHandler) GetEnhancedMetrics(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.orch.EnhancedMetrics(r.Context()))
}

// GetHistory returns health snapshots for one source.
func (h *MetricsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	hours := 24.0
	if s := r.URL.Query().Get("hours"); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
			hours = v
		}
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	since := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	snapshots, err := h.history.History(r.Context(), source, since, limit)
	if err != nil {
		RespondError(w, domain.ErrInternal("load health history", err))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"source":    source,
		"hours":     hours,
		"snapshots": snapshots,
	})
}

// TestConnection probes one source.
func (h *MetricsHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	ok, err := h.orch.TestSource(r.Context(), source)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"source": source, "connected": ok})
}

// ResetBreaker forces one source's circuit closed.
func (h *MetricsHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if err := h.orch.ResetBreaker(source); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"source": source, "state": "closed"})
}
