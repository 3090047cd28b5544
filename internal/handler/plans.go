package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/orchestrator"
	"github.com/sharpline/pipeline/internal/staging"
	"github.com/sharpline/pipeline/internal/timesync"
)

// PlansHandler exposes the plan API and the time-aligned data API.
type PlansHandler struct {
	orch      *orchestrator.Orchestrator
	processor *staging.Processor
	sync      *timesync.Synchronizer
}

// NewPlansHandler creates the plans handler.
func NewPlansHandler(orch *orchestrator.Orchestrator, processor *staging.Processor, sync *timesync.Synchronizer) *PlansHandler {
	return &PlansHandler{orch: orch, processor: processor, sync: sync}
}

type planRequest struct {
	Name        string   `json:"name"`
	Sources     []string `json:"sources,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	DeadlineS   int      `json:"deadline_s,omitempty"`
	Process     bool     `json:"process,omitempty"` // run staging after collection
}

type taskView struct {
	Source   string  `json:"source"`
	Status   string  `json:"status"`
	Attempts int     `json:"attempts"`
	Error    string  `json:"error,omitempty"`
	Records  int     `json:"records"`
	Score    float64 `json:"confidence_score"`
}

// Execute creates a plan, runs it to completion and returns the per-task
// statuses and totals.
func (h *PlansHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.Name == "" {
		req.Name = "manual"
	}

	plan, err := h.orch.CreatePlan(req.Name, req.Sources, req.Concurrency, time.Duration(req.DeadlineS)*time.Second)
	if err != nil {
		RespondError(w, err)
		return
	}

	plan, execErr := h.orch.ExecutePlan(r.Context(), plan)

	tasks := make([]taskView, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		view := taskView{
			Source:   t.Source,
			Status:   string(t.Status),
			Attempts: t.Attempts,
			Error:    t.Error,
		}
		if t.Result != nil {
			view.Records = len(t.Result.Data)
		}
		if t.Analysis != nil {
			view.Score = t.Analysis.ConfidenceScore
		}
		tasks = append(tasks, view)
	}

	var stagingStats map[string]*staging.Stats
	if req.Process && execErr == nil {
		stagingStats = make(map[string]*staging.Stats)
		for _, t := range plan.Tasks {
			if t.Status != orchestrator.TaskSuccess || t.Source == domain.SourceMLBSchedule {
				continue
			}
			stats, err := h.processor.ProcessSource(r.Context(), t.Source, 0)
			if err != nil {
				RespondError(w, domain.ErrInternal("staging processing", err))
				return
			}
			stagingStats[t.Source] = stats
		}
	}

	status := http.StatusOK
	if execErr != nil {
		status = http.StatusGatewayTimeout
	}
	RespondJSON(w, status, map[string]any{
		"plan_id":   plan.ID,
		"name":      plan.Name,
		"status":    string(plan.Status),
		"succeeded": plan.Succeeded,
		"failed":    plan.Failed,
		"tasks":     tasks,
		"staging":   stagingStats,
	})
}

// TimeAligned serves the time-aligned data API.
func (h *PlansHandler) TimeAligned(w http.ResponseWriter, r *http.Request) {
	sourcesParam := r.URL.Query().Get("sources")
	if sourcesParam == "" {
		RespondError(w, domain.ErrValidation("sources query parameter required"))
		return
	}
	sources := strings.Split(sourcesParam, ",")

	maxAge := 5 * time.Minute
	if s := r.URL.Query().Get("max_age_s"); s != "" {
		if d, err := time.ParseDuration(s + "s"); err == nil && d > 0 {
			maxAge = d
		}
	}
	window := time.Duration(0)
	if s := r.URL.Query().Get("window_s"); s != "" {
		if d, err := time.ParseDuration(s + "s"); err == nil && d > 0 {
			window = d
		}
	}

	aligned := h.sync.GetTimeAlignedData(r.Context(), sources, maxAge, window)
	if aligned == nil {
		RespondJSON(w, http.StatusOK, map[string]any{"aligned": nil})
		return
	}

	out := make(map[string]any, len(aligned))
	for src, entry := range aligned {
		out[src] = map[string]any{
			"collected_at": entry.CollectedAt,
			"sequence_id":  entry.SequenceID,
			"data":         entry.Data,
		}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"aligned": out})
}
