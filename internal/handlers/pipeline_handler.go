package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/pipeline"
)

// PipelineHandler exposes manual pipeline triggers and run history.
type PipelineHandler struct {
	scheduler *pipeline.Scheduler
	runs      interfaces.RunStorage
	logger    arbor.ILogger
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(scheduler *pipeline.Scheduler, runs interfaces.RunStorage, logger arbor.ILogger) *PipelineHandler {
	return &PipelineHandler{
		scheduler: scheduler,
		runs:      runs,
		logger:    logger,
	}
}

// ScrapeNowHandler handles POST /api/pipeline/scrape-now?workspace_id={id}.
// Collection jobs are queued immediately, outside any schedule window.
func (h *PipelineHandler) ScrapeNowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	workspaceID, ok := RequireQueryParam(w, r, "workspace_id")
	if !ok {
		return
	}

	enqueued, err := h.scheduler.TriggerCollect(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("Manual collection trigger failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "started",
		"message":  fmt.Sprintf("%d collection jobs enqueued", enqueued),
		"enqueued": enqueued,
	})
}

// PublishNowHandler handles POST /api/pipeline/publish-now?workspace_id={id}.
// The publish sequence runs synchronously with all gates applied.
func (h *PipelineHandler) PublishNowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	workspaceID, ok := RequireQueryParam(w, r, "workspace_id")
	if !ok {
		return
	}

	outcome, err := h.scheduler.TriggerPublish(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("Manual publish trigger failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, outcome)
}

// RunsHandler handles GET /api/pipeline/runs?workspace_id={id}&limit={n}.
func (h *PipelineHandler) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	workspaceID, ok := RequireQueryParam(w, r, "workspace_id")
	if !ok {
		return
	}

	runs, err := h.runs.ListRuns(r.Context(), workspaceID, GetLimitParam(r, 50))
	if err != nil {
		h.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}
