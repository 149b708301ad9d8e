package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/collector"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/queue"
)

// APIHandler serves version, health and queue introspection endpoints.
type APIHandler struct {
	dispatcher *queue.Dispatcher
	pool       *collector.Pool
	logger     arbor.ILogger
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(dispatcher *queue.Dispatcher, pool *collector.Pool, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		dispatcher: dispatcher,
		pool:       pool,
		logger:     logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler returns health status with queue depth and pool counters.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	waiting, active, failed, err := h.dispatcher.Counts(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue counts")
		WriteError(w, http.StatusInternalServerError, "Queue unavailable")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"queue": map[string]int{
			"waiting": waiting,
			"active":  active,
			"failed":  failed,
		},
		"collector": h.pool.Stats(),
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
