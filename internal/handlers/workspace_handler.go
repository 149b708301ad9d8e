package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
)

// WorkspaceHandler manages workspace configuration over HTTP.
type WorkspaceHandler struct {
	storage interfaces.WorkspaceStorage
	logger  arbor.ILogger
}

// NewWorkspaceHandler creates a new WorkspaceHandler.
func NewWorkspaceHandler(storage interfaces.WorkspaceStorage, logger arbor.ILogger) *WorkspaceHandler {
	return &WorkspaceHandler{
		storage: storage,
		logger:  logger,
	}
}

// WorkspacesHandler handles GET (list) and POST (create/update) on /api/workspaces.
func (h *WorkspaceHandler) WorkspacesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.listWorkspaces(w, r)
	case "POST":
		h.saveWorkspace(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GetWorkspaceHandler handles GET /api/workspace?id={id}.
func (h *WorkspaceHandler) GetWorkspaceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	id, ok := RequireQueryParam(w, r, "id")
	if !ok {
		return
	}

	ws, err := h.storage.GetWorkspace(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Workspace not found")
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

func (h *WorkspaceHandler) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := h.storage.ListWorkspaces(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list workspaces")
		WriteError(w, http.StatusInternalServerError, "Failed to list workspaces")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces": workspaces,
		"count":      len(workspaces),
	})
}

func (h *WorkspaceHandler) saveWorkspace(w http.ResponseWriter, r *http.Request) {
	var ws models.Workspace
	if err := json.NewDecoder(r.Body).Decode(&ws); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid workspace JSON: "+err.Error())
		return
	}

	if ws.ID == "" {
		ws.ID = common.NewWorkspaceID()
		ws.CreatedAt = time.Now()
	}
	if len(ws.PublishTimes) == 0 {
		ws.PublishTimes = models.DefaultPublishTimes
	}
	if ws.ReviewWindowHours == 0 {
		ws.ReviewWindowHours = 2
	}
	if ws.DailyPublishQuota == 0 {
		ws.DailyPublishQuota = 3
	}

	if err := ws.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.SaveWorkspace(r.Context(), &ws); err != nil {
		h.logger.Error().Err(err).Str("workspace_id", ws.ID).Msg("Failed to save workspace")
		WriteError(w, http.StatusInternalServerError, "Failed to save workspace")
		return
	}

	h.logger.Info().
		Str("workspace_id", ws.ID).
		Str("name", ws.Name).
		Int("sources", len(ws.Sources)).
		Msg("Workspace saved")
	WriteJSON(w, http.StatusOK, &ws)
}
