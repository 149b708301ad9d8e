package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
)

// ArticleHandler exposes article review over HTTP. Approval is what releases
// a synthesized article to the publish orchestrator.
type ArticleHandler struct {
	storage interfaces.ArticleStorage
	logger  arbor.ILogger
}

// NewArticleHandler creates a new ArticleHandler.
func NewArticleHandler(storage interfaces.ArticleStorage, logger arbor.ILogger) *ArticleHandler {
	return &ArticleHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListArticlesHandler handles GET /api/articles?workspace_id={id}&status={status}.
func (h *ArticleHandler) ListArticlesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	workspaceID, ok := RequireQueryParam(w, r, "workspace_id")
	if !ok {
		return
	}

	status := models.ArticleStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.ArticleStatusPendingReview
	}

	articles, err := h.storage.ListArticlesByStatus(r.Context(), workspaceID, status)
	if err != nil {
		h.logger.Error().Err(err).Str("workspace_id", workspaceID).Msg("Failed to list articles")
		WriteError(w, http.StatusInternalServerError, "Failed to list articles")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"articles": articles,
		"count":    len(articles),
	})
}

type reviewRequest struct {
	ArticleID        string `json:"article_id"`
	Action           string `json:"action"` // "approve" or "reject"
	SelectedMediaURL string `json:"selected_media_url,omitempty"`
}

// ReviewArticleHandler handles POST /api/articles/review. An ERROR article may
// be re-approved to retry publishing after operator intervention.
func (h *ArticleHandler) ReviewArticleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid review JSON: "+err.Error())
		return
	}
	if req.ArticleID == "" {
		WriteError(w, http.StatusBadRequest, "Missing article_id")
		return
	}

	article, err := h.storage.GetArticle(r.Context(), req.ArticleID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Article not found")
		return
	}
	if article.Status == models.ArticleStatusPublished {
		WriteError(w, http.StatusConflict, "Article is already published")
		return
	}

	switch req.Action {
	case "approve":
		article.Status = models.ArticleStatusApproved
		article.LastError = ""
	case "reject":
		article.Status = models.ArticleStatusRejected
	default:
		WriteError(w, http.StatusBadRequest, "Action must be \"approve\" or \"reject\"")
		return
	}
	if req.SelectedMediaURL != "" {
		article.SelectedMediaURL = req.SelectedMediaURL
	}

	if err := h.storage.SaveArticle(r.Context(), article); err != nil {
		h.logger.Error().Err(err).Str("article_id", article.ID).Msg("Failed to save reviewed article")
		WriteError(w, http.StatusInternalServerError, "Failed to save article")
		return
	}

	h.logger.Info().
		Str("article_id", article.ID).
		Str("workspace_id", article.WorkspaceID).
		Str("status", string(article.Status)).
		Msg("Article reviewed")
	WriteJSON(w, http.StatusOK, article)
}
