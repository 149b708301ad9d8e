package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/models"
	badgerstore "github.com/ternarybob/propago/internal/storage/badger"
)

func newArticleHandler(t *testing.T) (*ArticleHandler, *badgerstore.Manager) {
	t.Helper()
	logger := arbor.NewLogger()
	mgr, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return NewArticleHandler(mgr.ArticleStorage(), logger), mgr
}

func savePendingArticle(t *testing.T, mgr *badgerstore.Manager, id string) {
	t.Helper()
	require.NoError(t, mgr.ArticleStorage().SaveArticle(context.Background(), &models.Article{
		ID:          id,
		WorkspaceID: "ws_rev",
		Status:      models.ArticleStatusPendingReview,
		Title:       "Pending Story",
		Body:        "body",
	}))
}

func TestReviewArticleHandler_Approve(t *testing.T) {
	h, mgr := newArticleHandler(t)
	savePendingArticle(t, mgr, "art_1")

	body := `{"article_id":"art_1","action":"approve","selected_media_url":"https://cdn.example.com/pic.jpg"}`
	req := httptest.NewRequest("POST", "/api/articles/review", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ReviewArticleHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	article, err := mgr.ArticleStorage().GetArticle(context.Background(), "art_1")
	require.NoError(t, err)
	assert.Equal(t, models.ArticleStatusApproved, article.Status)
	assert.Equal(t, "https://cdn.example.com/pic.jpg", article.SelectedMediaURL)
}

func TestReviewArticleHandler_Reject(t *testing.T) {
	h, mgr := newArticleHandler(t)
	savePendingArticle(t, mgr, "art_1")

	req := httptest.NewRequest("POST", "/api/articles/review", strings.NewReader(`{"article_id":"art_1","action":"reject"}`))
	rec := httptest.NewRecorder()
	h.ReviewArticleHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	article, err := mgr.ArticleStorage().GetArticle(context.Background(), "art_1")
	require.NoError(t, err)
	assert.Equal(t, models.ArticleStatusRejected, article.Status)
}

func TestReviewArticleHandler_PublishedIsImmutable(t *testing.T) {
	h, mgr := newArticleHandler(t)
	require.NoError(t, mgr.ArticleStorage().SaveArticle(context.Background(), &models.Article{
		ID:          "art_pub",
		WorkspaceID: "ws_rev",
		Status:      models.ArticleStatusPublished,
		Title:       "Live Story",
		Body:        "body",
	}))

	req := httptest.NewRequest("POST", "/api/articles/review", strings.NewReader(`{"article_id":"art_pub","action":"reject"}`))
	rec := httptest.NewRecorder()
	h.ReviewArticleHandler(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReviewArticleHandler_UnknownAction(t *testing.T) {
	h, mgr := newArticleHandler(t)
	savePendingArticle(t, mgr, "art_1")

	req := httptest.NewRequest("POST", "/api/articles/review", strings.NewReader(`{"article_id":"art_1","action":"publish"}`))
	rec := httptest.NewRecorder()
	h.ReviewArticleHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListArticlesHandler_DefaultsToPendingReview(t *testing.T) {
	h, mgr := newArticleHandler(t)
	savePendingArticle(t, mgr, "art_1")
	require.NoError(t, mgr.ArticleStorage().SaveArticle(context.Background(), &models.Article{
		ID:          "art_2",
		WorkspaceID: "ws_rev",
		Status:      models.ArticleStatusApproved,
		Title:       "Approved Story",
		Body:        "body",
	}))

	req := httptest.NewRequest("GET", "/api/articles?workspace_id=ws_rev", nil)
	rec := httptest.NewRecorder()
	h.ListArticlesHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "art_1")
	assert.NotContains(t, rec.Body.String(), "art_2")
}
