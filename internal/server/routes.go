package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Workspace management
	mux.HandleFunc("/api/workspaces", s.app.WorkspaceHandler.WorkspacesHandler) // GET (list), POST (create/update)
	mux.HandleFunc("/api/workspace", s.app.WorkspaceHandler.GetWorkspaceHandler)

	// API routes - Article review
	mux.HandleFunc("/api/articles", s.app.ArticleHandler.ListArticlesHandler)
	mux.HandleFunc("/api/articles/review", s.app.ArticleHandler.ReviewArticleHandler)

	// API routes - Pipeline triggers and run history
	mux.HandleFunc("/api/pipeline/scrape-now", s.app.PipelineHandler.ScrapeNowHandler)
	mux.HandleFunc("/api/pipeline/publish-now", s.app.PipelineHandler.PublishNowHandler)
	mux.HandleFunc("/api/pipeline/runs", s.app.PipelineHandler.RunsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		http.Redirect(w, r, "/api/health", http.StatusFound)
	})

	return mux
}
