// Package api exposes the finance advisor over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-advisor/internal/api/handlers"
	"github.com/dvloznov/finance-advisor/internal/api/middleware"
	"github.com/dvloznov/finance-advisor/internal/jobs"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Ingest         handlers.Ingester
	Documents      handlers.DocumentReader
	Agent          handlers.Conversant
	Budgets        handlers.BudgetStore
	Dashboard      handlers.StatsProvider
	Jobs           jobs.JobStore
	Auth           middleware.AuthConfig
	MaxUploadBytes int64
	Log            zerolog.Logger
}

// NewRouter registers every endpoint and wraps the mux in the middleware chain.
func NewRouter(d Deps) http.Handler {
	documentsHandler := handlers.NewDocumentsHandler(d.Ingest, d.Documents, d.MaxUploadBytes)
	chatHandler := handlers.NewChatHandler(d.Agent)
	budgetsHandler := handlers.NewBudgetsHandler(d.Budgets)
	dashboardHandler := handlers.NewDashboardHandler(d.Dashboard)
	jobsHandler := handlers.NewJobsHandler(d.Jobs)

	mux := http.NewServeMux()

	// Documents endpoints
	mux.HandleFunc("/api/documents", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			documentsHandler.ListDocuments(w, r)
		case http.MethodPost:
			documentsHandler.UploadDocument(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/documents/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		documentID := pathID(r.URL.Path, "/api/documents/")
		if documentID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Document ID is required")
			return
		}
		documentsHandler.GetDocument(w, r, documentID)
	})

	// Chat endpoint
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		chatHandler.Chat(w, r)
	})

	// Budgets endpoints
	mux.HandleFunc("/api/budgets", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			budgetsHandler.ListBudgets(w, r)
		case http.MethodPut, http.MethodPost:
			budgetsHandler.UpsertBudget(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/budgets/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		budgetsHandler.BudgetStatus(w, r)
	})

	// Dashboard endpoint
	mux.HandleFunc("/api/dashboard/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		dashboardHandler.Stats(w, r)
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		jobsHandler.ListJobs(w, r)
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		jobID := pathID(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	auth := d.Auth
	auth.Public = append(auth.Public, "/health")

	return middleware.Chain(mux,
		middleware.Recovery(d.Log),
		middleware.RequestID,
		middleware.Logger(d.Log),
		middleware.CORS,
		middleware.Auth(auth),
	)
}

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// pathID returns the single path segment after prefix, or "".
func pathID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	if id == path || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
