package handlers

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/finance-advisor/internal/api/middleware"
	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/ingest"
	"github.com/dvloznov/finance-advisor/internal/jobs"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const multipartMemory = 32 << 20

// Ingester accepts uploads for asynchronous processing.
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload, owner tenant.ID) (ingest.Receipt, error)
	IngestURI(ctx context.Context, uri string, owner tenant.ID) (ingest.Receipt, error)
}

// DocumentReader reads one tenant's documents.
type DocumentReader interface {
	GetDocument(ctx context.Context, owner tenant.ID, documentID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, owner tenant.ID) ([]*domain.Document, error)
}

// DocumentsHandler handles document-related endpoints.
type DocumentsHandler struct {
	ingest         Ingester
	repo           DocumentReader
	maxUploadBytes int64
}

// NewDocumentsHandler creates a new documents handler.
func NewDocumentsHandler(ingester Ingester, repo DocumentReader, maxUploadBytes int64) *DocumentsHandler {
	return &DocumentsHandler{
		ingest:         ingester,
		repo:           repo,
		maxUploadBytes: maxUploadBytes,
	}
}

type documentView struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	UploadDate time.Time `json:"upload_date"`
	Status     string    `json:"status"`
	StorageURI string    `json:"storage_uri,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func viewDocument(d *domain.Document) documentView {
	return documentView{
		DocumentID: d.ID,
		Filename:   d.Filename,
		UploadDate: d.UploadDate,
		Status:     string(d.Status),
		StorageURI: d.StorageURI,
		Error:      d.Error,
	}
}

// UploadDocument handles POST /api/documents. The body is either a multipart
// form with a "file" field or JSON {"gcs_uri": "gs://..."}.
func (h *DocumentsHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		h.ingestURI(w, r, owner)
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	limit := h.maxUploadBytes
	if limit <= 0 {
		limit = header.Size
	}
	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	receipt, err := h.ingest.Ingest(r.Context(), ingest.Upload{Filename: header.Filename, Content: content}, owner)
	if err != nil {
		middleware.WriteErr(w, r, err, "Upload rejected")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, receipt)
}

func (h *DocumentsHandler) ingestURI(w http.ResponseWriter, r *http.Request, owner tenant.ID) {
	var req struct {
		GCSURI string `json:"gcs_uri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GCSURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "gcs_uri is required")
		return
	}

	receipt, err := h.ingest.IngestURI(r.Context(), req.GCSURI, owner)
	if err != nil {
		middleware.WriteErr(w, r, err, "Upload rejected")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, receipt)
}

// ListDocuments handles GET /api/documents
func (h *DocumentsHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	documents, err := h.repo.ListDocuments(r.Context(), owner)
	if err != nil {
		middleware.WriteErr(w, r, err, "Failed to list documents")
		return
	}

	views := make([]documentView, 0, len(documents))
	for _, d := range documents {
		views = append(views, viewDocument(d))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"documents": views,
		"count":     len(views),
	})
}

// GetDocument handles GET /api/documents/{id}
func (h *DocumentsHandler) GetDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	doc, err := h.repo.GetDocument(r.Context(), owner, documentID)
	if err != nil {
		if finerr.IsNotFound(err) {
			middleware.WriteError(w, http.StatusNotFound, "Document not found")
			return
		}
		middleware.WriteErr(w, r, err, "Failed to get document")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, viewDocument(doc))
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}. Jobs of other tenants are reported as
// not found.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil || job.Owner != owner {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Owner:      owner,
		DocumentID: query.Get("document_id"),
		Status:     jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		middleware.WriteErr(w, r, err, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
