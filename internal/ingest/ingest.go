// Package ingest accepts uploads: it validates them, records a pending
// document, and hands the work to the ingestion queue without waiting for it.
package ingest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/gcsuploader"
	"github.com/dvloznov/finance-advisor/internal/jobs"
	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/pipeline"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

var pdfMagic = []byte("%PDF-")

// Upload is one file offered for ingestion.
type Upload struct {
	Filename string
	Content  []byte
}

// Receipt acknowledges an accepted upload. Processing happens later.
type Receipt struct {
	Accepted   bool   `json:"accepted"`
	DocumentID string `json:"document_id"`
	JobID      string `json:"job_id"`
}

// Documents is the part of the document repository ingest writes through.
type Documents interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	TransitionDocument(ctx context.Context, documentID string, from, to domain.DocumentStatus, reason string) error
}

type Config struct {
	MaxUploadBytes int64
	JobTimeout     time.Duration
}

type Service struct {
	documents Documents
	publisher jobs.Publisher
	archive   gcsuploader.Archiver
	cfg       Config
	now       func() time.Time
}

// NewService creates the ingest service. archive may be nil, in which case
// raw uploads are not archived and gs:// ingestion is unavailable.
func NewService(documents Documents, publisher jobs.Publisher, archive gcsuploader.Archiver, cfg Config) *Service {
	return &Service{
		documents: documents,
		publisher: publisher,
		archive:   archive,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates up, records it as a pending document owned by owner and
// enqueues it. A full queue fails the document and returns an overloaded error.
func (s *Service) Ingest(ctx context.Context, up Upload, owner tenant.ID) (Receipt, error) {
	if err := owner.Validate(); err != nil {
		return Receipt{}, err
	}

	filename, err := s.validate(up)
	if err != nil {
		return Receipt{}, err
	}

	ctx = logger.WithTenant(ctx, owner.String())
	log := logger.FromContext(ctx)

	doc := &domain.Document{
		ID:         uuid.NewString(),
		Filename:   filename,
		UploadDate: s.now(),
		Status:     domain.StatusPending,
		Owner:      owner,
	}

	if s.archive != nil {
		uri, err := s.archive.Put(ctx, owner.String(), doc.ID, filename, up.Content)
		if err != nil {
			log.Warn().Err(err).Str("document_id", doc.ID).Msg("archiving upload failed, continuing without archive")
		} else {
			doc.StorageURI = uri
		}
	}

	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		return Receipt{}, finerr.Wrap(err, finerr.CodeStorePersistFailure, "creating document")
	}

	job := &jobs.IngestJob{
		DocumentID: doc.ID,
		Owner:      owner,
		Filename:   filename,
		Content:    up.Content,
	}
	if err := s.publisher.PublishIngest(ctx, job); err != nil {
		if ferr := s.documents.TransitionDocument(context.WithoutCancel(ctx), doc.ID, domain.StatusPending, domain.StatusFailed, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("document_id", doc.ID).Msg("recording rejected upload")
		}
		log.Warn().Err(err).Str("document_id", doc.ID).Msg("upload rejected by queue")
		return Receipt{DocumentID: doc.ID}, err
	}

	log.Info().Str("document_id", doc.ID).Str("job_id", job.JobID).Str("filename", filename).Int("bytes", len(up.Content)).Msg("upload accepted")
	return Receipt{Accepted: true, DocumentID: doc.ID, JobID: job.JobID}, nil
}

// IngestURI fetches a gs:// object and ingests it like an upload.
func (s *Service) IngestURI(ctx context.Context, uri string, owner tenant.ID) (Receipt, error) {
	if s.archive == nil {
		return Receipt{}, finerr.New(finerr.CodeIngestUploadInvalid, "gs:// ingestion needs a configured GCS bucket")
	}
	if _, _, err := gcsuploader.ParseURI(uri); err != nil {
		return Receipt{}, finerr.Wrap(err, finerr.CodeIngestUploadInvalid, "invalid storage URI")
	}

	content, err := s.archive.Fetch(ctx, uri)
	if err != nil {
		return Receipt{}, finerr.Wrap(err, finerr.CodeIngestUploadInvalid, "fetching "+uri)
	}
	return s.Ingest(ctx, Upload{Filename: gcsuploader.FilenameFromURI(uri), Content: content}, owner)
}

func (s *Service) validate(up Upload) (string, error) {
	filename := filepath.Base(strings.TrimSpace(up.Filename))
	if filename == "." || filename == string(filepath.Separator) || filename == "" {
		return "", finerr.New(finerr.CodeIngestUploadInvalid, "filename is required")
	}
	if len(up.Content) == 0 {
		return "", finerr.New(finerr.CodeIngestUploadInvalid, "file is empty", finerr.Field("filename", filename))
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(up.Content)) > s.cfg.MaxUploadBytes {
		return "", finerr.New(finerr.CodeIngestUploadInvalid, "file exceeds the upload limit",
			finerr.Field("filename", filename), finerr.Field("limit_bytes", s.cfg.MaxUploadBytes))
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return "", finerr.New(finerr.CodeIngestUploadInvalid, "only PDF files are accepted", finerr.Field("filename", filename))
	}
	if !bytes.HasPrefix(up.Content, pdfMagic) {
		return "", finerr.New(finerr.CodeIngestUploadInvalid, "file is not a PDF", finerr.Field("filename", filename))
	}
	return filename, nil
}

// Processor is what the job handler runs for each job.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) error
}

// Handler adapts the pipeline to the queue. Each job runs under JobTimeout.
func (s *Service) Handler(p Processor) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.IngestJob) error {
		if s.cfg.JobTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
			defer cancel()
		}
		return p.Process(ctx, pipeline.Input{
			DocumentID: job.DocumentID,
			Owner:      job.Owner,
			Filename:   job.Filename,
			Content:    job.Content,
		})
	}
}
