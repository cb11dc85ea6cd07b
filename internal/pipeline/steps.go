package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	DocumentID string
	Owner      tenant.ID
	Filename   string
	Content    []byte

	// Status is the last status this run wrote for the document.
	Status domain.DocumentStatus

	Text         string
	Extraction   domain.Extraction
	Transactions []*domain.Transaction
}

// Step 1: MarkProcessingStep claims the pending document.
type MarkProcessingStep struct {
	Documents DocumentTransitioner
}

func (s *MarkProcessingStep) Name() string { return "mark_processing" }

func (s *MarkProcessingStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := s.Documents.TransitionDocument(ctx, state.DocumentID, domain.StatusPending, domain.StatusProcessing, ""); err != nil {
		return err
	}
	state.Status = domain.StatusProcessing
	return nil
}

// Step 2: ExtractTextStep reads the document text. A failed extraction
// continues with empty text; running out of time fails the step.
type ExtractTextStep struct {
	Extractor TextExtractor
}

func (s *ExtractTextStep) Name() string { return "extract_text" }

func (s *ExtractTextStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	text, err := s.Extractor.ExtractText(ctx, state.Content)
	if err != nil && outOfTime(ctx, err) {
		return err
	}
	if err != nil {
		log.Warn().Err(err).Msg("text extraction failed, continuing with empty text")
		text = ""
	}
	state.Text = text
	// The raw bytes are not needed past this point.
	state.Content = nil

	log.Debug().Int("text_bytes", len(text)).Msg("text extracted")
	return nil
}

// Step 3: StructureStep asks the structuring capability for candidates. A
// failed call continues with no candidates; running out of time fails the
// step.
type StructureStep struct {
	Structurer Structurer
}

func (s *StructureStep) Name() string { return "structure" }

func (s *StructureStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	if state.Text == "" {
		state.Extraction = domain.Extraction{}
		return nil
	}

	extraction, err := s.Structurer.Structure(ctx, state.Text)
	if err != nil && outOfTime(ctx, err) {
		return err
	}
	if err != nil {
		log.Warn().Err(err).Msg("structuring failed, continuing with no transactions")
		extraction = domain.Extraction{}
	}
	state.Extraction = extraction

	log.Debug().Int("candidates", len(extraction.Transactions)).Str("summary", extraction.Summary).Msg("text structured")
	return nil
}

// outOfTime separates a deadline or cancellation from a capability that
// failed on its own.
func outOfTime(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || finerr.IsTimeout(err)
}

// Step 4: BuildRecordsStep turns candidates into transaction rows owned by
// the document's tenant.
type BuildRecordsStep struct {
	Now func() time.Time
}

func (s *BuildRecordsStep) Name() string { return "build_records" }

func (s *BuildRecordsStep) Execute(ctx context.Context, state *PipelineState) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	state.Transactions = buildTransactions(ctx, state.DocumentID, state.Owner, state.Extraction.Transactions, now())
	return nil
}

// Step 5: IndexDualStoreStep commits rows and then vector records.
type IndexDualStoreStep struct {
	Indexer Indexer
}

func (s *IndexDualStoreStep) Name() string { return "index_dual_store" }

func (s *IndexDualStoreStep) Execute(ctx context.Context, state *PipelineState) error {
	return s.Indexer.Index(ctx, state.Transactions)
}

// Step 6: MarkCompletedStep records success.
type MarkCompletedStep struct {
	Documents DocumentTransitioner
}

func (s *MarkCompletedStep) Name() string { return "mark_completed" }

func (s *MarkCompletedStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := s.Documents.TransitionDocument(ctx, state.DocumentID, domain.StatusProcessing, domain.StatusCompleted, ""); err != nil {
		return err
	}
	state.Status = domain.StatusCompleted
	return nil
}
