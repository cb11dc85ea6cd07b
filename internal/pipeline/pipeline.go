// Package pipeline turns an uploaded document into indexed transactions:
// extraction, structuring, dual-store indexing, terminal status. It runs
// detached from the request that accepted the upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// Input identifies one accepted upload.
type Input struct {
	DocumentID string
	Owner      tenant.ID
	Filename   string
	Content    []byte
}

// Pipeline executes a sequence of steps in order and records exactly one
// terminal status per document.
type Pipeline struct {
	steps       []PipelineStep
	documents   DocumentTransitioner
	stepTimeout time.Duration
}

// NewPipeline creates a pipeline with the given steps. documents records the
// failed status when a step errors.
func NewPipeline(documents DocumentTransitioner, stepTimeout time.Duration, steps ...PipelineStep) *Pipeline {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	return &Pipeline{steps: steps, documents: documents, stepTimeout: stepTimeout}
}

// Deps are the capabilities the standard ingestion pipeline needs.
type Deps struct {
	Documents   DocumentTransitioner
	Extractor   TextExtractor
	Structurer  Structurer
	Indexer     Indexer
	StepTimeout time.Duration
	Now         func() time.Time
}

// NewIngestionPipeline creates the standard six-step ingestion pipeline.
func NewIngestionPipeline(deps Deps) *Pipeline {
	return NewPipeline(deps.Documents, deps.StepTimeout,
		&MarkProcessingStep{Documents: deps.Documents},
		&ExtractTextStep{Extractor: deps.Extractor},
		&StructureStep{Structurer: deps.Structurer},
		&BuildRecordsStep{Now: deps.Now},
		&IndexDualStoreStep{Indexer: deps.Indexer},
		&MarkCompletedStep{Documents: deps.Documents},
	)
}

// Process runs the pipeline for one document. On failure the document is
// moved to failed and the error is returned for the job record only.
func (p *Pipeline) Process(ctx context.Context, in Input) error {
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).With().
		Str("document_id", in.DocumentID).
		Str("user_id", in.Owner.String()).
		Logger())
	log := logger.FromContext(ctx)

	state := &PipelineState{
		DocumentID: in.DocumentID,
		Owner:      in.Owner,
		Filename:   in.Filename,
		Content:    in.Content,
		Status:     domain.StatusPending,
	}

	if err := in.Owner.Validate(); err != nil {
		err = finerr.Wrap(err, finerr.CodeIngestUploadInvalid, "document has no owner", finerr.FieldDocumentID(in.DocumentID))
		log.Error().Err(err).Msg("document rejected")
		p.markFailed(ctx, state, err)
		return err
	}

	start := time.Now()
	if err := p.Execute(ctx, state); err != nil {
		log.Error().Err(err).Str("status", string(state.Status)).Msg("document processing failed")
		p.markFailed(ctx, state, err)
		return err
	}

	log.Info().
		Int("transactions", len(state.Transactions)).
		Dur("elapsed", time.Since(start)).
		Msg("document processed")
	return nil
}

// Execute runs all steps sequentially, each under its own deadline.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := p.runStep(ctx, step, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

func (p *Pipeline) runStep(ctx context.Context, step PipelineStep, state *PipelineState) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	defer cancel()

	log := logger.FromContext(ctx)
	log.Debug().Str("step", step.Name()).Msg("step started")

	err := step.Execute(stepCtx, state)
	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && !finerr.IsTimeout(err) {
		return finerr.Wrap(err, finerr.CodePipelineTimeout, "step deadline exceeded", finerr.Field("step", step.Name()))
	}
	return err
}

func (p *Pipeline) markFailed(ctx context.Context, state *PipelineState, cause error) {
	if state.Status.Terminal() {
		return
	}

	// The job context may already be done; the failed status must still land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	reason := cause.Error()
	if len(reason) > maxFailureReason {
		reason = reason[:maxFailureReason]
	}

	log := logger.FromContext(ctx)
	if err := p.documents.TransitionDocument(writeCtx, state.DocumentID, state.Status, domain.StatusFailed, reason); err != nil {
		log.Error().Err(err).Str("from", string(state.Status)).Msg("recording failed status")
		return
	}
	state.Status = domain.StatusFailed
}
