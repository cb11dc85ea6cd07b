package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/pipeline"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

type transition struct {
	From, To domain.DocumentStatus
	Reason   string
}

type MockDocuments struct {
	mu                     sync.Mutex
	Transitions            []transition
	TransitionDocumentFunc func(ctx context.Context, documentID string, from, to domain.DocumentStatus, reason string) error
}

func (m *MockDocuments) TransitionDocument(ctx context.Context, documentID string, from, to domain.DocumentStatus, reason string) error {
	m.mu.Lock()
	m.Transitions = append(m.Transitions, transition{From: from, To: to, Reason: reason})
	m.mu.Unlock()
	if m.TransitionDocumentFunc != nil {
		return m.TransitionDocumentFunc(ctx, documentID, from, to, reason)
	}
	return nil
}

func (m *MockDocuments) statuses() []domain.DocumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DocumentStatus, 0, len(m.Transitions))
	for _, t := range m.Transitions {
		out = append(out, t.To)
	}
	return out
}

type MockExtractor struct {
	ExtractTextFunc func(ctx context.Context, content []byte) (string, error)
}

func (m *MockExtractor) ExtractText(ctx context.Context, content []byte) (string, error) {
	return m.ExtractTextFunc(ctx, content)
}

type MockStructurer struct {
	StructureFunc func(ctx context.Context, text string) (domain.Extraction, error)
}

func (m *MockStructurer) Structure(ctx context.Context, text string) (domain.Extraction, error) {
	return m.StructureFunc(ctx, text)
}

type MockIndexer struct {
	IndexFunc func(ctx context.Context, txs []*domain.Transaction) error
}

func (m *MockIndexer) Index(ctx context.Context, txs []*domain.Transaction) error {
	return m.IndexFunc(ctx, txs)
}

var fixedNow = time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC)

func newPipeline(docs *MockDocuments, ext *MockExtractor, st *MockStructurer, idx *MockIndexer, stepTimeout time.Duration) *pipeline.Pipeline {
	return pipeline.NewIngestionPipeline(pipeline.Deps{
		Documents:   docs,
		Extractor:   ext,
		Structurer:  st,
		Indexer:     idx,
		StepTimeout: stepTimeout,
		Now:         func() time.Time { return fixedNow },
	})
}

func input() pipeline.Input {
	return pipeline.Input{DocumentID: "doc1", Owner: "alice", Filename: "march.pdf", Content: []byte("%PDF-1.7")}
}

func okExtractor() *MockExtractor {
	return &MockExtractor{ExtractTextFunc: func(context.Context, []byte) (string, error) {
		return "statement text", nil
	}}
}

func twoCandidates() *MockStructurer {
	return &MockStructurer{StructureFunc: func(context.Context, string) (domain.Extraction, error) {
		return domain.Extraction{
			Transactions: []domain.ExtractedTransaction{
				{Date: "2024-03-01", Merchant: "Tesco", Amount: 12.5, Currency: "GBP", Category: "groceries"},
				{Date: "yesterday", Merchant: "Netflix", Amount: 15.99, Category: "Subscription"},
			},
			Summary: "March",
		}, nil
	}}
}

func TestProcess_Success(t *testing.T) {
	docs := &MockDocuments{}
	var indexed []*domain.Transaction
	idx := &MockIndexer{IndexFunc: func(_ context.Context, txs []*domain.Transaction) error {
		indexed = txs
		return nil
	}}

	err := newPipeline(docs, okExtractor(), twoCandidates(), idx, time.Second).Process(context.Background(), input())
	require.NoError(t, err)

	assert.Equal(t, []domain.DocumentStatus{domain.StatusProcessing, domain.StatusCompleted}, docs.statuses())

	require.Len(t, indexed, 2)
	assert.Equal(t, "doc1_0", indexed[0].CorrelationID)
	assert.Equal(t, "doc1_1", indexed[1].CorrelationID)
	for _, tx := range indexed {
		assert.Equal(t, "alice", tx.UserID.String())
		assert.Equal(t, "doc1", tx.DocumentID)
	}
	assert.Equal(t, "Groceries", indexed[0].Category)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), indexed[0].Date)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), indexed[1].Date, "unparseable date falls back to today")
	assert.Equal(t, "USD", indexed[1].Currency)
}

func TestProcess_ExtractionFailureIsNotFatal(t *testing.T) {
	docs := &MockDocuments{}
	ext := &MockExtractor{ExtractTextFunc: func(context.Context, []byte) (string, error) {
		return "", errors.New("corrupt pdf")
	}}
	st := &MockStructurer{StructureFunc: func(context.Context, string) (domain.Extraction, error) {
		t.Fatal("structurer must not run on empty text")
		return domain.Extraction{}, nil
	}}
	var indexedCount = -1
	idx := &MockIndexer{IndexFunc: func(_ context.Context, txs []*domain.Transaction) error {
		indexedCount = len(txs)
		return nil
	}}

	require.NoError(t, newPipeline(docs, ext, st, idx, time.Second).Process(context.Background(), input()))
	assert.Equal(t, 0, indexedCount)
	assert.Equal(t, []domain.DocumentStatus{domain.StatusProcessing, domain.StatusCompleted}, docs.statuses())
}

func TestProcess_StructuringFailureIsNotFatal(t *testing.T) {
	docs := &MockDocuments{}
	st := &MockStructurer{StructureFunc: func(context.Context, string) (domain.Extraction, error) {
		return domain.Extraction{}, finerr.New(finerr.CodePipelineStructFailure, "bad json")
	}}
	idx := &MockIndexer{IndexFunc: func(_ context.Context, txs []*domain.Transaction) error {
		assert.Empty(t, txs)
		return nil
	}}

	require.NoError(t, newPipeline(docs, okExtractor(), st, idx, time.Second).Process(context.Background(), input()))
	assert.Equal(t, domain.StatusCompleted, docs.statuses()[1])
}

func TestProcess_IndexFailureMarksFailed(t *testing.T) {
	docs := &MockDocuments{}
	idx := &MockIndexer{IndexFunc: func(context.Context, []*domain.Transaction) error {
		return finerr.New(finerr.CodeVectorWriteFailure, "vector store down")
	}}

	err := newPipeline(docs, okExtractor(), twoCandidates(), idx, time.Second).Process(context.Background(), input())
	require.Error(t, err)
	assert.True(t, finerr.HasCode(err, finerr.CodeVectorWriteFailure))

	require.Len(t, docs.Transitions, 2)
	last := docs.Transitions[1]
	assert.Equal(t, domain.StatusProcessing, last.From)
	assert.Equal(t, domain.StatusFailed, last.To)
	assert.Contains(t, last.Reason, "vector store down")
}

func TestProcess_StepTimeoutMarksFailed(t *testing.T) {
	docs := &MockDocuments{}
	idx := &MockIndexer{IndexFunc: func(ctx context.Context, _ []*domain.Transaction) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	err := newPipeline(docs, okExtractor(), twoCandidates(), idx, 20*time.Millisecond).Process(context.Background(), input())
	require.Error(t, err)
	assert.True(t, finerr.HasCode(err, finerr.CodePipelineTimeout))
	assert.Equal(t, domain.StatusFailed, docs.statuses()[len(docs.statuses())-1])
}

func TestProcess_ExtractionTimeoutMarksFailed(t *testing.T) {
	docs := &MockDocuments{}
	ext := &MockExtractor{ExtractTextFunc: func(ctx context.Context, _ []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	idx := &MockIndexer{IndexFunc: func(context.Context, []*domain.Transaction) error {
		t.Fatal("nothing may be indexed after a timed out extraction")
		return nil
	}}

	err := newPipeline(docs, ext, twoCandidates(), idx, 20*time.Millisecond).Process(context.Background(), input())
	require.Error(t, err)
	assert.True(t, finerr.HasCode(err, finerr.CodePipelineTimeout))
	assert.Equal(t, []domain.DocumentStatus{domain.StatusProcessing, domain.StatusFailed}, docs.statuses())
}

func TestProcess_StructuringTimeoutMarksFailed(t *testing.T) {
	docs := &MockDocuments{}
	st := &MockStructurer{StructureFunc: func(context.Context, string) (domain.Extraction, error) {
		return domain.Extraction{}, finerr.New(finerr.CodeProviderTimeout, "model call timed out")
	}}
	idx := &MockIndexer{IndexFunc: func(context.Context, []*domain.Transaction) error {
		t.Fatal("nothing may be indexed after a timed out structuring call")
		return nil
	}}

	err := newPipeline(docs, okExtractor(), st, idx, time.Second).Process(context.Background(), input())
	require.Error(t, err)
	assert.True(t, finerr.IsTimeout(err))
	assert.Equal(t, []domain.DocumentStatus{domain.StatusProcessing, domain.StatusFailed}, docs.statuses())
}

func TestProcess_CancelledJobStillRecordsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	docs := &MockDocuments{TransitionDocumentFunc: func(ctx context.Context, _ string, _, to domain.DocumentStatus, _ string) error {
		if to == domain.StatusFailed {
			return ctx.Err()
		}
		return nil
	}}
	idx := &MockIndexer{IndexFunc: func(context.Context, []*domain.Transaction) error {
		cancel()
		return context.Canceled
	}}

	err := newPipeline(docs, okExtractor(), twoCandidates(), idx, time.Second).Process(ctx, input())
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, docs.statuses()[len(docs.statuses())-1])
}

func TestProcess_ClaimConflict(t *testing.T) {
	docs := &MockDocuments{TransitionDocumentFunc: func(_ context.Context, _ string, from, _ domain.DocumentStatus, _ string) error {
		if from == domain.StatusPending {
			return finerr.New(finerr.CodeStoreTransitionConflict, "document is not pending")
		}
		return nil
	}}
	idx := &MockIndexer{IndexFunc: func(context.Context, []*domain.Transaction) error {
		t.Fatal("nothing may be indexed for an unclaimed document")
		return nil
	}}

	err := newPipeline(docs, okExtractor(), twoCandidates(), idx, time.Second).Process(context.Background(), input())
	assert.True(t, finerr.IsConflict(err))
}

func TestProcess_RequiresOwner(t *testing.T) {
	docs := &MockDocuments{}
	in := input()
	in.Owner = ""

	err := newPipeline(docs, okExtractor(), twoCandidates(), &MockIndexer{}, time.Second).Process(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document has no owner")

	require.Len(t, docs.Transitions, 1)
	assert.Equal(t, domain.StatusPending, docs.Transitions[0].From)
	assert.Equal(t, domain.StatusFailed, docs.Transitions[0].To)
}
