package indexer

import (
	"context"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	"github.com/dvloznov/finance-advisor/internal/vectorstore"
)

type MockTransactionRepository struct {
	InsertTransactionsFunc         func(ctx context.Context, rows []*domain.Transaction) error
	ListTransactionsByDocumentFunc func(ctx context.Context, documentID string) ([]*domain.Transaction, error)
}

func (m *MockTransactionRepository) InsertTransactions(ctx context.Context, rows []*domain.Transaction) error {
	return m.InsertTransactionsFunc(ctx, rows)
}

func (m *MockTransactionRepository) ListTransactionsByDocument(ctx context.Context, documentID string) ([]*domain.Transaction, error) {
	return m.ListTransactionsByDocumentFunc(ctx, documentID)
}

type MockDocumentRepository struct {
	ListFailedWithTransactionsFunc func(ctx context.Context) ([]*domain.Document, error)
}

func (m *MockDocumentRepository) CreateDocument(context.Context, *domain.Document) error {
	panic("unexpected CreateDocument")
}

func (m *MockDocumentRepository) TransitionDocument(context.Context, string, domain.DocumentStatus, domain.DocumentStatus, string) error {
	panic("reconciler must not change document status")
}

func (m *MockDocumentRepository) GetDocument(context.Context, tenant.ID, string) (*domain.Document, error) {
	panic("unexpected GetDocument")
}

func (m *MockDocumentRepository) ListDocuments(context.Context, tenant.ID) ([]*domain.Document, error) {
	panic("unexpected ListDocuments")
}

func (m *MockDocumentRepository) ListFailedWithTransactions(ctx context.Context) ([]*domain.Document, error) {
	return m.ListFailedWithTransactionsFunc(ctx)
}

type MockVectorStore struct {
	UpsertFunc  func(ctx context.Context, records []vectorstore.Record) error
	QueryFunc   func(ctx context.Context, text string, k int, filter vectorstore.Filter) ([]vectorstore.Match, error)
	MissingFunc func(ctx context.Context, ids []string) ([]string, error)
}

func (m *MockVectorStore) Upsert(ctx context.Context, records []vectorstore.Record) error {
	return m.UpsertFunc(ctx, records)
}

func (m *MockVectorStore) Query(ctx context.Context, text string, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	return m.QueryFunc(ctx, text, k, filter)
}

func (m *MockVectorStore) Missing(ctx context.Context, ids []string) ([]string, error) {
	return m.MissingFunc(ctx, ids)
}

func (m *MockVectorStore) Close() error { return nil }
