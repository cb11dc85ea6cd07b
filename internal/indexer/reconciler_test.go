package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/vectorstore"
)

func failedDocs(ids ...string) *MockDocumentRepository {
	return &MockDocumentRepository{ListFailedWithTransactionsFunc: func(context.Context) ([]*domain.Document, error) {
		docs := make([]*domain.Document, len(ids))
		for i, id := range ids {
			docs[i] = &domain.Document{ID: id, Owner: "alice", Status: domain.StatusFailed}
		}
		return docs, nil
	}}
}

func rowsByDocument() *MockTransactionRepository {
	return &MockTransactionRepository{ListTransactionsByDocumentFunc: func(_ context.Context, docID string) ([]*domain.Transaction, error) {
		return sampleTransactions(docID, 3), nil
	}}
}

func TestSweep_ReportsOrphans(t *testing.T) {
	vectors := &MockVectorStore{
		MissingFunc: func(_ context.Context, ids []string) ([]string, error) {
			if ids[0] == "doc1_0" {
				return []string{"doc1_1", "doc1_2"}, nil
			}
			return nil, nil
		},
		UpsertFunc: func(context.Context, []vectorstore.Record) error {
			t.Fatal("report-only sweep must not write")
			return nil
		},
	}

	r := NewReconciler(failedDocs("doc1", "doc2"), rowsByDocument(), vectors, false)
	report, err := r.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Documents, 1)
	assert.Equal(t, "doc1", report.Documents[0].DocumentID)
	assert.Equal(t, 3, report.Documents[0].Transactions)
	assert.Equal(t, []string{"doc1_1", "doc1_2"}, report.Documents[0].MissingVectors)
	assert.False(t, report.Documents[0].Repaired)
}

func TestSweep_RepairRestagesMissingRecords(t *testing.T) {
	var restaged []vectorstore.Record
	vectors := &MockVectorStore{
		MissingFunc: func(context.Context, []string) ([]string, error) {
			return []string{"doc1_2"}, nil
		},
		UpsertFunc: func(_ context.Context, records []vectorstore.Record) error {
			restaged = records
			return nil
		},
	}

	r := NewReconciler(failedDocs("doc1"), rowsByDocument(), vectors, true)
	report, err := r.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Documents, 1)
	assert.True(t, report.Documents[0].Repaired)
	require.Len(t, restaged, 1)
	assert.Equal(t, "doc1_2", restaged[0].ID)
	assert.Equal(t, "alice", restaged[0].Metadata[vectorstore.MetadataUserID])
}

func TestSweep_ContinuesPastBrokenDocument(t *testing.T) {
	txs := &MockTransactionRepository{ListTransactionsByDocumentFunc: func(_ context.Context, docID string) ([]*domain.Transaction, error) {
		if docID == "broken" {
			return nil, errors.New("timeout")
		}
		return sampleTransactions(docID, 1), nil
	}}
	vectors := &MockVectorStore{MissingFunc: func(_ context.Context, ids []string) ([]string, error) {
		return ids, nil
	}}

	report, err := NewReconciler(failedDocs("broken", "doc2"), txs, vectors, false).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Documents, 1)
	assert.Equal(t, "doc2", report.Documents[0].DocumentID)
}

func TestSweep_ListFailure(t *testing.T) {
	docs := &MockDocumentRepository{ListFailedWithTransactionsFunc: func(context.Context) ([]*domain.Document, error) {
		return nil, errors.New("unavailable")
	}}
	_, err := NewReconciler(docs, rowsByDocument(), &MockVectorStore{}, false).Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweep_IgnoresUnknownMissingIDs(t *testing.T) {
	var restaged []vectorstore.Record
	vectors := &MockVectorStore{
		MissingFunc: func(context.Context, []string) ([]string, error) {
			return []string{"other_9", "doc1_1"}, nil
		},
		UpsertFunc: func(_ context.Context, records []vectorstore.Record) error {
			restaged = records
			return nil
		},
	}

	r := NewReconciler(failedDocs("doc1"), rowsByDocument(), vectors, true)
	report, err := r.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Documents, 1)
	assert.Equal(t, []string{"doc1_1"}, report.Documents[0].MissingVectors)
	require.Len(t, restaged, 1)
	assert.Equal(t, "doc1_1", restaged[0].ID)
}

func TestSweep_OnlyUnknownIDsIsClean(t *testing.T) {
	vectors := &MockVectorStore{
		MissingFunc: func(context.Context, []string) ([]string, error) {
			return []string{"stray"}, nil
		},
		UpsertFunc: func(context.Context, []vectorstore.Record) error {
			t.Fatal("nothing to restage")
			return nil
		},
	}

	report, err := NewReconciler(failedDocs("doc1"), rowsByDocument(), vectors, true).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Documents)
}
