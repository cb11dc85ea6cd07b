package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/infra/sqlite"
	"github.com/dvloznov/finance-advisor/internal/tenant"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "finance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedDocument(t *testing.T, s *sqlite.Store, id string, owner tenant.ID, status domain.DocumentStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateDocument(context.Background(), &domain.Document{
		ID:         id,
		Filename:   id + ".pdf",
		UploadDate: now,
		Status:     status,
		Owner:      owner,
		UpdatedAt:  now,
	}))
}

func txn(doc string, owner tenant.ID, idx int, merchant, category string, amount float64, date string) *domain.Transaction {
	d, _ := time.Parse("2006-01-02", date)
	return &domain.Transaction{
		DocumentID:    doc,
		UserID:        owner,
		Date:          d,
		Merchant:      merchant,
		Amount:        amount,
		Currency:      "GBP",
		Category:      category,
		CorrelationID: domain.CorrelationID(doc, idx),
	}
}
