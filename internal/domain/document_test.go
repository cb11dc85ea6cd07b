package domain_test

import (
	"testing"
	"time"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.DocumentStatus
		want     bool
	}{
		{domain.StatusPending, domain.StatusProcessing, true},
		{domain.StatusPending, domain.StatusFailed, true},
		{domain.StatusProcessing, domain.StatusCompleted, true},
		{domain.StatusProcessing, domain.StatusFailed, true},
		{domain.StatusPending, domain.StatusCompleted, false},
		{domain.StatusProcessing, domain.StatusPending, false},
		{domain.StatusCompleted, domain.StatusFailed, false},
		{domain.StatusFailed, domain.StatusProcessing, false},
		{domain.StatusCompleted, domain.StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, domain.CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, domain.StatusCompleted.Terminal())
	assert.True(t, domain.StatusFailed.Terminal())
	assert.False(t, domain.StatusPending.Terminal())
	assert.False(t, domain.StatusProcessing.Terminal())
}

func TestTransactionVectorFields(t *testing.T) {
	txn := domain.Transaction{
		DocumentID: "doc-1",
		UserID:     "user-1",
		Date:       time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Merchant:   "Tesco",
		Amount:     12.5,
		Currency:   "GBP",
	}

	assert.Equal(t, "doc-1_3", domain.CorrelationID("doc-1", 3))
	assert.Equal(t, "Tesco () on 2024-03-05. Amount: 12.50 GBP", txn.SearchText())

	meta := txn.VectorMetadata()
	assert.Equal(t, domain.UnknownCategory, meta["category"])
	assert.Equal(t, "user-1", meta["user_id"])
	assert.Equal(t, "doc-1", meta["document_id"])
	assert.Equal(t, "12.50", meta["amount"])
	assert.Equal(t, "2024-03-05", meta["date"])
}

func TestBudgetStatus(t *testing.T) {
	zero := domain.BudgetStatus{Category: "Dining", Limit: 0, Spent: 40}
	assert.Equal(t, 0.0, zero.Percent())
	assert.Equal(t, "Dining: 40.00/0.00 (0.0%)", zero.Line())

	half := domain.BudgetStatus{Category: "Groceries", Limit: 200, Spent: 100}
	assert.Equal(t, 50.0, half.Percent())
	assert.Equal(t, 100.0, half.Remaining())
	assert.Equal(t, "Groceries: 100.00/200.00 (50.0%)", half.Line())

	third := domain.BudgetStatus{Limit: 3, Spent: 1}
	assert.Equal(t, 33.3, third.PercentRounded())
}
