package domain

import (
	"fmt"
	"time"

	"github.com/dvloznov/finance-advisor/internal/tenant"
)

// UnknownCategory is written to vector metadata when a record has no category.
const UnknownCategory = "Unknown"

// Transaction is one normalized transaction extracted from a document.
// Rows are immutable once written; only the pipeline creates them.
type Transaction struct {
	ID            string
	DocumentID    string
	UserID        tenant.ID // denormalized owner, used for tenant scoping
	Date          time.Time
	Merchant      string
	Amount        float64
	Currency      string
	Category      string
	CorrelationID string // id of the matching vector record, "{document_id}_{index}"
	CreatedAt     time.Time
}

// CorrelationID names the vector record staged for the index-th record of a document.
func CorrelationID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}

// SearchText renders the text embedded for semantic search.
func (t Transaction) SearchText() string {
	return fmt.Sprintf("%s (%s) on %s. Amount: %.2f %s",
		t.Merchant, t.Category, t.Date.Format("2006-01-02"), t.Amount, t.Currency)
}

// VectorMetadata returns the metadata stored alongside the vector record.
// user_id always carries the owning tenant.
func (t Transaction) VectorMetadata() map[string]string {
	category := t.Category
	if category == "" {
		category = UnknownCategory
	}
	return map[string]string{
		"merchant":    t.Merchant,
		"category":    category,
		"amount":      fmt.Sprintf("%.2f", t.Amount),
		"date":        t.Date.Format("2006-01-02"),
		"user_id":     t.UserID.String(),
		"document_id": t.DocumentID,
	}
}
