package bigquery

import (
	"math/big"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	DocumentID    string `bigquery:"document_id"`    // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Merchant string   `bigquery:"merchant"` // REQUIRED
	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED

	Category      bigquery.NullString `bigquery:"category"`       // NULLABLE
	CorrelationID bigquery.NullString `bigquery:"correlation_id"` // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

func transactionRowFrom(t *domain.Transaction) *TransactionRow {
	return &TransactionRow{
		TransactionID:   t.ID,
		DocumentID:      t.DocumentID,
		UserID:          t.UserID.String(),
		TransactionDate: civil.DateOf(t.Date),
		Merchant:        t.Merchant,
		Amount:          ratFromFloat(t.Amount),
		Currency:        t.Currency,
		Category:        bigquery.NullString{StringVal: t.Category, Valid: t.Category != ""},
		CorrelationID:   bigquery.NullString{StringVal: t.CorrelationID, Valid: t.CorrelationID != ""},
		CreatedTS:       t.CreatedAt,
	}
}

func (r *TransactionRow) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:            r.TransactionID,
		DocumentID:    r.DocumentID,
		UserID:        tenant.ID(r.UserID),
		Date:          r.TransactionDate.In(time.UTC),
		Merchant:      r.Merchant,
		Amount:        floatFromRat(r.Amount),
		Currency:      r.Currency,
		Category:      r.Category.StringVal,
		CorrelationID: r.CorrelationID.StringVal,
		CreatedAt:     r.CreatedTS,
	}
}

// NUMERIC holds 9 decimal digits; amounts are rounded to cents first.
func ratFromFloat(f float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'f', 2, 64))
	if !ok {
		return new(big.Rat)
	}
	return r
}

func floatFromRat(r *big.Rat) float64 {
	if r == nil {
		return 0
	}
	f, _ := r.Float64()
	return f
}
