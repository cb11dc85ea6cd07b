package pipeline

import (
	"math"
	"strings"

	"github.com/dvloznov/finance-advisor/internal/domain"
)

// normalizeCandidate cleans one model candidate before it becomes a row.
// Structurers are not trusted to have done this already.
func normalizeCandidate(c domain.ExtractedTransaction) domain.ExtractedTransaction {
	c.Date = strings.TrimSpace(c.Date)
	c.Merchant = strings.Join(strings.Fields(c.Merchant), " ")

	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = domain.DefaultCurrency
	}

	c.Category = domain.NormalizeCategory(c.Category)

	if math.IsNaN(c.Amount) || math.IsInf(c.Amount, 0) {
		c.Amount = 0
	}
	return c
}
