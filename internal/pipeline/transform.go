package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/tenant"
)

// buildTransactions converts model candidates into rows owned by owner. The
// index of each candidate fixes its correlation id.
func buildTransactions(ctx context.Context, documentID string, owner tenant.ID, candidates []domain.ExtractedTransaction, now time.Time) []*domain.Transaction {
	log := logger.FromContext(ctx)
	today := truncateToDay(now)

	result := make([]*domain.Transaction, 0, len(candidates))
	for i, c := range candidates {
		c = normalizeCandidate(c)

		date, ok := parseDate(c.Date)
		if !ok {
			log.Debug().Int("index", i).Str("date", c.Date).Msg("unparseable date, using today")
			date = today
		}

		result = append(result, &domain.Transaction{
			DocumentID:    documentID,
			UserID:        owner,
			Date:          date,
			Merchant:      c.Merchant,
			Amount:        c.Amount,
			Currency:      c.Currency,
			Category:      c.Category,
			CorrelationID: domain.CorrelationID(documentID, i),
		})
	}
	return result
}

// parseDate accepts YYYY-MM-DD only.
func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
