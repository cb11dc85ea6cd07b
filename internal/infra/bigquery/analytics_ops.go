package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

type categoryTotalRow struct {
	Category bigquery.NullString `bigquery:"category"`
	Total    float64             `bigquery:"total"`
}

type merchantFrequencyRow struct {
	Merchant string  `bigquery:"merchant"`
	Count    int64   `bigquery:"cnt"`
	Total    float64 `bigquery:"total"`
}

type recurringRow struct {
	Merchant string  `bigquery:"merchant"`
	Amount   float64 `bigquery:"amount"`
	Count    int64   `bigquery:"cnt"`
}

type trendRow struct {
	Period string  `bigquery:"period"`
	Total  float64 `bigquery:"total"`
}

func (s *Store) CategorySpend(ctx context.Context, owner tenant.ID, categories []string) (map[string]float64, error) {
	spent := make(map[string]float64, len(categories))
	if len(categories) == 0 {
		return spent, nil
	}

	rows, err := readAll[categoryTotalRow](ctx, s.client, "CategorySpend", fmt.Sprintf(`
		SELECT category, CAST(SUM(amount) AS FLOAT64) AS total
		FROM %s
		WHERE user_id = @user_id AND category IN UNNEST(@categories)
		GROUP BY category
	`, s.tableRef(transactionsTable)),
		bigquery.QueryParameter{Name: "user_id", Value: owner.String()},
		bigquery.QueryParameter{Name: "categories", Value: categories},
	)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		spent[r.Category.StringVal] = r.Total
	}
	return spent, nil
}

func (s *Store) FrequentMerchants(ctx context.Context, owner tenant.ID, moreThan, limit int) ([]domain.MerchantFrequency, error) {
	rows, err := readAll[merchantFrequencyRow](ctx, s.client, "FrequentMerchants", fmt.Sprintf(`
		SELECT merchant, COUNT(*) AS cnt, CAST(SUM(amount) AS FLOAT64) AS total
		FROM %s
		WHERE user_id = @user_id
		GROUP BY merchant
		HAVING COUNT(*) > @more_than
		ORDER BY cnt DESC, total DESC
		LIMIT @limit
	`, s.tableRef(transactionsTable)),
		bigquery.QueryParameter{Name: "user_id", Value: owner.String()},
		bigquery.QueryParameter{Name: "more_than", Value: moreThan},
		bigquery.QueryParameter{Name: "limit", Value: limit},
	)
	if err != nil {
		return nil, err
	}

	out := make([]domain.MerchantFrequency, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.MerchantFrequency{Merchant: r.Merchant, Count: int(r.Count), Total: r.Total})
	}
	return out, nil
}

func (s *Store) RecurringCharges(ctx context.Context, owner tenant.ID, amountAbove float64, moreThan, limit int) ([]domain.RecurringCharge, error) {
	rows, err := readAll[recurringRow](ctx, s.client, "RecurringCharges", fmt.Sprintf(`
		SELECT merchant, CAST(amount AS FLOAT64) AS amount, COUNT(*) AS cnt
		FROM %s
		WHERE user_id = @user_id AND amount > @amount_above
		GROUP BY merchant, amount
		HAVING COUNT(*) > @more_than
		ORDER BY cnt DESC, amount DESC
		LIMIT @limit
	`, s.tableRef(transactionsTable)),
		bigquery.QueryParameter{Name: "user_id", Value: owner.String()},
		bigquery.QueryParameter{Name: "amount_above", Value: ratFromFloat(amountAbove)},
		bigquery.QueryParameter{Name: "more_than", Value: moreThan},
		bigquery.QueryParameter{Name: "limit", Value: limit},
	)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RecurringCharge, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RecurringCharge{Merchant: r.Merchant, Amount: r.Amount, Count: int(r.Count)})
	}
	return out, nil
}

func (s *Store) LargestTransactions(ctx context.Context, owner tenant.ID, limit int) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = @user_id
		ORDER BY amount DESC
		LIMIT @limit
	`, transactionColumns, s.tableRef(transactionsTable)),
		bigquery.QueryParameter{Name: "user_id", Value: owner.String()},
		bigquery.QueryParameter{Name: "limit", Value: limit},
	)
}

func (s *Store) CategoryBreakdown(ctx context.Context, owner tenant.ID, filter domain.SpendFilter) ([]domain.CategoryTotal, error) {
	where, params := spendWhere(owner, filter)
	rows, err := readAll[categoryTotalRow](ctx, s.client, "CategoryBreakdown", fmt.Sprintf(`
		SELECT category, CAST(SUM(amount) AS FLOAT64) AS total
		FROM %s
		%s
		GROUP BY category
		ORDER BY total DESC
	`, s.tableRef(transactionsTable), where), params...)
	if err != nil {
		return nil, err
	}

	out := make([]domain.CategoryTotal, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.CategoryTotal{Category: r.Category.StringVal, Total: r.Total})
	}
	return out, nil
}

func (s *Store) SpendTrend(ctx context.Context, owner tenant.ID, filter domain.SpendFilter) ([]domain.TrendPoint, error) {
	bucket := "FORMAT_DATE('%Y-%m-%d', transaction_date)"
	if filter.Monthly {
		bucket = "FORMAT_DATE('%Y-%m', transaction_date)"
	}

	where, params := spendWhere(owner, filter)
	rows, err := readAll[trendRow](ctx, s.client, "SpendTrend", fmt.Sprintf(`
		SELECT %s AS period, CAST(SUM(amount) AS FLOAT64) AS total
		FROM %s
		%s
		GROUP BY period
		ORDER BY period ASC
	`, bucket, s.tableRef(transactionsTable), where), params...)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TrendPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TrendPoint{Bucket: r.Period, Total: r.Total})
	}
	return out, nil
}

func spendWhere(owner tenant.ID, filter domain.SpendFilter) (string, []bigquery.QueryParameter) {
	clauses := []string{"user_id = @user_id"}
	params := []bigquery.QueryParameter{{Name: "user_id", Value: owner.String()}}

	if !filter.Since.IsZero() {
		clauses = append(clauses, "transaction_date >= @since")
		params = append(params, bigquery.QueryParameter{Name: "since", Value: filter.Since.Format(dateFormat)})
	}
	if len(filter.Categories) > 0 {
		clauses = append(clauses, "category IN UNNEST(@categories)")
		params = append(params, bigquery.QueryParameter{Name: "categories", Value: filter.Categories})
	}
	return "WHERE " + strings.Join(clauses, " AND "), params
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// readAll runs a parameterized query and loads every row into T.
func readAll[T any](ctx context.Context, client *bigquery.Client, op, query string, params ...bigquery.QueryParameter) ([]T, error) {
	q := client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, finerr.Wrap(fmt.Errorf("%s: query read: %w", op, err), finerr.CodeStorePersistFailure, "running aggregation")
	}

	var out []T
	for {
		var row T
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, finerr.Wrap(fmt.Errorf("%s: iter next: %w", op, err), finerr.CodeStorePersistFailure, "running aggregation")
		}
		out = append(out, row)
	}
	return out, nil
}
