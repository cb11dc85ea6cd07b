package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

func (s *Store) CategorySpend(ctx context.Context, owner tenant.ID, categories []string) (map[string]float64, error) {
	spent := make(map[string]float64, len(categories))
	if len(categories) == 0 {
		return spent, nil
	}

	q := `SELECT category, SUM(amount) FROM transactions
WHERE user_id = ? AND category IN (` + placeholders(len(categories)) + `)
GROUP BY category`

	args := make([]any, 0, len(categories)+1)
	args = append(args, owner.String())
	for _, c := range categories {
		args = append(args, c)
	}

	err := s.each(ctx, q, args, func(rows *sql.Rows) error {
		var (
			category string
			total    float64
		)
		if err := rows.Scan(&category, &total); err != nil {
			return err
		}
		spent[category] = total
		return nil
	})
	return spent, err
}

func (s *Store) FrequentMerchants(ctx context.Context, owner tenant.ID, moreThan, limit int) ([]domain.MerchantFrequency, error) {
	const q = `SELECT merchant, COUNT(*) AS cnt, SUM(amount) AS total
FROM transactions
WHERE user_id = ?
GROUP BY merchant
HAVING COUNT(*) > ?
ORDER BY cnt DESC, total DESC
LIMIT ?`

	var out []domain.MerchantFrequency
	err := s.each(ctx, q, []any{owner.String(), moreThan, limit}, func(rows *sql.Rows) error {
		var m domain.MerchantFrequency
		if err := rows.Scan(&m.Merchant, &m.Count, &m.Total); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *Store) RecurringCharges(ctx context.Context, owner tenant.ID, amountAbove float64, moreThan, limit int) ([]domain.RecurringCharge, error) {
	const q = `SELECT merchant, amount, COUNT(*) AS cnt
FROM transactions
WHERE user_id = ? AND amount > ?
GROUP BY merchant, amount
HAVING COUNT(*) > ?
ORDER BY cnt DESC, amount DESC
LIMIT ?`

	var out []domain.RecurringCharge
	err := s.each(ctx, q, []any{owner.String(), amountAbove, moreThan, limit}, func(rows *sql.Rows) error {
		var r domain.RecurringCharge
		if err := rows.Scan(&r.Merchant, &r.Amount, &r.Count); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (s *Store) LargestTransactions(ctx context.Context, owner tenant.ID, limit int) ([]*domain.Transaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM transactions
WHERE user_id = ?
ORDER BY amount DESC
LIMIT ?`
	return s.queryTransactions(ctx, q, owner.String(), limit)
}

func (s *Store) CategoryBreakdown(ctx context.Context, owner tenant.ID, filter domain.SpendFilter) ([]domain.CategoryTotal, error) {
	where, args := spendWhere(owner, filter)
	q := `SELECT category, SUM(amount) AS total FROM transactions` + where + `
GROUP BY category
ORDER BY total DESC`

	var out []domain.CategoryTotal
	err := s.each(ctx, q, args, func(rows *sql.Rows) error {
		var c domain.CategoryTotal
		if err := rows.Scan(&c.Category, &c.Total); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func (s *Store) SpendTrend(ctx context.Context, owner tenant.ID, filter domain.SpendFilter) ([]domain.TrendPoint, error) {
	bucket := "date"
	if filter.Monthly {
		bucket = "strftime('%Y-%m', date)"
	}

	where, args := spendWhere(owner, filter)
	q := `SELECT ` + bucket + ` AS period, SUM(amount) AS total FROM transactions` + where + `
GROUP BY period
ORDER BY period ASC`

	var out []domain.TrendPoint
	err := s.each(ctx, q, args, func(rows *sql.Rows) error {
		var p domain.TrendPoint
		if err := rows.Scan(&p.Bucket, &p.Total); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func spendWhere(owner tenant.ID, filter domain.SpendFilter) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{owner.String()}

	if !filter.Since.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, filter.Since.Format(dateLayout))
	}
	if len(filter.Categories) > 0 {
		clauses = append(clauses, "category IN ("+placeholders(len(filter.Categories))+")")
		for _, c := range filter.Categories {
			args = append(args, c)
		}
	}
	return "\nWHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// each runs q on a scoped connection and calls fn for every row.
func (s *Store) each(ctx context.Context, q string, args []any, fn func(rows *sql.Rows) error) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q, args...)
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "running aggregation")
		}
		defer rows.Close()

		for rows.Next() {
			if err := fn(rows); err != nil {
				return finerr.Wrap(err, finerr.CodeStorePersistFailure, "scanning aggregation row")
			}
		}
		if err := rows.Err(); err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "iterating aggregation rows")
		}
		return nil
	})
}
