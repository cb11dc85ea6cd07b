package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// UpsertBudget creates the budget or replaces the amount of the existing one
// for the same (user, category).
func (s *Store) UpsertBudget(ctx context.Context, b *domain.Budget) error {
	if b == nil || b.UserID == "" || strings.TrimSpace(b.Category) == "" {
		return finerr.New(finerr.CodeStoreInvalidInput, "budget owner and category are required")
	}
	if b.Amount < 0 {
		return finerr.New(finerr.CodeStoreInvalidInput, "budget amount must not be negative")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.UpdatedAt = nowUTC()

	const q = `INSERT INTO budgets (budget_id, user_id, category, amount, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id, category) DO UPDATE SET
	amount = excluded.amount,
	updated_at = excluded.updated_at
RETURNING budget_id`

	return s.withConn(ctx, func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, q, b.ID, b.UserID.String(), b.Category, b.Amount, formatTime(b.UpdatedAt)).Scan(&b.ID)
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "upserting budget",
				finerr.FieldUserID(b.UserID.String()), finerr.Field("category", b.Category))
		}
		return nil
	})
}

func (s *Store) ListBudgets(ctx context.Context, owner tenant.ID) ([]*domain.Budget, error) {
	const q = `SELECT budget_id, user_id, category, amount, updated_at FROM budgets WHERE user_id = ? ORDER BY category`

	var out []*domain.Budget
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q, owner.String())
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "listing budgets")
		}
		defer rows.Close()

		for rows.Next() {
			var (
				b               domain.Budget
				user, updatedAt string
			)
			if err := rows.Scan(&b.ID, &user, &b.Category, &b.Amount, &updatedAt); err != nil {
				return finerr.Wrap(err, finerr.CodeStorePersistFailure, "scanning budget")
			}
			b.UserID = tenant.ID(user)
			b.UpdatedAt = parseTime(updatedAt)
			out = append(out, &b)
		}
		return rows.Err()
	})
	return out, err
}
