package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

type BudgetRow struct {
	BudgetID  string    `bigquery:"budget_id"`
	UserID    string    `bigquery:"user_id"`
	Category  string    `bigquery:"category"`
	Amount    *big.Rat  `bigquery:"amount"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

// UpsertBudget merges on (user_id, category) so a category never has two budgets.
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
	b.UpdatedAt = time.Now().UTC()

	q := s.client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @budget_id AS budget_id, @user_id AS user_id, @category AS category,
		              @amount AS amount, @updated_ts AS updated_ts) S
		ON T.user_id = S.user_id AND T.category = S.category
		WHEN MATCHED THEN
		  UPDATE SET amount = S.amount, updated_ts = S.updated_ts
		WHEN NOT MATCHED THEN
		  INSERT (budget_id, user_id, category, amount, updated_ts)
		  VALUES (S.budget_id, S.user_id, S.category, S.amount, S.updated_ts)
	`, s.tableRef(budgetsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "budget_id", Value: b.ID},
		{Name: "user_id", Value: b.UserID.String()},
		{Name: "category", Value: b.Category},
		{Name: "amount", Value: ratFromFloat(b.Amount)},
		{Name: "updated_ts", Value: b.UpdatedAt},
	}

	if _, err := runDML(ctx, q); err != nil {
		return finerr.Wrap(fmt.Errorf("UpsertBudget: %w", err), finerr.CodeStorePersistFailure, "upserting budget",
			finerr.FieldUserID(b.UserID.String()), finerr.Field("category", b.Category))
	}

	// The merge keeps the existing id on update; report the stored one.
	budgets, err := s.ListBudgets(ctx, b.UserID)
	if err != nil {
		return err
	}
	for _, stored := range budgets {
		if stored.Category == b.Category {
			b.ID = stored.ID
			break
		}
	}
	return nil
}

func (s *Store) ListBudgets(ctx context.Context, owner tenant.ID) ([]*domain.Budget, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT budget_id, user_id, category, amount, updated_ts
		FROM %s
		WHERE user_id = @user_id
		ORDER BY category
	`, s.tableRef(budgetsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: owner.String()}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, finerr.Wrap(fmt.Errorf("ListBudgets: query read: %w", err), finerr.CodeStorePersistFailure, "listing budgets")
	}

	var out []*domain.Budget
	for {
		var r BudgetRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, finerr.Wrap(fmt.Errorf("ListBudgets: iter next: %w", err), finerr.CodeStorePersistFailure, "listing budgets")
		}
		out = append(out, &domain.Budget{
			ID:        r.BudgetID,
			UserID:    tenant.ID(r.UserID),
			Category:  r.Category,
			Amount:    floatFromRat(r.Amount),
			UpdatedAt: r.UpdatedTS,
		})
	}
	return out, nil
}
