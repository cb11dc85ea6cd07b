package tools

import (
	"context"
	"strings"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const BudgetToolName = "budget_status"

// BudgetReader is the slice of the store the budget tool needs.
type BudgetReader interface {
	ListBudgets(ctx context.Context, owner tenant.ID) ([]*domain.Budget, error)
	CategorySpend(ctx context.Context, owner tenant.ID, categories []string) (map[string]float64, error)
}

// BudgetStatusTool reports spend against each of the caller's budgets.
type BudgetStatusTool struct {
	store BudgetReader
}

func NewBudgetStatusTool(store BudgetReader) *BudgetStatusTool {
	return &BudgetStatusTool{store: store}
}

func (t *BudgetStatusTool) Spec() Spec {
	return Spec{
		Name:        BudgetToolName,
		Description: "Show how much the user has spent against each budget category.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *BudgetStatusTool) Invoke(ctx context.Context, owner tenant.ID, _ Args) (string, error) {
	statuses, err := BudgetStatuses(ctx, t.store, owner)
	if err != nil {
		return "", finerr.With(err, finerr.FieldTool(BudgetToolName))
	}
	if len(statuses) == 0 {
		return NoResults, nil
	}

	lines := make([]string, 0, len(statuses))
	for _, s := range statuses {
		lines = append(lines, s.Line())
	}
	return strings.Join(lines, "\n"), nil
}

// BudgetStatuses pairs each of owner's budgets with its category spend.
// A category with no transactions has spent 0. The HTTP budget status
// endpoint shares this.
func BudgetStatuses(ctx context.Context, store BudgetReader, owner tenant.ID) ([]domain.BudgetStatus, error) {
	budgets, err := store.ListBudgets(ctx, owner)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeToolExecuteFailure, "listing budgets")
	}
	if len(budgets) == 0 {
		return nil, nil
	}

	categories := make([]string, 0, len(budgets))
	for _, b := range budgets {
		categories = append(categories, b.Category)
	}
	spend, err := store.CategorySpend(ctx, owner, categories)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeToolExecuteFailure, "summing category spend")
	}

	out := make([]domain.BudgetStatus, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, domain.BudgetStatus{
			Category: b.Category,
			Limit:    b.Amount,
			Spent:    spend[b.Category],
		})
	}
	return out, nil
}
