package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const DiagnosticsToolName = "spending_diagnostics"

const (
	frequentMerchantMinCount = 4
	frequentMerchantLimit    = 5
	recurringMinCount        = 1
	recurringLimit           = 5
	largestLimit             = 3

	DefaultRecurringMinAmount = 5.0
)

// DiagnosticsReader is the slice of the store the diagnostics tool needs.
type DiagnosticsReader interface {
	FrequentMerchants(ctx context.Context, owner tenant.ID, moreThan, limit int) ([]domain.MerchantFrequency, error)
	RecurringCharges(ctx context.Context, owner tenant.ID, amountAbove float64, moreThan, limit int) ([]domain.RecurringCharge, error)
	LargestTransactions(ctx context.Context, owner tenant.ID, limit int) ([]*domain.Transaction, error)
}

// DiagnosticsTool summarises spending habits: frequent merchants, likely
// subscriptions and the largest purchases.
type DiagnosticsTool struct {
	store        DiagnosticsReader
	recurringMin float64
}

func NewDiagnosticsTool(store DiagnosticsReader, recurringMinAmount float64) *DiagnosticsTool {
	if recurringMinAmount <= 0 {
		recurringMinAmount = DefaultRecurringMinAmount
	}
	return &DiagnosticsTool{store: store, recurringMin: recurringMinAmount}
}

func (t *DiagnosticsTool) Spec() Spec {
	return Spec{
		Name: DiagnosticsToolName,
		Description: "Summarise the user's spending habits: merchants they visit often, " +
			"charges that repeat with the same amount, and their largest transactions.",
		Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
	}
}

func (t *DiagnosticsTool) Invoke(ctx context.Context, owner tenant.ID, _ Args) (string, error) {
	fail := func(err error, what string) (string, error) {
		return "", finerr.Wrap(err, finerr.CodeToolExecuteFailure, what, finerr.FieldTool(DiagnosticsToolName))
	}

	merchants, err := t.store.FrequentMerchants(ctx, owner, frequentMerchantMinCount, frequentMerchantLimit)
	if err != nil {
		return fail(err, "loading frequent merchants")
	}
	recurring, err := t.store.RecurringCharges(ctx, owner, t.recurringMin, recurringMinCount, recurringLimit)
	if err != nil {
		return fail(err, "loading recurring charges")
	}
	largest, err := t.store.LargestTransactions(ctx, owner, largestLimit)
	if err != nil {
		return fail(err, "loading largest transactions")
	}

	var sections []string
	if len(merchants) > 0 {
		var b strings.Builder
		b.WriteString("Frequent merchants:")
		for _, m := range merchants {
			fmt.Fprintf(&b, "\n- %s: %d visits, %.2f total", m.Merchant, m.Count, m.Total)
		}
		sections = append(sections, b.String())
	}
	if len(recurring) > 0 {
		var b strings.Builder
		b.WriteString("Possible recurring charges:")
		for _, r := range recurring {
			fmt.Fprintf(&b, "\n- %s: %.2f charged %d times", r.Merchant, r.Amount, r.Count)
		}
		sections = append(sections, b.String())
	}
	if len(largest) > 0 {
		var b strings.Builder
		b.WriteString("Largest transactions:")
		for _, tx := range largest {
			fmt.Fprintf(&b, "\n- %s %s: %.2f %s", tx.Date.Format("2006-01-02"), tx.Merchant, tx.Amount, tx.Currency)
		}
		sections = append(sections, b.String())
	}

	if len(sections) == 0 {
		return NoResults, nil
	}
	return strings.Join(sections, "\n\n"), nil
}
