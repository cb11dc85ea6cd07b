package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-advisor/internal/api/middleware"
	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tools"
)

// BudgetStore reads and writes one tenant's budgets.
type BudgetStore interface {
	tools.BudgetReader
	UpsertBudget(ctx context.Context, budget *domain.Budget) error
}

type BudgetsHandler struct {
	store BudgetStore
}

func NewBudgetsHandler(store BudgetStore) *BudgetsHandler {
	return &BudgetsHandler{store: store}
}

type budgetView struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Amount    float64   `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

type budgetStatusView struct {
	Category    string  `json:"category"`
	Limit       float64 `json:"limit"`
	Spent       float64 `json:"spent"`
	Remaining   float64 `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
}

// ListBudgets handles GET /api/budgets
func (h *BudgetsHandler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	budgets, err := h.store.ListBudgets(r.Context(), owner)
	if err != nil {
		middleware.WriteErr(w, r, err, "Failed to list budgets")
		return
	}

	views := make([]budgetView, 0, len(budgets))
	for _, b := range budgets {
		views = append(views, budgetView{ID: b.ID, Category: b.Category, Amount: b.Amount, UpdatedAt: b.UpdatedAt})
	}
	middleware.WriteJSON(w, http.StatusOK, views)
}

// UpsertBudget handles PUT /api/budgets. One budget exists per category;
// a second PUT for the same category replaces the amount.
func (h *BudgetsHandler) UpsertBudget(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Category string  `json:"category"`
		Amount   float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		middleware.WriteError(w, http.StatusBadRequest, "category is required")
		return
	}
	if req.Amount < 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		middleware.WriteError(w, http.StatusBadRequest, "amount must be a non-negative number")
		return
	}

	budget := &domain.Budget{
		UserID:   owner,
		Category: domain.NormalizeCategory(req.Category),
		Amount:   req.Amount,
	}
	if err := h.store.UpsertBudget(r.Context(), budget); err != nil {
		middleware.WriteErr(w, r, err, "Failed to save budget")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, budgetView{
		ID: budget.ID, Category: budget.Category, Amount: budget.Amount, UpdatedAt: budget.UpdatedAt,
	})
}

// BudgetStatus handles GET /api/budgets/status
func (h *BudgetsHandler) BudgetStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.TenantFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	statuses, err := tools.BudgetStatuses(r.Context(), h.store, owner)
	if err != nil {
		middleware.WriteErr(w, r, err, "Failed to compute budget status")
		return
	}

	views := make([]budgetStatusView, 0, len(statuses))
	for _, s := range statuses {
		views = append(views, budgetStatusView{
			Category:    s.Category,
			Limit:       s.Limit,
			Spent:       s.Spent,
			Remaining:   s.Remaining(),
			PercentUsed: s.PercentRounded(),
		})
	}
	middleware.WriteJSON(w, http.StatusOK, views)
}
