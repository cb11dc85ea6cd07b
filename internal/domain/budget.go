package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/dvloznov/finance-advisor/internal/tenant"
)

// Budget is a spending limit for one category. At most one per (user, category).
type Budget struct {
	ID        string
	UserID    tenant.ID
	Category  string
	Amount    float64
	UpdatedAt time.Time
}

// BudgetStatus pairs a budget with what the tenant has spent in its category.
type BudgetStatus struct {
	Category string
	Limit    float64
	Spent    float64
}

// Percent is spent/limit*100, or 0 when the limit is 0.
func (s BudgetStatus) Percent() float64 {
	if s.Limit == 0 {
		return 0
	}
	return s.Spent / s.Limit * 100
}

func (s BudgetStatus) Remaining() float64 {
	return s.Limit - s.Spent
}

// PercentRounded rounds Percent to one decimal place.
func (s BudgetStatus) PercentRounded() float64 {
	return math.Round(s.Percent()*10) / 10
}

// Line renders "category: spent/limit (percent%)".
func (s BudgetStatus) Line() string {
	return fmt.Sprintf("%s: %.2f/%.2f (%.1f%%)", s.Category, s.Spent, s.Limit, s.Percent())
}
