// Package store declares the relational repositories shared by the pipeline,
// the tools, and the HTTP handlers. Every read that touches tenant data takes
// the owner explicitly.
package store

import (
	"context"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
)

// DocumentRepository persists documents and guards their status transitions.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	// TransitionDocument moves a document from one status to the next. It
	// fails with a conflict when the stored status is not from.
	TransitionDocument(ctx context.Context, documentID string, from, to domain.DocumentStatus, reason string) error
	GetDocument(ctx context.Context, owner tenant.ID, documentID string) (*domain.Document, error)
	ListDocuments(ctx context.Context, owner tenant.ID) ([]*domain.Document, error)
	// ListFailedWithTransactions returns failed documents that still have
	// persisted transactions, across all tenants.
	ListFailedWithTransactions(ctx context.Context) ([]*domain.Document, error)
}

type TransactionRepository interface {
	InsertTransactions(ctx context.Context, rows []*domain.Transaction) error
	ListTransactionsByDocument(ctx context.Context, documentID string) ([]*domain.Transaction, error)
}

// BudgetRepository stores at most one budget per (user, category).
type BudgetRepository interface {
	UpsertBudget(ctx context.Context, budget *domain.Budget) error
	ListBudgets(ctx context.Context, owner tenant.ID) ([]*domain.Budget, error)
}

// AnalyticsRepository runs fixed aggregations over one tenant's transactions.
type AnalyticsRepository interface {
	// CategorySpend sums amounts per category. Categories without
	// transactions are absent from the result.
	CategorySpend(ctx context.Context, owner tenant.ID, categories []string) (map[string]float64, error)
	// FrequentMerchants returns merchants seen more than moreThan times, most frequent first.
	FrequentMerchants(ctx context.Context, owner tenant.ID, moreThan, limit int) ([]domain.MerchantFrequency, error)
	// RecurringCharges returns (merchant, amount) pairs with amount above
	// amountAbove seen more than moreThan times, most frequent first.
	RecurringCharges(ctx context.Context, owner tenant.ID, amountAbove float64, moreThan, limit int) ([]domain.RecurringCharge, error)
	LargestTransactions(ctx context.Context, owner tenant.ID, limit int) ([]*domain.Transaction, error)
	CategoryBreakdown(ctx context.Context, owner tenant.ID, filter domain.SpendFilter) ([]domain.CategoryTotal, error)
	SpendTrend(ctx context.Context, owner tenant.ID, filter domain.SpendFilter) ([]domain.TrendPoint, error)
}

// ReadOnlyQuerier executes an already-guarded SELECT with the tenant-scoping
// wrapper applied. Implementations must refuse anything that would write.
type ReadOnlyQuerier interface {
	RunReadOnly(ctx context.Context, owner tenant.ID, query string, maxRows int) ([]map[string]any, error)
}

// Store is the full relational surface of one backend.
type Store interface {
	DocumentRepository
	TransactionRepository
	BudgetRepository
	AnalyticsRepository
	ReadOnlyQuerier
	Close() error
}
