package agent_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-advisor/internal/agent"
	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/infra/sqlite"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	"github.com/dvloznov/finance-advisor/internal/tools"
)

func sqliteWithSpend(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "finance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Now().UTC()
	add := func(owner tenant.ID, docID string, rows ...domain.Transaction) {
		require.NoError(t, s.CreateDocument(ctx, &domain.Document{
			ID: docID, Filename: docID + ".pdf", UploadDate: now, Status: domain.StatusCompleted, Owner: owner, UpdatedAt: now,
		}))
		txs := make([]*domain.Transaction, 0, len(rows))
		for i := range rows {
			tx := rows[i]
			tx.DocumentID, tx.UserID, tx.Currency = docID, owner, "GBP"
			tx.Date = time.Date(2024, 3, i+1, 0, 0, 0, 0, time.UTC)
			tx.CorrelationID = domain.CorrelationID(docID, i)
			txs = append(txs, &tx)
		}
		require.NoError(t, s.InsertTransactions(ctx, txs))
	}

	add("alice", "a1",
		domain.Transaction{Merchant: "Pret", Category: "Food", Amount: 20},
		domain.Transaction{Merchant: "Dishoom", Category: "Food", Amount: 15.5},
		domain.Transaction{Merchant: "TfL", Category: "Transport", Amount: 40},
	)
	add("bob", "b1",
		domain.Transaction{Merchant: "The Ritz", Category: "Food", Amount: 500},
	)
	return s
}

func TestConverse_FoodSpendAgainstStore(t *testing.T) {
	s := sqliteWithSpend(t)
	reg := registry(t, tools.NewQueryTool(s, tools.DialectSQLite, 50))

	decider := scripted(
		agent.Decision{ToolCalls: []agent.ToolCall{{
			ID:   "call-1",
			Name: tools.QueryToolName,
			Args: map[string]any{"query": "SELECT SUM(amount) AS total FROM transactions WHERE category = 'Food'"},
		}}},
		agent.Decision{ToolCalls: []agent.ToolCall{{
			ID:   "call-2",
			Name: tools.QueryToolName,
			Args: map[string]any{
				"query":   "SELECT SUM(amount) AS total FROM transactions WHERE user_id = @user_id AND category = 'Food'",
				"user_id": "bob",
			},
		}}},
		agent.Decision{Text: "You spent 35.50 GBP on Food."},
	)
	a := agent.New(decider, reg, agent.Config{Dialect: tools.DialectSQLite})

	answer, err := a.Converse(context.Background(), "alice", "What did I spend on Food?")
	require.NoError(t, err)
	assert.Equal(t, "You spent 35.50 GBP on Food.", answer.Text)
	assert.Equal(t, 3, answer.Rounds)
	assert.False(t, answer.Degraded)

	require.Len(t, decider.Calls, 3)

	first := decider.Calls[1]
	rejected := first[len(first)-1]
	assert.Equal(t, agent.RoleTool, rejected.Role)
	assert.Equal(t, "call-1", rejected.CallID)
	assert.Contains(t, rejected.Content, "Error: ")
	assert.Contains(t, rejected.Content, "user_id = @user_id")

	second := decider.Calls[2]
	result := second[len(second)-1]
	assert.Equal(t, "call-2", result.CallID)
	assert.JSONEq(t, `[{"total": 35.5}]`, result.Content)
	assert.NotContains(t, result.Content, "500")
}

func TestConverse_StoreQueryCannotReachOtherTenant(t *testing.T) {
	s := sqliteWithSpend(t)
	reg := registry(t, tools.NewQueryTool(s, tools.DialectSQLite, 50))

	decider := scripted(
		agent.Decision{ToolCalls: []agent.ToolCall{
			{ID: "c1", Name: tools.QueryToolName, Args: map[string]any{"query": "SELECT merchant FROM (main.transactions)"}},
			{ID: "c2", Name: tools.QueryToolName, Args: map[string]any{
				"query": "SELECT merchant FROM transactions WHERE user_id = @user_id OR 1 = 1 ORDER BY merchant",
			}},
		}},
		agent.Decision{Text: "done"},
	)
	a := agent.New(decider, reg, agent.Config{Dialect: tools.DialectSQLite})

	_, err := a.Converse(context.Background(), "alice", "List every merchant")
	require.NoError(t, err)

	turns := decider.Calls[1]
	results := turns[len(turns)-2:]
	assert.Contains(t, results[0].Content, "Error: ")
	assert.JSONEq(t, `[{"merchant":"Dishoom"},{"merchant":"Pret"},{"merchant":"TfL"}]`, results[1].Content)
	for _, r := range results {
		assert.NotContains(t, r.Content, "Ritz")
	}
}
