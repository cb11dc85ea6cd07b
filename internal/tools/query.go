package tools

import (
	"context"
	"encoding/json"

	"github.com/dvloznov/finance-advisor/internal/store"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const QueryToolName = "query_transactions"

// QueryTool runs a guarded, read-only SQL query for the caller.
type QueryTool struct {
	db      store.ReadOnlyQuerier
	dialect Dialect
	maxRows int
}

func NewQueryTool(db store.ReadOnlyQuerier, dialect Dialect, maxRows int) *QueryTool {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &QueryTool{db: db, dialect: dialect, maxRows: maxRows}
}

func (t *QueryTool) Spec() Spec {
	return Spec{
		Name: QueryToolName,
		Description: "Run a read-only SQL query over the user's transactions and budgets. " +
			"Use it for totals, counts, date ranges and category breakdowns.\n" + Schema(t.dialect),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "A single SELECT statement. Filter transactions with user_id = @user_id.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// Invoke checks the query and returns the rows as a JSON array of objects.
func (t *QueryTool) Invoke(ctx context.Context, owner tenant.ID, args Args) (string, error) {
	query, ok := args.String("query")
	if !ok {
		return "", finerr.New(finerr.CodeToolArgumentsInvalid, "query argument is required", finerr.FieldTool(QueryToolName))
	}
	if err := CheckQuery(query, owner, t.dialect); err != nil {
		return "", err
	}

	rows, err := t.db.RunReadOnly(ctx, owner, query, t.maxRows)
	if err != nil {
		return "", finerr.Wrap(err, finerr.CodeToolExecuteFailure, "query failed", finerr.FieldTool(QueryToolName))
	}
	if len(rows) == 0 {
		return NoResults, nil
	}

	out, err := json.Marshal(rows)
	if err != nil {
		return "", finerr.Wrap(err, finerr.CodeToolExecuteFailure, "encoding rows", finerr.FieldTool(QueryToolName))
	}
	return string(out), nil
}
