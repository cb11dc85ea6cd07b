package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-advisor/internal/tenant"
	"github.com/dvloznov/finance-advisor/internal/vectorstore"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const SearchToolName = "search_transactions"

// SemanticSearchTool finds transactions whose text is closest to a phrase.
type SemanticSearchTool struct {
	vectors vectorstore.Store
	k       int
}

func NewSemanticSearchTool(vectors vectorstore.Store, k int) *SemanticSearchTool {
	if k <= 0 {
		k = 5
	}
	return &SemanticSearchTool{vectors: vectors, k: k}
}

func (t *SemanticSearchTool) Spec() Spec {
	return Spec{
		Name: SearchToolName,
		Description: "Find the user's transactions that are semantically similar to a phrase, " +
			"for example a vague merchant name or a kind of purchase.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to look for."},
			},
			"required": []string{"query"},
		},
	}
}

func (t *SemanticSearchTool) Invoke(ctx context.Context, owner tenant.ID, args Args) (string, error) {
	query, ok := args.String("query")
	if !ok {
		return "", finerr.New(finerr.CodeToolArgumentsInvalid, "query argument is required", finerr.FieldTool(SearchToolName))
	}

	matches, err := t.vectors.Query(ctx, query, t.k, vectorstore.Filter{Owner: owner})
	if err != nil {
		return "", finerr.Wrap(err, finerr.CodeToolExecuteFailure, "semantic search failed", finerr.FieldTool(SearchToolName))
	}
	if len(matches) == 0 {
		return NoResults, nil
	}

	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s (similarity %.2f)", i+1, m.Text, m.Similarity)
	}
	return b.String(), nil
}
