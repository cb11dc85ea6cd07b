package store

import (
	"fmt"
	"strings"
)

// TenantParam is the named parameter carrying the caller's tenant id.
const TenantParam = "user_id"

// ScopedTables are shadowed by a tenant-filtered CTE of the same name before
// a free-form query runs.
var ScopedTables = []string{"transactions", "budgets"}

// ScopeToTenant wraps a SELECT so that every unqualified reference to a
// scoped table resolves to a view of the caller's own rows. source maps a
// table name to the qualified physical table. A query that already starts
// with WITH has its CTE list appended after the scoping CTEs.
func ScopeToTenant(query string, source func(table string) string) string {
	ctes := make([]string, 0, len(ScopedTables))
	for _, table := range ScopedTables {
		ctes = append(ctes, fmt.Sprintf("%s AS (SELECT * FROM %s WHERE user_id = @%s)",
			table, source(table), TenantParam))
	}
	scoping := strings.Join(ctes, ", ")

	body := strings.TrimSpace(query)
	body = strings.TrimRight(body, ";")
	body = strings.TrimSpace(body)

	keyword, rest := leadingWord(body)
	if !strings.EqualFold(keyword, "WITH") {
		return "WITH " + scoping + "\n" + body
	}

	recursive := ""
	if next, after := leadingWord(rest); strings.EqualFold(next, "RECURSIVE") {
		recursive = "RECURSIVE "
		rest = after
	}
	return "WITH " + recursive + scoping + ",\n" + strings.TrimSpace(rest)
}

func leadingWord(s string) (string, string) {
	s = strings.TrimLeft(s, " \t\r\n")
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '('
	})
	if end == -1 {
		return s, ""
	}
	return s[:end], s[end:]
}
