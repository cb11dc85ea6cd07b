package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/store"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// RunReadOnly executes query against tenant-scoped views of the scoped
// tables. The connection is switched to query_only for the duration of the
// call and discarded if it cannot be switched back.
func (s *Store) RunReadOnly(ctx context.Context, owner tenant.ID, query string, maxRows int) ([]map[string]any, error) {
	query, ok := firstStatement(query)
	if !ok {
		return nil, finerr.New(finerr.CodeStoreInvalidInput, "multiple statements are not allowed",
			finerr.FieldUserID(owner.String()))
	}
	scoped := store.ScopeToTenant(query, func(table string) string { return "main." + table })
	log := logger.FromContext(ctx)

	var out []map[string]any
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return finerr.Wrap(err, finerr.CodeStoreQueryFailure, "enabling query_only")
		}
		defer resetQueryOnly(conn, log)

		tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStoreQueryFailure, "beginning read-only transaction")
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, scoped, sql.Named(store.TenantParam, owner.String()))
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStoreQueryFailure, "executing query")
		}
		defer rows.Close()

		out, err = collectRows(rows, maxRows)
		return err
	})
	return out, err
}

// firstStatement cuts query at its first top-level semicolon and reports
// false when anything other than whitespace, comments and semicolons follows
// it. Literals are read the way SQLite reads them: quotes escape only by
// doubling, and [brackets] quote identifiers. The driver runs every statement
// in a query and returns the rows of the last one.
func firstStatement(query string) (string, bool) {
	n := len(query)
	for i := 0; i < n; i++ {
		switch c := query[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(query, i, c)
		case c == '[':
			end := strings.IndexByte(query[i+1:], ']')
			if end == -1 {
				return query, true
			}
			i += end + 1
		case c == '-' && i+1 < n && query[i+1] == '-':
			i = skipLineComment(query, i)
		case c == '/' && i+1 < n && query[i+1] == '*':
			i = skipBlockComment(query, i)
		case c == ';':
			if hasCode(query[i+1:]) {
				return "", false
			}
			return query[:i], true
		}
	}
	return query, true
}

func hasCode(rest string) bool {
	n := len(rest)
	for i := 0; i < n; i++ {
		switch c := rest[i]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == ';':
		case c == '-' && i+1 < n && rest[i+1] == '-':
			i = skipLineComment(rest, i)
		case c == '/' && i+1 < n && rest[i+1] == '*':
			i = skipBlockComment(rest, i)
		default:
			return true
		}
	}
	return false
}

// skipQuoted returns the index of the quote closing the literal opened at
// start, or the last index when it is never closed.
func skipQuoted(s string, start int, quote byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(s) - 1
}

func skipLineComment(s string, start int) int {
	end := strings.IndexByte(s[start:], '\n')
	if end == -1 {
		return len(s) - 1
	}
	return start + end
}

func skipBlockComment(s string, start int) int {
	end := strings.Index(s[start+2:], "*/")
	if end == -1 {
		return len(s) - 1
	}
	return start + 2 + end + 1
}

func resetQueryOnly(conn *sql.Conn, log zerolog.Logger) {
	// The caller's context may already be cancelled here.
	if _, err := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); err != nil {
		log.Warn().Err(err).Msg("Failed to reset query_only, discarding connection")
		discard(conn)
	}
}

func collectRows(rows *sql.Rows, maxRows int) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeStoreQueryFailure, "reading columns")
	}

	var out []map[string]any
	for rows.Next() {
		if maxRows > 0 && len(out) >= maxRows {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, finerr.Wrap(err, finerr.CodeStoreQueryFailure, "scanning row")
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, finerr.Wrap(err, finerr.CodeStoreQueryFailure, "iterating rows")
	}
	return out, nil
}
