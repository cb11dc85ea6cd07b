package tools

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-advisor/internal/store"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// deniedWords may not appear as bare words anywhere in a query. Identifiers
// that merely contain them (dropped_at) and string literals are fine.
var deniedWords = map[string]bool{
	"create": true, "alter": true, "drop": true, "delete": true, "insert": true, "update": true,
	"merge": true, "truncate": true, "upsert": true, "grant": true, "revoke": true,
	"attach": true, "detach": true, "pragma": true, "vacuum": true, "reindex": true, "analyze": true,
	"call": true, "exec": true, "execute": true, "declare": true, "set": true, "begin": true,
	"commit": true, "rollback": true, "savepoint": true, "release": true, "into": true,
	"export": true, "load": true, "copy": true,
	"load_extension": true, "readfile": true, "writefile": true, "external_query": true,
}

// clauseWords end a table reference; they are never read as an alias.
var clauseWords = map[string]bool{
	"where": true, "join": true, "left": true, "right": true, "inner": true, "outer": true,
	"full": true, "cross": true, "natural": true, "on": true, "using": true, "group": true,
	"order": true, "limit": true, "having": true, "union": true, "except": true,
	"intersect": true, "window": true, "qualify": true, "offset": true, "as": true,
}

// queryableTables are the only physical tables a query may read.
var queryableTables = map[string]bool{}

func init() {
	for _, t := range store.ScopedTables {
		queryableTables[t] = true
	}
}

const transactionsTable = "transactions"

var comparisonOps = map[string]bool{"=": true, "==": true, "!=": true, "<>": true, "<": true, ">": true, "<=": true, ">=": true}

// CheckQuery accepts only a single read-only SELECT (or WITH ... SELECT)
// over the queryable tables, read with the lexical rules of dialect d. A
// query that reads transactions must carry an explicit tenant predicate,
// user_id = @user_id or user_id = '<owner>'. Comparing user_id with any
// other literal is a security violation.
func CheckQuery(query string, owner tenant.ID, d Dialect) error {
	deny := func(format string, args ...any) error {
		return finerr.New(finerr.CodeToolSecurityDenied, fmt.Sprintf(format, args...), finerr.FieldUserID(owner.String()))
	}

	if strings.TrimSpace(query) == "" {
		return finerr.New(finerr.CodeToolArgumentsInvalid, "query is empty")
	}

	toks, err := lexSQL(query, d)
	if err != nil {
		return deny("malformed query: %v", err)
	}
	for len(toks) > 0 && toks[len(toks)-1].is(tokPunct, ";") {
		toks = toks[:len(toks)-1]
	}
	if len(toks) == 0 {
		return finerr.New(finerr.CodeToolArgumentsInvalid, "query is empty")
	}

	if !toks[0].keyword("select", "with") {
		return deny("only SELECT queries are allowed, got %q", toks[0].text)
	}

	for _, t := range toks {
		switch t.kind {
		case tokPunct:
			if t.text == ";" {
				return deny("multiple statements are not allowed")
			}
		case tokIdent:
			if deniedWords[strings.ToLower(t.text)] {
				return deny("keyword %s is not allowed in read-only queries", strings.ToUpper(t.text))
			}
		case tokParam:
			if !strings.EqualFold(t.text, store.TenantParam) {
				return deny("unknown parameter @%s", t.text)
			}
		}
	}

	ctes, err := cteNames(toks)
	if err != nil {
		return deny("%v", err)
	}

	refs := newTableRefs(ctes)
	if err := refs.walk(toks, false); err != nil {
		return deny("%v", err)
	}
	if err := refs.checkQualified(toks); err != nil {
		return deny("%v", err)
	}

	filtered, err := tenantPredicate(toks, owner)
	if err != nil {
		return deny("%v", err)
	}
	if refs.tables[transactionsTable] && !filtered {
		return deny("queries on %s must filter on user_id = @%s", transactionsTable, store.TenantParam)
	}
	return nil
}

// cteNames collects names defined as "name AS (" directly after WITH,
// RECURSIVE or a comma.
func cteNames(toks []token) (map[string]bool, error) {
	names := map[string]bool{}
	for i := 1; i+2 < len(toks); i++ {
		prev, name := toks[i-1], toks[i]
		if !(prev.keyword("with", "recursive") || prev.is(tokPunct, ",")) {
			continue
		}
		if name.kind != tokIdent && name.kind != tokQuotedIdent {
			continue
		}
		if !toks[i+1].keyword("as") || !toks[i+2].is(tokPunct, "(") {
			continue
		}
		lower := strings.ToLower(name.text)
		if queryableTables[lower] {
			return nil, fmt.Errorf("common table expression may not shadow %s", lower)
		}
		names[lower] = true
	}
	return names, nil
}

// tableRefs collects what a query reads while its FROM clauses are walked.
type tableRefs struct {
	ctes map[string]bool
	// tables holds the queryable tables actually read.
	tables map[string]bool
	// qualifiers holds the tables, aliases and CTEs a column may be
	// qualified with.
	qualifiers map[string]bool
}

func newTableRefs(ctes map[string]bool) *tableRefs {
	r := &tableRefs{ctes: ctes, tables: map[string]bool{}, qualifiers: map[string]bool{}}
	for name := range ctes {
		r.qualifiers[name] = true
	}
	return r
}

// walk validates the table list after every FROM and JOIN that belongs to a
// SELECT. FROM inside a plain function call, as in EXTRACT(MONTH FROM date),
// is not a table reference. When fromItem is set, toks is the inside of a
// parenthesized FROM item such as (a JOIN b ON ...).
func (r *tableRefs) walk(toks []token, fromItem bool) error {
	// sawSelect[d] records whether a SELECT appeared at paren depth d.
	sawSelect := []bool{fromItem}
	i := 0
	if fromItem {
		next, err := r.tableList(toks, 0, true)
		if err != nil {
			return err
		}
		i = next
	}

	for ; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.is(tokPunct, "("):
			sawSelect = append(sawSelect, false)
		case t.is(tokPunct, ")"):
			if len(sawSelect) == 1 {
				return fmt.Errorf("unbalanced parentheses")
			}
			sawSelect = sawSelect[:len(sawSelect)-1]
		case t.keyword("select"):
			sawSelect[len(sawSelect)-1] = true
		case t.keyword("from", "join"):
			if !sawSelect[len(sawSelect)-1] {
				continue
			}
			next, err := r.tableList(toks, i+1, t.keyword("from"))
			if err != nil {
				return err
			}
			i = next - 1
		}
	}
	if len(sawSelect) != 1 {
		return fmt.Errorf("unbalanced parentheses")
	}
	return nil
}

// tableList validates the references starting at toks[i] and returns the
// index of the first token it did not consume. Parenthesized items are
// walked in full, whether they hold a subquery or a join.
func (r *tableRefs) tableList(toks []token, i int, commas bool) (int, error) {
	for {
		if i >= len(toks) {
			return i, fmt.Errorf("missing table name")
		}
		t := toks[i]

		switch {
		case t.is(tokPunct, "("):
			end, err := closingParen(toks, i)
			if err != nil {
				return i, err
			}
			inner := toks[i+1 : end]
			if len(inner) == 0 {
				return i, fmt.Errorf("empty table reference")
			}
			if err := r.walk(inner, !inner[0].keyword("select", "with")); err != nil {
				return i, err
			}
			i = end + 1

		case t.kind == tokIdent || t.kind == tokQuotedIdent:
			name := strings.ToLower(t.text)
			if strings.Contains(name, ".") || (i+1 < len(toks) && toks[i+1].is(tokPunct, ".")) {
				return i, fmt.Errorf("qualified table references are not allowed")
			}
			if i+1 < len(toks) && toks[i+1].is(tokPunct, "(") {
				return i, fmt.Errorf("table functions are not allowed (%s)", t.text)
			}
			if !queryableTables[name] && !r.ctes[name] {
				return i, fmt.Errorf("table %q is not queryable", t.text)
			}
			if queryableTables[name] {
				r.tables[name] = true
			}
			r.qualifiers[name] = true
			i++

		default:
			return i, fmt.Errorf("unexpected %q where a table name belongs", t.text)
		}

		if i < len(toks) && toks[i].keyword("as") {
			if i+1 >= len(toks) || (toks[i+1].kind != tokIdent && toks[i+1].kind != tokQuotedIdent) {
				return i, fmt.Errorf("missing alias after AS")
			}
			r.qualifiers[strings.ToLower(toks[i+1].text)] = true
			i += 2
		} else if i < len(toks) && (toks[i].kind == tokIdent || toks[i].kind == tokQuotedIdent) &&
			!clauseWords[strings.ToLower(toks[i].text)] {
			r.qualifiers[strings.ToLower(toks[i].text)] = true
			i++
		}

		if !commas || i >= len(toks) || !toks[i].is(tokPunct, ",") {
			return i, nil
		}
		i++
	}
}

// checkQualified rejects dotted names unless they start with a table, alias
// or CTE the query introduced, and rejects "IN table" membership tests.
// Schema-qualified names resolve past the tenant-scoped views.
func (r *tableRefs) checkQualified(toks []token) error {
	for i, t := range toks {
		if t.kind == tokQuotedIdent && strings.Contains(t.text, ".") {
			return fmt.Errorf("qualified references are not allowed (%s)", t.text)
		}
		if t.kind != tokIdent && t.kind != tokQuotedIdent {
			continue
		}

		if t.kind == tokIdent && t.keyword("in") && i+1 < len(toks) &&
			(toks[i+1].kind == tokIdent || toks[i+1].kind == tokQuotedIdent) &&
			!(toks[i+1].keyword("unnest") && i+2 < len(toks) && toks[i+2].is(tokPunct, "(")) {
			return fmt.Errorf("IN must be followed by a list or subquery, not %s", toks[i+1].text)
		}

		if i+1 >= len(toks) || !toks[i+1].is(tokPunct, ".") {
			continue
		}
		if i+3 < len(toks) && toks[i+3].is(tokPunct, ".") {
			return fmt.Errorf("qualified references are not allowed (%s.%s)", t.text, toks[i+2].text)
		}
		name := strings.ToLower(t.text)
		if r.qualifiers[name] {
			continue
		}
		// BigQuery's SAFE. prefix on function calls.
		if name == "safe" && i+3 < len(toks) && toks[i+3].is(tokPunct, "(") {
			continue
		}
		return fmt.Errorf("unknown qualifier %q; reference columns through a table or alias in FROM", t.text)
	}
	return nil
}

// closingParen returns the index of the ")" matching the "(" at toks[open].
func closingParen(toks []token, open int) (int, error) {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].is(tokPunct, "("):
			depth++
		case toks[i].is(tokPunct, ")"):
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced parentheses")
}

// tenantPredicate reports whether an equality between user_id and the
// caller appears, and rejects comparisons against any other tenant.
func tenantPredicate(toks []token, owner tenant.ID) (bool, error) {
	found := false

	operandOK := func(t token) (bool, error) {
		switch t.kind {
		case tokParam:
			return strings.EqualFold(t.text, store.TenantParam), nil
		case tokString, tokQuotedIdent:
			if t.text != owner.String() {
				return false, fmt.Errorf("user_id may only be compared with the caller's id")
			}
			return true, nil
		}
		return false, nil
	}

	for i, t := range toks {
		if !t.is(tokIdent, store.TenantParam) && !(t.kind == tokQuotedIdent && strings.EqualFold(t.text, store.TenantParam)) {
			continue
		}

		// user_id <op> operand
		if i+2 < len(toks) && toks[i+1].kind == tokPunct && comparisonOps[toks[i+1].text] {
			op := toks[i+1].text
			ok, err := operandOK(toks[i+2])
			if err != nil {
				return false, err
			}
			if ok && (op == "=" || op == "==") {
				found = true
			}
		}

		// user_id IN (...)
		if i+2 < len(toks) && toks[i+1].keyword("in") && toks[i+2].is(tokPunct, "(") {
			all := true
			j := i + 3
			for ; j < len(toks) && !toks[j].is(tokPunct, ")"); j++ {
				if toks[j].is(tokPunct, ",") {
					continue
				}
				ok, err := operandOK(toks[j])
				if err != nil {
					return false, err
				}
				all = all && ok
			}
			if all && j > i+3 {
				found = true
			}
		}

		// operand <op> user_id, possibly qualified
		k := i - 1
		if k >= 1 && toks[k].is(tokPunct, ".") {
			k -= 2
		}
		if k >= 1 && toks[k].kind == tokPunct && comparisonOps[toks[k].text] {
			ok, err := operandOK(toks[k-1])
			if err != nil {
				return false, err
			}
			if ok && (toks[k].text == "=" || toks[k].text == "==") {
				found = true
			}
		}
	}
	return found, nil
}
