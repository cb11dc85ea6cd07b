package bigquery

import (
	"context"
	"fmt"
	"math/big"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-advisor/internal/store"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// maxBytesBilled caps what a single free-form query may scan.
const maxBytesBilled = 1 << 30

// RunReadOnly dry-runs the tenant-scoped query first and refuses anything
// BigQuery does not classify as a SELECT, then reads up to maxRows rows.
func (s *Store) RunReadOnly(ctx context.Context, owner tenant.ID, query string, maxRows int) ([]map[string]any, error) {
	scoped := store.ScopeToTenant(query, func(table string) string { return s.tableRef(table) })
	params := []bigquery.QueryParameter{{Name: store.TenantParam, Value: owner.String()}}

	dry := s.newScopedQuery(scoped, params)
	dry.DryRun = true
	job, err := dry.Run(ctx)
	if err != nil {
		return nil, finerr.Wrap(fmt.Errorf("RunReadOnly: dry run: %w", err), finerr.CodeStoreQueryFailure, "validating query")
	}
	if kind := statementType(job.LastStatus()); kind != "SELECT" {
		return nil, finerr.New(finerr.CodeToolSecurityDenied, "only SELECT statements may run",
			finerr.Field("statement_type", kind))
	}

	it, err := s.newScopedQuery(scoped, params).Read(ctx)
	if err != nil {
		return nil, finerr.Wrap(fmt.Errorf("RunReadOnly: query read: %w", err), finerr.CodeStoreQueryFailure, "executing query")
	}

	var out []map[string]any
	for maxRows <= 0 || len(out) < maxRows {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, finerr.Wrap(fmt.Errorf("RunReadOnly: iter next: %w", err), finerr.CodeStoreQueryFailure, "reading rows")
		}

		converted := make(map[string]any, len(row))
		for k, v := range row {
			converted[k] = plainValue(v)
		}
		out = append(out, converted)
	}
	return out, nil
}

func (s *Store) newScopedQuery(sql string, params []bigquery.QueryParameter) *bigquery.Query {
	q := s.client.Query(sql)
	q.Parameters = params
	q.DefaultProjectID = s.projectID
	q.DefaultDatasetID = s.datasetID
	q.MaxBytesBilled = maxBytesBilled
	return q
}

func statementType(status *bigquery.JobStatus) string {
	if status == nil || status.Statistics == nil {
		return ""
	}
	qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return ""
	}
	return qs.StatementType
}

// plainValue converts BigQuery-specific scalars into JSON-friendly values.
func plainValue(v bigquery.Value) any {
	switch t := v.(type) {
	case *big.Rat:
		return floatFromRat(t)
	case civil.Date:
		return t.String()
	case civil.DateTime:
		return t.String()
	case civil.Time:
		return t.String()
	case []bigquery.Value:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	default:
		return v
	}
}
