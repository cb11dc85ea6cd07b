package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-advisor/internal/domain"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const transactionColumns = `transaction_id, document_id, user_id, transaction_date, merchant, amount, currency, category, correlation_id, created_ts`

// InsertTransactions streams a batch of rows into the transactions table.
// Transactions are immutable so the streaming buffer restriction does not apply.
func (s *Store) InsertTransactions(ctx context.Context, rows []*domain.Transaction) error {
	if len(rows) == 0 {
		return nil
	}

	batch := make([]*TransactionRow, 0, len(rows))
	for _, t := range rows {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		batch = append(batch, transactionRowFrom(t))
	}

	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, batch); err != nil {
		return finerr.Wrap(fmt.Errorf("InsertTransactions: inserting rows: %w", err), finerr.CodeStorePersistFailure,
			"inserting transactions", finerr.FieldDocumentID(rows[0].DocumentID))
	}
	return nil
}

func (s *Store) ListTransactionsByDocument(ctx context.Context, documentID string) ([]*domain.Transaction, error) {
	return s.queryTransactions(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE document_id = @document_id
		ORDER BY correlation_id
	`, transactionColumns, s.tableRef(transactionsTable)),
		bigquery.QueryParameter{Name: "document_id", Value: documentID},
	)
}

func (s *Store) queryTransactions(ctx context.Context, query string, params ...bigquery.QueryParameter) ([]*domain.Transaction, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, finerr.Wrap(fmt.Errorf("queryTransactions: query read: %w", err), finerr.CodeStorePersistFailure, "querying transactions")
	}

	var out []*domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, finerr.Wrap(fmt.Errorf("queryTransactions: iter next: %w", err), finerr.CodeStorePersistFailure, "querying transactions")
		}
		out = append(out, r.toDomain())
	}
	return out, nil
}
