package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

const transactionColumns = `transaction_id, document_id, user_id, date, merchant, amount, currency, category, correlation_id, created_at`

// InsertTransactions writes all rows in one transaction.
func (s *Store) InsertTransactions(ctx context.Context, rows []*domain.Transaction) error {
	if len(rows) == 0 {
		return nil
	}

	const q = `INSERT INTO transactions (` + transactionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return s.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "beginning transaction")
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "preparing insert")
		}
		defer stmt.Close()

		for _, r := range rows {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if r.CreatedAt.IsZero() {
				r.CreatedAt = nowUTC()
			}
			var correlation any
			if r.CorrelationID != "" {
				correlation = r.CorrelationID
			}
			if _, err := stmt.ExecContext(ctx,
				r.ID, r.DocumentID, r.UserID.String(), r.Date.Format(dateLayout), r.Merchant,
				r.Amount, r.Currency, r.Category, correlation, formatTime(r.CreatedAt),
			); err != nil {
				return finerr.Wrap(err, finerr.CodeStorePersistFailure, "inserting transaction",
					finerr.FieldDocumentID(r.DocumentID), finerr.Field("correlation_id", r.CorrelationID))
			}
		}

		if err := tx.Commit(); err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "committing transactions")
		}
		return nil
	})
}

func (s *Store) ListTransactionsByDocument(ctx context.Context, documentID string) ([]*domain.Transaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM transactions WHERE document_id = ? ORDER BY correlation_id`
	return s.queryTransactions(ctx, q, documentID)
}

func (s *Store) queryTransactions(ctx context.Context, q string, args ...any) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q, args...)
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "querying transactions")
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t                      domain.Transaction
				owner, date, createdAt string
				correlation            sql.NullString
			)
			if err := rows.Scan(&t.ID, &t.DocumentID, &owner, &date, &t.Merchant, &t.Amount,
				&t.Currency, &t.Category, &correlation, &createdAt); err != nil {
				return finerr.Wrap(err, finerr.CodeStorePersistFailure, "scanning transaction")
			}
			t.UserID = tenant.ID(owner)
			t.Date = parseDate(date)
			t.CorrelationID = correlation.String
			t.CreatedAt = parseTime(createdAt)
			out = append(out, &t)
		}
		return rows.Err()
	})
	return out, err
}
