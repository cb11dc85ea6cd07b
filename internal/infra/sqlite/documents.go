package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const documentColumns = `document_id, user_id, filename, upload_date, status, storage_uri, error, updated_at`

func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" || doc.Owner == "" {
		return finerr.New(finerr.CodeStoreInvalidInput, "document id and owner are required")
	}
	if !doc.Status.Valid() {
		return finerr.New(finerr.CodeStoreInvalidInput, "invalid document status",
			finerr.Field("status", string(doc.Status)))
	}

	const q = `INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	return s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, q,
			doc.ID, doc.Owner.String(), doc.Filename, formatTime(doc.UploadDate),
			string(doc.Status), doc.StorageURI, doc.Error, formatTime(doc.UpdatedAt))
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "inserting document",
				finerr.FieldDocumentID(doc.ID))
		}
		return nil
	})
}

func (s *Store) TransitionDocument(ctx context.Context, documentID string, from, to domain.DocumentStatus, reason string) error {
	if !domain.CanTransition(from, to) {
		return finerr.New(finerr.CodeStoreTransitionConflict, "illegal document status transition",
			finerr.FieldDocumentID(documentID), finerr.Field("from", string(from)), finerr.Field("to", string(to)))
	}

	const q = `UPDATE documents SET status = ?, error = ?, updated_at = ?
WHERE document_id = ? AND status = ?`

	return s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, q, string(to), reason, formatTime(nowUTC()), documentID, string(from))
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "updating document status",
				finerr.FieldDocumentID(documentID))
		}

		n, err := res.RowsAffected()
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "reading affected rows")
		}
		if n == 1 {
			return nil
		}

		var current string
		err = conn.QueryRowContext(ctx, `SELECT status FROM documents WHERE document_id = ?`, documentID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return finerr.New(finerr.CodeStoreEntityNotFound, "document not found", finerr.FieldDocumentID(documentID))
		}
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "reading document status")
		}
		return finerr.New(finerr.CodeStoreTransitionConflict, "document status changed concurrently",
			finerr.FieldDocumentID(documentID), finerr.Field("expected", string(from)), finerr.Field("actual", current))
	})
}

func (s *Store) GetDocument(ctx context.Context, owner tenant.ID, documentID string) (*domain.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE document_id = ? AND user_id = ?`

	var doc *domain.Document
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		d, err := scanDocument(conn.QueryRowContext(ctx, q, documentID, owner.String()))
		if errors.Is(err, sql.ErrNoRows) {
			return finerr.New(finerr.CodeStoreEntityNotFound, "document not found",
				finerr.FieldDocumentID(documentID), finerr.FieldUserID(owner.String()))
		}
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "reading document")
		}
		doc = d
		return nil
	})
	return doc, err
}

func (s *Store) ListDocuments(ctx context.Context, owner tenant.ID) ([]*domain.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE user_id = ? ORDER BY upload_date DESC`
	return s.queryDocuments(ctx, q, owner.String())
}

func (s *Store) ListFailedWithTransactions(ctx context.Context) ([]*domain.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents d
WHERE d.status = 'failed'
  AND EXISTS (SELECT 1 FROM transactions t WHERE t.document_id = d.document_id)
ORDER BY d.upload_date`
	return s.queryDocuments(ctx, q)
}

func (s *Store) queryDocuments(ctx context.Context, q string, args ...any) ([]*domain.Document, error) {
	var docs []*domain.Document
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, q, args...)
		if err != nil {
			return finerr.Wrap(err, finerr.CodeStorePersistFailure, "listing documents")
		}
		defer rows.Close()

		for rows.Next() {
			d, err := scanDocument(rows)
			if err != nil {
				return finerr.Wrap(err, finerr.CodeStorePersistFailure, "scanning document")
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	return docs, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		d                     domain.Document
		owner, status         string
		uploadDate, updatedAt string
	)
	if err := row.Scan(&d.ID, &owner, &d.Filename, &uploadDate, &status, &d.StorageURI, &d.Error, &updatedAt); err != nil {
		return nil, err
	}
	d.Owner = tenant.ID(owner)
	d.Status = domain.DocumentStatus(status)
	d.UploadDate = parseTime(uploadDate)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}
