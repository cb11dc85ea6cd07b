package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

const documentColumns = `document_id, user_id, original_filename, gcs_uri, upload_ts, updated_ts, status, error_message`

// maxErrorLen bounds error_message the same way for every failure path.
const maxErrorLen = 2000

// CreateDocument inserts a document through DML so its status can be updated right away.
func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" || doc.Owner == "" {
		return finerr.New(finerr.CodeStoreInvalidInput, "document id and owner are required")
	}
	row := documentRowFrom(doc)

	q := s.client.Query(fmt.Sprintf(`
		INSERT %s (document_id, user_id, original_filename, gcs_uri, upload_ts, updated_ts, status)
		VALUES (@document_id, @user_id, @filename, @gcs_uri, @upload_ts, @upload_ts, @status)
	`, s.tableRef(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "document_id", Value: row.DocumentID},
		{Name: "user_id", Value: row.UserID},
		{Name: "filename", Value: row.Filename},
		{Name: "gcs_uri", Value: row.GCSURI},
		{Name: "upload_ts", Value: row.UploadTS},
		{Name: "status", Value: row.Status},
	}

	if _, err := runDML(ctx, q); err != nil {
		return finerr.Wrap(fmt.Errorf("CreateDocument: %w", err), finerr.CodeStorePersistFailure,
			"inserting document", finerr.FieldDocumentID(doc.ID))
	}
	return nil
}

// TransitionDocument updates status only when the stored status is still from.
func (s *Store) TransitionDocument(ctx context.Context, documentID string, from, to domain.DocumentStatus, reason string) error {
	if !domain.CanTransition(from, to) {
		return finerr.New(finerr.CodeStoreTransitionConflict, "illegal document status transition",
			finerr.FieldDocumentID(documentID), finerr.Field("from", string(from)), finerr.Field("to", string(to)))
	}
	if len(reason) > maxErrorLen {
		reason = reason[:maxErrorLen]
	}

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @to,
		    updated_ts = @updated_ts,
		    error_message = NULLIF(@reason, '')
		WHERE document_id = @document_id AND status = @from
	`, s.tableRef(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "to", Value: string(to)},
		{Name: "updated_ts", Value: time.Now().UTC()},
		{Name: "reason", Value: reason},
		{Name: "document_id", Value: documentID},
		{Name: "from", Value: string(from)},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return finerr.Wrap(fmt.Errorf("TransitionDocument: %w", err), finerr.CodeStorePersistFailure,
			"updating document status", finerr.FieldDocumentID(documentID))
	}
	if affected == 1 {
		return nil
	}

	docs, err := s.queryDocuments(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE document_id = @document_id`,
		documentColumns, s.tableRef(documentsTable)),
		bigquery.QueryParameter{Name: "document_id", Value: documentID})
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return finerr.New(finerr.CodeStoreEntityNotFound, "document not found", finerr.FieldDocumentID(documentID))
	}
	return finerr.New(finerr.CodeStoreTransitionConflict, "document status changed concurrently",
		finerr.FieldDocumentID(documentID), finerr.Field("expected", string(from)), finerr.Field("actual", string(docs[0].Status)))
}

func (s *Store) GetDocument(ctx context.Context, owner tenant.ID, documentID string) (*domain.Document, error) {
	docs, err := s.queryDocuments(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE document_id = @document_id AND user_id = @user_id
	`, documentColumns, s.tableRef(documentsTable)),
		bigquery.QueryParameter{Name: "document_id", Value: documentID},
		bigquery.QueryParameter{Name: "user_id", Value: owner.String()},
	)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, finerr.New(finerr.CodeStoreEntityNotFound, "document not found",
			finerr.FieldDocumentID(documentID), finerr.FieldUserID(owner.String()))
	}
	return docs[0], nil
}

func (s *Store) ListDocuments(ctx context.Context, owner tenant.ID) ([]*domain.Document, error) {
	return s.queryDocuments(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = @user_id
		ORDER BY upload_ts DESC
	`, documentColumns, s.tableRef(documentsTable)),
		bigquery.QueryParameter{Name: "user_id", Value: owner.String()},
	)
}

func (s *Store) ListFailedWithTransactions(ctx context.Context) ([]*domain.Document, error) {
	return s.queryDocuments(ctx, fmt.Sprintf(`
		SELECT %s FROM %s d
		WHERE d.status = 'failed'
		  AND EXISTS (SELECT 1 FROM %s t WHERE t.document_id = d.document_id)
		ORDER BY d.upload_ts
	`, prefixed("d", documentColumns), s.tableRef(documentsTable), s.tableRef(transactionsTable)))
}

func (s *Store) queryDocuments(ctx context.Context, query string, params ...bigquery.QueryParameter) ([]*domain.Document, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, finerr.Wrap(fmt.Errorf("queryDocuments: reading query: %w", err), finerr.CodeStorePersistFailure, "listing documents")
	}

	var docs []*domain.Document
	for {
		var row DocumentRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, finerr.Wrap(fmt.Errorf("queryDocuments: iterating: %w", err), finerr.CodeStorePersistFailure, "listing documents")
		}
		docs = append(docs, row.toDomain())
	}
	return docs, nil
}
