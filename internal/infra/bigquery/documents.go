package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/tenant"
)

type DocumentRow struct {
	DocumentID string `bigquery:"document_id"` // REQUIRED
	UserID     string `bigquery:"user_id"`     // REQUIRED
	Filename   string `bigquery:"original_filename"`
	GCSURI     string `bigquery:"gcs_uri"` // NULLABLE

	UploadTS  time.Time              `bigquery:"upload_ts"`  // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE

	Status       string              `bigquery:"status"`        // REQUIRED
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE
}

func documentRowFrom(d *domain.Document) *DocumentRow {
	row := &DocumentRow{
		DocumentID: d.ID,
		UserID:     d.Owner.String(),
		Filename:   d.Filename,
		GCSURI:     d.StorageURI,
		UploadTS:   d.UploadDate,
		Status:     string(d.Status),
	}
	if !d.UpdatedAt.IsZero() {
		row.UpdatedTS = bigquery.NullTimestamp{Timestamp: d.UpdatedAt, Valid: true}
	}
	if d.Error != "" {
		row.ErrorMessage = bigquery.NullString{StringVal: d.Error, Valid: true}
	}
	return row
}

func (r *DocumentRow) toDomain() *domain.Document {
	d := &domain.Document{
		ID:         r.DocumentID,
		Filename:   r.Filename,
		UploadDate: r.UploadTS,
		Status:     domain.DocumentStatus(r.Status),
		Owner:      tenant.ID(r.UserID),
		StorageURI: r.GCSURI,
		Error:      r.ErrorMessage.StringVal,
	}
	if r.UpdatedTS.Valid {
		d.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return d
}
