// Package vectorstore holds the searchable side of the dual-store index. Each
// record mirrors one transaction and carries its owner in metadata["user_id"];
// that field is the only thing searches are scoped by.
package vectorstore

import (
	"context"

	"github.com/dvloznov/finance-advisor/internal/tenant"
)

// MetadataUserID is the metadata key that scopes every query.
const MetadataUserID = "user_id"

// Record is one searchable entry, keyed by the transaction's correlation id.
type Record struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Match is a search hit.
type Match struct {
	ID         string
	Text       string
	Metadata   map[string]string
	Similarity float32
}

// Filter is an equality filter on metadata. Owner is mandatory.
type Filter struct {
	Owner tenant.ID
	Equal map[string]string
}

func (f Filter) where() map[string]string {
	where := make(map[string]string, len(f.Equal)+1)
	for k, v := range f.Equal {
		where[k] = v
	}
	where[MetadataUserID] = f.Owner.String()
	return where
}

// Store is safe for concurrent reads and append-only writes.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, text string, k int, filter Filter) ([]Match, error)
	// Missing returns the ids that have no stored record.
	Missing(ctx context.Context, ids []string) ([]string, error)
	Close() error
}
