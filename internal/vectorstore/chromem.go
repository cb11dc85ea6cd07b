package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/dvloznov/finance-advisor/internal/embedding"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

var _ Store = (*Chromem)(nil)

// Chromem is an embedded vector store for local runs, optionally persisted to disk.
type Chromem struct {
	collection *chromem.Collection
	embedder   embedding.Embedder
}

// NewChromem opens the collection. An empty path keeps everything in memory.
func NewChromem(path, collection string, embedder embedding.Embedder) (*Chromem, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("NewChromem: opening %s: %w", path, err)
		}
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	c, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("NewChromem: collection %s: %w", collection, err)
	}
	return &Chromem{collection: c, embedder: embedder}, nil
}

func (c *Chromem) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vecs, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return finerr.Wrap(err, finerr.CodeVectorWriteFailure, "embedding records")
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  r.Metadata,
			Embedding: vecs[i],
			Content:   r.Text,
		}
	}

	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return finerr.Wrap(err, finerr.CodeVectorWriteFailure, "adding documents")
	}
	return nil
}

func (c *Chromem) Query(ctx context.Context, text string, k int, filter Filter) ([]Match, error) {
	if filter.Owner == "" {
		return nil, finerr.New(finerr.CodeToolSecurityDenied, "vector query without owner filter")
	}

	// chromem refuses nResults larger than the collection.
	k = min(k, c.collection.Count())
	if k <= 0 {
		return nil, nil
	}

	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "embedding query")
	}

	results, err := c.collection.QueryEmbedding(ctx, vec, k, filter.where(), nil)
	if err != nil {
		return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "querying collection")
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{ID: r.ID, Text: r.Content, Metadata: r.Metadata, Similarity: r.Similarity})
	}
	return matches, nil
}

func (c *Chromem) Missing(ctx context.Context, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "checking vector records")
		}
		_, err := c.collection.GetByID(ctx, id)
		switch {
		case err == nil:
		case isNotFound(err):
			missing = append(missing, id)
		default:
			return nil, finerr.Wrap(err, finerr.CodeVectorQueryFailure, "checking vector record", finerr.Field("record_id", id))
		}
	}
	return missing, nil
}

// isNotFound matches the error chromem returns for an unknown id; the library
// has no sentinel for it.
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found")
}

func (c *Chromem) Close() error { return nil }
