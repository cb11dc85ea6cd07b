// Package embedding turns transaction text into vectors for the vector store.
package embedding

import (
	"context"
	"errors"
	"time"

	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// Embedder produces embeddings for stored records and for search queries.
// Some providers embed the two differently.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// WithTimeout bounds every call to e. A non-positive timeout returns e unchanged.
func WithTimeout(e Embedder, timeout time.Duration) Embedder {
	if timeout <= 0 {
		return e
	}
	return &timed{next: e, timeout: timeout}
}

type timed struct {
	next    Embedder
	timeout time.Duration
}

func (t *timed) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	vecs, err := t.next.EmbedDocuments(ctx, texts)
	return vecs, t.classify(ctx, err)
}

func (t *timed) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	vec, err := t.next.EmbedQuery(ctx, text)
	return vec, t.classify(ctx, err)
}

func (t *timed) classify(ctx context.Context, err error) error {
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !finerr.IsTimeout(err) {
		return finerr.Wrapf(err, finerr.CodeProviderTimeout, "embedding exceeded %s", t.timeout)
	}
	return err
}
