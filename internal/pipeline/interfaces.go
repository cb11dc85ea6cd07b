package pipeline

import (
	"context"

	"github.com/dvloznov/finance-advisor/internal/domain"
)

// TextExtractor reads the raw text of an uploaded document.
type TextExtractor interface {
	ExtractText(ctx context.Context, content []byte) (string, error)
}

// Structurer turns raw text into candidate transactions.
type Structurer interface {
	Structure(ctx context.Context, text string) (domain.Extraction, error)
}

// Indexer commits transactions to the relational store and the vector store.
type Indexer interface {
	Index(ctx context.Context, txs []*domain.Transaction) error
}

// DocumentTransitioner is the part of the document repository the pipeline writes through.
type DocumentTransitioner interface {
	TransitionDocument(ctx context.Context, documentID string, from, to domain.DocumentStatus, reason string) error
}
