// Package indexer writes each extracted transaction to both stores: the
// relational row first, then the vector record keyed by the same correlation id.
package indexer

import (
	"context"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/store"
	"github.com/dvloznov/finance-advisor/internal/vectorstore"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// DualStore commits relational rows and then their vector records. There is
// no cross-store transaction: if the vector write fails, committed rows stay
// and the Reconciler reports the gap.
type DualStore struct {
	transactions store.TransactionRepository
	vectors      vectorstore.Store
}

func New(transactions store.TransactionRepository, vectors vectorstore.Store) *DualStore {
	return &DualStore{transactions: transactions, vectors: vectors}
}

// Index writes txs. Every row must carry its correlation id and owner.
func (d *DualStore) Index(ctx context.Context, txs []*domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	for _, tx := range txs {
		if tx.CorrelationID == "" {
			return finerr.New(finerr.CodeStoreInvalidInput, "transaction has no correlation id", finerr.FieldDocumentID(tx.DocumentID))
		}
		if err := tx.UserID.Validate(); err != nil {
			return finerr.Wrap(err, finerr.CodeStoreInvalidInput, "transaction has no owner", finerr.FieldDocumentID(tx.DocumentID))
		}
	}

	log := logger.FromContext(ctx)

	if err := d.transactions.InsertTransactions(ctx, txs); err != nil {
		return finerr.Wrap(err, finerr.CodeStorePersistFailure, "committing transactions")
	}
	log.Debug().Int("count", len(txs)).Msg("relational rows committed")

	if err := d.vectors.Upsert(ctx, Records(txs)); err != nil {
		return finerr.Wrap(err, finerr.CodeVectorWriteFailure, "writing vector records",
			finerr.FieldDocumentID(txs[0].DocumentID))
	}
	log.Debug().Int("count", len(txs)).Msg("vector records written")
	return nil
}

// Records builds the vector records paired with txs.
func Records(txs []*domain.Transaction) []vectorstore.Record {
	records := make([]vectorstore.Record, 0, len(txs))
	for _, tx := range txs {
		records = append(records, vectorstore.Record{
			ID:       tx.CorrelationID,
			Text:     tx.SearchText(),
			Metadata: tx.VectorMetadata(),
		})
	}
	return records
}
