package indexer

import (
	"context"

	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/store"
	"github.com/dvloznov/finance-advisor/internal/vectorstore"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// Orphans describes one failed document whose rows lack vector records.
type Orphans struct {
	DocumentID     string
	Owner          string
	Transactions   int
	MissingVectors []string
	Repaired       bool
}

// Report is the outcome of one sweep.
type Report struct {
	Checked   int
	Documents []Orphans
}

// Reconciler finds relational rows whose vector record never landed. It
// never touches document status.
type Reconciler struct {
	documents    store.DocumentRepository
	transactions store.TransactionRepository
	vectors      vectorstore.Store
	repair       bool
}

func NewReconciler(documents store.DocumentRepository, transactions store.TransactionRepository, vectors vectorstore.Store, repair bool) *Reconciler {
	return &Reconciler{documents: documents, transactions: transactions, vectors: vectors, repair: repair}
}

func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	log := logger.FromContext(ctx)

	docs, err := r.documents.ListFailedWithTransactions(ctx)
	if err != nil {
		return Report{}, finerr.Wrap(err, finerr.CodeStoreQueryFailure, "listing failed documents")
	}

	var report Report
	for _, doc := range docs {
		report.Checked++

		orphans, err := r.check(ctx, doc)
		if err != nil {
			log.Error().Err(err).Str("document_id", doc.ID).Msg("reconcile check failed")
			continue
		}
		if len(orphans.MissingVectors) == 0 {
			continue
		}

		log.Warn().
			Str("document_id", doc.ID).
			Str("user_id", doc.Owner.String()).
			Int("missing", len(orphans.MissingVectors)).
			Bool("repaired", orphans.Repaired).
			Msg("document has transactions without vector records")
		report.Documents = append(report.Documents, orphans)
	}
	return report, nil
}

func (r *Reconciler) check(ctx context.Context, doc *domain.Document) (Orphans, error) {
	txs, err := r.transactions.ListTransactionsByDocument(ctx, doc.ID)
	if err != nil {
		return Orphans{}, err
	}

	byID := make(map[string]*domain.Transaction, len(txs))
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		if tx.CorrelationID == "" {
			continue
		}
		byID[tx.CorrelationID] = tx
		ids = append(ids, tx.CorrelationID)
	}

	reported, err := r.vectors.Missing(ctx, ids)
	if err != nil {
		return Orphans{}, err
	}
	missing := make([]string, 0, len(reported))
	for _, id := range reported {
		if _, ok := byID[id]; !ok {
			log := logger.FromContext(ctx)
			log.Warn().Str("document_id", doc.ID).Str("record_id", id).
				Msg("vector store reported an id that was not asked for")
			continue
		}
		missing = append(missing, id)
	}

	out := Orphans{
		DocumentID:     doc.ID,
		Owner:          doc.Owner.String(),
		Transactions:   len(txs),
		MissingVectors: missing,
	}
	if !r.repair || len(missing) == 0 {
		return out, nil
	}

	restage := make([]*domain.Transaction, 0, len(missing))
	for _, id := range missing {
		tx := byID[id]
		// Metadata must name the document owner, whatever the row says.
		tx.UserID = doc.Owner
		restage = append(restage, tx)
	}
	if err := r.vectors.Upsert(ctx, Records(restage)); err != nil {
		return out, finerr.Wrap(err, finerr.CodeVectorWriteFailure, "re-staging vector records", finerr.FieldDocumentID(doc.ID))
	}
	out.Repaired = true
	return out, nil
}
