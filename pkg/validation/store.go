package validation

import (
	"context"

	"github.com/txledger/node/pkg/transaction"
)

// TxLookup is the read surface the validation pipeline needs from the
// transaction store. pkg/database's repositories satisfy it directly; tests
// use an in-memory stand-in.
type TxLookup interface {
	// GetTransaction returns the committed transaction with the given id,
	// and true, or false if no such transaction is committed.
	GetTransaction(ctx context.Context, id string) (transaction.Transaction, bool, error)

	// GetSpendingTransactions is a batched spent-output lookup: for every
	// link in links that is already spent in committed state, the result
	// maps it to the id of the transaction that spends it. A link absent
	// from the result is unspent in committed state.
	GetSpendingTransactions(ctx context.Context, links []transaction.TransactionLink) (map[transaction.TransactionLink]string, error)
}

// Batch tracks the transactions validated so far within the block currently
// being assembled or replayed, so double-spend and existence checks can see
// same-block predecessors the committed store does not yet know about.
type Batch struct {
	byID    map[string]transaction.Transaction
	claimed map[transaction.TransactionLink]string
}

// NewBatch returns an empty pending batch.
func NewBatch() *Batch {
	return &Batch{
		byID:    make(map[string]transaction.Transaction),
		claimed: make(map[transaction.TransactionLink]string),
	}
}

// Add records tx as validated within this batch, so later transactions in
// the same block can reference its outputs and so its inputs count as
// claimed for double-spend purposes. Callers must only Add a transaction
// after it passes Validate.
func (b *Batch) Add(tx transaction.Transaction) {
	b.byID[tx.IDString()] = tx
	for _, in := range tx.Inputs {
		if in.Fulfills != nil {
			b.claimed[*in.Fulfills] = tx.IDString()
		}
	}
}

func (b *Batch) lookup(id string) (transaction.Transaction, bool) {
	tx, ok := b.byID[id]
	return tx, ok
}

func (b *Batch) spenderOf(link transaction.TransactionLink) (string, bool) {
	id, ok := b.claimed[link]
	return id, ok
}
