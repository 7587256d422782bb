// UTXO Repository - the live unspent-output set.

package database

import (
	"context"
	"fmt"

	"github.com/txledger/node/pkg/transaction"
)

// UTXORepository maintains the utxos relation: one row per unspent output,
// primary-keyed on (transaction_id, output_index).
type UTXORepository struct {
	client *Client
}

// NewUTXORepository creates a new UTXO repository.
func NewUTXORepository(client *Client) *UTXORepository {
	return &UTXORepository{client: client}
}

// ApplyCommit updates the UTXO set for one committed transaction: inserts
// one row per output, then deletes one row per consumed input link.
// Non-matching deletes are ignored, matching §4.6's write semantics.
func (r *UTXORepository) ApplyCommit(ctx context.Context, q queryer, tx transaction.Transaction) error {
	utxos, err := tx.UnspentOutputs()
	if err != nil {
		return err
	}
	for _, u := range utxos {
		_, err := q.ExecContext(ctx, `
			INSERT INTO utxos (transaction_id, output_index, amount, asset_id, condition_uri)
			VALUES ($1, $2, $3, $4, $5)`,
			u.TransactionID, u.OutputIndex, int64(u.Amount), u.AssetID, u.ConditionURI)
		if err != nil {
			return fmt.Errorf("insert utxo %s:%d: %w", u.TransactionID, u.OutputIndex, err)
		}
	}

	for _, in := range tx.Inputs {
		if in.Fulfills == nil {
			continue
		}
		_, err := q.ExecContext(ctx, `
			DELETE FROM utxos WHERE transaction_id = $1 AND output_index = $2`,
			in.Fulfills.TransactionID, in.Fulfills.OutputIndex)
		if err != nil {
			return fmt.Errorf("delete utxo %s: %w", in.Fulfills, err)
		}
	}
	return nil
}

// IsUnspent reports whether (txid, outputIndex) is currently in the UTXO
// set.
func (r *UTXORepository) IsUnspent(ctx context.Context, txid string, outputIndex int) (bool, error) {
	var exists bool
	err := r.client.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM utxos WHERE transaction_id = $1 AND output_index = $2)`,
		txid, outputIndex).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check utxo %s:%d: %w", txid, outputIndex, err)
	}
	return exists, nil
}

// GetAssetTokensForPublicKey returns the unspent outputs payable to
// publicKey belonging to assetID.
func (r *UTXORepository) GetAssetTokensForPublicKey(ctx context.Context, assetID, publicKey string) ([]transaction.UnspentOutput, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT u.transaction_id, u.output_index, u.amount, u.asset_id, u.condition_uri
		FROM utxos u
		JOIN keys k ON k.transaction_id = u.transaction_id AND k.output_index = u.output_index
		WHERE u.asset_id = $1 AND k.public_key = $2`, assetID, publicKey)
	if err != nil {
		return nil, fmt.Errorf("get asset tokens: %w", err)
	}
	defer rows.Close()

	var out []transaction.UnspentOutput
	for rows.Next() {
		var u transaction.UnspentOutput
		var amount int64
		if err := rows.Scan(&u.TransactionID, &u.OutputIndex, &amount, &u.AssetID, &u.ConditionURI); err != nil {
			return nil, err
		}
		u.Amount = uint64(amount)
		out = append(out, u)
	}
	return out, rows.Err()
}
