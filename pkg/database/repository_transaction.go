// Transaction Repository - shreds and reconstructs transactions across the
// transactions, inputs, outputs, keys, assets, and meta_data relations.

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/txledger/node/pkg/crypto/condition"
	"github.com/txledger/node/pkg/transaction"
)

// TransactionRepository handles the four relations a transaction shreds
// into, plus its assets row (CREATE only) and meta_data row.
type TransactionRepository struct {
	client *Client
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(client *Client) *TransactionRepository {
	return &TransactionRepository{client: client}
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the only constraint StoreTransactions relies on to
// detect a re-submitted transaction id.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// StoreTransactions shreds each transaction into transactions/inputs/
// outputs/keys/assets/meta_data using q (the caller's block-commit
// transaction, or the client for a standalone insert). Idempotent:
// re-inserting an id that already exists returns ErrDuplicateKey for that
// transaction and the caller decides whether to ignore it (only safe when
// retrying an already-committed block) or fail the batch.
func (r *TransactionRepository) StoreTransactions(ctx context.Context, q queryer, txs []transaction.Transaction) error {
	for _, tx := range txs {
		if err := r.storeOne(ctx, q, tx); err != nil {
			return err
		}
	}
	return nil
}

func (r *TransactionRepository) storeOne(ctx context.Context, q queryer, tx transaction.Transaction) error {
	assetID, err := tx.AssetID()
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions (id, operation, version, asset_id)
		VALUES ($1, $2, $3, $4)`,
		tx.IDString(), tx.Operation, tx.Version, assetID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: transaction %s", ErrDuplicateKey, tx.IDString())
		}
		return fmt.Errorf("store transaction %s: %w", tx.IDString(), err)
	}

	for i, in := range tx.Inputs {
		var fulfillsTxID sql.NullString
		var fulfillsIdx sql.NullInt64
		if in.Fulfills != nil {
			fulfillsTxID = sql.NullString{String: in.Fulfills.TransactionID, Valid: true}
			fulfillsIdx = sql.NullInt64{Int64: int64(in.Fulfills.OutputIndex), Valid: true}
		}
		var fulfillmentURI sql.NullString
		if in.FulfillmentURI != nil {
			fulfillmentURI = sql.NullString{String: *in.FulfillmentURI, Valid: true}
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO inputs (transaction_id, input_index, owners_before, fulfills_transaction_id, fulfills_output_index, fulfillment_uri)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			tx.IDString(), i, pq.Array(in.OwnersBefore), fulfillsTxID, fulfillsIdx, fulfillmentURI)
		if err != nil {
			return fmt.Errorf("store input %d of %s: %w", i, tx.IDString(), err)
		}
	}

	for i, out := range tx.Outputs {
		detailsJSON, err := json.Marshal(out.Condition.Details)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO outputs (transaction_id, output_index, amount, condition_uri, condition_details)
			VALUES ($1, $2, $3, $4, $5)`,
			tx.IDString(), i, out.Amount, out.Condition.URI, detailsJSON)
		if err != nil {
			return fmt.Errorf("store output %d of %s: %w", i, tx.IDString(), err)
		}

		for _, pub := range out.PublicKeys {
			_, err = q.ExecContext(ctx, `
				INSERT INTO keys (transaction_id, output_index, public_key)
				VALUES ($1, $2, $3)`,
				tx.IDString(), i, pub)
			if err != nil {
				return fmt.Errorf("store key for output %d of %s: %w", i, tx.IDString(), err)
			}
		}
	}

	if tx.Operation == transaction.OpCreate {
		var assetData []byte
		if tx.Asset != nil {
			assetData = tx.Asset.Data
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO assets (transaction_id, data)
			VALUES ($1, $2)`,
			tx.IDString(), assetData)
		if err != nil {
			return fmt.Errorf("store asset for %s: %w", tx.IDString(), err)
		}
	}

	if tx.Metadata != nil {
		_, err = q.ExecContext(ctx, `
			INSERT INTO meta_data (transaction_id, data)
			VALUES ($1, $2)`,
			tx.IDString(), []byte(tx.Metadata))
		if err != nil {
			return fmt.Errorf("store metadata for %s: %w", tx.IDString(), err)
		}
	}

	return nil
}

// DeleteTransactions removes every row belonging to the given ids from
// transactions, inputs, outputs, keys, assets, and meta_data. Used only
// during failed-block rollback.
func (r *TransactionRepository) DeleteTransactions(ctx context.Context, q queryer, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, table := range []string{"keys", "inputs", "outputs", "assets", "meta_data", "transactions"} {
		col := "transaction_id"
		_, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ANY($1)`, table, col), pq.Array(ids))
		if err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}

// GetTransaction reconstructs a single transaction by joining the shredded
// relations. Reports found=false, with a nil error, if no such transaction
// is committed.
func (r *TransactionRepository) GetTransaction(ctx context.Context, id string) (transaction.Transaction, bool, error) {
	txs, err := r.GetTransactions(ctx, []string{id})
	if err != nil {
		return transaction.Transaction{}, false, err
	}
	if len(txs) == 0 {
		return transaction.Transaction{}, false, nil
	}
	return txs[0], true, nil
}

// GetTransactions reconstructs every transaction named in ids, preserving
// the caller's requested order (§9 open-question decision: result order
// always matches the request, not storage order).
func (r *TransactionRepository) GetTransactions(ctx context.Context, ids []string) ([]transaction.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]*transaction.Transaction, len(ids))

	rows, err := r.client.QueryContext(ctx, `
		SELECT id, operation, version FROM transactions WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get transactions: %w", err)
	}
	for rows.Next() {
		var id, op, version string
		if err := rows.Scan(&id, &op, &version); err != nil {
			rows.Close()
			return nil, err
		}
		byID[id] = &transaction.Transaction{Operation: op, Version: version}
		byID[id].ID = &id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.attachAssets(ctx, byID); err != nil {
		return nil, err
	}
	if err := r.attachMetadata(ctx, byID); err != nil {
		return nil, err
	}
	if err := r.attachInputs(ctx, byID); err != nil {
		return nil, err
	}
	if err := r.attachOutputs(ctx, byID); err != nil {
		return nil, err
	}

	out := make([]transaction.Transaction, 0, len(ids))
	for _, id := range ids {
		if tx, ok := byID[id]; ok {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (r *TransactionRepository) attachAssets(ctx context.Context, byID map[string]*transaction.Transaction) error {
	ids := idsOf(byID)
	rows, err := r.client.QueryContext(ctx, `
		SELECT transaction_id, data FROM assets WHERE transaction_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("attach assets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return err
		}
		byID[id].Asset = &transaction.Asset{Data: data}
	}
	return rows.Err()
}

func (r *TransactionRepository) attachMetadata(ctx context.Context, byID map[string]*transaction.Transaction) error {
	ids := idsOf(byID)
	rows, err := r.client.QueryContext(ctx, `
		SELECT transaction_id, data FROM meta_data WHERE transaction_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("attach metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return err
		}
		byID[id].Metadata = data
	}
	return rows.Err()
}

func (r *TransactionRepository) attachInputs(ctx context.Context, byID map[string]*transaction.Transaction) error {
	ids := idsOf(byID)
	rows, err := r.client.QueryContext(ctx, `
		SELECT transaction_id, input_index, owners_before, fulfills_transaction_id, fulfills_output_index, fulfillment_uri
		FROM inputs WHERE transaction_id = ANY($1) ORDER BY transaction_id, input_index`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("attach inputs: %w", err)
	}
	defer rows.Close()

	perTx := make(map[string][]transaction.Input)
	for rows.Next() {
		var id string
		var idx int
		var owners []string
		var fulfillsTxID, fulfillmentURI sql.NullString
		var fulfillsIdx sql.NullInt64
		if err := rows.Scan(&id, &idx, pq.Array(&owners), &fulfillsTxID, &fulfillsIdx, &fulfillmentURI); err != nil {
			return err
		}
		in := transaction.Input{OwnersBefore: owners}
		if fulfillsTxID.Valid {
			in.Fulfills = &transaction.TransactionLink{
				TransactionID: fulfillsTxID.String,
				OutputIndex:   int(fulfillsIdx.Int64),
			}
		}
		if fulfillmentURI.Valid {
			uri := fulfillmentURI.String
			in.FulfillmentURI = &uri
		}
		perTx[id] = append(perTx[id], in)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for id, inputs := range perTx {
		byID[id].Inputs = inputs
	}
	return nil
}

func (r *TransactionRepository) attachOutputs(ctx context.Context, byID map[string]*transaction.Transaction) error {
	ids := idsOf(byID)
	rows, err := r.client.QueryContext(ctx, `
		SELECT transaction_id, output_index, amount, condition_uri, condition_details
		FROM outputs WHERE transaction_id = ANY($1) ORDER BY transaction_id, output_index`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("attach outputs: %w", err)
	}
	defer rows.Close()

	perTx := make(map[string][]transaction.Output)
	for rows.Next() {
		var id string
		var idx int
		var amount, uri string
		var detailsJSON []byte
		if err := rows.Scan(&id, &idx, &amount, &uri, &detailsJSON); err != nil {
			return err
		}
		var details condition.Details
		if err := json.Unmarshal(detailsJSON, &details); err != nil {
			return err
		}
		perTx[id] = append(perTx[id], transaction.Output{
			Amount:    amount,
			Condition: transaction.OutputCondition{URI: uri, Details: details},
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	keyRows, err := r.client.QueryContext(ctx, `
		SELECT transaction_id, output_index, public_key FROM keys WHERE transaction_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("attach output keys: %w", err)
	}
	defer keyRows.Close()
	for keyRows.Next() {
		var id string
		var idx int
		var pub string
		if err := keyRows.Scan(&id, &idx, &pub); err != nil {
			return err
		}
		if outs, ok := perTx[id]; ok && idx < len(outs) {
			outs[idx].PublicKeys = append(outs[idx].PublicKeys, pub)
		}
	}
	if err := keyRows.Err(); err != nil {
		return err
	}

	for id, outs := range perTx {
		byID[id].Outputs = outs
	}
	return nil
}

// GetSpendingTransactions is the batched form of "get spent": for every link
// in links that is already spent in committed state, it reports the id of
// the transaction that spends it. Links with no entry in the result are
// unspent. A single query resolves the whole batch instead of one
// round-trip per input.
func (r *TransactionRepository) GetSpendingTransactions(ctx context.Context, links []transaction.TransactionLink) (map[transaction.TransactionLink]string, error) {
	out := make(map[transaction.TransactionLink]string, len(links))
	if len(links) == 0 {
		return out, nil
	}

	txIDs := make([]string, len(links))
	outputIdxs := make([]int64, len(links))
	for i, link := range links {
		txIDs[i] = link.TransactionID
		outputIdxs[i] = int64(link.OutputIndex)
	}

	rows, err := r.client.QueryContext(ctx, `
		SELECT i.transaction_id, i.fulfills_transaction_id, i.fulfills_output_index
		FROM inputs i
		JOIN unnest($1::text[], $2::bigint[]) AS want(tx_id, out_idx)
			ON i.fulfills_transaction_id = want.tx_id AND i.fulfills_output_index = want.out_idx`,
		pq.Array(txIDs), pq.Array(outputIdxs))
	if err != nil {
		return nil, fmt.Errorf("get spending transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var spender, fulfillsTxID string
		var fulfillsIdx int64
		if err := rows.Scan(&spender, &fulfillsTxID, &fulfillsIdx); err != nil {
			return nil, err
		}
		out[transaction.TransactionLink{TransactionID: fulfillsTxID, OutputIndex: int(fulfillsIdx)}] = spender
	}
	return out, rows.Err()
}

// GetOwnedIDs returns the ids of every transaction with an output payable
// to publicKey.
func (r *TransactionRepository) GetOwnedIDs(ctx context.Context, publicKey string) ([]string, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT DISTINCT transaction_id FROM keys WHERE public_key = $1`, publicKey)
	if err != nil {
		return nil, fmt.Errorf("get owned ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func idsOf(byID map[string]*transaction.Transaction) []string {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	return ids
}
