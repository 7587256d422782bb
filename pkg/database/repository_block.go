// Block Repository - committed blocks and their transaction membership.

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Block is one committed height: its app hash and the ids of the
// transactions it contains, in commit order.
type Block struct {
	Height         int64
	AppHash        string
	TransactionIDs []string
}

// BlockRepository handles the blocks and blocks_tx relations.
type BlockRepository struct {
	client *Client
}

// NewBlockRepository creates a new block repository.
func NewBlockRepository(client *Client) *BlockRepository {
	return &BlockRepository{client: client}
}

// StoreBlock writes one blocks row and one blocks_tx row per contained
// transaction id.
func (r *BlockRepository) StoreBlock(ctx context.Context, q queryer, block Block) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO blocks (height, app_hash) VALUES ($1, $2)`,
		block.Height, block.AppHash)
	if err != nil {
		return fmt.Errorf("store block %d: %w", block.Height, err)
	}
	for _, txid := range block.TransactionIDs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO blocks_tx (height, transaction_id) VALUES ($1, $2)`,
			block.Height, txid)
		if err != nil {
			return fmt.Errorf("store blocks_tx for %d/%s: %w", block.Height, txid, err)
		}
	}
	return nil
}

// LatestBlock returns the highest committed block, or found=false if none
// have been committed yet. Ordered by height descending, not insertion
// order (§9 open-question decision: height is the only meaningful sort
// key, since blocks_tx rows interleave across a join).
func (r *BlockRepository) LatestBlock(ctx context.Context) (Block, bool, error) {
	var b Block
	err := r.client.QueryRowContext(ctx, `
		SELECT height, app_hash FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&b.Height, &b.AppHash)
	if err == sql.ErrNoRows {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, fmt.Errorf("latest block: %w", err)
	}
	ids, err := r.transactionIDsAt(ctx, b.Height)
	if err != nil {
		return Block{}, false, err
	}
	b.TransactionIDs = ids
	return b, true, nil
}

// GetBlock returns the block at height.
func (r *BlockRepository) GetBlock(ctx context.Context, height int64) (Block, bool, error) {
	var b Block
	b.Height = height
	err := r.client.QueryRowContext(ctx, `
		SELECT app_hash FROM blocks WHERE height = $1`, height).Scan(&b.AppHash)
	if err == sql.ErrNoRows {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, fmt.Errorf("get block %d: %w", height, err)
	}
	ids, err := r.transactionIDsAt(ctx, height)
	if err != nil {
		return Block{}, false, err
	}
	b.TransactionIDs = ids
	return b, true, nil
}

// GetBlockWithTransaction returns the block containing txid, if any.
func (r *BlockRepository) GetBlockWithTransaction(ctx context.Context, txid string) (Block, bool, error) {
	var height int64
	err := r.client.QueryRowContext(ctx, `
		SELECT height FROM blocks_tx WHERE transaction_id = $1 LIMIT 1`, txid).Scan(&height)
	if err == sql.ErrNoRows {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, fmt.Errorf("get block for %s: %w", txid, err)
	}
	return r.GetBlock(ctx, height)
}

func (r *BlockRepository) transactionIDsAt(ctx context.Context, height int64) ([]string, error) {
	rows, err := r.client.QueryContext(ctx, `
		SELECT transaction_id FROM blocks_tx WHERE height = $1`, height)
	if err != nil {
		return nil, fmt.Errorf("block transactions at %d: %w", height, err)
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

// Validator is one member of a validator set as of some height.
type Validator struct {
	Height      int64
	PublicKey   string
	VotingPower int64
}

// ConsensusRepository persists the BFT engine's bookkeeping records:
// validator sets, elections, pre-commit state, and chain identity.
type ConsensusRepository struct {
	client *Client
}

// NewConsensusRepository creates a new consensus repository.
func NewConsensusRepository(client *Client) *ConsensusRepository {
	return &ConsensusRepository{client: client}
}

// StoreValidatorSet writes one validators row per member at height.
func (r *ConsensusRepository) StoreValidatorSet(ctx context.Context, q queryer, height int64, set []Validator) error {
	for _, v := range set {
		_, err := q.ExecContext(ctx, `
			INSERT INTO validators (height, public_key, voting_power) VALUES ($1, $2, $3)`,
			height, v.PublicKey, v.VotingPower)
		if err != nil {
			return fmt.Errorf("store validator set at %d: %w", height, err)
		}
	}
	return nil
}

// GetValidatorSet returns the most recent validator set with stored height
// <= atHeight, or the overall latest set if atHeight is nil.
func (r *ConsensusRepository) GetValidatorSet(ctx context.Context, atHeight *int64) ([]Validator, error) {
	var rows *sql.Rows
	var err error
	if atHeight != nil {
		rows, err = r.client.QueryContext(ctx, `
			SELECT height, public_key, voting_power FROM validators
			WHERE height = (SELECT MAX(height) FROM validators WHERE height <= $1)`, *atHeight)
	} else {
		rows, err = r.client.QueryContext(ctx, `
			SELECT height, public_key, voting_power FROM validators
			WHERE height = (SELECT MAX(height) FROM validators)`)
	}
	if err != nil {
		return nil, fmt.Errorf("get validator set: %w", err)
	}
	defer rows.Close()

	var out []Validator
	for rows.Next() {
		var v Validator
		if err := rows.Scan(&v.Height, &v.PublicKey, &v.VotingPower); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// StorePreCommitState upserts the single retained pre-commit record.
func (r *ConsensusRepository) StorePreCommitState(ctx context.Context, q queryer, height int64, commitHash string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO pre_commits (pc_uid, height, commit_hash) VALUES (1, $1, $2)
		ON CONFLICT (pc_uid) DO UPDATE SET height = EXCLUDED.height, commit_hash = EXCLUDED.commit_hash`,
		height, commitHash)
	if err != nil {
		return fmt.Errorf("store pre-commit state: %w", err)
	}
	return nil
}

// StoreAbciChain upserts the chain-identity record for chainID.
func (r *ConsensusRepository) StoreAbciChain(ctx context.Context, q queryer, chainID string, height int64, isSynced bool) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO abci_chains (chain_id, height, is_synced) VALUES ($1, $2, $3)
		ON CONFLICT (chain_id) DO UPDATE SET height = EXCLUDED.height, is_synced = EXCLUDED.is_synced`,
		chainID, height, isSynced)
	if err != nil {
		return fmt.Errorf("store abci chain %s: %w", chainID, err)
	}
	return nil
}

// StoreElection writes one elections row.
func (r *ConsensusRepository) StoreElection(ctx context.Context, q queryer, electionID string, height int64, kind string, payload []byte) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO elections (election_id, height, kind, payload) VALUES ($1, $2, $3, $4)`,
		electionID, height, kind, payload)
	if err != nil {
		return fmt.Errorf("store election %s: %w", electionID, err)
	}
	return nil
}
