// Package consensus wires the transaction, signing, validation, and store
// packages into CometBFT's ABCI method set. CheckTx validates against
// committed state only; FinalizeBlock and Commit validate and apply a
// block's transactions atomically inside a single database transaction,
// then fold the committed ids into an app_hash via pkg/merkle.
package consensus

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	"github.com/google/uuid"

	"github.com/txledger/node/pkg/database"
	"github.com/txledger/node/pkg/merkle"
	"github.com/txledger/node/pkg/transaction"
	"github.com/txledger/node/pkg/validation"
)

// App implements abcitypes.Application over the transaction store. It holds
// only the current block's working state; every committed write goes
// through a single *sql.Tx per height, consistent with "the node halts
// rather than diverge" (§4's scheduling model).
type App struct {
	logger *log.Logger

	client  *database.Client
	repos   *database.Repositories
	chainID string

	mu          sync.RWMutex
	height      int64
	lastAppHash []byte

	// per-block working state, valid only between FinalizeBlock and Commit
	blockTx    *database.Tx
	blockTxIDs []string
}

// NewApp constructs the ABCI application for the given chain id, backed by
// client for all store reads and writes.
func NewApp(client *database.Client, chainID string) *App {
	return &App{
		logger:  log.New(os.Stdout, "[consensus] ", log.LstdFlags),
		client:  client,
		repos:   database.NewRepositories(client),
		chainID: chainID,
	}
}

var _ abcitypes.Application = (*App)(nil)

// Info reports the last committed height and app_hash so CometBFT can
// decide whether this node needs to replay blocks after a restart.
func (a *App) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.height == 0 {
		if latest, found, err := a.repos.Blocks.LatestBlock(ctx); err != nil {
			return nil, fmt.Errorf("load latest block: %w", err)
		} else if found {
			a.height = latest.Height
			a.lastAppHash = []byte(latest.AppHash)
		}
	}

	return &abcitypes.ResponseInfo{
		Data:             "txledger transaction node",
		Version:          "1.0.0",
		AppVersion:       1,
		LastBlockHeight:  a.height,
		LastBlockAppHash: a.lastAppHash,
	}, nil
}

// CheckTx validates a candidate transaction against committed state only
// (no in-flight batch): a best-effort mempool admission check.
func (a *App) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	tx, err := transaction.FromJSON(req.Tx)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: "malformed transaction: " + err.Error()}, nil
	}

	pipeline := validation.NewPipeline(a.repos.Transactions)
	if err := pipeline.Validate(ctx, tx, validation.NewBatch()); err != nil {
		return &abcitypes.ResponseCheckTx{Code: 2, Log: "validation failed: " + err.Error()}, nil
	}

	return &abcitypes.ResponseCheckTx{Code: 0, GasWanted: 1, GasUsed: 1, Log: "ok"}, nil
}

// FinalizeBlock validates and applies every transaction in the block inside
// a single database transaction, held open until Commit. Transactions are
// applied in the order the consensus engine supplied them; a later
// transaction in the same block may spend an earlier one's output, which is
// why validation runs against a shared in-flight batch.
func (a *App) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	blockTx, err := a.client.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin block transaction: %w", err)
	}
	sqlTx := blockTx.Tx()

	batch := validation.NewBatch()
	pipeline := validation.NewPipeline(a.repos.Transactions)

	results := make([]*abcitypes.ExecTxResult, len(req.Txs))
	txIDs := make([]string, 0, len(req.Txs))

	for i, raw := range req.Txs {
		tx, err := transaction.FromJSON(raw)
		if err != nil {
			blockTx.Rollback()
			return nil, fmt.Errorf("block contains malformed transaction %d: %w", i, err)
		}
		if err := pipeline.Validate(ctx, tx, batch); err != nil {
			blockTx.Rollback()
			return nil, fmt.Errorf("block contains invalid transaction %d (%s): %w", i, tx.IDString(), err)
		}
		batch.Add(tx)

		if err := a.repos.Transactions.StoreTransactions(ctx, sqlTx, []transaction.Transaction{tx}); err != nil {
			blockTx.Rollback()
			return nil, fmt.Errorf("store transaction %s: %w", tx.IDString(), err)
		}
		if err := a.repos.UTXOs.ApplyCommit(ctx, sqlTx, tx); err != nil {
			blockTx.Rollback()
			return nil, fmt.Errorf("apply utxo commit for %s: %w", tx.IDString(), err)
		}
		if isElectionOperation(tx.Operation) {
			if err := a.storeElection(ctx, sqlTx, tx, req.Height); err != nil {
				blockTx.Rollback()
				return nil, fmt.Errorf("store election for %s: %w", tx.IDString(), err)
			}
		}

		results[i] = &abcitypes.ExecTxResult{Code: 0, Log: "applied"}
		txIDs = append(txIDs, tx.IDString())
	}

	if err := a.repos.Blocks.StoreBlock(ctx, sqlTx, database.Block{
		Height:         req.Height,
		AppHash:        appHashHex(txIDs),
		TransactionIDs: txIDs,
	}); err != nil {
		blockTx.Rollback()
		return nil, fmt.Errorf("store block %d: %w", req.Height, err)
	}

	a.blockTx = blockTx
	a.blockTxIDs = txIDs

	return &abcitypes.ResponseFinalizeBlock{
		TxResults: results,
		AppHash:   []byte(appHashHex(txIDs)),
	}, nil
}

// Commit durably applies the held block transaction and advances height.
// A commit failure is fatal: the node has no way to re-derive the block's
// effects without divergence, so it is left to the process supervisor to
// restart rather than silently skip ahead.
func (a *App) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.blockTx == nil {
		return nil, fmt.Errorf("commit called with no open block transaction")
	}
	if err := a.blockTx.Commit(); err != nil {
		a.logger.Printf("fatal: commit failed at height %d: %v", a.height+1, err)
		return nil, fmt.Errorf("commit block: %w", err)
	}

	a.height++
	a.lastAppHash = []byte(appHashHex(a.blockTxIDs))
	committed := len(a.blockTxIDs)
	a.blockTx = nil
	a.blockTxIDs = nil

	a.logger.Printf("committed height %d (%d transactions)", a.height, committed)

	return &abcitypes.ResponseCommit{}, nil
}

// Query serves read-only lookups over committed state.
func (a *App) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch req.Path {
	case "/transaction":
		id := string(req.Data)
		tx, found, err := a.repos.Transactions.GetTransaction(ctx, id)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		if !found {
			return &abcitypes.ResponseQuery{Code: 1, Log: "transaction not found"}, nil
		}
		data, err := tx.ToJSON()
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		return &abcitypes.ResponseQuery{Code: 0, Value: data}, nil

	case "/height":
		return &abcitypes.ResponseQuery{Code: 0, Value: []byte(fmt.Sprintf("%d", a.height))}, nil

	default:
		return &abcitypes.ResponseQuery{Code: 2, Log: "unknown query path: " + req.Path}, nil
	}
}

// InitChain records the genesis validator set and chain identity.
func (a *App) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	a.logger.Printf("initializing chain %s", req.ChainId)

	if len(req.Validators) > 0 {
		set := make([]database.Validator, 0, len(req.Validators))
		for _, v := range req.Validators {
			set = append(set, database.Validator{
				Height:      0,
				PublicKey:   fmt.Sprintf("%x", v.PubKey.GetEd25519()),
				VotingPower: v.Power,
			})
		}
		if err := a.repos.Consensus.StoreValidatorSet(ctx, a.client, 0, set); err != nil {
			return nil, fmt.Errorf("store genesis validator set: %w", err)
		}
	}
	if err := a.repos.Consensus.StoreAbciChain(ctx, a.client, a.chainID, 0, true); err != nil {
		return nil, fmt.Errorf("store chain identity: %w", err)
	}

	return &abcitypes.ResponseInitChain{}, nil
}

// isElectionOperation reports whether operation is one of the governance
// operations that get an elections row in addition to their transaction
// record: they carry the same CREATE-shaped envelope but never spend UTXOs.
func isElectionOperation(operation string) bool {
	switch operation {
	case transaction.OpValidatorElection, transaction.OpChainMigrationElection, transaction.OpVote:
		return true
	default:
		return false
	}
}

// storeElection writes an elections row for tx. The election id is derived
// deterministically from the transaction id via UUIDv5 rather than
// generated randomly, so that every validator applying the same block
// computes the same id.
func (a *App) storeElection(ctx context.Context, sqlTx *sql.Tx, tx transaction.Transaction, height int64) error {
	payload, err := tx.ToJSON()
	if err != nil {
		return err
	}
	electionID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(tx.IDString())).String()
	return a.repos.Consensus.StoreElection(ctx, sqlTx, electionID, height, tx.Operation, payload)
}

// appHashHex is the hex Merkle root over the block's committed transaction
// ids in commit order (§4's app_hash definition). An empty block carries
// forward an all-zero root rather than erroring, since pkg/merkle rejects
// empty leaf sets.
func appHashHex(txIDs []string) string {
	if len(txIDs) == 0 {
		return fmt.Sprintf("%064x", 0)
	}
	leaves := make([][]byte, len(txIDs))
	for i, id := range txIDs {
		h := sha256.Sum256([]byte(id))
		leaves[i] = h[:]
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return fmt.Sprintf("%064x", 0)
	}
	return tree.RootHex()
}

// PrepareProposal accepts the mempool's transaction ordering unchanged.
func (a *App) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	return &abcitypes.ResponsePrepareProposal{Txs: req.Txs}, nil
}

// ProcessProposal rejects a proposed block only if it contains a
// transaction that fails to parse; full semantic validation still happens
// at FinalizeBlock against the actual commit-time batch.
func (a *App) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	for _, raw := range req.Txs {
		if _, err := transaction.FromJSON(raw); err != nil {
			return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
		}
	}
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// ExtendVote and VerifyVoteExtension: vote extensions are not used by this
// application.
func (a *App) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (a *App) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

// State sync is not supported: the transaction store is the durable source
// of truth and is expected to be restored out of band (pg_dump/pg_restore).
func (a *App) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (a *App) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

func (a *App) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (a *App) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}

// GetLatestHeight returns the current committed height, for health checks.
func (a *App) GetLatestHeight() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}
