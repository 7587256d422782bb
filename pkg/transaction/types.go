package transaction

import (
	"encoding/json"
	"fmt"

	"github.com/txledger/node/pkg/crypto/condition"
)

// Operation names. CREATE and TRANSFER are the two value-transfer
// operations this node validates fully; the election operations carry the
// same envelope and are admitted structurally but never spend UTXOs.
const (
	OpCreate                  = "CREATE"
	OpTransfer                = "TRANSFER"
	OpValidatorElection       = "VALIDATOR_ELECTION"
	OpChainMigrationElection  = "CHAIN_MIGRATION_ELECTION"
	OpVote                    = "VOTE"

	Version = "2.0"
)

// TransactionLink identifies a specific output of a specific transaction.
// It serializes for display as "<txid>:<output_index>".
type TransactionLink struct {
	TransactionID string `json:"transaction_id"`
	OutputIndex   int    `json:"output_index"`
}

// String renders the link for logging and error messages.
func (l TransactionLink) String() string {
	return fmt.Sprintf("%s:%d", l.TransactionID, l.OutputIndex)
}

// DigestSuffix renders the link the way the signing pipeline mixes it into a
// per-input message digest: the bare concatenation of txid and output index,
// with no separator (§4.4 step 3).
func (l TransactionLink) DigestSuffix() string {
	return fmt.Sprintf("%s%d", l.TransactionID, l.OutputIndex)
}

// Asset carries either CREATE's arbitrary payload (Data) or TRANSFER's
// reference to the creating transaction (ID). Exactly one is populated,
// matching which operation produced it.
type Asset struct {
	Data json.RawMessage `json:"data,omitempty"`
	ID   string          `json:"id,omitempty"`
}

// Input consumes an existing Output (TRANSFER) or authorizes a new one
// (CREATE, where Fulfills is nil).
type Input struct {
	OwnersBefore   []string         `json:"owners_before"`
	Fulfills       *TransactionLink `json:"fulfills"`
	FulfillmentURI *string          `json:"fulfillment"`

	// Condition is the condition tree this input's fulfillment must
	// satisfy. It is construction-time context supplied by the caller
	// (the condition of the output being created, for CREATE; the
	// condition of the output being spent, for TRANSFER) and is never
	// part of the wire form — the validation pipeline re-derives the
	// authoritative condition from the store, it never trusts this field.
	Condition condition.Details `json:"-"`
}

// OutputCondition pairs a condition's canonical URI with its structured
// form. The URI is always derivable from Details; it is stored alongside
// for cheap equality checks during validation.
type OutputCondition struct {
	URI     string            `json:"uri"`
	Details condition.Details `json:"details"`
}

// Output is a spendable slot created by a transaction.
type Output struct {
	Amount     string          `json:"amount"`
	PublicKeys []string        `json:"public_keys"`
	Condition  OutputCondition `json:"condition"`
}

// UnspentOutput is the UTXO-set record derived from a committed
// transaction's outputs.
type UnspentOutput struct {
	TransactionID string `json:"transaction_id"`
	OutputIndex   int    `json:"output_index"`
	Amount        uint64 `json:"amount"`
	AssetID       string `json:"asset_id"`
	ConditionURI  string `json:"condition_uri"`
}

// Transaction is the canonical, operation-tagged value-transfer record.
// It is immutable after signing: Id is a pure function of the remaining
// fields, so any later mutation invalidates it.
type Transaction struct {
	ID        *string         `json:"id"`
	Version   string          `json:"version"`
	Operation string          `json:"operation"`
	Asset     *Asset          `json:"asset"`
	Metadata  json.RawMessage `json:"metadata"`
	Inputs    []Input         `json:"inputs"`
	Outputs   []Output        `json:"outputs"`
}

// IDString returns the transaction id, or "" if it has not yet been
// computed (i.e. the transaction has not finished signing).
func (t Transaction) IDString() string {
	if t.ID == nil {
		return ""
	}
	return *t.ID
}

// WithID returns a copy of t with the id field set.
func (t Transaction) WithID(id string) Transaction {
	cp := t
	cp.ID = &id
	return cp
}
