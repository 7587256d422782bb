package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/txledger/node/pkg/codec"
)

// strip returns a deep-enough copy of t with the id and every input's
// fulfillment cleared, matching the preimage the id hash and the signing
// pipeline's base message are both computed over.
func (t Transaction) strip() Transaction {
	cp := t
	cp.ID = nil
	cp.Inputs = make([]Input, len(t.Inputs))
	for i, in := range t.Inputs {
		in2 := in
		in2.FulfillmentURI = nil
		cp.Inputs[i] = in2
	}
	return cp
}

// BaseSigningMessage returns the canonical serialization used as the
// preimage for both the transaction id and every input's per-index signing
// digest (§4.4 step 2).
func (t Transaction) BaseSigningMessage() ([]byte, error) {
	raw, err := json.Marshal(t.strip())
	if err != nil {
		return nil, err
	}
	return codec.Canonicalize(raw)
}

// ComputeID recomputes the transaction id from its current contents.
func (t Transaction) ComputeID() (string, error) {
	canon, err := t.BaseSigningMessage()
	if err != nil {
		return "", err
	}
	return codec.HashHex(canon), nil
}

// ValidateID recomputes the id and fails with ErrInvalidHash if it is
// absent or does not match.
func (t Transaction) ValidateID() error {
	want, err := t.ComputeID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	got := t.IDString()
	if got == "" || got != want {
		return fmt.Errorf("%w: computed %s, transaction carries %q", ErrInvalidHash, want, got)
	}
	return nil
}

// AssetID returns the asset id this transaction belongs to: its own id for
// CREATE, or the referenced creating transaction's id for every other
// operation.
func (t Transaction) AssetID() (string, error) {
	if t.Operation == OpCreate {
		id := t.IDString()
		if id == "" {
			return "", fmt.Errorf("%w: asset id requested before transaction is signed", ErrStructuralError)
		}
		return id, nil
	}
	if t.Asset == nil || t.Asset.ID == "" {
		return "", fmt.Errorf("%w: asset.id is required for operation %s", ErrStructuralError, t.Operation)
	}
	return t.Asset.ID, nil
}

// UnspentOutputs derives one UnspentOutput per output of a signed
// transaction.
func (t Transaction) UnspentOutputs() ([]UnspentOutput, error) {
	id := t.IDString()
	if id == "" {
		return nil, fmt.Errorf("%w: unspent_outputs requested before transaction is signed", ErrStructuralError)
	}
	assetID, err := t.AssetID()
	if err != nil {
		return nil, err
	}

	out := make([]UnspentOutput, len(t.Outputs))
	for i, o := range t.Outputs {
		amount, err := strconv.ParseUint(o.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d amount %q: %v", ErrStructuralError, i, o.Amount, err)
		}
		out[i] = UnspentOutput{
			TransactionID: id,
			OutputIndex:   i,
			Amount:        amount,
			AssetID:       assetID,
			ConditionURI:  o.Condition.URI,
		}
	}
	return out, nil
}

// ToJSON marshals the transaction in its wire form.
func (t Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON parses a transaction from its wire form.
func FromJSON(raw []byte) (Transaction, error) {
	var t Transaction
	if err := json.Unmarshal(raw, &t); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrStructuralError, err)
	}
	return t, nil
}

// New builds a transaction for the given operation without signing it. The
// caller supplies inputs with Condition already populated (see Input docs):
// the condition of the output being created for CREATE inputs, or the
// condition of the output being spent for TRANSFER-shaped inputs. Every
// input's FulfillmentURI starts nil; pkg/signing.Sign fills it in.
func New(operation string, asset *Asset, metadata json.RawMessage, inputs []Input, outputs []Output) (Transaction, error) {
	tx := Transaction{
		Version:   Version,
		Operation: operation,
		Asset:     asset,
		Metadata:  metadata,
		Inputs:    inputs,
		Outputs:   outputs,
	}
	if err := DefaultRegistry().ValidateStructure(tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// NewCreate builds an unsigned CREATE transaction. assetData may be nil.
func NewCreate(assetData json.RawMessage, metadata json.RawMessage, inputs []Input, outputs []Output) (Transaction, error) {
	var asset *Asset
	if assetData != nil {
		asset = &Asset{Data: assetData}
	}
	return New(OpCreate, asset, metadata, inputs, outputs)
}

// NewTransfer builds an unsigned TRANSFER transaction spending outputs of
// assetID's transaction history.
func NewTransfer(assetID string, metadata json.RawMessage, inputs []Input, outputs []Output) (Transaction, error) {
	return New(OpTransfer, &Asset{ID: assetID}, metadata, inputs, outputs)
}
