package transaction

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/txledger/node/pkg/crypto/condition"
)

func sampleOutput(pubB58 string) Output {
	d := condition.NewEd25519(pubB58)
	uri, err := condition.ConditionURI(d)
	if err != nil {
		panic(err)
	}
	return Output{
		Amount:     "100",
		PublicKeys: []string{pubB58},
		Condition:  OutputCondition{URI: uri, Details: d},
	}
}

func TestNewCreateComputesStableID(t *testing.T) {
	out := sampleOutput("abc123")
	tx, err := NewCreate(json.RawMessage(`{"name":"widget"}`), nil,
		[]Input{{OwnersBefore: []string{"abc123"}}},
		[]Output{out},
	)
	if err != nil {
		t.Fatalf("NewCreate: %v", err)
	}

	id1, err := tx.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	id2, err := tx.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ComputeID is not deterministic: %s != %s", id1, id2)
	}
	if id1 == "" {
		t.Fatalf("expected non-empty id")
	}
}

func TestValidateIDFailsOnMutation(t *testing.T) {
	out := sampleOutput("abc123")
	tx, err := NewCreate(nil, nil,
		[]Input{{OwnersBefore: []string{"abc123"}}},
		[]Output{out},
	)
	if err != nil {
		t.Fatalf("NewCreate: %v", err)
	}

	id, err := tx.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	signed := tx.WithID(id)
	if err := signed.ValidateID(); err != nil {
		t.Fatalf("expected freshly-id'd transaction to validate, got %v", err)
	}

	tampered := signed
	tampered.Outputs = append([]Output{}, signed.Outputs...)
	tampered.Outputs[0].Amount = "999"
	if err := tampered.ValidateID(); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash after tampering, got %v", err)
	}
}

func TestNewCreateRejectsNonNilFulfills(t *testing.T) {
	link := &TransactionLink{TransactionID: "deadbeef", OutputIndex: 0}
	_, err := NewCreate(nil, nil,
		[]Input{{OwnersBefore: []string{"abc123"}, Fulfills: link}},
		[]Output{sampleOutput("abc123")},
	)
	if !errors.Is(err, ErrStructuralError) {
		t.Fatalf("expected ErrStructuralError, got %v", err)
	}
}

func TestNewTransferRequiresFulfills(t *testing.T) {
	_, err := NewTransfer("some-asset-id", nil,
		[]Input{{OwnersBefore: []string{"abc123"}}},
		[]Output{sampleOutput("abc123")},
	)
	if !errors.Is(err, ErrStructuralError) {
		t.Fatalf("expected ErrStructuralError for TRANSFER input with nil fulfills, got %v", err)
	}
}

func TestUnspentOutputsDerivesAssetID(t *testing.T) {
	out := sampleOutput("abc123")
	tx, err := NewCreate(nil, nil,
		[]Input{{OwnersBefore: []string{"abc123"}}},
		[]Output{out},
	)
	if err != nil {
		t.Fatalf("NewCreate: %v", err)
	}
	id, err := tx.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	signed := tx.WithID(id)

	utxos, err := signed.UnspentOutputs()
	if err != nil {
		t.Fatalf("UnspentOutputs: %v", err)
	}
	if len(utxos) != 1 {
		t.Fatalf("expected 1 utxo, got %d", len(utxos))
	}
	if utxos[0].AssetID != id {
		t.Fatalf("expected CREATE utxo asset_id to equal the transaction's own id, got %s", utxos[0].AssetID)
	}
	if utxos[0].Amount != 100 {
		t.Fatalf("expected amount 100, got %d", utxos[0].Amount)
	}

	link := &TransactionLink{TransactionID: id, OutputIndex: 0}
	transfer, err := NewTransfer(id, nil,
		[]Input{{OwnersBefore: []string{"abc123"}, Fulfills: link}},
		[]Output{sampleOutput("def456")},
	)
	if err != nil {
		t.Fatalf("NewTransfer: %v", err)
	}
	tid, err := transfer.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	transfer = transfer.WithID(tid)

	tutxos, err := transfer.UnspentOutputs()
	if err != nil {
		t.Fatalf("UnspentOutputs: %v", err)
	}
	if tutxos[0].AssetID != id {
		t.Fatalf("expected TRANSFER utxo asset_id to equal asset.id %s, got %s", id, tutxos[0].AssetID)
	}
}

func TestRegistryFallsBackToCreateForUnknownOperation(t *testing.T) {
	spec := DefaultRegistry().Lookup("SOME_FUTURE_OP")
	if spec.Name != OpCreate {
		t.Fatalf("expected fallback to CREATE spec, got %s", spec.Name)
	}
}

func TestTransactionLinkFormats(t *testing.T) {
	l := TransactionLink{TransactionID: "abc", OutputIndex: 3}
	if l.String() != "abc:3" {
		t.Fatalf("expected display form abc:3, got %s", l.String())
	}
	if l.DigestSuffix() != "abc3" {
		t.Fatalf("expected digest suffix abc3, got %s", l.DigestSuffix())
	}
}
