package validation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/txledger/node/pkg/crypto/condition"
	"github.com/txledger/node/pkg/signing"
	"github.com/txledger/node/pkg/transaction"
)

type memStore struct {
	txs     map[string]transaction.Transaction
	spentBy map[transaction.TransactionLink]string
}

func newMemStore() *memStore {
	return &memStore{
		txs:     make(map[string]transaction.Transaction),
		spentBy: make(map[transaction.TransactionLink]string),
	}
}

func (m *memStore) GetTransaction(ctx context.Context, id string) (transaction.Transaction, bool, error) {
	tx, ok := m.txs[id]
	return tx, ok, nil
}

func (m *memStore) GetSpendingTransactions(ctx context.Context, links []transaction.TransactionLink) (map[transaction.TransactionLink]string, error) {
	out := make(map[transaction.TransactionLink]string, len(links))
	for _, link := range links {
		if id, ok := m.spentBy[link]; ok {
			out[link] = id
		}
	}
	return out, nil
}

func (m *memStore) commit(tx transaction.Transaction) {
	m.txs[tx.IDString()] = tx
	for _, in := range tx.Inputs {
		if in.Fulfills != nil {
			m.spentBy[*in.Fulfills] = tx.IDString()
		}
	}
}

func genKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return base58.Encode(pub), priv
}

func ed25519Output(pubB58, amount string) transaction.Output {
	d := condition.NewEd25519(pubB58)
	uri, _ := condition.ConditionURI(d)
	return transaction.Output{
		Amount:     amount,
		PublicKeys: []string{pubB58},
		Condition:  transaction.OutputCondition{URI: uri, Details: d},
	}
}

func mustSign(t *testing.T, tx transaction.Transaction, keys map[string]ed25519.PrivateKey) transaction.Transaction {
	t.Helper()
	signed, err := signing.Sign(tx, keys)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return signed
}

func TestValidateCreateThenTransferChain(t *testing.T) {
	pubA, privA := genKey(t)
	pubB, _ := genKey(t)
	store := newMemStore()

	create, err := transaction.NewCreate(nil, nil,
		[]transaction.Input{{OwnersBefore: []string{pubA}, Condition: condition.NewEd25519(pubA)}},
		[]transaction.Output{ed25519Output(pubA, "100")},
	)
	if err != nil {
		t.Fatalf("NewCreate: %v", err)
	}
	create = mustSign(t, create, map[string]ed25519.PrivateKey{pubA: privA})

	p := NewPipeline(store)
	batch := NewBatch()
	if err := p.Validate(context.Background(), create, batch); err != nil {
		t.Fatalf("expected CREATE to validate, got %v", err)
	}
	batch.Add(create)
	store.commit(create)

	link := &transaction.TransactionLink{TransactionID: create.IDString(), OutputIndex: 0}
	transfer, err := transaction.NewTransfer(create.IDString(), nil,
		[]transaction.Input{{OwnersBefore: []string{pubA}, Fulfills: link, Condition: condition.NewEd25519(pubA)}},
		[]transaction.Output{ed25519Output(pubB, "100")},
	)
	if err != nil {
		t.Fatalf("NewTransfer: %v", err)
	}
	transfer = mustSign(t, transfer, map[string]ed25519.PrivateKey{pubA: privA})

	if err := p.Validate(context.Background(), transfer, NewBatch()); err != nil {
		t.Fatalf("expected TRANSFER to validate, got %v", err)
	}
}

func TestValidateRejectsDoubleSpend(t *testing.T) {
	pubA, privA := genKey(t)
	pubB, _ := genKey(t)
	store := newMemStore()
	p := NewPipeline(store)

	create, _ := transaction.NewCreate(nil, nil,
		[]transaction.Input{{OwnersBefore: []string{pubA}, Condition: condition.NewEd25519(pubA)}},
		[]transaction.Output{ed25519Output(pubA, "50")},
	)
	create = mustSign(t, create, map[string]ed25519.PrivateKey{pubA: privA})
	if err := p.Validate(context.Background(), create, NewBatch()); err != nil {
		t.Fatalf("CREATE validate: %v", err)
	}
	store.commit(create)

	link := &transaction.TransactionLink{TransactionID: create.IDString(), OutputIndex: 0}
	spend := func() transaction.Transaction {
		tx, _ := transaction.NewTransfer(create.IDString(), nil,
			[]transaction.Input{{OwnersBefore: []string{pubA}, Fulfills: link, Condition: condition.NewEd25519(pubA)}},
			[]transaction.Output{ed25519Output(pubB, "50")},
		)
		return mustSign(t, tx, map[string]ed25519.PrivateKey{pubA: privA})
	}

	first := spend()
	if err := p.Validate(context.Background(), first, NewBatch()); err != nil {
		t.Fatalf("first spend should validate: %v", err)
	}
	store.commit(first)

	second := spend()
	if err := p.Validate(context.Background(), second, NewBatch()); !errors.Is(err, ErrDoubleSpend) {
		t.Fatalf("expected ErrDoubleSpend, got %v", err)
	}
}

func TestValidateRejectsAmountMismatch(t *testing.T) {
	pubA, privA := genKey(t)
	pubB, _ := genKey(t)
	store := newMemStore()
	p := NewPipeline(store)

	create, _ := transaction.NewCreate(nil, nil,
		[]transaction.Input{{OwnersBefore: []string{pubA}, Condition: condition.NewEd25519(pubA)}},
		[]transaction.Output{ed25519Output(pubA, "50")},
	)
	create = mustSign(t, create, map[string]ed25519.PrivateKey{pubA: privA})
	if err := p.Validate(context.Background(), create, NewBatch()); err != nil {
		t.Fatalf("CREATE validate: %v", err)
	}
	store.commit(create)

	link := &transaction.TransactionLink{TransactionID: create.IDString(), OutputIndex: 0}
	transfer, _ := transaction.NewTransfer(create.IDString(), nil,
		[]transaction.Input{{OwnersBefore: []string{pubA}, Fulfills: link, Condition: condition.NewEd25519(pubA)}},
		[]transaction.Output{ed25519Output(pubB, "49")},
	)
	transfer = mustSign(t, transfer, map[string]ed25519.PrivateKey{pubA: privA})

	if err := p.Validate(context.Background(), transfer, NewBatch()); !errors.Is(err, ErrAmountError) {
		t.Fatalf("expected ErrAmountError, got %v", err)
	}
}

func TestValidateRejectsUnknownInput(t *testing.T) {
	pubA, privA := genKey(t)
	store := newMemStore()
	p := NewPipeline(store)

	link := &transaction.TransactionLink{TransactionID: "nonexistent", OutputIndex: 0}
	transfer, _ := transaction.NewTransfer("nonexistent", nil,
		[]transaction.Input{{OwnersBefore: []string{pubA}, Fulfills: link, Condition: condition.NewEd25519(pubA)}},
		[]transaction.Output{ed25519Output(pubA, "50")},
	)
	transfer = mustSign(t, transfer, map[string]ed25519.PrivateKey{pubA: privA})

	if err := p.Validate(context.Background(), transfer, NewBatch()); !errors.Is(err, ErrInputDoesNotExist) {
		t.Fatalf("expected ErrInputDoesNotExist, got %v", err)
	}
}

func TestValidateRejectsTamperedID(t *testing.T) {
	pubA, privA := genKey(t)
	store := newMemStore()
	p := NewPipeline(store)

	create, _ := transaction.NewCreate(nil, nil,
		[]transaction.Input{{OwnersBefore: []string{pubA}, Condition: condition.NewEd25519(pubA)}},
		[]transaction.Output{ed25519Output(pubA, "50")},
	)
	create = mustSign(t, create, map[string]ed25519.PrivateKey{pubA: privA})

	tampered := create
	tampered.Outputs = append([]transaction.Output{}, create.Outputs...)
	tampered.Outputs[0].Amount = "9999"

	if err := p.Validate(context.Background(), tampered, NewBatch()); !errors.Is(err, transaction.ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestValidateThresholdTransfer(t *testing.T) {
	pubA, privA := genKey(t)
	pubB, privB := genKey(t)
	pubC, _ := genKey(t)
	store := newMemStore()
	p := NewPipeline(store)

	d := condition.NewThreshold(2, []condition.Details{condition.NewEd25519(pubA), condition.NewEd25519(pubB)})
	uri, _ := condition.ConditionURI(d)
	out := transaction.Output{
		Amount:     "75",
		PublicKeys: []string{pubA, pubB},
		Condition:  transaction.OutputCondition{URI: uri, Details: d},
	}

	create, _ := transaction.NewCreate(nil, nil,
		[]transaction.Input{{OwnersBefore: []string{pubA, pubB}, Condition: d}},
		[]transaction.Output{out},
	)
	create = mustSign(t, create, map[string]ed25519.PrivateKey{pubA: privA, pubB: privB})
	if err := p.Validate(context.Background(), create, NewBatch()); err != nil {
		t.Fatalf("CREATE validate: %v", err)
	}
	store.commit(create)

	link := &transaction.TransactionLink{TransactionID: create.IDString(), OutputIndex: 0}
	transfer, _ := transaction.NewTransfer(create.IDString(), nil,
		[]transaction.Input{{OwnersBefore: []string{pubA, pubB}, Fulfills: link, Condition: d}},
		[]transaction.Output{ed25519Output(pubC, "75")},
	)

	// only one of the two required signatures
	partial := mustSign(t, transfer, map[string]ed25519.PrivateKey{pubA: privA})
	if err := p.Validate(context.Background(), partial, NewBatch()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for partially-signed threshold, got %v", err)
	}

	full := mustSign(t, transfer, map[string]ed25519.PrivateKey{pubA: privA, pubB: privB})
	if err := p.Validate(context.Background(), full, NewBatch()); err != nil {
		t.Fatalf("expected fully-signed threshold to validate, got %v", err)
	}
}
