// Integration tests for TransactionRepository. Uses a real Postgres
// instance when available; skipped otherwise.

package database

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/txledger/node/pkg/crypto/condition"
	"github.com/txledger/node/pkg/transaction"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("TXLEDGER_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	var err error
	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func testClient(t *testing.T) *Client {
	if testDB == nil {
		t.Skip("test database not configured")
	}
	return &Client{db: testDB}
}

func sampleCreate(t *testing.T) transaction.Transaction {
	t.Helper()
	d := condition.NewEd25519("testpubkey")
	uri, err := condition.ConditionURI(d)
	if err != nil {
		t.Fatalf("ConditionURI: %v", err)
	}
	tx, err := transaction.NewCreate(nil, nil,
		[]transaction.Input{{OwnersBefore: []string{"testpubkey"}, Condition: d}},
		[]transaction.Output{{
			Amount:     "10",
			PublicKeys: []string{"testpubkey"},
			Condition:  transaction.OutputCondition{URI: uri, Details: d},
		}},
	)
	if err != nil {
		t.Fatalf("NewCreate: %v", err)
	}
	id, err := tx.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	return tx.WithID(id)
}

func TestStoreAndGetTransactionRoundTrip(t *testing.T) {
	client := testClient(t)
	repo := NewTransactionRepository(client)
	ctx := context.Background()

	tx := sampleCreate(t)
	if err := repo.StoreTransactions(ctx, client, []transaction.Transaction{tx}); err != nil {
		t.Fatalf("StoreTransactions: %v", err)
	}

	got, found, err := repo.GetTransaction(ctx, tx.IDString())
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !found {
		t.Fatalf("expected transaction to be found")
	}
	if got.IDString() != tx.IDString() {
		t.Fatalf("expected id %s, got %s", tx.IDString(), got.IDString())
	}
	if len(got.Outputs) != 1 || got.Outputs[0].Amount != "10" {
		t.Fatalf("unexpected outputs: %+v", got.Outputs)
	}
}

func TestGetSpendingTransactionsBatchesAcrossLinks(t *testing.T) {
	client := testClient(t)
	repo := NewTransactionRepository(client)
	ctx := context.Background()

	create := sampleCreate(t)
	if err := repo.StoreTransactions(ctx, client, []transaction.Transaction{create}); err != nil {
		t.Fatalf("StoreTransactions create: %v", err)
	}

	d := condition.NewEd25519("spenderkey")
	uri, err := condition.ConditionURI(d)
	if err != nil {
		t.Fatalf("ConditionURI: %v", err)
	}
	spentLink := transaction.TransactionLink{TransactionID: create.IDString(), OutputIndex: 0}
	transfer, err := transaction.NewTransfer(create.IDString(), nil,
		[]transaction.Input{{OwnersBefore: []string{"testpubkey"}, Fulfills: &spentLink}},
		[]transaction.Output{{
			Amount:     "10",
			PublicKeys: []string{"spenderkey"},
			Condition:  transaction.OutputCondition{URI: uri, Details: d},
		}},
	)
	if err != nil {
		t.Fatalf("NewTransfer: %v", err)
	}
	id, err := transfer.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	transfer = transfer.WithID(id)
	if err := repo.StoreTransactions(ctx, client, []transaction.Transaction{transfer}); err != nil {
		t.Fatalf("StoreTransactions transfer: %v", err)
	}

	unspentLink := transaction.TransactionLink{TransactionID: create.IDString(), OutputIndex: 1}
	spenders, err := repo.GetSpendingTransactions(ctx, []transaction.TransactionLink{spentLink, unspentLink})
	if err != nil {
		t.Fatalf("GetSpendingTransactions: %v", err)
	}
	if got := spenders[spentLink]; got != transfer.IDString() {
		t.Fatalf("expected %s to be spent by %s, got %q", spentLink, transfer.IDString(), got)
	}
	if _, found := spenders[unspentLink]; found {
		t.Fatalf("expected %s to be unspent", unspentLink)
	}
}

func TestStoreTransactionsRejectsDuplicateID(t *testing.T) {
	client := testClient(t)
	repo := NewTransactionRepository(client)
	ctx := context.Background()

	tx := sampleCreate(t)
	if err := repo.StoreTransactions(ctx, client, []transaction.Transaction{tx}); err != nil {
		t.Fatalf("StoreTransactions: %v", err)
	}
	err := repo.StoreTransactions(ctx, client, []transaction.Transaction{tx})
	if err == nil {
		t.Fatalf("expected ErrDuplicateKey on re-insert")
	}
}
