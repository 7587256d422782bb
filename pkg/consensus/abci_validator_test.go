package consensus

import (
	"strings"
	"testing"

	"github.com/txledger/node/pkg/transaction"
)

func TestIsElectionOperation(t *testing.T) {
	cases := []struct {
		operation string
		want      bool
	}{
		{transaction.OpCreate, false},
		{transaction.OpTransfer, false},
		{transaction.OpValidatorElection, true},
		{transaction.OpChainMigrationElection, true},
		{transaction.OpVote, true},
	}
	for _, c := range cases {
		if got := isElectionOperation(c.operation); got != c.want {
			t.Errorf("isElectionOperation(%q) = %v, want %v", c.operation, got, c.want)
		}
	}
}

func TestAppHashHexEmptyBlock(t *testing.T) {
	got := appHashHex(nil)
	want := strings.Repeat("0", 64)
	if got != want {
		t.Errorf("appHashHex(nil) = %s, want %s", got, want)
	}
}

func TestAppHashHexDeterministic(t *testing.T) {
	ids := []string{"tx-a", "tx-b", "tx-c"}
	first := appHashHex(ids)
	second := appHashHex(ids)
	if first != second {
		t.Errorf("appHashHex is not deterministic: %s != %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("appHashHex length = %d, want 64", len(first))
	}
}

func TestAppHashHexOrderSensitive(t *testing.T) {
	forward := appHashHex([]string{"tx-a", "tx-b"})
	reversed := appHashHex([]string{"tx-b", "tx-a"})
	if forward == reversed {
		t.Errorf("appHashHex should differ when transaction order differs")
	}
}
