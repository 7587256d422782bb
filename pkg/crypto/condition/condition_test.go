package condition

import (
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
)

func genKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return base58.Encode(pub), priv
}

func TestEd25519SignAndValidate(t *testing.T) {
	pubB58, priv := genKey(t)
	d := NewEd25519(pubB58)
	message := [32]byte{1, 2, 3}

	f := Unsigned(d)
	f, n := SignLeavesForKey(f, pubB58, message, priv)
	if n != 1 {
		t.Fatalf("expected 1 leaf signed, got %d", n)
	}
	if !Validate(f, message[:]) {
		t.Fatalf("expected fulfillment to validate")
	}

	// wrong message must not validate
	if Validate(f, []byte{9, 9, 9}) {
		t.Fatalf("expected fulfillment to fail against a different message")
	}
}

func TestSigningIsDeterministic(t *testing.T) {
	pubB58, priv := genKey(t)
	message := [32]byte{4, 5, 6}

	f1 := SignLeaf(pubB58, message, priv)
	f2 := SignLeaf(pubB58, message, priv)

	u1, err := FulfillmentURI(f1)
	if err != nil {
		t.Fatalf("FulfillmentURI: %v", err)
	}
	u2, err := FulfillmentURI(f2)
	if err != nil {
		t.Fatalf("FulfillmentURI: %v", err)
	}
	if u1 != u2 {
		t.Fatalf("signing the same message twice produced different fulfillments")
	}
}

func TestConditionURIStableUnderRebuild(t *testing.T) {
	pubA, _ := genKey(t)
	pubB, _ := genKey(t)

	d1 := NewThreshold(2, []Details{NewEd25519(pubA), NewEd25519(pubB)})
	d2 := NewThreshold(2, []Details{NewEd25519(pubB), NewEd25519(pubA)})

	u1, err := ConditionURI(d1)
	if err != nil {
		t.Fatalf("ConditionURI: %v", err)
	}
	u2, err := ConditionURI(d2)
	if err != nil {
		t.Fatalf("ConditionURI: %v", err)
	}
	if u1 != u2 {
		t.Fatalf("condition URI depends on subcondition construction order: %s != %s", u1, u2)
	}
}

func TestThresholdRequiresEnoughSignatures(t *testing.T) {
	pubA, privA := genKey(t)
	pubB, _ := genKey(t)
	pubC, privC := genKey(t)

	d := NewThreshold(2, []Details{NewEd25519(pubA), NewEd25519(pubB), NewEd25519(pubC)})
	message := [32]byte{7, 7, 7}

	f := Unsigned(d)
	f, _ = SignLeavesForKey(f, pubA, message, privA)
	if Validate(f, message[:]) {
		t.Fatalf("expected threshold not satisfied with only 1 of 3 signed")
	}

	f, _ = SignLeavesForKey(f, pubC, message, privC)
	if !Validate(f, message[:]) {
		t.Fatalf("expected threshold satisfied with 2 of 3 signed")
	}
}

func TestFulfillmentURIRoundTrip(t *testing.T) {
	pubB58, priv := genKey(t)
	message := [32]byte{8, 8, 8}

	f := SignLeaf(pubB58, message, priv)
	uri, err := FulfillmentURI(f)
	if err != nil {
		t.Fatalf("FulfillmentURI: %v", err)
	}

	parsed, err := ParseFulfillmentURI(uri)
	if err != nil {
		t.Fatalf("ParseFulfillmentURI: %v", err)
	}
	if !Validate(parsed, message[:]) {
		t.Fatalf("parsed fulfillment failed to validate")
	}
}

func TestParseFulfillmentURIRejectsGarbage(t *testing.T) {
	if _, err := ParseFulfillmentURI("not-a-fulfillment"); err == nil {
		t.Fatalf("expected ErrParseError for malformed uri")
	}
}

func TestFindByPublicKey(t *testing.T) {
	pubA, _ := genKey(t)
	pubB, _ := genKey(t)

	d := NewThreshold(1, []Details{NewEd25519(pubA), NewEd25519(pubB)})
	matches := FindByPublicKey(d, pubA)
	if len(matches) != 1 {
		t.Fatalf("expected exactly 1 match, got %d", len(matches))
	}
}
