package condition

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Fulfillment is a condition together with enough signatures to satisfy it.
// It mirrors the shape of Details, with signatures attached at Ed25519
// leaves once signed.
type Fulfillment struct {
	Type            string        `json:"type"`
	PublicKey       string        `json:"public_key,omitempty"`
	Signature       []byte        `json:"signature,omitempty"`
	Threshold       int           `json:"threshold,omitempty"`
	Subfulfillments []Fulfillment `json:"subfulfillments,omitempty"`
}

// Unsigned builds an unsigned fulfillment template matching the shape of d,
// with every Ed25519 leaf's Signature left nil.
func Unsigned(d Details) Fulfillment {
	f := Fulfillment{Type: d.Type, PublicKey: d.PublicKey, Threshold: d.Threshold}
	if len(d.Subconditions) > 0 {
		f.Subfulfillments = make([]Fulfillment, len(d.Subconditions))
		for i, s := range d.Subconditions {
			f.Subfulfillments[i] = Unsigned(s)
		}
	}
	return f
}

// ConditionOf strips signatures, returning the Details this fulfillment
// purports to satisfy.
func ConditionOf(f Fulfillment) Details {
	d := Details{Type: f.Type, PublicKey: f.PublicKey, Threshold: f.Threshold}
	if len(f.Subfulfillments) > 0 {
		d.Subconditions = make([]Details, len(f.Subfulfillments))
		for i, s := range f.Subfulfillments {
			d.Subconditions[i] = ConditionOf(s)
		}
	}
	return d
}

// SignLeaf signs message with priv and returns a new, fully-signed leaf
// fulfillment. Signing is idempotent: repeated calls with the same inputs
// produce identical output (Ed25519 signatures are deterministic).
func SignLeaf(publicKeyB58 string, message [32]byte, priv ed25519.PrivateKey) Fulfillment {
	sig := ed25519.Sign(priv, message[:])
	return Fulfillment{Type: Ed25519Sha256, PublicKey: publicKeyB58, Signature: sig}
}

// SignLeavesForKey walks f, signing every Ed25519 leaf whose public key
// equals publicKeyB58 with priv and message, returning a new tree. It also
// reports how many leaves were signed, so callers can detect
// ErrKeypairMismatch when an owner has no matching leaf.
func SignLeavesForKey(f Fulfillment, publicKeyB58 string, message [32]byte, priv ed25519.PrivateKey) (Fulfillment, int) {
	if f.Type == Ed25519Sha256 {
		if f.PublicKey == publicKeyB58 {
			return SignLeaf(publicKeyB58, message, priv), 1
		}
		return f, 0
	}

	out := f
	out.Subfulfillments = make([]Fulfillment, len(f.Subfulfillments))
	signed := 0
	for i, sub := range f.Subfulfillments {
		newSub, n := SignLeavesForKey(sub, publicKeyB58, message, priv)
		out.Subfulfillments[i] = newSub
		signed += n
	}
	return out, signed
}

// Validate reports whether f satisfies its condition tree against message:
// every signed Ed25519 leaf's signature must verify, and every threshold
// node must have at least Threshold satisfied subconditions.
func Validate(f Fulfillment, message []byte) bool {
	switch f.Type {
	case Ed25519Sha256:
		if len(f.Signature) == 0 {
			return false
		}
		pub, err := base58.Decode(f.PublicKey)
		if err != nil {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), message, f.Signature)
	case ThresholdSha256:
		satisfied := 0
		for _, sub := range f.Subfulfillments {
			if Validate(sub, message) {
				satisfied++
			}
		}
		return satisfied >= f.Threshold
	default:
		return false
	}
}

// FulfillmentURI renders the fulfillment (condition plus signatures) as a
// URI. Signing the same message with the same key twice yields
// byte-identical output because Ed25519 signing is deterministic and this
// encoding is a pure function of the Fulfillment value.
func FulfillmentURI(f Fulfillment) (string, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("cf:%s:%s", f.Type, base64.RawURLEncoding.EncodeToString(payload)), nil
}

// ParseFulfillmentURI parses a fulfillment URI produced by FulfillmentURI.
func ParseFulfillmentURI(uri string) (Fulfillment, error) {
	parts := strings.SplitN(uri, ":", 3)
	if len(parts) != 3 || parts[0] != "cf" {
		return Fulfillment{}, fmt.Errorf("%w: malformed fulfillment uri %q", ErrParseError, uri)
	}
	if parts[1] != Ed25519Sha256 && parts[1] != ThresholdSha256 {
		return Fulfillment{}, fmt.Errorf("%w: %s", ErrUnknownConditionType, parts[1])
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Fulfillment{}, fmt.Errorf("%w: %v", ErrParseError, err)
	}

	var f Fulfillment
	if err := json.Unmarshal(payload, &f); err != nil {
		return Fulfillment{}, fmt.Errorf("%w: %v", ErrParseError, err)
	}
	return f, nil
}
