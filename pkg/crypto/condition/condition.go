package condition

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
)

// Condition kinds supported by this subset of the crypto-conditions standard.
const (
	Ed25519Sha256  = "ed25519-sha-256"
	ThresholdSha256 = "threshold-sha-256"

	// ed25519Cost is the fixed cost assigned to a single Ed25519 leaf,
	// matching the crypto-conditions reference cost for this condition type.
	ed25519Cost = 131072
)

// Details is the structured, wire-serializable form of a condition tree:
// either an Ed25519 leaf (Type == Ed25519Sha256, PublicKey set) or a
// threshold internal node (Type == ThresholdSha256, Threshold and
// Subconditions set).
type Details struct {
	Type          string   `json:"type"`
	PublicKey     string   `json:"public_key,omitempty"`
	Threshold     int      `json:"threshold,omitempty"`
	Subconditions []Details `json:"subconditions,omitempty"`
}

// NewEd25519 builds a leaf condition over a base58-encoded Ed25519 public key.
func NewEd25519(publicKeyB58 string) Details {
	return Details{Type: Ed25519Sha256, PublicKey: publicKeyB58}
}

// NewThreshold builds a threshold internal node requiring at least threshold
// of the given subconditions to be fulfilled.
func NewThreshold(threshold int, subs []Details) Details {
	out := Details{Type: ThresholdSha256, Threshold: threshold, Subconditions: make([]Details, len(subs))}
	copy(out.Subconditions, subs)
	return out
}

// PublicKeyBytes decodes the base58 public key of an Ed25519 leaf.
func (d Details) PublicKeyBytes() (ed25519.PublicKey, error) {
	if d.Type != Ed25519Sha256 {
		return nil, fmt.Errorf("%w: not an ed25519 leaf", ErrUnknownConditionType)
	}
	raw, err := base58.Decode(d.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseError, err)
	}
	return ed25519.PublicKey(raw), nil
}

// Cost returns the crypto-conditions cost metric for the tree: the Ed25519
// fixed cost for a leaf, or the sum of the threshold-many cheapest
// subcondition costs for a threshold node (the rest are optional and do not
// add to a valid fulfillment's cost).
func Cost(d Details) int {
	switch d.Type {
	case Ed25519Sha256:
		return ed25519Cost
	case ThresholdSha256:
		costs := make([]int, len(d.Subconditions))
		for i, s := range d.Subconditions {
			costs[i] = Cost(s)
		}
		sort.Ints(costs)
		total := 0
		n := d.Threshold
		if n > len(costs) {
			n = len(costs)
		}
		for i := 0; i < n; i++ {
			total += costs[i]
		}
		return total
	default:
		return 0
	}
}

// Fingerprint returns the SHA-256 fingerprint of the condition's canonical
// binary content: for an Ed25519 leaf, the raw public key bytes; for a
// threshold node, a 4-byte big-endian threshold followed by the
// lexicographically sorted fingerprints of every subcondition. Sorting makes
// the fingerprint independent of subcondition construction order for a
// structurally identical tree.
func Fingerprint(d Details) ([32]byte, error) {
	switch d.Type {
	case Ed25519Sha256:
		pub, err := d.PublicKeyBytes()
		if err != nil {
			return [32]byte{}, err
		}
		return sha256.Sum256(pub), nil
	case ThresholdSha256:
		subs := make([][32]byte, len(d.Subconditions))
		for i, s := range d.Subconditions {
			fp, err := Fingerprint(s)
			if err != nil {
				return [32]byte{}, err
			}
			subs[i] = fp
		}
		sort.Slice(subs, func(i, j int) bool {
			return string(subs[i][:]) < string(subs[j][:])
		})
		h := sha256.New()
		h.Write([]byte{
			byte(d.Threshold >> 24), byte(d.Threshold >> 16),
			byte(d.Threshold >> 8), byte(d.Threshold),
		})
		for _, fp := range subs {
			h.Write(fp[:])
		}
		var out [32]byte
		copy(out[:], h.Sum(nil))
		return out, nil
	default:
		return [32]byte{}, fmt.Errorf("%w: %s", ErrUnknownConditionType, d.Type)
	}
}

// ConditionURI renders the canonical condition URI: identical for any two
// structurally identical trees, regardless of how each was built.
func ConditionURI(d Details) (string, error) {
	fp, err := Fingerprint(d)
	if err != nil {
		return "", err
	}
	fingerprint := base64.RawURLEncoding.EncodeToString(fp[:])
	cost := Cost(d)

	if d.Type == Ed25519Sha256 {
		return fmt.Sprintf("ni:///sha-256;%s?fpt=%s&cost=%d", fingerprint, d.Type, cost), nil
	}

	subtypes := distinctTypes(d)
	return fmt.Sprintf("ni:///sha-256;%s?fpt=%s&cost=%d&subtypes=%s",
		fingerprint, d.Type, cost, strings.Join(subtypes, ",")), nil
}

func distinctTypes(d Details) []string {
	seen := map[string]bool{}
	var walk func(Details)
	walk = func(n Details) {
		seen[n.Type] = true
		for _, s := range n.Subconditions {
			walk(s)
		}
	}
	walk(d)
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// FindByPublicKey returns every Ed25519 leaf within the tree whose public
// key equals the given base58-encoded verifying key. Used by the signing
// pipeline to locate which leaves of a threshold node a given private key
// must sign.
func FindByPublicKey(d Details, publicKeyB58 string) []Details {
	var out []Details
	var walk func(Details)
	walk = func(n Details) {
		if n.Type == Ed25519Sha256 && n.PublicKey == publicKeyB58 {
			out = append(out, n)
		}
		for _, s := range n.Subconditions {
			walk(s)
		}
	}
	walk(d)
	return out
}
