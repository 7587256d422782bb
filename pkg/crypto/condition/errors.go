// Package condition implements the Ed25519Sha256 leaf and ThresholdSha256
// internal-node subset of the crypto-conditions standard used to authorize
// transaction spends.
package condition

import "errors"

// Sentinel errors for condition/fulfillment operations.
var (
	// ErrParseError is returned when a fulfillment or condition URI is malformed.
	ErrParseError = errors.New("condition: parse error")

	// ErrKeypairMismatch is returned when a signing key does not correspond
	// to any expected verifying key within the fulfillment tree.
	ErrKeypairMismatch = errors.New("condition: keypair mismatch")

	// ErrUnknownConditionType is returned for a condition/fulfillment type
	// outside {ed25519-sha-256, threshold-sha-256}.
	ErrUnknownConditionType = errors.New("condition: unknown condition type")
)
