// Package transaction implements the canonical transaction data model:
// typed entities, identifier derivation, and round-trip (de)serialization.
package transaction

import "errors"

// Sentinel errors for the transaction model. Validation- and store-specific
// errors live in their own packages (pkg/validation, pkg/database).
var (
	// ErrStructuralError covers schema violations: disallowed operations,
	// malformed asset/metadata shape, empty inputs/outputs.
	ErrStructuralError = errors.New("transaction: structural error")

	// ErrInvalidHash is returned when a transaction's id is absent or does
	// not match the canonical hash of its contents.
	ErrInvalidHash = errors.New("transaction: invalid hash")
)
