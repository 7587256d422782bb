// Package validation implements the semantic validation pipeline: the
// checks that depend on transaction store state, run after
// pkg/transaction's structural checks have already passed.
package validation

import "errors"

var (
	// ErrInputDoesNotExist is returned when a TRANSFER input's fulfills
	// link points at an output that was never created.
	ErrInputDoesNotExist = errors.New("validation: input does not exist")

	// ErrDoubleSpend is returned when an input's fulfilled link has
	// already been consumed, either by committed state or by another
	// transaction in the same pending batch.
	ErrDoubleSpend = errors.New("validation: double spend")

	// ErrAssetIDMismatch is returned when a TRANSFER's inputs reference
	// outputs belonging to more than one asset, or to an asset other than
	// the one named in asset.id.
	ErrAssetIDMismatch = errors.New("validation: asset id mismatch")

	// ErrAmountError is returned when output amounts do not sum to input
	// amounts, or an amount overflows uint64.
	ErrAmountError = errors.New("validation: amount error")

	// ErrInvalidSignature is returned when an input's fulfillment does
	// not satisfy the condition of the output it spends.
	ErrInvalidSignature = errors.New("validation: invalid signature")
)
