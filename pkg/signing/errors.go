// Package signing implements the per-input signing pipeline: computing the
// message each input's fulfillment must cover, dispatching to the Ed25519
// or threshold condition machinery, and recomputing the transaction id.
package signing

import "errors"

// ErrKeypairMismatch is returned when none of the supplied private keys
// match any leaf of an input's condition tree.
var ErrKeypairMismatch = errors.New("signing: no supplied key matches this input's condition")
