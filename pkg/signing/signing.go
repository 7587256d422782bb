package signing

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/txledger/node/pkg/codec"
	"github.com/txledger/node/pkg/crypto/condition"
	"github.com/txledger/node/pkg/transaction"
)

// Sign produces a fully-signed copy of tx: every input's fulfillment is
// attached and the transaction id is recomputed. keys maps base58-encoded
// Ed25519 public keys to the matching private key; an input is signed by
// every owner in its owners_before that has an entry in keys. tx is never
// mutated; on any error the caller's value is returned unchanged (Go's
// value semantics mean partial work on the copy never escapes this call).
func Sign(tx transaction.Transaction, keys map[string]ed25519.PrivateKey) (transaction.Transaction, error) {
	baseMessage, err := tx.BaseSigningMessage()
	if err != nil {
		return tx, err
	}

	signedInputs := make([]transaction.Input, len(tx.Inputs))
	for i, in := range tx.Inputs {
		message := signingDigest(baseMessage, in)

		fulfillment := condition.Unsigned(in.Condition)
		signedCount := 0
		for _, owner := range in.OwnersBefore {
			priv, ok := keys[owner]
			if !ok {
				continue
			}
			var n int
			fulfillment, n = condition.SignLeavesForKey(fulfillment, owner, message, priv)
			signedCount += n
		}
		if signedCount == 0 {
			return tx, fmt.Errorf("%w: input %d (owners %v)", ErrKeypairMismatch, i, in.OwnersBefore)
		}

		uri, err := condition.FulfillmentURI(fulfillment)
		if err != nil {
			return tx, err
		}
		in.FulfillmentURI = &uri
		signedInputs[i] = in
	}

	signed := tx
	signed.Inputs = signedInputs
	signed.ID = nil

	id, err := signed.ComputeID()
	if err != nil {
		return tx, err
	}
	return signed.WithID(id), nil
}

// signingDigest computes msg_i per §4.4 step 3: the base message, combined
// with the fulfilled link's bare txid+index concatenation when this input
// spends an existing output, then hashed.
func signingDigest(baseMessage []byte, in transaction.Input) [32]byte {
	if in.Fulfills == nil {
		return codec.Hash(baseMessage)
	}
	combined := append(append([]byte{}, baseMessage...), []byte(in.Fulfills.DigestSuffix())...)
	return codec.Hash(combined)
}

// KeyMapFromPrivateKeys builds the keys argument Sign expects from a slice
// of raw private keys.
func KeyMapFromPrivateKeys(privs []ed25519.PrivateKey) map[string]ed25519.PrivateKey {
	m := make(map[string]ed25519.PrivateKey, len(privs))
	for _, priv := range privs {
		pub := priv.Public().(ed25519.PublicKey)
		m[base58.Encode(pub)] = priv
	}
	return m
}
