package validation

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/txledger/node/pkg/codec"
	"github.com/txledger/node/pkg/crypto/condition"
	"github.com/txledger/node/pkg/transaction"
)

// DefaultCacheSize bounds the per-input fulfillment-verification memo
// cache.
const DefaultCacheSize = 16384

// Pipeline runs structural and semantic validation against a transaction
// store and the in-flight batch for the block currently being assembled.
// It is re-entrant and holds no per-call state beyond its memo cache, so a
// single Pipeline may validate CheckTx and FinalizeBlock calls concurrently.
type Pipeline struct {
	store TxLookup
	cache *signatureCache
}

// NewPipeline returns a Pipeline backed by store, with a memo cache bounded
// to DefaultCacheSize entries.
func NewPipeline(store TxLookup) *Pipeline {
	return &Pipeline{store: store, cache: newSignatureCache(DefaultCacheSize)}
}

// Validate runs the full pipeline against tx: structural checks, the
// semantic checks of §4.5 for every input-spending operation (asset-id
// coherence, double-spend, amount conservation), and fulfillment
// verification for every input regardless of operation.
func (p *Pipeline) Validate(ctx context.Context, tx transaction.Transaction, batch *Batch) error {
	if err := transaction.DefaultRegistry().ValidateStructure(tx); err != nil {
		return err
	}
	if err := tx.ValidateID(); err != nil {
		return err
	}

	baseMessage, err := tx.BaseSigningMessage()
	if err != nil {
		return err
	}

	// spentConditions[i] is the authoritative condition input i must
	// satisfy: nil for a CREATE-shaped input (there is no prior output, so
	// only the fulfillment itself is checked), otherwise the condition of the
	// output it fulfills, as resolved from the store or pending batch —
	// never the caller-supplied Input.Condition, which is untrusted
	// construction-time context.
	var spentConditions []*condition.Details
	if transaction.DefaultRegistry().Lookup(tx.Operation).RequiresNilFulfills {
		spentConditions = make([]*condition.Details, len(tx.Inputs))
	} else {
		spentConditions, err = p.validateTransferSemantics(ctx, tx, batch)
		if err != nil {
			return err
		}
	}

	return p.verifyFulfillments(tx, baseMessage, spentConditions)
}

// verifyFulfillments checks every input's attached fulfillment against its
// recomputed per-index message and, where spentConditions[i] is non-nil,
// against that condition's URI (§4.5 step 6).
func (p *Pipeline) verifyFulfillments(tx transaction.Transaction, baseMessage []byte, spentConditions []*condition.Details) error {
	for i, in := range tx.Inputs {
		if in.FulfillmentURI == nil {
			return fmt.Errorf("%w: input %d is unsigned", ErrInvalidSignature, i)
		}

		message := digestFor(baseMessage, in)
		conditionURI := ""
		if spentConditions[i] != nil {
			uri, err := condition.ConditionURI(*spentConditions[i])
			if err != nil {
				return fmt.Errorf("%w: input %d: %v", ErrInvalidSignature, i, err)
			}
			conditionURI = uri
		}

		key := signatureCacheKey{
			input:        inputKey(in),
			operation:    tx.Operation,
			message:      string(message[:]),
			conditionURI: conditionURI,
		}
		if valid, ok := p.cache.get(key); ok {
			if !valid {
				return fmt.Errorf("%w: input %d", ErrInvalidSignature, i)
			}
			continue
		}

		valid := checkFulfillment(*in.FulfillmentURI, conditionURI, message)
		p.cache.put(key, valid)
		if !valid {
			return fmt.Errorf("%w: input %d", ErrInvalidSignature, i)
		}
	}
	return nil
}

// checkFulfillment parses the fulfillment and requires it to validate
// against message and, when wantConditionURI is non-empty, to carry exactly
// that condition.
func checkFulfillment(fulfillmentURI, wantConditionURI string, message [32]byte) bool {
	f, err := condition.ParseFulfillmentURI(fulfillmentURI)
	if err != nil {
		return false
	}

	if wantConditionURI != "" {
		gotURI, err := condition.ConditionURI(condition.ConditionOf(f))
		if err != nil || gotURI != wantConditionURI {
			return false
		}
	}

	return condition.Validate(f, message[:])
}

// validateTransferSemantics implements §4.5's semantic checks for every
// input-spending operation and returns, per input, the condition its
// referenced output actually carries.
func (p *Pipeline) validateTransferSemantics(ctx context.Context, tx transaction.Transaction, batch *Batch) ([]*condition.Details, error) {
	spentConditions := make([]*condition.Details, len(tx.Inputs))
	assetIDs := make(map[string]struct{})
	seenLinks := make(map[transaction.TransactionLink]struct{})
	links := make([]transaction.TransactionLink, len(tx.Inputs))
	inputTxs := make([]transaction.Transaction, len(tx.Inputs))

	for i, in := range tx.Inputs {
		if in.Fulfills == nil {
			return nil, fmt.Errorf("%w: input %d has no fulfills link", ErrInputDoesNotExist, i)
		}
		link := *in.Fulfills

		if _, dup := seenLinks[link]; dup {
			return nil, fmt.Errorf("%w: input %d fulfills %s more than once in this transaction", ErrDoubleSpend, i, link)
		}
		seenLinks[link] = struct{}{}
		links[i] = link

		if spender, ok := batch.spenderOf(link); ok && spender != tx.IDString() {
			return nil, fmt.Errorf("%w: %s already spent by %s in this batch", ErrDoubleSpend, link, spender)
		}

		inputTx, err := p.resolveTransaction(ctx, link.TransactionID, batch)
		if err != nil {
			return nil, err
		}
		inputTxs[i] = inputTx
	}

	// One batched round-trip for every input's committed-spend status,
	// instead of one query per input.
	spenders, err := p.store.GetSpendingTransactions(ctx, links)
	if err != nil {
		return nil, err
	}

	var inputTotal uint64
	var overflowed bool
	for i, link := range links {
		if spender, found := spenders[link]; found {
			return nil, fmt.Errorf("%w: %s already spent by %s", ErrDoubleSpend, link, spender)
		}

		inputTx := inputTxs[i]
		if link.OutputIndex < 0 || link.OutputIndex >= len(inputTx.Outputs) {
			return nil, fmt.Errorf("%w: %s: output index out of range", ErrInputDoesNotExist, link)
		}
		spentOutput := inputTx.Outputs[link.OutputIndex]
		spentConditions[i] = &spentOutput.Condition.Details

		inputAssetID, err := inputTx.AssetID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAssetIDMismatch, err)
		}
		assetIDs[inputAssetID] = struct{}{}

		amount, err := parseAmount(spentOutput.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", ErrAmountError, i, err)
		}
		var carry bool
		inputTotal, carry = addUint64(inputTotal, amount)
		if carry {
			overflowed = true
		}
	}

	if len(assetIDs) > 1 {
		return nil, fmt.Errorf("%w: inputs reference more than one asset", ErrAssetIDMismatch)
	}
	ownAssetID, err := tx.AssetID()
	if err != nil {
		return nil, err
	}
	for id := range assetIDs {
		if id != ownAssetID {
			return nil, fmt.Errorf("%w: inputs reference asset %s, transaction claims %s", ErrAssetIDMismatch, id, ownAssetID)
		}
	}

	var outputTotal uint64
	for i, out := range tx.Outputs {
		amount, err := parseAmount(out.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %v", ErrAmountError, i, err)
		}
		var carry bool
		outputTotal, carry = addUint64(outputTotal, amount)
		if carry {
			overflowed = true
		}
	}

	if overflowed {
		return nil, fmt.Errorf("%w: amount sum overflows uint64", ErrAmountError)
	}
	if inputTotal != outputTotal {
		return nil, fmt.Errorf("%w: inputs sum to %d, outputs sum to %d", ErrAmountError, inputTotal, outputTotal)
	}

	return spentConditions, nil
}

func (p *Pipeline) resolveTransaction(ctx context.Context, id string, batch *Batch) (transaction.Transaction, error) {
	if tx, ok := batch.lookup(id); ok {
		return tx, nil
	}
	tx, found, err := p.store.GetTransaction(ctx, id)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if !found {
		return transaction.Transaction{}, fmt.Errorf("%w: %s", ErrInputDoesNotExist, id)
	}
	return tx, nil
}

func digestFor(baseMessage []byte, in transaction.Input) [32]byte {
	if in.Fulfills == nil {
		return codec.Hash(baseMessage)
	}
	combined := append(append([]byte{}, baseMessage...), []byte(in.Fulfills.DigestSuffix())...)
	return codec.Hash(combined)
}

func inputKey(in transaction.Input) string {
	if in.Fulfills == nil {
		return "create:" + joinOwners(in.OwnersBefore)
	}
	return in.Fulfills.String()
}

func joinOwners(owners []string) string {
	s := ""
	for _, o := range owners {
		s += o + ","
	}
	return s
}

func parseAmount(s string) (uint64, error) {
	var v uint64
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit amount %q", s)
		}
		d := uint64(c - '0')
		hi, lo := bits.Mul64(v, 10)
		if hi != 0 {
			return 0, fmt.Errorf("amount %q overflows uint64", s)
		}
		sum, carry := bits.Add64(lo, d, 0)
		if carry != 0 {
			return 0, fmt.Errorf("amount %q overflows uint64", s)
		}
		v = sum
	}
	return v, nil
}

func addUint64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry != 0
}
