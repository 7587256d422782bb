package transaction

import (
	"fmt"
	"log"
)

// OperationSpec describes one operation type's structural contract. The
// registry is an explicit table rather than a type hierarchy: new
// operations are added by registering a spec, not by subclassing. The
// node's validation uses the package-level table returned by
// DefaultRegistry(); no registry is passed in at node construction.
type OperationSpec struct {
	Name string

	// RequiresNilFulfills is true for operations whose inputs authorize a
	// new asset rather than spend an existing output (CREATE-shaped).
	RequiresNilFulfills bool

	// ValidateAsset checks operation-specific constraints on the asset
	// field beyond the generic non-nil check. May be nil.
	ValidateAsset func(*Asset) error
}

// Registry holds the set of recognized operations. It is built once at
// startup and treated as read-only afterward; no synchronization is needed
// for concurrent lookups.
type Registry struct {
	specs map[string]OperationSpec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]OperationSpec)}
}

// Register adds or replaces the spec for an operation name.
func (r *Registry) Register(spec OperationSpec) {
	r.specs[spec.Name] = spec
}

// Lookup returns the spec for operation, falling back to CREATE's spec with
// a logged warning if the operation is unrecognized (§4.3: unknown
// operations are treated as CREATE for structural validation purposes).
func (r *Registry) Lookup(operation string) OperationSpec {
	if spec, ok := r.specs[operation]; ok {
		return spec
	}
	log.Printf("transaction: unrecognized operation %q, falling back to CREATE rules", operation)
	return r.specs[OpCreate]
}

var defaultRegistry = buildDefaultRegistry()

func buildDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(OperationSpec{Name: OpCreate, RequiresNilFulfills: true})
	r.Register(OperationSpec{Name: OpTransfer, RequiresNilFulfills: false})
	r.Register(OperationSpec{Name: OpValidatorElection, RequiresNilFulfills: true})
	r.Register(OperationSpec{Name: OpChainMigrationElection, RequiresNilFulfills: true})
	r.Register(OperationSpec{Name: OpVote, RequiresNilFulfills: false})
	return r
}

// DefaultRegistry returns the registry populated with the five operations
// this node recognizes on the wire. It is built once and safe for
// concurrent read-only use.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// ValidateStructure checks the generic structural invariants common to
// every operation, plus the operation-specific ones from its spec: non-empty
// inputs and outputs, the fulfills-nilness invariant, and any
// operation-specific asset shape.
func (r *Registry) ValidateStructure(t Transaction) error {
	if t.Operation == "" {
		return fmt.Errorf("%w: operation is required", ErrStructuralError)
	}
	if len(t.Inputs) == 0 {
		return fmt.Errorf("%w: transaction has no inputs", ErrStructuralError)
	}
	if len(t.Outputs) == 0 {
		return fmt.Errorf("%w: transaction has no outputs", ErrStructuralError)
	}

	spec := r.Lookup(t.Operation)
	for i, in := range t.Inputs {
		isNil := in.Fulfills == nil
		if spec.RequiresNilFulfills && !isNil {
			return fmt.Errorf("%w: input %d must not fulfill an existing output for operation %s", ErrStructuralError, i, t.Operation)
		}
		if !spec.RequiresNilFulfills && isNil {
			return fmt.Errorf("%w: input %d must fulfill an existing output for operation %s", ErrStructuralError, i, t.Operation)
		}
		if len(in.OwnersBefore) == 0 {
			return fmt.Errorf("%w: input %d has no owners_before", ErrStructuralError, i)
		}
	}

	// CREATE's asset is "null or a mapping containing data" (§3); only
	// TRANSFER's asset.id reference is mandatory.
	if t.Operation == OpTransfer && t.Asset == nil {
		return fmt.Errorf("%w: asset is required for TRANSFER", ErrStructuralError)
	}
	if t.Asset != nil && spec.ValidateAsset != nil {
		if err := spec.ValidateAsset(t.Asset); err != nil {
			return err
		}
	}
	if t.Operation == OpTransfer && t.Asset.ID == "" {
		return fmt.Errorf("%w: asset.id is required for TRANSFER", ErrStructuralError)
	}
	if t.Operation == OpCreate && t.Asset != nil && t.Asset.ID != "" {
		return fmt.Errorf("%w: asset.id must be empty for CREATE", ErrStructuralError)
	}

	for i, out := range t.Outputs {
		if len(out.PublicKeys) == 0 {
			return fmt.Errorf("%w: output %d has no public_keys", ErrStructuralError, i)
		}
		if out.Amount == "" {
			return fmt.Errorf("%w: output %d has no amount", ErrStructuralError, i)
		}
	}

	return nil
}
