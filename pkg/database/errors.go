// Sentinel errors for repository operations.
// F.4 remediation: explicit errors instead of nil, nil returns.

package database

import "errors"

var (
	// ErrNotFound names a requested row that is not found. The repository
	// lookups in this package report a missing row as found=false instead
	// of returning it.
	ErrNotFound = errors.New("database: entity not found")

	// ErrDuplicateKey is returned when store_transactions is asked to
	// insert a transaction id that already exists.
	ErrDuplicateKey = errors.New("database: duplicate key")
)
