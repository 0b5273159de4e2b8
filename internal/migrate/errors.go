package migrate

import (
	"errors"
	"fmt"
)

// Kind classifies why a migration failed. In every case the store is left
// exactly as it was before the attempt.
type Kind int

const (
	// SourceUnavailable means the store could not open a transaction.
	SourceUnavailable Kind = iota + 1
	// SchemaMismatch means the two descriptors disagree about a shared
	// column. This is a programming error.
	SchemaMismatch
	// TransactionAborted means a statement or the commit failed and the
	// transaction was rolled back.
	TransactionAborted
)

func (k Kind) String() string {
	switch k {
	case SourceUnavailable:
		return "source_unavailable"
	case SchemaMismatch:
		return "schema_mismatch"
	case TransactionAborted:
		return "transaction_aborted"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrSourceUnavailable  = errors.New("migration source unavailable")
	ErrSchemaMismatch     = errors.New("migration schema mismatch")
	ErrTransactionAborted = errors.New("migration transaction aborted")
)

// Error is returned by Migrate.
type Error struct {
	Kind  Kind
	Table string // logical table being copied, if any
	Err   error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("migration failed (%s) at %s: %v", e.Kind, e.Table, e.Err)
	}
	return fmt.Sprintf("migration failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrSourceUnavailable:
		return e.Kind == SourceUnavailable
	case ErrSchemaMismatch:
		return e.Kind == SchemaMismatch
	case ErrTransactionAborted:
		return e.Kind == TransactionAborted
	}
	return false
}
