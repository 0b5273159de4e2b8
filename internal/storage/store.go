// Package storage provides abstractions for the on-device relational store.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/pocketledger/internal/schema"
)

var (
	// ErrUnavailable means no transaction could be opened, e.g. the
	// database file is gone or the store was closed.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrCommit means the store rejected a commit. Nothing was written.
	ErrCommit = errors.New("storage rejected commit")

	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
)

// Row is one table row keyed by column name.
type Row map[string]any

// Eq is a conjunction of column = value filters. A nil value matches NULL.
type Eq map[string]any

// Query selects rows from a single table.
type Query struct {
	Table   string
	Where   Eq
	OrderBy []string
	Limit   int
}

// Tx is the set of row operations available inside and outside a
// transaction. Table and column names come from the schema registry.
type Tx interface {
	// Select returns matching rows in the requested order.
	Select(ctx context.Context, q Query) ([]Row, error)

	// Count returns the number of matching rows.
	Count(ctx context.Context, table string, where Eq) (int, error)

	// Insert adds a row. Columns missing from row take their defaults.
	Insert(ctx context.Context, table string, row Row) error

	// Update sets columns on matching rows and returns how many changed.
	Update(ctx context.Context, table string, set Row, where Eq) (int64, error)

	// Delete removes matching rows and returns how many were removed.
	Delete(ctx context.Context, table string, where Eq) (int64, error)
}

// Store defines the on-device relational store.
// This abstraction keeps the migrator and seeder independent of the
// storage engine: all they need is tables, rows and atomic transactions.
type Store interface {
	Tx

	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned as is.
	// A failure to begin wraps ErrUnavailable, a failed commit wraps ErrCommit.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// UpdateSchema makes sure every table of the descriptor exists.
	UpdateSchema(ctx context.Context, d schema.Descriptor) error

	// DropSchema removes the physical tables of a descriptor.
	DropSchema(ctx context.Context, d schema.Descriptor) error

	// Close releases any resources held by the store.
	Close() error
}

// KV is the small durable key-value store used for session flags.
type KV interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
