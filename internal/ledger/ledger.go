// Package ledger is the read/write handle the UI uses for ledger rows.
//
// Every call is admitted by the session's gate, so it runs against the
// active identity and schema variant and never overlaps a migration.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/pocketledger/internal/metrics"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage"
)

// ErrInvalidArgument wraps validation failures.
var ErrInvalidArgument = errors.New("invalid argument")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Gate admits reads and writes. *session.Orchestrator implements it.
type Gate interface {
	BeginRead() (session.Scope, func(), error)
	BeginWrite() (session.Scope, func(), error)
}

// Ledger reads and writes the active identity's rows.
type Ledger struct {
	gate    Gate
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// New creates a ledger handle. m may be nil.
func New(gate Gate, store storage.Store, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		gate:    gate,
		store:   store,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// write runs fn in one transaction admitted by the gate.
func (l *Ledger) write(ctx context.Context, fn func(tx storage.Tx, scope session.Scope) error) error {
	scope, release, err := l.gate.BeginWrite()
	if err != nil {
		return err
	}
	defer release()
	return l.store.WithTx(ctx, func(tx storage.Tx) error {
		return fn(tx, scope)
	})
}

// read runs fn against the store outside a transaction.
func (l *Ledger) read(fn func(scope session.Scope) error) error {
	scope, release, err := l.gate.BeginRead()
	if err != nil {
		return err
	}
	defer release()
	return fn(scope)
}

// owned adds the owner filter of scope to where.
func owned(scope session.Scope, where storage.Eq) storage.Eq {
	out := storage.Eq{schema.OwnerColumn: scope.Identity.ID}
	for k, v := range where {
		out[k] = v
	}
	return out
}

// getOne loads a single owned row by id.
func getOne(ctx context.Context, tx storage.Tx, scope session.Scope, logical, id string) (storage.Row, error) {
	rows, err := tx.Select(ctx, storage.Query{
		Table: scope.Schema.Physical(logical),
		Where: owned(scope, storage.Eq{"id": id}),
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %q: %w", logical, id, storage.ErrNotFound)
	}
	return rows[0], nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
