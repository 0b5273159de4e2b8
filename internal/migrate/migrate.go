// Package migrate relocates a user's rows between schema variants and
// between identities.
//
// A migration is one store transaction covering every logical table. For
// each table the target identity's rows are replaced by the source
// identity's rows, and the source rows are removed. Re-running a migration
// that already committed is harmless: once the source is empty there is
// nothing left to copy and the target is not touched.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/pocketledger/internal/metrics"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/storage"
)

// Request names the rows to move and where they go.
type Request struct {
	SourceVariant  schema.Variant
	SourceIdentity string
	TargetVariant  schema.Variant
	TargetIdentity string
}

// Direction labels the request for logs and metrics.
func (r Request) Direction() string {
	if r.SourceVariant == r.TargetVariant {
		return "rekey_" + r.SourceVariant.String()
	}
	return r.SourceVariant.String() + "->" + r.TargetVariant.String()
}

// TableReport describes what happened to one logical table.
type TableReport struct {
	Table    string
	Copied   int
	Replaced int // target rows deleted before the copy
	Skipped  bool
}

// Report summarizes a committed migration.
type Report struct {
	Request  Request
	Tables   []TableReport
	Rows     int
	Purged   int // outbox entries dropped for the source identity
	Duration time.Duration
}

// Options configures a Migrator.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Schemas resolves variants to descriptors. Defaults to schema.For.
	Schemas func(schema.Variant) schema.Descriptor

	// AfterTable runs inside the transaction after each table is copied.
	// A non-nil error aborts the migration.
	AfterTable func(table string) error
}

// Migrator moves rows through a storage.Store.
type Migrator struct {
	store storage.Store
	opts  Options
}

// NewMigrator creates a migrator over store.
func NewMigrator(store storage.Store, opts Options) *Migrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Schemas == nil {
		opts.Schemas = schema.For
	}
	return &Migrator{store: store, opts: opts}
}

// Migrate runs req in a single transaction. Both descriptors' tables must
// already exist. On error nothing has changed.
func (m *Migrator) Migrate(ctx context.Context, req Request) (*Report, error) {
	if req.SourceIdentity == "" || req.TargetIdentity == "" {
		return nil, errors.New("migration needs a source and a target identity")
	}
	if req.SourceVariant == req.TargetVariant && req.SourceIdentity == req.TargetIdentity {
		return nil, errors.New("migration source and target are the same")
	}

	logger := m.opts.Logger.With(
		"direction", req.Direction(),
		"source_id", req.SourceIdentity,
		"target_id", req.TargetIdentity,
	)
	start := time.Now()

	src := m.opts.Schemas(req.SourceVariant)
	dst := m.opts.Schemas(req.TargetVariant)
	if err := schema.CheckCompatible(src, dst); err != nil {
		return nil, m.fail(logger, req, start, &Error{Kind: SchemaMismatch, Err: err})
	}

	report := &Report{Request: req}
	var current string

	err := m.store.WithTx(ctx, func(tx storage.Tx) error {
		report.Tables = report.Tables[:0]
		report.Rows = 0

		for _, logical := range schema.TableOrder {
			current = logical
			tr, err := m.copyTable(ctx, tx, req, src.MustTable(logical), dst.MustTable(logical))
			if err != nil {
				return err
			}
			report.Tables = append(report.Tables, tr)
			report.Rows += tr.Copied

			if m.opts.AfterTable != nil {
				if err := m.opts.AfterTable(logical); err != nil {
					return err
				}
			}
		}
		current = ""

		// Removing the source rows queued DELETE uploads for data that was
		// moved, not deleted by the user.
		if src.Replicated() {
			n, err := tx.Delete(ctx, src.Outbox, storage.Eq{schema.OwnerColumn: req.SourceIdentity})
			if err != nil {
				return fmt.Errorf("failed to purge outbox: %w", err)
			}
			report.Purged = int(n)
		}
		return nil
	})
	if err != nil {
		kind := TransactionAborted
		if errors.Is(err, storage.ErrUnavailable) {
			kind = SourceUnavailable
		}
		return nil, m.fail(logger, req, start, &Error{Kind: kind, Table: current, Err: err})
	}

	report.Duration = time.Since(start)
	for _, tr := range report.Tables {
		m.opts.Metrics.AddMigratedRows(tr.Table, tr.Copied)
	}
	m.opts.Metrics.ObserveMigration(req.Direction(), "ok", report.Duration)
	logger.Info("Migration committed",
		"rows", report.Rows,
		"purged", report.Purged,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (m *Migrator) copyTable(ctx context.Context, tx storage.Tx, req Request, src, dst schema.Table) (TableReport, error) {
	tr := TableReport{Table: src.Logical}

	rows, err := tx.Select(ctx, storage.Query{
		Table: src.Physical,
		Where: storage.Eq{schema.OwnerColumn: req.SourceIdentity},
	})
	if err != nil {
		return tr, fmt.Errorf("failed to read %s: %w", src.Physical, err)
	}
	if len(rows) == 0 {
		tr.Skipped = true
		return tr, nil
	}

	replaced, err := tx.Delete(ctx, dst.Physical, storage.Eq{schema.OwnerColumn: req.TargetIdentity})
	if err != nil {
		return tr, fmt.Errorf("failed to clear %s: %w", dst.Physical, err)
	}
	tr.Replaced = int(replaced)

	if _, err := tx.Delete(ctx, src.Physical, storage.Eq{schema.OwnerColumn: req.SourceIdentity}); err != nil {
		return tr, fmt.Errorf("failed to remove source rows from %s: %w", src.Physical, err)
	}

	cols := schema.SharedColumns(src, dst)
	for _, row := range rows {
		out := row.Project(cols)
		out[schema.OwnerColumn] = req.TargetIdentity
		if err := tx.Insert(ctx, dst.Physical, out); err != nil {
			return tr, fmt.Errorf("failed to copy %s row %v: %w", src.Logical, row["id"], err)
		}
	}
	tr.Copied = len(rows)
	return tr, nil
}

func (m *Migrator) fail(logger *slog.Logger, req Request, start time.Time, err *Error) error {
	m.opts.Metrics.ObserveMigration(req.Direction(), err.Kind.String(), time.Since(start))
	logger.Error("Migration failed", "kind", err.Kind, "table", err.Table, "error", err.Err)
	return err
}
