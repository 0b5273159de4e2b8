package sqlite

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/storage"
)

// triggerData holds what the outbox trigger templates need.
type triggerData struct {
	Physical    string
	Logical     string
	Outbox      string
	DataColumns string
}

// Every local change to a replicated table is queued in the outbox, one
// row per (table, row id). The latest change wins.
var triggerTemplates = template.Must(template.New("triggers").Parse(`
{{define "insert"}}CREATE TRIGGER IF NOT EXISTS trg_{{.Physical}}_ai
AFTER INSERT ON {{.Physical}}
BEGIN
	INSERT OR REPLACE INTO {{.Outbox}}(table_name, row_id, owner_id, op, change_id, queued_at)
	VALUES ('{{.Logical}}', NEW.id, NEW.owner_id, 'UPSERT',
		(SELECT COALESCE(MAX(change_id), 0) + 1 FROM {{.Outbox}}),
		CAST(strftime('%s', 'now') AS INTEGER));
END{{end}}
{{define "update"}}CREATE TRIGGER IF NOT EXISTS trg_{{.Physical}}_au
AFTER UPDATE OF {{.DataColumns}} ON {{.Physical}}
BEGIN
	INSERT OR REPLACE INTO {{.Outbox}}(table_name, row_id, owner_id, op, change_id, queued_at)
	VALUES ('{{.Logical}}', NEW.id, NEW.owner_id, 'UPSERT',
		(SELECT COALESCE(MAX(change_id), 0) + 1 FROM {{.Outbox}}),
		CAST(strftime('%s', 'now') AS INTEGER));
END{{end}}
{{define "delete"}}CREATE TRIGGER IF NOT EXISTS trg_{{.Physical}}_ad
AFTER DELETE ON {{.Physical}}
BEGIN
	INSERT OR REPLACE INTO {{.Outbox}}(table_name, row_id, owner_id, op, change_id, queued_at)
	VALUES ('{{.Logical}}', OLD.id, OLD.owner_id, 'DELETE',
		(SELECT COALESCE(MAX(change_id), 0) + 1 FROM {{.Outbox}}),
		CAST(strftime('%s', 'now') AS INTEGER));
END{{end}}
`))

var triggerKinds = []string{"insert", "update", "delete"}

func outboxDDL(name string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    table_name TEXT NOT NULL,
    row_id TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    op TEXT NOT NULL CHECK (op IN ('UPSERT', 'DELETE')),
    change_id INTEGER NOT NULL,
    queued_at INTEGER NOT NULL,
    PRIMARY KEY (table_name, row_id)
)`, name),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(owner_id, change_id)", name, name),
	}
}

func tableDDL(t schema.Table) string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		def := c.Name + " " + string(c.Type)
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		defs[i] = "    " + def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.Physical, strings.Join(defs, ",\n"))
}

// CreateStatements renders the DDL that materializes a descriptor.
func CreateStatements(d schema.Descriptor) ([]string, error) {
	var stmts []string
	if d.Replicated() {
		stmts = append(stmts, outboxDDL(d.Outbox)...)
	}

	for _, t := range d.Tables {
		if err := checkIdent(t.Physical); err != nil {
			return nil, err
		}
		stmts = append(stmts,
			tableDDL(t),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_owner ON %s(%s)", t.Physical, t.Physical, schema.OwnerColumn),
		)
		if !d.Replicated() {
			continue
		}

		data := triggerData{
			Physical:    t.Physical,
			Logical:     t.Logical,
			Outbox:      d.Outbox,
			DataColumns: strings.Join(t.DataColumns(), ", "),
		}
		for _, kind := range triggerKinds {
			var buf bytes.Buffer
			if err := triggerTemplates.ExecuteTemplate(&buf, kind, data); err != nil {
				return nil, fmt.Errorf("failed to render %s trigger for %s: %w", kind, t.Physical, err)
			}
			stmts = append(stmts, buf.String())
		}
	}
	return stmts, nil
}

// DropStatements renders the DDL that removes a descriptor's tables.
// Dropping a table also drops its triggers and indexes.
func DropStatements(d schema.Descriptor) []string {
	stmts := make([]string, 0, len(d.Tables)+1)
	for i := len(d.Tables) - 1; i >= 0; i-- {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+d.Tables[i].Physical)
	}
	if d.Replicated() {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+d.Outbox)
	}
	return stmts
}

// UpdateSchema creates any missing tables of the descriptor in one transaction.
func (s *SQLiteStore) UpdateSchema(ctx context.Context, d schema.Descriptor) error {
	stmts, err := CreateStatements(d)
	if err != nil {
		return err
	}
	return s.execAll(ctx, stmts)
}

// DropSchema removes the descriptor's tables in one transaction.
func (s *SQLiteStore) DropSchema(ctx context.Context, d schema.Descriptor) error {
	return s.execAll(ctx, DropStatements(d))
}

func (s *SQLiteStore) execAll(ctx context.Context, stmts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin schema transaction: %v", storage.ErrUnavailable, err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w\n%s", err, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCommit, err)
	}
	return nil
}
