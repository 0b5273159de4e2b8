package sqlite

import "database/sql"

// baseSchema contains the variant-independent tables. Ledger tables are created
// per schema variant by UpdateSchema.
const baseSchema = `
CREATE TABLE IF NOT EXISTS session_kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(baseSchema)
	return err
}
