package migrate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/storage"
	"github.com/mmynk/pocketledger/internal/storage/sqlite"
)

func openStore(t *testing.T, path string) *sqlite.SQLiteStore {
	t.Helper()
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	require.NoError(t, store.UpdateSchema(ctx, schema.For(schema.LocalOnly)))
	require.NoError(t, store.UpdateSchema(ctx, schema.For(schema.Synced)))
	return store
}

// loadFixture writes 3 accounts, 5 categories, 20 transactions and
// 2 budgets for owner into the tables of d.
func loadFixture(t *testing.T, store storage.Store, d schema.Descriptor, owner string) {
	t.Helper()
	ctx := context.Background()
	insert := func(logical string, row storage.Row) {
		row[schema.OwnerColumn] = owner
		require.NoError(t, store.Insert(ctx, d.Physical(logical), row))
	}

	for i := 0; i < 5; i++ {
		typ := "expense"
		if i == 0 {
			typ = "income"
		}
		insert(schema.Categories, storage.Row{
			"id":         fmt.Sprintf("%s-cat-%d", owner, i),
			"name":       fmt.Sprintf("Category %d", i),
			"type":       typ,
			"sort_order": float64(1000 * (i + 1)),
			"created_at": int64(1700000000000 + i),
			"updated_at": int64(1700000000000 + i),
		})
	}
	for i := 0; i < 3; i++ {
		insert(schema.Accounts, storage.Row{
			"id":              fmt.Sprintf("%s-acct-%d", owner, i),
			"name":            fmt.Sprintf("Account %d", i),
			"type":            "checking",
			"currency_code":   "USD",
			"opening_balance": "100.00",
			"sort_order":      float64(1000 * (i + 1)),
		})
	}
	for i := 0; i < 2; i++ {
		insert(schema.Budgets, storage.Row{
			"id":          fmt.Sprintf("%s-budget-%d", owner, i),
			"category_id": fmt.Sprintf("%s-cat-%d", owner, i+1),
			"amount":      "250.00",
			"period":      "monthly",
			"start_date":  "2026-01-01",
		})
	}
	for i := 0; i < 20; i++ {
		var category any
		if i%4 != 0 {
			category = fmt.Sprintf("%s-cat-%d", owner, i%5)
		}
		insert(schema.Transactions, storage.Row{
			"id":            fmt.Sprintf("%s-txn-%02d", owner, i),
			"account_id":    fmt.Sprintf("%s-acct-%d", owner, i%3),
			"category_id":   category,
			"amount":        fmt.Sprintf("-%d.25", i+1),
			"currency_code": "USD",
			"note":          fmt.Sprintf("purchase %d", i),
			"occurred_at":   int64(1700000000000 + i*86400000),
		})
	}
}

// dump returns owner's rows per logical table without bookkeeping columns
// and with the owner column blanked, ordered by id.
func dump(t *testing.T, store storage.Store, d schema.Descriptor, owner string) map[string][]storage.Row {
	t.Helper()
	out := make(map[string][]storage.Row)
	for _, tbl := range d.Tables {
		rows, err := store.Select(context.Background(), storage.Query{
			Table: tbl.Physical,
			Where: storage.Eq{schema.OwnerColumn: owner},
		})
		require.NoError(t, err)
		for i, r := range rows {
			r = r.Project(tbl.DataColumns())
			delete(r, schema.OwnerColumn)
			rows[i] = r
		}
		out[tbl.Logical] = rows
	}
	return out
}

func counts(t *testing.T, store storage.Store, d schema.Descriptor, owner string) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for _, tbl := range d.Tables {
		n, err := store.Count(context.Background(), tbl.Physical, storage.Eq{schema.OwnerColumn: owner})
		require.NoError(t, err)
		out[tbl.Logical] = n
	}
	return out
}

func TestRoundTripLocalSyncedLocal(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	local, synced := schema.For(schema.LocalOnly), schema.For(schema.Synced)
	loadFixture(t, store, local, "user-1")
	before := dump(t, store, local, "user-1")

	m := NewMigrator(store, Options{})

	up, err := m.Migrate(ctx, Request{
		SourceVariant: schema.LocalOnly, SourceIdentity: "user-1",
		TargetVariant: schema.Synced, TargetIdentity: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 30, up.Rows)
	assert.Len(t, up.Tables, len(schema.TableOrder))
	assert.Zero(t, up.Purged)

	assert.Equal(t, before, dump(t, store, synced, "user-1"))
	for table, n := range counts(t, store, local, "user-1") {
		assert.Zero(t, n, table)
	}

	// Every copied row is queued for its first upload.
	pending, err := store.Count(ctx, schema.OutboxTable, storage.Eq{"owner_id": "user-1", "op": "UPSERT"})
	require.NoError(t, err)
	assert.Equal(t, 30, pending)

	down, err := m.Migrate(ctx, Request{
		SourceVariant: schema.Synced, SourceIdentity: "user-1",
		TargetVariant: schema.LocalOnly, TargetIdentity: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 30, down.Rows)
	assert.Equal(t, 30, down.Purged)

	assert.Equal(t, before, dump(t, store, local, "user-1"))
	for table, n := range counts(t, store, synced, "user-1") {
		assert.Zero(t, n, table)
	}
	pending, err = store.Count(ctx, schema.OutboxTable, storage.Eq{"owner_id": "user-1"})
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestGuestToAuthenticated(t *testing.T) {
	for _, v := range []schema.Variant{schema.LocalOnly, schema.Synced} {
		t.Run(v.String(), func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
			d := schema.For(v)
			loadFixture(t, store, d, "guest-1")
			// Leftovers from an earlier session of the same user are replaced.
			require.NoError(t, store.Insert(ctx, d.Physical(schema.Accounts), storage.Row{
				"id": "stale", "owner_id": "user-1", "name": "Old",
			}))
			guestCounts := counts(t, store, d, "guest-1")

			report, err := NewMigrator(store, Options{}).Migrate(ctx, Request{
				SourceVariant: v, SourceIdentity: "guest-1",
				TargetVariant: v, TargetIdentity: "user-1",
			})
			require.NoError(t, err)
			assert.Equal(t, "rekey_"+v.String(), report.Request.Direction())

			for table, n := range counts(t, store, d, "guest-1") {
				assert.Zero(t, n, "guest rows left in %s", table)
			}
			assert.Equal(t, guestCounts, counts(t, store, d, "user-1"))

			n, err := store.Count(ctx, d.Physical(schema.Accounts), storage.Eq{"id": "stale"})
			require.NoError(t, err)
			assert.Zero(t, n)

			if d.Replicated() {
				n, err := store.Count(ctx, d.Outbox, storage.Eq{"owner_id": "guest-1"})
				require.NoError(t, err)
				assert.Zero(t, n, "guest deletes must not be uploaded")
			}
		})
	}
}

func TestRerunAfterCommitIsHarmless(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	local := schema.For(schema.LocalOnly)
	loadFixture(t, store, local, "guest-1")
	req := Request{
		SourceVariant: schema.LocalOnly, SourceIdentity: "guest-1",
		TargetVariant: schema.LocalOnly, TargetIdentity: "user-1",
	}
	m := NewMigrator(store, Options{})

	_, err := m.Migrate(ctx, req)
	require.NoError(t, err)
	migrated := dump(t, store, local, "user-1")

	// Crash before the owed flag was cleared: the migration runs again.
	report, err := m.Migrate(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, report.Rows)
	for _, tr := range report.Tables {
		assert.True(t, tr.Skipped, tr.Table)
	}
	assert.Equal(t, migrated, dump(t, store, local, "user-1"))
}

func TestFaultDuringTransactionsLeavesNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store := openStore(t, path)
	local := schema.For(schema.LocalOnly)
	loadFixture(t, store, local, "guest-1")
	before := dump(t, store, local, "guest-1")

	var copied []string
	m := NewMigrator(store, Options{
		AfterTable: func(table string) error {
			copied = append(copied, table)
			if table == schema.Transactions {
				return errors.New("simulated crash")
			}
			return nil
		},
	})
	_, err := m.Migrate(ctx, Request{
		SourceVariant: schema.LocalOnly, SourceIdentity: "guest-1",
		TargetVariant: schema.LocalOnly, TargetIdentity: "user-1",
	})

	var migErr *Error
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, TransactionAborted, migErr.Kind)
	assert.Equal(t, schema.Transactions, migErr.Table)
	assert.ErrorIs(t, err, ErrTransactionAborted)
	assert.Equal(t, []string{
		schema.Currencies, schema.Categories, schema.Accounts, schema.Budgets, schema.Transactions,
	}, copied)

	// Restart.
	require.NoError(t, store.Close())
	reopened := openStore(t, path)

	n, err := reopened.Count(ctx, local.Physical(schema.Categories), storage.Eq{"owner_id": "user-1"})
	require.NoError(t, err)
	assert.Zero(t, n)
	for table, n := range counts(t, reopened, local, "user-1") {
		assert.Zero(t, n, table)
	}
	assert.Equal(t, before, dump(t, reopened, local, "guest-1"))
}

func TestSourceUnavailable(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, store.Close())

	_, err := NewMigrator(store, Options{}).Migrate(ctx, Request{
		SourceVariant: schema.LocalOnly, SourceIdentity: "guest-1",
		TargetVariant: schema.Synced, TargetIdentity: "guest-1",
	})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrTransactionAborted)
}

func TestSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "ledger.db"))

	drifted := func(v schema.Variant) schema.Descriptor {
		d := schema.For(v)
		if v != schema.Synced {
			return d
		}
		tables := make([]schema.Table, len(d.Tables))
		for i, tbl := range d.Tables {
			cols := append([]schema.Column(nil), tbl.Columns...)
			if tbl.Logical == schema.Accounts {
				for j := range cols {
					if cols[j].Name == "opening_balance" {
						cols[j].Type = schema.Real
					}
				}
			}
			tbl.Columns = cols
			tables[i] = tbl
		}
		d.Tables = tables
		return d
	}

	_, err := NewMigrator(store, Options{Schemas: drifted}).Migrate(ctx, Request{
		SourceVariant: schema.LocalOnly, SourceIdentity: "guest-1",
		TargetVariant: schema.Synced, TargetIdentity: "guest-1",
	})
	var migErr *Error
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, SchemaMismatch, migErr.Kind)
	assert.ErrorIs(t, err, schema.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "opening_balance")
}

func TestInvalidRequest(t *testing.T) {
	m := NewMigrator(nil, Options{})
	_, err := m.Migrate(context.Background(), Request{SourceIdentity: "a", TargetIdentity: "a"})
	assert.Error(t, err)
	_, err = m.Migrate(context.Background(), Request{SourceIdentity: "a", TargetVariant: schema.Synced})
	assert.Error(t, err)
}
