package ledger

import (
	"context"
	"fmt"

	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage"
)

// SetPreference stores a setting of the active identity.
func (l *Ledger) SetPreference(ctx context.Context, key, value string) error {
	if key == "" {
		return invalid("preference key is required")
	}
	return l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		table := scope.Schema.Physical(schema.UserPreferences)
		now := l.now().UnixMilli()
		n, err := tx.Update(ctx, table,
			storage.Row{"value": value, "updated_at": now},
			owned(scope, storage.Eq{"key": key}))
		if err != nil {
			return fmt.Errorf("failed to update preference %s: %w", key, err)
		}
		if n > 0 {
			return nil
		}
		row := owned(scope, storage.Eq{"id": l.newID(), "key": key, "value": value, "updated_at": now})
		if err := tx.Insert(ctx, table, storage.Row(row)); err != nil {
			return fmt.Errorf("failed to insert preference %s: %w", key, err)
		}
		return nil
	})
}

// Preference returns a setting and whether it is set.
func (l *Ledger) Preference(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := l.read(func(scope session.Scope) error {
		rows, err := l.store.Select(ctx, storage.Query{
			Table: scope.Schema.Physical(schema.UserPreferences),
			Where: owned(scope, storage.Eq{"key": key}),
			Limit: 1,
		})
		if err != nil {
			return fmt.Errorf("failed to read preference %s: %w", key, err)
		}
		if len(rows) > 0 {
			value, found = rows[0].String("value"), true
		}
		return nil
	})
	return value, found, err
}
