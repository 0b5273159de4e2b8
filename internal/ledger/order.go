package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/mmynk/pocketledger/internal/ordering"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/storage"
)

// siblings returns a sibling group in display order.
func siblings(ctx context.Context, tx storage.Tx, table string, group storage.Eq) ([]ordering.Item, error) {
	rows, err := tx.Select(ctx, storage.Query{
		Table:   table,
		Where:   group,
		OrderBy: []string{"sort_order", "name", "id"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load siblings: %w", err)
	}
	items := make([]ordering.Item, len(rows))
	for i, r := range rows {
		items[i] = ordering.Item{ID: r.String("id"), SortOrder: r.Float64("sort_order"), Name: r.String("name")}
	}
	ordering.Sort(items)
	return items, nil
}

// appendKey returns the sort key for a new last sibling.
func appendKey(ctx context.Context, tx storage.Tx, table string, group storage.Eq) (float64, error) {
	items, err := siblings(ctx, tx, table, group)
	if err != nil {
		return 0, err
	}
	return ordering.Append(items), nil
}

// move relocates id to position to within its sibling group and persists
// the new keys. It returns the group in its new order.
func (l *Ledger) move(ctx context.Context, tx storage.Tx, table string, group storage.Eq, id string, to int, updatedAt int64) ([]ordering.Item, error) {
	items, err := siblings(ctx, tx, table, group)
	if err != nil {
		return nil, err
	}
	from := -1
	for i, it := range items {
		if it.ID == id {
			from = i
			break
		}
	}
	if from < 0 {
		return nil, fmt.Errorf("%q: %w", id, storage.ErrNotFound)
	}
	if to < 0 || to >= len(items) {
		return nil, invalid("position %d out of range [0, %d)", to, len(items))
	}

	var (
		updates    []ordering.Update
		rebalanced bool
	)
	if ordering.NeedsRebalance(items) {
		// Keys that already collide cannot place the item reliably.
		updates, rebalanced = ordering.Rebalance(reorder(items, from, to)), true
	} else {
		updates, rebalanced, err = ordering.Move(items, from, to)
		if err != nil {
			return nil, err
		}
	}
	for _, u := range updates {
		set := storage.Row{"sort_order": u.SortOrder}
		if updatedAt != 0 {
			set["updated_at"] = updatedAt
		}
		where := storage.Eq{"id": u.ID, schema.OwnerColumn: group[schema.OwnerColumn]}
		if _, err := tx.Update(ctx, table, set, where); err != nil {
			return nil, fmt.Errorf("failed to update sort key of %s: %w", u.ID, err)
		}
	}
	if rebalanced {
		l.metrics.IncRebalance()
		l.logger.Info("Sibling group rebalanced", "table", table, "items", len(items))
	}
	return ordering.Apply(items, updates), nil
}

// reorder returns items with items[from] moved to index to.
func reorder(items []ordering.Item, from, to int) []ordering.Item {
	out := slices.Delete(slices.Clone(items), from, from+1)
	return slices.Insert(out, to, items[from])
}
