package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/ordering"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage"
)

// NewCategory holds the fields of a category to create.
type NewCategory struct {
	ParentID string
	Name     string
	Type     models.CategoryType
	Icon     string
	Color    string
}

// siblingGroup is the filter selecting a category's siblings.
func siblingGroup(scope session.Scope, typ models.CategoryType, parentID string) storage.Eq {
	return owned(scope, storage.Eq{"type": string(typ), "parent_id": nullable(parentID)})
}

// CreateCategory appends a category to its sibling group.
func (l *Ledger) CreateCategory(ctx context.Context, in NewCategory) (*models.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("category name is required")
	}
	if !in.Type.Valid() {
		return nil, invalid("unknown category type %q", in.Type)
	}

	var cat *models.Category
	err := l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		table := scope.Schema.Physical(schema.Categories)
		if in.ParentID != "" {
			parent, err := getOne(ctx, tx, scope, schema.Categories, in.ParentID)
			if err != nil {
				return err
			}
			if models.CategoryType(parent.String("type")) != in.Type {
				return invalid("parent category has type %s", parent.String("type"))
			}
		}
		key, err := appendKey(ctx, tx, table, siblingGroup(scope, in.Type, in.ParentID))
		if err != nil {
			return err
		}
		now := l.now().UnixMilli()
		cat = &models.Category{
			ID:        l.newID(),
			ParentID:  in.ParentID,
			Name:      name,
			Type:      in.Type,
			Icon:      in.Icon,
			Color:     in.Color,
			SortOrder: key,
			CreatedAt: now,
			UpdatedAt: now,
		}
		row := owned(scope, storage.Eq{
			"id":         cat.ID,
			"parent_id":  nullable(cat.ParentID),
			"name":       cat.Name,
			"type":       string(cat.Type),
			"icon":       cat.Icon,
			"color":      cat.Color,
			"sort_order": cat.SortOrder,
			"created_at": now,
			"updated_at": now,
		})
		if err := tx.Insert(ctx, table, storage.Row(row)); err != nil {
			return fmt.Errorf("failed to insert category: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// ListCategories returns one sibling group in display order: sort key
// ascending, ties broken by name.
func (l *Ledger) ListCategories(ctx context.Context, typ models.CategoryType, parentID string) ([]models.Category, error) {
	if !typ.Valid() {
		return nil, invalid("unknown category type %q", typ)
	}
	var out []models.Category
	err := l.read(func(scope session.Scope) error {
		rows, err := l.store.Select(ctx, storage.Query{
			Table:   scope.Schema.Physical(schema.Categories),
			Where:   siblingGroup(scope, typ, parentID),
			OrderBy: []string{"sort_order", "name", "id"},
		})
		if err != nil {
			return fmt.Errorf("failed to list categories: %w", err)
		}
		out = make([]models.Category, 0, len(rows))
		for _, r := range rows {
			out = append(out, categoryFromRow(r))
		}
		return nil
	})
	return out, err
}

// MoveCategory places a category at position to among its siblings and
// returns the group's ids in the new order. Usually only the moved row is
// rewritten; when its neighbours are too close the group is renumbered.
func (l *Ledger) MoveCategory(ctx context.Context, id string, to int) ([]string, error) {
	var order []string
	err := l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		row, err := getOne(ctx, tx, scope, schema.Categories, id)
		if err != nil {
			return err
		}
		group := siblingGroup(scope, models.CategoryType(row.String("type")), row.String("parent_id"))
		items, err := l.move(ctx, tx, scope.Schema.Physical(schema.Categories), group, id, to, l.now().UnixMilli())
		if err != nil {
			return err
		}
		order = itemIDs(items)
		return nil
	})
	return order, err
}

// DeleteCategory removes a category without children. Transactions that
// referenced it become uncategorised and its budgets are removed.
func (l *Ledger) DeleteCategory(ctx context.Context, id string) error {
	return l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		if _, err := getOne(ctx, tx, scope, schema.Categories, id); err != nil {
			return err
		}
		children, err := tx.Count(ctx, scope.Schema.Physical(schema.Categories), owned(scope, storage.Eq{"parent_id": id}))
		if err != nil {
			return fmt.Errorf("failed to count subcategories: %w", err)
		}
		if children > 0 {
			return invalid("category has %d subcategories", children)
		}
		if _, err := tx.Update(ctx, scope.Schema.Physical(schema.Transactions),
			storage.Row{"category_id": nil, "updated_at": l.now().UnixMilli()},
			owned(scope, storage.Eq{"category_id": id})); err != nil {
			return fmt.Errorf("failed to detach transactions: %w", err)
		}
		if _, err := tx.Delete(ctx, scope.Schema.Physical(schema.Budgets), owned(scope, storage.Eq{"category_id": id})); err != nil {
			return fmt.Errorf("failed to delete budgets: %w", err)
		}
		if _, err := tx.Delete(ctx, scope.Schema.Physical(schema.Categories), owned(scope, storage.Eq{"id": id})); err != nil {
			return fmt.Errorf("failed to delete category: %w", err)
		}
		return nil
	})
}

func categoryFromRow(r storage.Row) models.Category {
	return models.Category{
		ID:        r.String("id"),
		ParentID:  r.String("parent_id"),
		Name:      r.String("name"),
		Type:      models.CategoryType(r.String("type")),
		Icon:      r.String("icon"),
		Color:     r.String("color"),
		SortOrder: r.Float64("sort_order"),
		CreatedAt: r.Int64("created_at"),
		UpdatedAt: r.Int64("updated_at"),
	}
}

func itemIDs(items []ordering.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
