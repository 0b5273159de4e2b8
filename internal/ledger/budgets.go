package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage"
)

var budgetPeriods = map[string]bool{"weekly": true, "monthly": true, "yearly": true}

// SetBudget creates or replaces the budget of a category for a period.
func (l *Ledger) SetBudget(ctx context.Context, categoryID string, amount decimal.Decimal, period, startDate string) (*models.Budget, error) {
	if !budgetPeriods[period] {
		return nil, invalid("unknown budget period %q", period)
	}
	if _, err := time.Parse(time.DateOnly, startDate); err != nil {
		return nil, invalid("start date %q is not YYYY-MM-DD", startDate)
	}
	if amount.IsNegative() {
		return nil, invalid("budget amount must not be negative")
	}

	var b *models.Budget
	err := l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		cat, err := getOne(ctx, tx, scope, schema.Categories, categoryID)
		if err != nil {
			return err
		}
		if models.CategoryType(cat.String("type")) != models.Expense {
			return invalid("budgets apply to expense categories only")
		}

		table := scope.Schema.Physical(schema.Budgets)
		now := l.now().UnixMilli()
		key := owned(scope, storage.Eq{"category_id": categoryID, "period": period})
		existing, err := tx.Select(ctx, storage.Query{Table: table, Where: key, Limit: 1})
		if err != nil {
			return fmt.Errorf("failed to look up budget: %w", err)
		}
		if len(existing) > 0 {
			b = budgetFromRow(existing[0])
			b.Amount, b.StartDate, b.UpdatedAt = amount, startDate, now
			_, err := tx.Update(ctx, table,
				storage.Row{"amount": amount.String(), "start_date": startDate, "updated_at": now},
				owned(scope, storage.Eq{"id": b.ID}))
			if err != nil {
				return fmt.Errorf("failed to update budget: %w", err)
			}
			return nil
		}

		b = &models.Budget{
			ID:         l.newID(),
			CategoryID: categoryID,
			Amount:     amount,
			Period:     period,
			StartDate:  startDate,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		row := owned(scope, storage.Eq{
			"id":          b.ID,
			"category_id": categoryID,
			"amount":      amount.String(),
			"period":      period,
			"start_date":  startDate,
			"created_at":  now,
			"updated_at":  now,
		})
		if err := tx.Insert(ctx, table, storage.Row(row)); err != nil {
			return fmt.Errorf("failed to insert budget: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBudgets returns every budget of the active identity.
func (l *Ledger) ListBudgets(ctx context.Context) ([]models.Budget, error) {
	var out []models.Budget
	err := l.read(func(scope session.Scope) error {
		rows, err := l.store.Select(ctx, storage.Query{
			Table:   scope.Schema.Physical(schema.Budgets),
			Where:   owned(scope, nil),
			OrderBy: []string{"category_id", "period"},
		})
		if err != nil {
			return fmt.Errorf("failed to list budgets: %w", err)
		}
		out = make([]models.Budget, 0, len(rows))
		for _, r := range rows {
			out = append(out, *budgetFromRow(r))
		}
		return nil
	})
	return out, err
}

func budgetFromRow(r storage.Row) *models.Budget {
	amount, _ := decimal.NewFromString(r.String("amount"))
	return &models.Budget{
		ID:         r.String("id"),
		CategoryID: r.String("category_id"),
		Amount:     amount,
		Period:     r.String("period"),
		StartDate:  r.String("start_date"),
		CreatedAt:  r.Int64("created_at"),
		UpdatedAt:  r.Int64("updated_at"),
	}
}
