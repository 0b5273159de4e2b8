package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage"
)

// NewAccount holds the fields of an account to create.
type NewAccount struct {
	Name           string
	Type           string
	CurrencyCode   string
	OpeningBalance decimal.Decimal
}

// CreateAccount adds an account after the existing ones.
func (l *Ledger) CreateAccount(ctx context.Context, in NewAccount) (*models.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("account name is required")
	}
	if in.CurrencyCode == "" {
		return nil, invalid("currency code is required")
	}

	var acct *models.Account
	err := l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		if err := requireCurrency(ctx, tx, scope, in.CurrencyCode); err != nil {
			return err
		}
		table := scope.Schema.Physical(schema.Accounts)
		key, err := appendKey(ctx, tx, table, owned(scope, nil))
		if err != nil {
			return err
		}
		now := l.now().UnixMilli()
		acct = &models.Account{
			ID:             l.newID(),
			Name:           name,
			Type:           in.Type,
			CurrencyCode:   in.CurrencyCode,
			OpeningBalance: in.OpeningBalance,
			SortOrder:      key,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		row := owned(scope, storage.Eq{
			"id":              acct.ID,
			"name":            acct.Name,
			"type":            acct.Type,
			"currency_code":   acct.CurrencyCode,
			"opening_balance": acct.OpeningBalance.String(),
			"sort_order":      acct.SortOrder,
			"created_at":      now,
			"updated_at":      now,
		})
		if err := tx.Insert(ctx, table, storage.Row(row)); err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Account created", "account_id", acct.ID, "name", acct.Name)
	return acct, nil
}

// ListAccounts returns the accounts in display order. Archived accounts
// are included only when includeArchived is set.
func (l *Ledger) ListAccounts(ctx context.Context, includeArchived bool) ([]models.Account, error) {
	var out []models.Account
	err := l.read(func(scope session.Scope) error {
		where := owned(scope, nil)
		if !includeArchived {
			where["archived"] = 0
		}
		rows, err := l.store.Select(ctx, storage.Query{
			Table:   scope.Schema.Physical(schema.Accounts),
			Where:   where,
			OrderBy: []string{"sort_order", "name", "id"},
		})
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		out = make([]models.Account, 0, len(rows))
		for _, r := range rows {
			out = append(out, accountFromRow(r))
		}
		return nil
	})
	return out, err
}

// ArchiveAccount hides an account from the default listing. Its
// transactions are kept.
func (l *Ledger) ArchiveAccount(ctx context.Context, id string, archived bool) error {
	return l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		flag := 0
		if archived {
			flag = 1
		}
		n, err := tx.Update(ctx, scope.Schema.Physical(schema.Accounts),
			storage.Row{"archived": flag, "updated_at": l.now().UnixMilli()},
			owned(scope, storage.Eq{"id": id}))
		if err != nil {
			return fmt.Errorf("failed to archive account: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("account %q: %w", id, storage.ErrNotFound)
		}
		return nil
	})
}

// MoveAccount places an account at position to of the account list.
func (l *Ledger) MoveAccount(ctx context.Context, id string, to int) ([]string, error) {
	var order []string
	err := l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		items, err := l.move(ctx, tx, scope.Schema.Physical(schema.Accounts), owned(scope, nil), id, to, l.now().UnixMilli())
		if err != nil {
			return err
		}
		order = itemIDs(items)
		return nil
	})
	return order, err
}

func requireCurrency(ctx context.Context, tx storage.Tx, scope session.Scope, code string) error {
	n, err := tx.Count(ctx, scope.Schema.Physical(schema.Currencies), owned(scope, storage.Eq{"code": code}))
	if err != nil {
		return fmt.Errorf("failed to look up currency: %w", err)
	}
	if n == 0 {
		return invalid("unknown currency %q", code)
	}
	return nil
}

func accountFromRow(r storage.Row) models.Account {
	bal, _ := decimal.NewFromString(r.String("opening_balance"))
	return models.Account{
		ID:             r.String("id"),
		Name:           r.String("name"),
		Type:           r.String("type"),
		CurrencyCode:   r.String("currency_code"),
		OpeningBalance: bal,
		SortOrder:      r.Float64("sort_order"),
		Archived:       r.Bool("archived"),
		CreatedAt:      r.Int64("created_at"),
		UpdatedAt:      r.Int64("updated_at"),
	}
}
