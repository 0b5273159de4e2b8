package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage"
)

// NewTransaction holds the fields of a transaction to record. The
// currency defaults to the account's.
type NewTransaction struct {
	AccountID    string
	CategoryID   string
	Amount       decimal.Decimal
	CurrencyCode string
	Note         string
	OccurredAt   int64
}

// AddTransaction records a money movement against an account.
func (l *Ledger) AddTransaction(ctx context.Context, in NewTransaction) (*models.Transaction, error) {
	if in.AccountID == "" {
		return nil, invalid("account is required")
	}
	if in.Amount.IsZero() {
		return nil, invalid("amount must not be zero")
	}

	var txn *models.Transaction
	err := l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		acct, err := getOne(ctx, tx, scope, schema.Accounts, in.AccountID)
		if err != nil {
			return err
		}
		if in.CategoryID != "" {
			if _, err := getOne(ctx, tx, scope, schema.Categories, in.CategoryID); err != nil {
				return err
			}
		}
		currency := in.CurrencyCode
		if currency == "" {
			currency = acct.String("currency_code")
		} else if err := requireCurrency(ctx, tx, scope, currency); err != nil {
			return err
		}

		now := l.now().UnixMilli()
		occurred := in.OccurredAt
		if occurred == 0 {
			occurred = now
		}
		txn = &models.Transaction{
			ID:           l.newID(),
			AccountID:    in.AccountID,
			CategoryID:   in.CategoryID,
			Amount:       in.Amount,
			CurrencyCode: currency,
			Note:         in.Note,
			OccurredAt:   occurred,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		row := owned(scope, storage.Eq{
			"id":            txn.ID,
			"account_id":    txn.AccountID,
			"category_id":   nullable(txn.CategoryID),
			"amount":        txn.Amount.String(),
			"currency_code": txn.CurrencyCode,
			"note":          txn.Note,
			"occurred_at":   txn.OccurredAt,
			"created_at":    now,
			"updated_at":    now,
		})
		if err := tx.Insert(ctx, scope.Schema.Physical(schema.Transactions), storage.Row(row)); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ListTransactions returns an account's transactions, oldest first. An
// empty accountID lists every account.
func (l *Ledger) ListTransactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	var out []models.Transaction
	err := l.read(func(scope session.Scope) error {
		where := owned(scope, nil)
		if accountID != "" {
			where["account_id"] = accountID
		}
		rows, err := l.store.Select(ctx, storage.Query{
			Table:   scope.Schema.Physical(schema.Transactions),
			Where:   where,
			OrderBy: []string{"occurred_at", "created_at", "id"},
		})
		if err != nil {
			return fmt.Errorf("failed to list transactions: %w", err)
		}
		out = make([]models.Transaction, 0, len(rows))
		for _, r := range rows {
			out = append(out, transactionFromRow(r))
		}
		return nil
	})
	return out, err
}

// DeleteTransaction removes a transaction and its attachment links.
func (l *Ledger) DeleteTransaction(ctx context.Context, id string) error {
	return l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		if _, err := tx.Delete(ctx, scope.Schema.Physical(schema.TransactionAttachments),
			owned(scope, storage.Eq{"transaction_id": id})); err != nil {
			return fmt.Errorf("failed to unlink attachments: %w", err)
		}
		n, err := tx.Delete(ctx, scope.Schema.Physical(schema.Transactions), owned(scope, storage.Eq{"id": id}))
		if err != nil {
			return fmt.Errorf("failed to delete transaction: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
		}
		return nil
	})
}

func transactionFromRow(r storage.Row) models.Transaction {
	amount, _ := decimal.NewFromString(r.String("amount"))
	return models.Transaction{
		ID:           r.String("id"),
		AccountID:    r.String("account_id"),
		CategoryID:   r.String("category_id"),
		Amount:       amount,
		CurrencyCode: r.String("currency_code"),
		Note:         r.String("note"),
		OccurredAt:   r.Int64("occurred_at"),
		CreatedAt:    r.Int64("created_at"),
		UpdatedAt:    r.Int64("updated_at"),
	}
}
