package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pocketledger/internal/models"
)

// CategoryTotal is the sum of an account-independent category over a set
// of transactions. Uncategorised transactions have an empty CategoryID.
type CategoryTotal struct {
	CategoryID string
	Currency   string
	Inflow     decimal.Decimal
	Outflow    decimal.Decimal // positive magnitude of negative amounts
	Count      int
}

// Net is inflow minus outflow.
func (c CategoryTotal) Net() decimal.Decimal {
	return c.Inflow.Sub(c.Outflow)
}

// CalculateBalances computes each account's balance from its opening
// balance and transactions. Transactions of unknown accounts are ignored.
// The result follows the order of accounts.
//
// A transaction in a currency other than the account's is still added at
// face value; there is no conversion.
func CalculateBalances(accounts []models.Account, txns []models.Transaction) []models.AccountBalance {
	byID := make(map[string]*models.AccountBalance, len(accounts))
	out := make([]models.AccountBalance, len(accounts))
	for i, a := range accounts {
		out[i] = models.AccountBalance{
			AccountID: a.ID,
			Name:      a.Name,
			Currency:  a.CurrencyCode,
			Balance:   a.OpeningBalance,
		}
		byID[a.ID] = &out[i]
	}
	for _, t := range txns {
		bal, ok := byID[t.AccountID]
		if !ok {
			continue
		}
		bal.Balance = bal.Balance.Add(t.Amount)
	}
	return out
}

// CalculateCategoryTotals groups transactions by category and currency.
// Totals are sorted by category id, then currency.
func CalculateCategoryTotals(txns []models.Transaction) []CategoryTotal {
	type key struct{ category, currency string }
	totals := make(map[key]*CategoryTotal)
	for _, t := range txns {
		k := key{t.CategoryID, t.CurrencyCode}
		ct, ok := totals[k]
		if !ok {
			ct = &CategoryTotal{CategoryID: t.CategoryID, Currency: t.CurrencyCode}
			totals[k] = ct
		}
		if t.Amount.IsNegative() {
			ct.Outflow = ct.Outflow.Add(t.Amount.Neg())
		} else {
			ct.Inflow = ct.Inflow.Add(t.Amount)
		}
		ct.Count++
	}

	out := make([]CategoryTotal, 0, len(totals))
	for _, ct := range totals {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryID != out[j].CategoryID {
			return out[i].CategoryID < out[j].CategoryID
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// AccountBalances returns the balance of every non-archived account.
func (l *Ledger) AccountBalances(ctx context.Context) ([]models.AccountBalance, error) {
	accounts, err := l.ListAccounts(ctx, false)
	if err != nil {
		return nil, err
	}
	txns, err := l.ListTransactions(ctx, "")
	if err != nil {
		return nil, err
	}
	return CalculateBalances(accounts, txns), nil
}

// CategoryTotals sums the transactions of accountID, or of every account
// when accountID is empty, per category and currency.
func (l *Ledger) CategoryTotals(ctx context.Context, accountID string) ([]CategoryTotal, error) {
	txns, err := l.ListTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return CalculateCategoryTotals(txns), nil
}
