package models

import "github.com/shopspring/decimal"

// CategoryType separates income from expense categories. Sibling ordering
// is scoped per type.
type CategoryType string

const (
	Income  CategoryType = "income"
	Expense CategoryType = "expense"
)

// Valid reports whether t is a known category type.
func (t CategoryType) Valid() bool {
	return t == Income || t == Expense
}

// Currency is an ISO-4217 reference entry.
type Currency struct {
	ID            string
	Code          string
	Name          string
	Symbol        string
	DecimalDigits int
	CreatedAt     int64
}

// Category groups transactions. Categories are ordered within their sibling
// group (same owner, parent and type) by SortOrder, then Name.
type Category struct {
	ID        string
	ParentID  string // empty for top-level categories
	Name      string
	Type      CategoryType
	Icon      string
	Color     string
	SortOrder float64
	CreatedAt int64
	UpdatedAt int64
}

// Account is a wallet, card or bank account.
type Account struct {
	ID             string
	Name           string
	Type           string
	CurrencyCode   string
	OpeningBalance decimal.Decimal
	SortOrder      float64
	Archived       bool
	CreatedAt      int64
	UpdatedAt      int64
}

// Transaction is a single money movement. Negative amounts are outflows.
type Transaction struct {
	ID           string
	AccountID    string
	CategoryID   string
	Amount       decimal.Decimal
	CurrencyCode string
	Note         string
	OccurredAt   int64
	CreatedAt    int64
	UpdatedAt    int64
}

// Budget caps spending in a category for a recurring period.
type Budget struct {
	ID         string
	CategoryID string
	Amount     decimal.Decimal
	Period     string // "monthly", "weekly" or "yearly"
	StartDate  string // YYYY-MM-DD
	CreatedAt  int64
	UpdatedAt  int64
}

// Attachment is a locally stored file such as a receipt photo.
type Attachment struct {
	ID        string
	FileName  string
	MimeType  string
	SizeBytes int64
	LocalURI  string
	CreatedAt int64
}

// TransactionAttachment links an attachment to a transaction.
type TransactionAttachment struct {
	ID            string
	TransactionID string
	AttachmentID  string
	CreatedAt     int64
}

// Preference is a per-identity key/value setting.
type Preference struct {
	ID        string
	Key       string
	Value     string
	UpdatedAt int64
}

// AccountBalance is the opening balance of an account plus all of its
// transactions.
type AccountBalance struct {
	AccountID string
	Name      string
	Currency  string
	Balance   decimal.Decimal
}
