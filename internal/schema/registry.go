package schema

// Logical table names, parents before children.
const (
	Currencies             = "currencies"
	Categories             = "categories"
	Accounts               = "accounts"
	Budgets                = "budgets"
	Transactions           = "transactions"
	Attachments            = "attachments"
	TransactionAttachments = "transaction_attachments"
	UserPreferences        = "user_preferences"
)

// OwnerColumn holds the identity that owns a row in every table.
const OwnerColumn = "owner_id"

// OutboxTable is the pending upload queue of the Synced variant.
const OutboxTable = "sync_pending"

// Bookkeeping columns added by the Synced variant.
const (
	ServerVersionColumn = "server_version"
	LastSyncedAtColumn  = "last_synced_at"
)

// TableOrder is the fixed order in which tables are migrated.
var TableOrder = []string{
	Currencies,
	Categories,
	Accounts,
	Budgets,
	Transactions,
	Attachments,
	TransactionAttachments,
	UserPreferences,
}

func id() Column    { return Column{Name: "id", Type: Text, NotNull: true, PrimaryKey: true} }
func owner() Column { return Column{Name: OwnerColumn, Type: Text, NotNull: true} }
func textCol(name string) Column {
	return Column{Name: name, Type: Text, NotNull: true, Default: "''"}
}
func nullText(name string) Column { return Column{Name: name, Type: Text} }
func intCol(name string) Column {
	return Column{Name: name, Type: Integer, NotNull: true, Default: "0"}
}
func realCol(name string) Column {
	return Column{Name: name, Type: Real, NotNull: true, Default: "0"}
}

// logicalColumns is the shared row shape of every table.
var logicalColumns = map[string][]Column{
	Currencies: {
		id(), owner(),
		textCol("code"), textCol("name"), textCol("symbol"), intCol("decimal_digits"),
		intCol("created_at"),
	},
	Categories: {
		id(), owner(),
		nullText("parent_id"), textCol("name"), textCol("type"), textCol("icon"), textCol("color"),
		realCol("sort_order"),
		intCol("created_at"), intCol("updated_at"),
	},
	Accounts: {
		id(), owner(),
		textCol("name"), textCol("type"), textCol("currency_code"),
		{Name: "opening_balance", Type: Text, NotNull: true, Default: "'0'"},
		realCol("sort_order"), intCol("archived"),
		intCol("created_at"), intCol("updated_at"),
	},
	Budgets: {
		id(), owner(),
		textCol("category_id"),
		{Name: "amount", Type: Text, NotNull: true, Default: "'0'"},
		textCol("period"), textCol("start_date"),
		intCol("created_at"), intCol("updated_at"),
	},
	Transactions: {
		id(), owner(),
		textCol("account_id"), nullText("category_id"),
		{Name: "amount", Type: Text, NotNull: true, Default: "'0'"},
		textCol("currency_code"), textCol("note"), intCol("occurred_at"),
		intCol("created_at"), intCol("updated_at"),
	},
	Attachments: {
		id(), owner(),
		textCol("file_name"), textCol("mime_type"), intCol("size_bytes"), textCol("local_uri"),
		intCol("created_at"),
	},
	TransactionAttachments: {
		id(), owner(),
		textCol("transaction_id"), textCol("attachment_id"),
		intCol("created_at"),
	},
	UserPreferences: {
		id(), owner(),
		textCol("key"), textCol("value"),
		intCol("updated_at"),
	},
}

var syncedBookkeeping = []Column{
	{Name: ServerVersionColumn, Type: Integer, NotNull: true, Default: "0", Bookkeeping: true},
	{Name: LastSyncedAtColumn, Type: Integer, Bookkeeping: true},
}

var descriptors = map[Variant]Descriptor{
	LocalOnly: build(LocalOnly, "local_", nil, ""),
	Synced:    build(Synced, "synced_", syncedBookkeeping, OutboxTable),
}

func build(v Variant, prefix string, extra []Column, outbox string) Descriptor {
	d := Descriptor{Variant: v, Outbox: outbox}
	for _, logical := range TableOrder {
		cols := make([]Column, 0, len(logicalColumns[logical])+len(extra))
		cols = append(cols, logicalColumns[logical]...)
		cols = append(cols, extra...)
		d.Tables = append(d.Tables, Table{
			Logical:  logical,
			Physical: prefix + logical,
			Columns:  cols,
		})
	}
	return d
}

// For returns the descriptor of a variant. It panics on an unknown variant.
func For(v Variant) Descriptor {
	d, ok := descriptors[v]
	if !ok {
		panic("schema: unknown variant " + v.String())
	}
	return d
}
