// Package schema declares the two physical layouts of the ledger tables.
//
// Both variants expose the same logical rows. The Synced variant adds
// replication bookkeeping columns and an outbox table that the replicator
// drains. Descriptors are static; CheckCompatible is exercised by tests.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Variant selects which physical table set backs the logical tables.
type Variant int

const (
	LocalOnly Variant = iota
	Synced
)

func (v Variant) String() string {
	switch v {
	case LocalOnly:
		return "local_only"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant is the inverse of Variant.String.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "local_only", "local", "":
		return LocalOnly, nil
	case "synced":
		return Synced, nil
	default:
		return LocalOnly, fmt.Errorf("unknown schema variant %q", s)
	}
}

// ColumnType is the storage class of a column.
type ColumnType string

const (
	Text    ColumnType = "TEXT"
	Integer ColumnType = "INTEGER"
	Real    ColumnType = "REAL"
)

// Column describes one physical column.
type Column struct {
	Name       string
	Type       ColumnType
	NotNull    bool
	PrimaryKey bool
	Default    string // SQL literal, empty for none

	// Bookkeeping columns belong to the replication layer and are never
	// copied between variants.
	Bookkeeping bool
}

// Table maps a logical table to its physical name and columns.
type Table struct {
	Logical  string
	Physical string
	Columns  []Column
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// DataColumns returns the non-bookkeeping column names in declaration order.
func (t Table) DataColumns() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Bookkeeping {
			names = append(names, c.Name)
		}
	}
	return names
}

// Descriptor is a complete physical schema for one variant.
type Descriptor struct {
	Variant Variant
	Tables  []Table // dependency order, parents first

	// Outbox is the table holding pending uploads, empty when the variant is
	// not replicated.
	Outbox string
}

// Table returns the table for a logical name.
func (d Descriptor) Table(logical string) (Table, bool) {
	for _, t := range d.Tables {
		if t.Logical == logical {
			return t, true
		}
	}
	return Table{}, false
}

// MustTable is Table for logical names known at compile time.
func (d Descriptor) MustTable(logical string) Table {
	t, ok := d.Table(logical)
	if !ok {
		panic(fmt.Sprintf("schema: %s has no table %q", d.Variant, logical))
	}
	return t
}

// Physical returns the physical name of a logical table.
func (d Descriptor) Physical(logical string) string {
	return d.MustTable(logical).Physical
}

// Replicated reports whether an outbox is attached to this variant.
func (d Descriptor) Replicated() bool {
	return d.Outbox != ""
}

// ErrSchemaMismatch is returned when two descriptors disagree about a
// shared column.
var ErrSchemaMismatch = errors.New("schema variants are not compatible")

// CheckCompatible verifies that every logical table exists in both
// descriptors and that their data columns match by name and type.
func CheckCompatible(a, b Descriptor) error {
	var problems []string

	if len(a.Tables) != len(b.Tables) {
		problems = append(problems, fmt.Sprintf("table count %d != %d", len(a.Tables), len(b.Tables)))
	}
	for _, ta := range a.Tables {
		tb, ok := b.Table(ta.Logical)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s missing in %s", ta.Logical, b.Variant))
			continue
		}
		problems = append(problems, diffColumns(ta, tb)...)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(problems, "; "))
	}
	return nil
}

func diffColumns(a, b Table) []string {
	var problems []string
	for _, ca := range a.Columns {
		if ca.Bookkeeping {
			continue
		}
		cb, ok := b.Column(ca.Name)
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s.%s missing in %s", a.Logical, ca.Name, b.Physical))
		case cb.Bookkeeping:
			problems = append(problems, fmt.Sprintf("%s.%s is bookkeeping in %s", a.Logical, ca.Name, b.Physical))
		case ca.Type != cb.Type:
			problems = append(problems, fmt.Sprintf("%s.%s type %s != %s", a.Logical, ca.Name, ca.Type, cb.Type))
		}
	}
	for _, cb := range b.Columns {
		if cb.Bookkeeping {
			continue
		}
		if _, ok := a.Column(cb.Name); !ok {
			problems = append(problems, fmt.Sprintf("%s.%s missing in %s", b.Logical, cb.Name, a.Physical))
		}
	}
	return problems
}

// SharedColumns returns the data columns present in both tables, in the
// order they are declared in src.
func SharedColumns(src, dst Table) []string {
	var cols []string
	for _, c := range src.Columns {
		if c.Bookkeeping {
			continue
		}
		if dc, ok := dst.Column(c.Name); ok && !dc.Bookkeeping {
			cols = append(cols, c.Name)
		}
	}
	return cols
}
