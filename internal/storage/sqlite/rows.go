package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mmynk/pocketledger/internal/storage"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// executor implements storage.Tx on top of a *sql.DB or *sql.Tx.
type executor struct {
	q queryer
}

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

// whereClause renders filters in a stable column order.
func whereClause(where storage.Eq) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	cols := make([]string, 0, len(where))
	for c := range where {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if err := checkIdent(cols...); err != nil {
		return "", nil, err
	}

	parts := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		if where[c] == nil {
			parts[i] = c + " IS NULL"
			continue
		}
		parts[i] = c + " = ?"
		args = append(args, where[c])
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// Select returns matching rows. Without an explicit order rows come back
// by primary key so results are deterministic.
func (e executor) Select(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	if err := checkIdent(q.Table); err != nil {
		return nil, err
	}
	where, args, err := whereClause(q.Where)
	if err != nil {
		return nil, err
	}

	orderBy := q.OrderBy
	if len(orderBy) == 0 {
		orderBy = []string{"id"}
	}
	if err := checkIdent(orderBy...); err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + q.Table + where + " ORDER BY " + strings.Join(orderBy, ", ")
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", q.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", q.Table, err)
	}

	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", q.Table, err)
		}

		row := make(storage.Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", q.Table, err)
	}

	return out, nil
}

// Count returns the number of matching rows.
func (e executor) Count(ctx context.Context, table string, where storage.Eq) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	clause, args, err := whereClause(where)
	if err != nil {
		return 0, err
	}

	var n int
	if err := e.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+clause, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// Insert adds one row.
func (e executor) Insert(ctx context.Context, table string, row storage.Row) error {
	if len(row) == 0 {
		return fmt.Errorf("insert into %s: empty row", table)
	}
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if err := checkIdent(append([]string{table}, cols...)...); err != nil {
		return err
	}

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = row[c]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?%s)",
		table, strings.Join(cols, ", "), repeatPlaceholder(len(cols)-1))
	if _, err := e.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

// Update sets columns on matching rows.
func (e executor) Update(ctx context.Context, table string, set storage.Row, where storage.Eq) (int64, error) {
	if len(set) == 0 {
		return 0, nil
	}
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	if err := checkIdent(append([]string{table}, cols...)...); err != nil {
		return 0, err
	}

	assignments := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(where))
	for i, c := range cols {
		assignments[i] = c + " = ?"
		args = append(args, set[c])
	}

	clause, whereArgs, err := whereClause(where)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	res, err := e.q.ExecContext(ctx, "UPDATE "+table+" SET "+strings.Join(assignments, ", ")+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// Delete removes matching rows.
func (e executor) Delete(ctx context.Context, table string, where storage.Eq) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	clause, args, err := whereClause(where)
	if err != nil {
		return 0, err
	}

	res, err := e.q.ExecContext(ctx, "DELETE FROM "+table+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// repeatPlaceholder returns a string of ", ?" repeated n times.
// Used for building VALUES and IN clauses with multiple placeholders.
func repeatPlaceholder(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(", ?", n)
}
