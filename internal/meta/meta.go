// Package meta defines the uniform metadata store interface over a SQL
// table and the parameterized clause builder shared by its backends.
package meta

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Row is one table row keyed by column name.
type Row = map[string]any

// Cond is one WHERE-clause condition. Conditions combine with AND only.
// For the IN operator, Value must be a []any and expands to one bound
// placeholder per element.
type Cond struct {
	Key   string
	Op    string
	Value any
}

// BatchOp is one operation inside a Batch call.
type BatchOp struct {
	Kind  string // "insert", "update" or "delete"
	Table string
	Data  Row    // insert/update
	Where []Cond // update/delete
}

// Store is the uniform interface over the SQL metadata tables. Both
// implementations (postgres, sqlite) satisfy the same contract.
type Store interface {
	// First returns the first row matching where, or nil when absent.
	// Absence is a result, not an error.
	First(ctx context.Context, table string, where []Cond) (Row, error)

	// Page returns a page of matching rows. page and size of -1 mean
	// unbounded; pages are numbered from 1.
	Page(ctx context.Context, table string, where []Cond, page, size int) ([]Row, error)

	// Insert adds one row.
	Insert(ctx context.Context, table string, data Row) error

	// Update modifies matching rows and returns the affected count.
	Update(ctx context.Context, table string, data Row, where []Cond) (int64, error)

	// Delete removes matching rows and returns the affected count.
	Delete(ctx context.Context, table string, where []Cond) (int64, error)

	// Batch executes heterogeneous operations inside one transaction.
	Batch(ctx context.Context, ops []BatchOp) error

	Close() error
}

// ErrBadClause reports an invalid identifier or operator in a query
// being built. Values never cause it; they are always bound.
var ErrBadClause = errors.New("meta: invalid clause")

var (
	identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

	allowedOps = map[string]bool{
		"=": true, "!=": true, ">": true, ">=": true,
		"<": true, "<=": true, "LIKE": true, "IN": true,
	}
)

// Placeholder renders the n-th bound parameter (1-based) for a dialect:
// "$1" for postgres, "?" for sqlite.
type Placeholder func(n int) string

func checkIdent(name string) error {
	if !identRegex.MatchString(name) {
		return fmt.Errorf("%w: identifier %q", ErrBadClause, name)
	}
	return nil
}

// BuildWhere renders an AND-only conjunction with bound parameters,
// numbering placeholders from next. It returns the clause without the
// leading "WHERE" keyword, the argument list, and the next placeholder
// index.
func BuildWhere(where []Cond, ph Placeholder, next int) (string, []any, int, error) {
	if len(where) == 0 {
		return "", nil, next, nil
	}

	parts := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	for _, c := range where {
		if err := checkIdent(c.Key); err != nil {
			return "", nil, next, err
		}
		op := strings.ToUpper(c.Op)
		if !allowedOps[op] {
			return "", nil, next, fmt.Errorf("%w: operator %q", ErrBadClause, c.Op)
		}

		if op == "IN" {
			values, ok := c.Value.([]any)
			if !ok || len(values) == 0 {
				return "", nil, next, fmt.Errorf("%w: IN requires a non-empty []any", ErrBadClause)
			}
			marks := make([]string, 0, len(values))
			for _, v := range values {
				marks = append(marks, ph(next))
				args = append(args, v)
				next++
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.Key, strings.Join(marks, ", ")))
			continue
		}

		parts = append(parts, fmt.Sprintf("%s %s %s", c.Key, op, ph(next)))
		args = append(args, c.Value)
		next++
	}
	return strings.Join(parts, " AND "), args, next, nil
}

// BuildSelect renders a SELECT * with optional paging. Columns come back
// in whatever order the driver reports; callers address them by name.
func BuildSelect(table string, where []Cond, page, size int, ph Placeholder) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	clause, args, _, err := BuildWhere(where, ph, 1)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(table)
	if clause != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(clause)
	}
	if page > 0 && size > 0 {
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", size, (page-1)*size)
	}
	return sb.String(), args, nil
}

// BuildInsert renders an INSERT with sorted column order so the SQL text
// is deterministic for identical data shapes.
func BuildInsert(table string, data Row, ph Placeholder) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: insert with no columns", ErrBadClause)
	}

	cols := make([]string, 0, len(data))
	for col := range data {
		if err := checkIdent(col); err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	marks := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		marks = append(marks, ph(i+1))
		args = append(args, data[col])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	return sql, args, nil
}

// BuildUpdate renders an UPDATE with sorted SET columns followed by the
// WHERE conjunction.
func BuildUpdate(table string, data Row, where []Cond, ph Placeholder) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: update with no columns", ErrBadClause)
	}

	cols := make([]string, 0, len(data))
	for col := range data {
		if err := checkIdent(col); err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	next := 1
	for _, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = %s", col, ph(next)))
		args = append(args, data[col])
		next++
	}

	clause, whereArgs, _, err := BuildWhere(where, ph, next)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if clause != "" {
		sql += " WHERE " + clause
	}
	return sql, append(args, whereArgs...), nil
}

// BuildDelete renders a DELETE with the WHERE conjunction.
func BuildDelete(table string, where []Cond, ph Placeholder) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	clause, args, _, err := BuildWhere(where, ph, 1)
	if err != nil {
		return "", nil, err
	}
	sql := "DELETE FROM " + table
	if clause != "" {
		sql += " WHERE " + clause
	}
	return sql, args, nil
}
