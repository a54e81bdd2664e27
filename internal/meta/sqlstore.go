package meta

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLStore implements Store over a database/sql handle. The dialect
// backends supply the driver and placeholder style; everything else is
// shared.
type SQLStore struct {
	db *sql.DB
	ph Placeholder
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, ph Placeholder) *SQLStore {
	return &SQLStore{db: db, ph: ph}
}

// DB returns the underlying database handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) First(ctx context.Context, table string, where []Cond) (Row, error) {
	rows, err := s.Page(ctx, table, where, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *SQLStore) Page(ctx context.Context, table string, where []Cond, page, size int) ([]Row, error) {
	query, args, err := BuildSelect(table, where, page, size, s.ph)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	out := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLStore) Insert(ctx context.Context, table string, data Row) error {
	query, args, err := BuildInsert(table, data, s.ph)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, table string, data Row, where []Cond) (int64, error) {
	query, args, err := BuildUpdate(table, data, where, s.ph)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (s *SQLStore) Delete(ctx context.Context, table string, where []Cond) (int64, error) {
	query, args, err := BuildDelete(table, where, s.ph)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// Batch runs the operations inside one transaction, rolling back on the
// first failure.
func (s *SQLStore) Batch(ctx context.Context, ops []BatchOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	for i, op := range ops {
		var query string
		var args []any
		switch op.Kind {
		case "insert":
			query, args, err = BuildInsert(op.Table, op.Data, s.ph)
		case "update":
			query, args, err = BuildUpdate(op.Table, op.Data, op.Where, s.ph)
		case "delete":
			query, args, err = BuildDelete(op.Table, op.Where, s.ph)
		default:
			err = fmt.Errorf("%w: batch op kind %q", ErrBadClause, op.Kind)
		}
		if err == nil {
			_, err = tx.ExecContext(ctx, query, args...)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("batch op %d (%s %s): %w", i, op.Kind, op.Table, err)
		}
	}
	return tx.Commit()
}

// normalize maps driver-specific scan results to the portable Row types:
// []byte column data becomes string.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
