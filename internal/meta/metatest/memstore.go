// Package metatest provides an in-memory meta.Store for tests, so the
// packages above the store can be exercised without a database.
package metatest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/clipstash/clipstash/internal/meta"
)

// MemStore holds rows per table, guarded by a mutex. FailDelete makes
// Delete fail for any where-clause matching that word, for exercising
// partial-failure paths.
type MemStore struct {
	mu         sync.Mutex
	tables     map[string][]meta.Row
	FailDelete map[string]bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		tables:     make(map[string][]meta.Row),
		FailDelete: make(map[string]bool),
	}
}

func condMatch(row meta.Row, where []meta.Cond) bool {
	for _, c := range where {
		v := row[c.Key]
		switch strings.ToUpper(c.Op) {
		case "=":
			if v != c.Value {
				return false
			}
		case "!=":
			if v == c.Value {
				return false
			}
		case ">":
			if toI64(v) <= toI64(c.Value) {
				return false
			}
		case ">=":
			if toI64(v) < toI64(c.Value) {
				return false
			}
		case "<":
			if toI64(v) >= toI64(c.Value) {
				return false
			}
		case "<=":
			if toI64(v) > toI64(c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func toI64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	default:
		return 0
	}
}

func (m *MemStore) First(ctx context.Context, table string, where []meta.Cond) (meta.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.tables[table] {
		if condMatch(row, where) {
			return row, nil
		}
	}
	return nil, nil
}

func (m *MemStore) Page(ctx context.Context, table string, where []meta.Cond, page, size int) ([]meta.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []meta.Row
	for _, row := range m.tables[table] {
		if condMatch(row, where) {
			out = append(out, row)
		}
	}
	if page > 0 && size > 0 {
		start := (page - 1) * size
		if start >= len(out) {
			return nil, nil
		}
		end := start + size
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (m *MemStore) Insert(ctx context.Context, table string, data meta.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := meta.Row{}
	for k, v := range data {
		copied[k] = v
	}
	m.tables[table] = append(m.tables[table], copied)
	return nil
}

func (m *MemStore) Update(ctx context.Context, table string, data meta.Row, where []meta.Cond) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.tables[table] {
		if condMatch(row, where) {
			for k, v := range data {
				row[k] = v
			}
			n++
		}
	}
	return n, nil
}

func (m *MemStore) Delete(ctx context.Context, table string, where []meta.Cond) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range where {
		if c.Key == "word" {
			if word, _ := c.Value.(string); m.FailDelete[word] {
				return 0, errors.New("delete refused")
			}
		}
	}
	var kept []meta.Row
	var n int64
	for _, row := range m.tables[table] {
		if condMatch(row, where) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	m.tables[table] = kept
	return n, nil
}

func (m *MemStore) Batch(ctx context.Context, ops []meta.BatchOp) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case "insert":
			err = m.Insert(ctx, op.Table, op.Data)
		case "update":
			_, err = m.Update(ctx, op.Table, op.Data, op.Where)
		case "delete":
			_, err = m.Delete(ctx, op.Table, op.Where)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) Close() error { return nil }

var _ meta.Store = (*MemStore)(nil)
