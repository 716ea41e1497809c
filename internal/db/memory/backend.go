// Package memory provides an in-memory transactional backend.
//
// Each transaction records its inserts, column patches and deletions in an
// overlay. Reads inside the transaction see the overlay on top of committed
// state. Commit checks that every updated or deleted row still exists and
// then applies the overlay atomically; concurrent updates of the same row
// are resolved last-write-wins per column.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

// Op names a backend operation for fault injection.
type Op string

// Operations that can be made to fail with FailNext.
const (
	OpBegin  Op = "begin"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpSelect Op = "select"
	OpCommit Op = "commit"
)

// Table declares a table and its NOT NULL columns.
type Table struct {
	Name    string
	NotNull []string
}

// Stats counts statements executed by committed transactions.
type Stats struct {
	Inserts int
	Updates int
	Deletes int
	Commits int
}

// Backend is an in-memory persistence.Backend.
type Backend struct {
	now    func() time.Time
	tables map[string]*table
	faults map[Op]error
	stats  Stats
	mu     sync.Mutex
	closed bool
}

type table struct {
	rows    map[int64]*persistence.Row
	notNull []string
	seq     int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithTable declares a table.
func WithTable(t Table) Option {
	return func(b *Backend) {
		b.tables[t.Name] = &table{rows: make(map[int64]*persistence.Row), notNull: t.NotNull}
	}
}

// WithClock sets the time source used for created_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		now:    time.Now,
		tables: make(map[string]*table),
		faults: make(map[Op]error),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FailNext makes the next call of op fail with err.
func (b *Backend) FailNext(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[op] = err
}

// Stats returns statement counters of committed transactions.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Len returns the number of committed rows in name.
func (b *Backend) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[name]
	if !ok {
		return 0
	}
	return len(t.rows)
}

// Begin implements persistence.Backend.
func (b *Backend) Begin(_ context.Context) (persistence.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, persistence.ConnectionFailure(fmt.Errorf("backend is closed"))
	}
	if err := b.takeFault(OpBegin); err != nil {
		return nil, err
	}
	return &tx{b: b, changes: make(map[key]*change)}, nil
}

// Close implements persistence.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// takeFault must be called with mu held.
func (b *Backend) takeFault(op Op) error {
	err, ok := b.faults[op]
	if !ok {
		return nil
	}
	delete(b.faults, op)
	return err
}

func (b *Backend) table(name string) (*table, error) {
	t, ok := b.tables[name]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

func (t *table) checkNotNull(name string, cols persistence.Columns, insert bool) error {
	for _, col := range t.notNull {
		v, ok := cols[col]
		if !ok && !insert {
			continue
		}
		if v == nil {
			return persistence.ConstraintViolation(name, fmt.Errorf("NOT NULL constraint failed: %s.%s", name, col))
		}
	}
	return nil
}

func cloneRow(r *persistence.Row) *persistence.Row {
	c := *r
	c.Columns = maps.Clone(r.Columns)
	if r.UpdatedAt != nil {
		u := *r.UpdatedAt
		c.UpdatedAt = &u
	}
	return &c
}
