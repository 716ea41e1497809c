package memory

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

type key struct {
	table string
	id    int64
}

// change is the overlay entry of one row.
type change struct {
	inserted *persistence.Row
	patch    persistence.Columns
	updated  *persistence.Row // committed row with patch applied, for reads
	deleted  bool
}

type tx struct {
	b       *Backend
	changes map[key]*change
	order   []key
	done    bool
	stats   Stats
}

func (t *tx) entry(k key) *change {
	c, ok := t.changes[k]
	if !ok {
		c = &change{}
		t.changes[k] = c
		t.order = append(t.order, k)
	}
	return c
}

// view returns the row as seen by this transaction, nil when absent.
// Must be called with b.mu held.
func (t *tx) view(k key) (*persistence.Row, error) {
	tbl, err := t.b.table(k.table)
	if err != nil {
		return nil, err
	}
	if c, ok := t.changes[k]; ok {
		switch {
		case c.deleted:
			return nil, nil
		case c.inserted != nil:
			return c.inserted, nil
		case c.patch != nil:
			base, ok := tbl.rows[k.id]
			if !ok {
				return nil, nil
			}
			r := cloneRow(base)
			maps.Copy(r.Columns, c.patch)
			r.UpdatedAt = c.updated.UpdatedAt
			return r, nil
		}
	}
	r, ok := tbl.rows[k.id]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (t *tx) check(op Op) error {
	if t.done {
		return persistence.IllegalState(string(op), "transaction is finished")
	}
	if t.b.closed {
		return persistence.ConnectionFailure(fmt.Errorf("backend is closed"))
	}
	return t.b.takeFault(op)
}

func (t *tx) Insert(_ context.Context, table string, cols persistence.Columns) (int64, time.Time, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()

	if err := t.check(OpInsert); err != nil {
		return 0, time.Time{}, err
	}
	tbl, err := t.b.table(table)
	if err != nil {
		return 0, time.Time{}, err
	}
	if err := tbl.checkNotNull(table, cols, true); err != nil {
		return 0, time.Time{}, err
	}

	// Identifiers come from a sequence and are not given back on rollback.
	tbl.seq++
	id := tbl.seq
	now := t.b.now()

	t.entry(key{table, id}).inserted = &persistence.Row{
		ID:        id,
		CreatedAt: now,
		Columns:   maps.Clone(cols),
	}
	t.stats.Inserts++
	return id, now, nil
}

func (t *tx) Update(_ context.Context, table string, id int64, changed persistence.Columns) (time.Time, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()

	if err := t.check(OpUpdate); err != nil {
		return time.Time{}, err
	}
	k := key{table, id}
	current, err := t.view(k)
	if err != nil {
		return time.Time{}, err
	}
	if current == nil {
		return time.Time{}, persistence.NotFound(table, id)
	}
	tbl, _ := t.b.table(table)
	if err := tbl.checkNotNull(table, changed, false); err != nil {
		return time.Time{}, err
	}

	now := t.b.now()
	if now.Before(current.CreatedAt) {
		now = current.CreatedAt
	}

	c := t.entry(k)
	if c.inserted != nil {
		maps.Copy(c.inserted.Columns, changed)
		c.inserted.UpdatedAt = &now
	} else {
		if c.patch == nil {
			c.patch = persistence.Columns{}
		}
		maps.Copy(c.patch, changed)
		c.updated = &persistence.Row{UpdatedAt: &now}
	}
	t.stats.Updates++
	return now, nil
}

func (t *tx) Delete(_ context.Context, table string, id int64) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()

	if err := t.check(OpDelete); err != nil {
		return err
	}
	k := key{table, id}
	current, err := t.view(k)
	if err != nil {
		return err
	}
	if current == nil {
		return persistence.NotFound(table, id)
	}

	c := t.entry(k)
	c.deleted = true
	c.patch = nil
	t.stats.Deletes++
	return nil
}

func (t *tx) Select(_ context.Context, table string, id int64) (*persistence.Row, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()

	if err := t.check(OpSelect); err != nil {
		return nil, err
	}
	r, err := t.view(key{table, id})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, persistence.NotFound(table, id)
	}
	return cloneRow(r), nil
}

func (t *tx) Commit() error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()

	err := t.check(OpCommit)
	t.done = true
	if err != nil {
		return err
	}

	// Validate everything before touching committed state.
	for _, k := range t.order {
		c := t.changes[k]
		if c.inserted != nil {
			continue
		}
		tbl, err := t.b.table(k.table)
		if err != nil {
			return err
		}
		if _, ok := tbl.rows[k.id]; !ok {
			return persistence.NotFound(k.table, k.id)
		}
	}

	for _, k := range t.order {
		c := t.changes[k]
		tbl := t.b.tables[k.table]
		switch {
		case c.deleted:
			delete(tbl.rows, k.id)
		case c.inserted != nil:
			tbl.rows[k.id] = cloneRow(c.inserted)
		case c.patch != nil:
			r := cloneRow(tbl.rows[k.id])
			maps.Copy(r.Columns, c.patch)
			r.UpdatedAt = c.updated.UpdatedAt
			tbl.rows[k.id] = r
		}
	}

	t.b.stats.Inserts += t.stats.Inserts
	t.b.stats.Updates += t.stats.Updates
	t.b.stats.Deletes += t.stats.Deletes
	t.b.stats.Commits++
	return nil
}

func (t *tx) Rollback() error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	t.done = true
	t.changes = nil
	t.order = nil
	return nil
}
