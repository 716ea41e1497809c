package persistence

import (
	"context"
)

type pendingUpdate struct {
	entry   *managedEntry
	changed Columns
}

// flushPlan is the work computed at commit time: queued inserts, records
// whose columns differ from their snapshot, and records flagged for removal.
type flushPlan struct {
	inserts []Entity
	updates []pendingUpdate
	deletes []*managedEntry
	issued  []issuedStatement // recorded in metrics once the commit succeeds
}

type issuedStatement struct {
	op    string
	table string
}

func (s *Session) plan() (*flushPlan, error) {
	p := &flushPlan{inserts: append([]Entity(nil), s.inserts...)}

	for _, e := range p.inserts {
		if err := validate(e); err != nil {
			return nil, err
		}
	}

	for _, entry := range s.sortedEntries() {
		if entry.removed {
			p.deletes = append(p.deletes, entry)
			continue
		}
		changed := entry.snapshot.Diff(entry.entity.Columns())
		if len(changed) == 0 {
			continue
		}
		if err := validate(entry.entity); err != nil {
			return nil, err
		}
		p.updates = append(p.updates, pendingUpdate{entry: entry, changed: changed})
	}
	return p, nil
}

// flush issues the planned statements in order: inserts, updates, deletes.
// Model changes are recorded in undo so a failure can restore them.
func (s *Session) flush(ctx context.Context, tx Tx, p *flushPlan, undo *undoLog) error {
	for _, e := range p.inserts {
		table := e.TableName()
		id, createdAt, err := tx.Insert(ctx, table, e.Columns())
		if err != nil {
			return err
		}
		p.issued = append(p.issued, issuedStatement{op: "insert", table: table})

		m := e.model()
		undo.record(m)
		m.id = id
		m.createdAt = createdAt
		m.updatedAt = nil
		s.logger.Trace().Str("table", table).Int64("id", id).Msg("Inserted row")

		if err := s.fire(ctx, Event{Kind: AfterInsert, Entity: e, Table: table, ID: id}); err != nil {
			return err
		}
	}

	for _, u := range p.updates {
		e := u.entry.entity
		m := e.model()
		table := e.TableName()

		if err := s.fire(ctx, Event{Kind: BeforeUpdate, Entity: e, Table: table, ID: m.id, Changed: u.changed}); err != nil {
			return err
		}
		// Listeners may have touched the record.
		changed := u.entry.snapshot.Diff(e.Columns())
		if len(changed) == 0 {
			continue
		}

		updatedAt, err := tx.Update(ctx, table, m.id, changed)
		if err != nil {
			return err
		}
		p.issued = append(p.issued, issuedStatement{op: "update", table: table})

		undo.record(m)
		m.updatedAt = &updatedAt
		s.logger.Trace().Str("table", table).Int64("id", m.id).Strs("columns", changed.Names()).Msg("Updated row")

		if err := s.fire(ctx, Event{Kind: AfterUpdate, Entity: e, Table: table, ID: m.id, Changed: changed}); err != nil {
			return err
		}
	}

	for _, entry := range p.deletes {
		e := entry.entity
		m := e.model()
		table := e.TableName()

		if err := tx.Delete(ctx, table, m.id); err != nil {
			return err
		}
		p.issued = append(p.issued, issuedStatement{op: "delete", table: table})
		s.logger.Trace().Str("table", table).Int64("id", m.id).Msg("Deleted row")

		if err := s.fire(ctx, Event{Kind: AfterRemove, Entity: e, Table: table, ID: m.id}); err != nil {
			return err
		}
	}
	return nil
}

// finish applies a committed plan to the session: inserted records become
// managed, removed records are detached and every snapshot is refreshed.
func (s *Session) finish(p *flushPlan) {
	for _, e := range p.inserts {
		e.model().state = StateManaged
		s.managed[keyOf(e)] = &managedEntry{entity: e}
	}
	for _, entry := range p.deletes {
		delete(s.managed, keyOf(entry.entity))
		entry.entity.model().state = StateDetached
	}

	s.inserts = nil
	clear(s.queued)

	for _, entry := range s.managed {
		entry.snapshot = entry.entity.Columns().Clone()
	}
}

// undoLog restores model fields assigned during a failed flush.
type undoLog struct {
	saved []savedModel
}

type savedModel struct {
	m    *Model
	prev Model
}

func (u *undoLog) record(m *Model) {
	u.saved = append(u.saved, savedModel{m: m, prev: *m})
}

func (u *undoLog) restore() {
	for i := len(u.saved) - 1; i >= 0; i-- {
		*u.saved[i].m = u.saved[i].prev
	}
}
