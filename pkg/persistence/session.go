package persistence

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

type identityKey struct {
	table string
	id    int64
}

func keyOf(e Entity) identityKey {
	return identityKey{table: e.TableName(), id: e.model().id}
}

// managedEntry is the identity map slot of a tracked record.
type managedEntry struct {
	entity   Entity
	snapshot Columns
	removed  bool
}

// Session tracks records between a client and storage. It holds an
// identity map (one instance per table and id), the snapshots used for
// dirty checking and at most one open transaction.
//
// A Session is not safe for concurrent use.
type Session struct {
	backend   Backend
	tx        Tx
	metrics   *instruments
	managed   map[identityKey]*managedEntry
	queued    map[Entity]bool
	logger    zerolog.Logger
	id        string
	listeners []listenerEntry
	inserts   []Entity
	closed    bool
}

// ID returns the session identifier used in logs and events.
func (s *Session) ID() string { return s.id }

// InTransaction reports whether a transaction is open.
func (s *Session) InTransaction() bool { return s.tx != nil }

// Contains reports whether e is tracked by this session and not flagged for removal.
func (s *Session) Contains(e Entity) bool {
	entry, ok := s.managed[keyOf(e)]
	return ok && entry.entity == e && !entry.removed
}

// Begin opens a transaction.
func (s *Session) Begin(ctx context.Context) error {
	const op = "begin"
	if s.closed {
		return IllegalState(op, "session is closed")
	}
	if s.tx != nil {
		return IllegalState(op, "transaction already active")
	}

	tx, err := s.backend.Begin(ctx)
	if err != nil {
		return withOp(op, err)
	}
	s.tx = tx
	s.logger.Debug().Msg("Transaction started")
	return nil
}

// Insert queues a new record for insertion at commit. The record must have
// no identity and pass validation.
func (s *Session) Insert(ctx context.Context, e Entity) error {
	const op = "insert"
	if err := s.requireTx(op); err != nil {
		return err
	}

	m := e.model()
	switch {
	case m.state == StateDetached:
		return IllegalState(op, "record is detached")
	case m.state != StateNew || m.id != 0:
		return IllegalState(op, "record is already persistent")
	case s.queued[e]:
		return IllegalState(op, "record is already scheduled for insert")
	}

	if err := validate(e); err != nil {
		return withOp(op, err)
	}
	if err := s.fire(ctx, Event{Kind: BeforeInsert, Entity: e, Table: e.TableName()}); err != nil {
		return withOp(op, err)
	}

	s.inserts = append(s.inserts, e)
	s.queued[e] = true
	return nil
}

// Remove flags a tracked record for deletion at commit.
func (s *Session) Remove(ctx context.Context, e Entity) error {
	const op = "remove"
	if err := s.requireTx(op); err != nil {
		return err
	}

	m := e.model()
	switch m.state {
	case StateNew:
		return IllegalState(op, "record is new")
	case StateRemoved:
		return IllegalState(op, "record is already removed")
	case StateDetached:
		return IllegalState(op, "record is detached")
	}

	entry, ok := s.managed[keyOf(e)]
	if !ok || entry.entity != e {
		return IllegalState(op, "record is not managed by this session")
	}

	if err := s.fire(ctx, Event{Kind: BeforeRemove, Entity: e, Table: e.TableName(), ID: m.id}); err != nil {
		return withOp(op, err)
	}

	entry.removed = true
	m.state = StateRemoved
	return nil
}

// Find returns the record of type T stored under id, or nil when no such
// row exists. A record already tracked by the session is returned as is;
// otherwise the row is loaded and tracked.
func Find[T any, P interface {
	*T
	Entity
}](ctx context.Context, s *Session, id int64) (P, error) {
	found, err := s.find(ctx, P(new(T)), id)
	if err != nil || found == nil {
		return nil, err
	}

	got, ok := found.(P)
	if !ok {
		return nil, IllegalState("find", fmt.Sprintf("record %d of table %s is tracked as %T", id, found.TableName(), found))
	}
	return got, nil
}

func (s *Session) find(ctx context.Context, fresh Entity, id int64) (Entity, error) {
	const op = "find"
	if s.closed {
		return nil, IllegalState(op, "session is closed")
	}
	if id <= 0 {
		return nil, nil
	}

	table := fresh.TableName()
	key := identityKey{table: table, id: id}
	if entry, ok := s.managed[key]; ok {
		if entry.removed {
			return nil, nil
		}
		return entry.entity, nil
	}

	row, err := s.selectRow(ctx, table, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, withOp(op, err)
	}

	if err := fresh.LoadColumns(row.Columns); err != nil {
		return nil, withOp(op, err)
	}
	m := fresh.model()
	m.id = row.ID
	m.createdAt = row.CreatedAt
	m.updatedAt = copyTime(row.UpdatedAt)
	m.state = StateManaged

	s.managed[key] = &managedEntry{entity: fresh, snapshot: fresh.Columns().Clone()}
	if err := s.fire(ctx, Event{Kind: Loaded, Entity: fresh, Table: table, ID: id}); err != nil {
		delete(s.managed, key)
		m.state = StateDetached
		return nil, withOp(op, err)
	}
	return fresh, nil
}

// selectRow reads through the open transaction, or through a short-lived
// one released before returning.
func (s *Session) selectRow(ctx context.Context, table string, id int64) (*Row, error) {
	if s.tx != nil {
		return s.tx.Select(ctx, table, id)
	}

	tx, err := s.backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	return tx.Select(ctx, table, id)
}

// Commit flushes queued inserts, dirty records and queued deletions, then
// commits the storage transaction. On failure nothing is applied, every
// record keeps the state it had before the call and the queued work is
// retained for a later transaction. A listener panic is handled the same
// way before it propagates.
func (s *Session) Commit(ctx context.Context) error {
	const op = "commit"
	if err := s.requireTx(op); err != nil {
		return err
	}

	start := time.Now()
	tx := s.tx
	s.tx = nil
	undo := &undoLog{}

	defer func() {
		if p := recover(); p != nil {
			undo.restore()
			_ = tx.Rollback()
			s.metrics.transaction(ctx, "failed")
			s.metrics.commitDuration(ctx, start, "failed")
			s.logger.Error().Interface("panic", p).Msg("Commit panicked, transaction rolled back")
			panic(p)
		}
	}()

	plan, err := s.plan()
	if err == nil {
		err = s.flush(ctx, tx, plan, undo)
		if err == nil {
			err = tx.Commit()
		}
		if err != nil {
			undo.restore()
		}
	}
	if err != nil {
		_ = tx.Rollback()
		s.metrics.transaction(ctx, "failed")
		s.metrics.commitDuration(ctx, start, "failed")
		s.logger.Warn().Err(err).Msg("Commit failed, transaction rolled back")
		return withOp(op, err)
	}

	s.finish(plan)
	for _, st := range plan.issued {
		s.metrics.statement(ctx, st.op, st.table)
	}
	s.metrics.transaction(ctx, "commit")
	s.metrics.commitDuration(ctx, start, "commit")
	s.logger.Debug().
		Int("inserts", len(plan.inserts)).
		Int("updates", len(plan.updates)).
		Int("deletes", len(plan.deletes)).
		Dur("elapsed", time.Since(start)).
		Msg("Transaction committed")
	return nil
}

// Rollback discards the open transaction and the queued work. Field values
// already changed in memory are left as they are.
func (s *Session) Rollback(ctx context.Context) error {
	const op = "rollback"
	if err := s.requireTx(op); err != nil {
		return err
	}

	err := s.tx.Rollback()
	s.tx = nil
	s.discardQueued()
	s.metrics.transaction(ctx, "rollback")
	s.logger.Debug().Msg("Transaction rolled back")
	return withOp(op, err)
}

// Transaction runs fn inside a transaction, committing when fn succeeds and
// rolling back when it fails or panics.
func (s *Session) Transaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := s.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if s.tx != nil {
				_ = s.Rollback(ctx)
			}
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		if s.tx != nil {
			if rbErr := s.Rollback(ctx); rbErr != nil {
				return errors.Join(err, rbErr)
			}
		}
		return err
	}
	return s.Commit(ctx)
}

// Close rolls back an open transaction and detaches every tracked record.
// The session cannot be used afterwards.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}

	var err error
	if s.tx != nil {
		err = s.tx.Rollback()
		s.tx = nil
		s.metrics.transaction(ctx, "rollback")
	}

	for key, entry := range s.managed {
		entry.entity.model().state = StateDetached
		delete(s.managed, key)
	}
	s.inserts = nil
	clear(s.queued)
	s.closed = true

	s.logger.Debug().Msg("Session closed")
	return withOp("close", err)
}

func (s *Session) requireTx(op string) error {
	if s.closed {
		return IllegalState(op, "session is closed")
	}
	if s.tx == nil {
		return IllegalState(op, "no active transaction")
	}
	return nil
}

func (s *Session) discardQueued() {
	s.inserts = nil
	clear(s.queued)
	for _, entry := range s.managed {
		if entry.removed {
			entry.removed = false
			entry.entity.model().state = StateManaged
		}
	}
}

func (s *Session) fire(ctx context.Context, ev Event) error {
	ev.SessionID = s.id
	for _, l := range s.listeners {
		if !l.wants(ev.Kind) {
			continue
		}
		if err := l.fn(ctx, ev); err != nil {
			return fmt.Errorf("%s listener: %w", ev.Kind, err)
		}
	}
	return nil
}

// sortedEntries returns the identity map entries ordered by table and id.
func (s *Session) sortedEntries() []*managedEntry {
	entries := make([]*managedEntry, 0, len(s.managed))
	for _, entry := range s.managed {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b *managedEntry) int {
		ka, kb := keyOf(a.entity), keyOf(b.entity)
		if c := cmp.Compare(ka.table, kb.table); c != 0 {
			return c
		}
		return cmp.Compare(ka.id, kb.id)
	})
	return entries
}

func validate(e Entity) error {
	err := e.Validate()
	if err == nil || errors.Is(err, ErrValidation) {
		return err
	}
	return &Error{Kind: KindValidation, Table: e.TableName(), Err: err}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
