package persistence

import (
	"context"

	"github.com/rs/zerolog"
)

// EventKind identifies a lifecycle transition.
type EventKind int

const (
	// Loaded fires after a row is read into a newly tracked record.
	Loaded EventKind = iota
	// BeforeInsert fires when a new record is queued for insert.
	BeforeInsert
	// AfterInsert fires after the insert statement ran during commit.
	AfterInsert
	// BeforeUpdate fires for a dirty record before its update statement.
	BeforeUpdate
	// AfterUpdate fires after the update statement ran during commit.
	AfterUpdate
	// BeforeRemove fires when a tracked record is flagged for deletion.
	BeforeRemove
	// AfterRemove fires after the delete statement ran during commit.
	AfterRemove
)

var eventNames = [...]string{
	Loaded:       "loaded",
	BeforeInsert: "before_insert",
	AfterInsert:  "after_insert",
	BeforeUpdate: "before_update",
	AfterUpdate:  "after_update",
	BeforeRemove: "before_remove",
	AfterRemove:  "after_remove",
}

func (k EventKind) String() string {
	if int(k) < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event describes one lifecycle transition.
type Event struct {
	Entity    Entity
	Changed   Columns // set for BeforeUpdate and AfterUpdate
	SessionID string
	Table     string
	ID        int64
	Kind      EventKind
}

// Listener observes lifecycle transitions. Listeners run synchronously; a
// returned error aborts the operation that raised the event.
type Listener func(ctx context.Context, ev Event) error

type listenerEntry struct {
	fn    Listener
	kinds map[EventKind]bool // nil means every kind
}

func (l listenerEntry) wants(kind EventKind) bool {
	return l.kinds == nil || l.kinds[kind]
}

func newListenerEntry(fn Listener, kinds []EventKind) listenerEntry {
	entry := listenerEntry{fn: fn}
	if len(kinds) > 0 {
		entry.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			entry.kinds[k] = true
		}
	}
	return entry
}

// LogListener returns a listener that logs every transition at trace level.
func LogListener(logger zerolog.Logger) Listener {
	return func(_ context.Context, ev Event) error {
		logger.Trace().
			Str("event", ev.Kind.String()).
			Str("session", ev.SessionID).
			Str("table", ev.Table).
			Int64("id", ev.ID).
			Strs("changed", ev.Changed.Names()).
			Msg("Lifecycle event")
		return nil
	}
}
