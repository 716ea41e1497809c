package persistence

import (
	"maps"
	"reflect"
	"slices"
	"time"
)

// State is the lifecycle state of a record relative to a session.
type State int

const (
	// StateNew is a client-constructed record with no identity.
	StateNew State = iota
	// StateManaged is a record tracked by a session and bound to a storage row.
	StateManaged
	// StateRemoved is a tracked record flagged for deletion at the next commit.
	StateRemoved
	// StateDetached is a record no longer tracked by any session.
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateManaged:
		return "managed"
	case StateRemoved:
		return "removed"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Model carries the storage-owned fields of a record. Embed it in entity
// structs; only sessions assign its fields.
type Model struct {
	createdAt time.Time
	updatedAt *time.Time
	id        int64
	state     State
}

// ID returns the storage-generated identifier, 0 for new records.
func (m *Model) ID() int64 { return m.id }

// CreatedAt returns the time the row was first stored.
func (m *Model) CreatedAt() time.Time { return m.createdAt }

// UpdatedAt returns the time of the last committed modification, nil if never updated.
func (m *Model) UpdatedAt() *time.Time {
	if m.updatedAt == nil {
		return nil
	}
	t := *m.updatedAt
	return &t
}

// State returns the lifecycle state.
func (m *Model) State() State { return m.state }

// SetID always fails: identifiers are generated by storage and immutable.
func (m *Model) SetID(id int64) error {
	if m.id != 0 {
		return IllegalState("set id", "id is immutable once assigned")
	}
	return IllegalState("set id", "id is generated by storage")
}

func (m *Model) model() *Model { return m }

// Entity is a record type a session can manage. Implementations embed Model.
type Entity interface {
	// TableName returns the storage table.
	TableName() string
	// Columns returns the persisted attributes, excluding id and timestamps.
	Columns() Columns
	// LoadColumns populates attributes from a stored row.
	LoadColumns(cols Columns) error
	// Validate checks required attributes.
	Validate() error

	model() *Model
}

// Columns maps column names to values.
type Columns map[string]any

// Clone returns a shallow copy.
func (c Columns) Clone() Columns {
	if c == nil {
		return Columns{}
	}
	return maps.Clone(c)
}

// Names returns the column names in sorted order.
func (c Columns) Names() []string {
	return slices.Sorted(maps.Keys(c))
}

// Diff returns the columns of current whose values differ from c.
func (c Columns) Diff(current Columns) Columns {
	changed := Columns{}
	for name, v := range current {
		old, ok := c[name]
		if !ok || !reflect.DeepEqual(old, v) {
			changed[name] = v
		}
	}
	return changed
}

// Text returns the named column as a string.
func (c Columns) Text(name string) (string, bool) {
	switch v := c[name].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// Int64 returns the named column as an int64, converting driver integer types.
func (c Columns) Int64(name string) (int64, bool) {
	switch v := c[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Row is a stored row as returned by a backend.
type Row struct {
	CreatedAt time.Time
	UpdatedAt *time.Time
	Columns   Columns
	ID        int64
}
