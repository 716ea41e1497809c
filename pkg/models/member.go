// Package models contains the persisted record types.
package models

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

// MemberTable is the table members are stored in.
const MemberTable = "users"

// Member columns.
const (
	ColumnName = "name"
	ColumnAge  = "age"
)

// Member is a registered user. Name and age are required; id and both
// audit timestamps are assigned by storage.
type Member struct {
	persistence.Model

	name string
	age  sql.NullInt64
}

// NewMember creates a new, untracked member.
func NewMember(name string, age int) *Member {
	m := &Member{}
	m.SetName(name)
	m.SetAge(age)
	return m
}

// TableName implements persistence.Entity.
func (*Member) TableName() string { return MemberTable }

// Name returns the member name.
func (m *Member) Name() string { return m.name }

// SetName sets the member name.
func (m *Member) SetName(name string) { m.name = name }

// Age returns the member age, 0 when unset.
func (m *Member) Age() int { return int(m.age.Int64) }

// HasAge reports whether an age is set.
func (m *Member) HasAge() bool { return m.age.Valid }

// SetAge sets the member age.
func (m *Member) SetAge(age int) { m.age = sql.NullInt64{Int64: int64(age), Valid: true} }

// ClearAge unsets the member age.
func (m *Member) ClearAge() { m.age = sql.NullInt64{} }

// Validate checks that name and age are present.
func (m *Member) Validate() error {
	if strings.TrimSpace(m.name) == "" {
		return persistence.Validation(ColumnName, "must not be empty")
	}
	if !m.age.Valid {
		return persistence.Validation(ColumnAge, "must be set")
	}
	return nil
}

// Columns implements persistence.Entity.
func (m *Member) Columns() persistence.Columns {
	cols := persistence.Columns{ColumnName: m.name, ColumnAge: nil}
	if m.age.Valid {
		cols[ColumnAge] = m.age.Int64
	}
	return cols
}

// LoadColumns implements persistence.Entity.
func (m *Member) LoadColumns(cols persistence.Columns) error {
	name, ok := cols.Text(ColumnName)
	if !ok {
		return fmt.Errorf("load member: column %q has type %T", ColumnName, cols[ColumnName])
	}
	m.name = name

	if cols[ColumnAge] == nil {
		m.age = sql.NullInt64{}
		return nil
	}
	age, ok := cols.Int64(ColumnAge)
	if !ok {
		return fmt.Errorf("load member: column %q has type %T", ColumnAge, cols[ColumnAge])
	}
	m.age = sql.NullInt64{Int64: age, Valid: true}
	return nil
}

type memberJSON struct {
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at"`
	Age       *int64     `json:"age"`
	Name      string     `json:"name"`
	State     string     `json:"state"`
	ID        int64      `json:"id,omitempty"`
}

// MarshalJSON renders the member with its storage fields.
func (m *Member) MarshalJSON() ([]byte, error) {
	out := memberJSON{
		ID:        m.ID(),
		Name:      m.name,
		UpdatedAt: m.UpdatedAt(),
		State:     m.State().String(),
	}
	if created := m.CreatedAt(); !created.IsZero() {
		out.CreatedAt = &created
	}
	if m.age.Valid {
		age := m.age.Int64
		out.Age = &age
	}
	return json.Marshal(out)
}

func (m *Member) String() string {
	age := "null"
	if m.age.Valid {
		age = fmt.Sprint(m.age.Int64)
	}
	updated := "null"
	if u := m.UpdatedAt(); u != nil {
		updated = u.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("Member(id=%d, name=%s, age=%s, createdAt=%s, updatedAt=%s)",
		m.ID(), m.name, age, m.CreatedAt().Format(time.RFC3339Nano), updated)
}
