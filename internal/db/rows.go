// Package db holds helpers shared by the SQL-backed stores.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

// Reserved column names managed by storage.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// TimeLayout is a fixed-width RFC 3339 layout. Text timestamps in this
// layout sort lexicographically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime converts a driver timestamp value into a time.Time.
func ParseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTimeText(t)
	case []byte:
		return parseTimeText(string(t))
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimeText(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Split returns the column names of cols in sorted order with their values.
func Split(cols persistence.Columns) ([]string, []any) {
	names := cols.Names()
	values := make([]any, len(names))
	for i, name := range names {
		values[i] = cols[name]
	}
	return names, values
}

// ScanRow reads the current row of rows into a persistence.Row. The id and
// timestamp columns fill the dedicated fields; the rest land in Columns.
func ScanRow(rows *sql.Rows) (*persistence.Row, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	row := &persistence.Row{Columns: persistence.Columns{}}
	for i, name := range names {
		v := values[i]
		switch name {
		case ColumnID:
			id, ok := persistence.Columns{name: v}.Int64(name)
			if !ok {
				return nil, fmt.Errorf("scan row: id has type %T", v)
			}
			row.ID = id
		case ColumnCreatedAt:
			t, err := ParseTime(v)
			if err != nil {
				return nil, fmt.Errorf("scan row: created_at: %w", err)
			}
			row.CreatedAt = t
		case ColumnUpdatedAt:
			if v == nil {
				continue
			}
			t, err := ParseTime(v)
			if err != nil {
				return nil, fmt.Errorf("scan row: updated_at: %w", err)
			}
			row.UpdatedAt = &t
		default:
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row.Columns[name] = v
		}
	}
	return row, nil
}
