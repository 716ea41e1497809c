package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thebtf/lifecycle/internal/db"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

type tx struct {
	store *Store
	tx    *sql.Tx
}

// exec runs the cached statement for query bound to this transaction.
// Falls back to unprepared execution when preparing fails.
func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := t.store.GetStmt(ctx, query)
	if err != nil {
		return t.tx.ExecContext(ctx, query, args...)
	}
	return t.tx.StmtContext(ctx, stmt).ExecContext(ctx, args...)
}

func (t *tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := t.store.GetStmt(ctx, query)
	if err != nil {
		return t.tx.QueryContext(ctx, query, args...)
	}
	return t.tx.StmtContext(ctx, stmt).QueryContext(ctx, args...)
}

func (t *tx) Insert(ctx context.Context, table string, cols persistence.Columns) (int64, time.Time, error) {
	names, values := db.Split(cols)
	now := t.store.now()

	quoted := make([]string, 0, len(names)+1)
	for _, name := range names {
		quoted = append(quoted, quote(name))
	}
	quoted = append(quoted, quote(db.ColumnCreatedAt))
	values = append(values, db.FormatTime(now))

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(quoted, ", "), placeholders(len(quoted)))

	res, err := t.exec(ctx, query, values...)
	if err != nil {
		return 0, time.Time{}, translateError(table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert into %s: last insert id: %w", table, err)
	}
	return id, now, nil
}

func (t *tx) Update(ctx context.Context, table string, id int64, changed persistence.Columns) (time.Time, error) {
	createdAt, err := t.createdAt(ctx, table, id)
	if err != nil {
		return time.Time{}, err
	}
	names, values := db.Split(changed)
	now := t.store.now()
	if now.Before(createdAt) {
		now = createdAt
	}

	sets := make([]string, 0, len(names)+1)
	for _, name := range names {
		sets = append(sets, quote(name)+" = ?")
	}
	sets = append(sets, quote(db.ColumnUpdatedAt)+" = ?")
	values = append(values, db.FormatTime(now), id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quote(table), strings.Join(sets, ", "))

	res, err := t.exec(ctx, query, values...)
	if err != nil {
		return time.Time{}, translateError(table, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return time.Time{}, fmt.Errorf("update %s: rows affected: %w", table, err)
	} else if n == 0 {
		return time.Time{}, persistence.NotFound(table, id)
	}
	return now, nil
}

// createdAt reads the creation time of a row. updated_at never precedes it.
func (t *tx) createdAt(ctx context.Context, table string, id int64) (time.Time, error) {
	rows, err := t.query(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", quote(db.ColumnCreatedAt), quote(table)), id)
	if err != nil {
		return time.Time{}, translateError(table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return time.Time{}, translateError(table, err)
		}
		return time.Time{}, persistence.NotFound(table, id)
	}
	var raw any
	if err := rows.Scan(&raw); err != nil {
		return time.Time{}, fmt.Errorf("update %s: read created_at: %w", table, err)
	}
	return db.ParseTime(raw)
}

func (t *tx) Delete(ctx context.Context, table string, id int64) error {
	res, err := t.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", quote(table)), id)
	if err != nil {
		return translateError(table, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete from %s: rows affected: %w", table, err)
	} else if n == 0 {
		return persistence.NotFound(table, id)
	}
	return nil
}

func (t *tx) Select(ctx context.Context, table string, id int64) (*persistence.Row, error) {
	rows, err := t.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", quote(table)), id)
	if err != nil {
		return nil, translateError(table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translateError(table, err)
		}
		return nil, persistence.NotFound(table, id)
	}
	return db.ScanRow(rows)
}

func (t *tx) Commit() error {
	return translateError("", t.tx.Commit())
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
