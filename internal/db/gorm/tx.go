package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/lifecycle/internal/db"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

// gormTx adapts a GORM transaction to persistence.Tx.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) quote(ident string) string {
	return t.db.Statement.Quote(ident)
}

func (t *gormTx) Insert(ctx context.Context, table string, cols persistence.Columns) (int64, time.Time, error) {
	names, values := db.Split(cols)
	now := t.db.NowFunc()

	quoted := make([]string, 0, len(names)+1)
	for _, name := range names {
		quoted = append(quoted, t.quote(name))
	}
	quoted = append(quoted, t.quote(db.ColumnCreatedAt))
	values = append(values, now)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.quote(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(quoted)), ", "),
		t.quote(db.ColumnID))

	var id int64
	if err := t.db.WithContext(ctx).Raw(query, values...).Row().Scan(&id); err != nil {
		return 0, time.Time{}, translateError(table, err)
	}
	return id, now, nil
}

func (t *gormTx) Update(ctx context.Context, table string, id int64, changed persistence.Columns) (time.Time, error) {
	var raw any
	err := t.db.WithContext(ctx).
		Raw(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", t.quote(db.ColumnCreatedAt), t.quote(table)), id).
		Row().Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, persistence.NotFound(table, id)
	}
	if err != nil {
		return time.Time{}, translateError(table, err)
	}
	createdAt, err := db.ParseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("update %s: %w", table, err)
	}

	// updated_at never precedes created_at.
	now := t.db.NowFunc()
	if now.Before(createdAt) {
		now = createdAt
	}

	updates := make(map[string]any, len(changed)+1)
	for name, v := range changed {
		updates[name] = v
	}
	updates[db.ColumnUpdatedAt] = now

	res := t.db.WithContext(ctx).Table(table).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return time.Time{}, translateError(table, res.Error)
	}
	if res.RowsAffected == 0 {
		return time.Time{}, persistence.NotFound(table, id)
	}
	return now, nil
}

func (t *gormTx) Delete(ctx context.Context, table string, id int64) error {
	res := t.db.WithContext(ctx).Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.quote(table)), id)
	if res.Error != nil {
		return translateError(table, res.Error)
	}
	if res.RowsAffected == 0 {
		return persistence.NotFound(table, id)
	}
	return nil
}

func (t *gormTx) Select(ctx context.Context, table string, id int64) (*persistence.Row, error) {
	rows, err := t.db.WithContext(ctx).Raw(fmt.Sprintf("SELECT * FROM %s WHERE id = ?", t.quote(table)), id).Rows()
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

func (t *gormTx) Commit() error {
	return translateError("", t.db.Commit().Error)
}

func (t *gormTx) Rollback() error {
	err := t.db.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
