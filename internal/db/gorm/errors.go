package gorm

import (
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

// translateError maps PostgreSQL and SQLite driver errors onto the
// persistence error kinds.
func translateError(table string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23: integrity constraint violation
		if strings.HasPrefix(pgErr.Code, "23") {
			return persistence.ConstraintViolation(table, err)
		}
		// Class 08: connection exception
		if strings.HasPrefix(pgErr.Code, "08") {
			return persistence.ConnectionFailure(err)
		}
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return persistence.ConstraintViolation(table, err)
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrIoErr:
			return persistence.ConnectionFailure(err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) {
		return persistence.ConnectionFailure(err)
	}
	return err
}
