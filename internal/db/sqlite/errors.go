package sqlite

import (
	"database/sql/driver"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

// translateError maps driver errors onto the persistence error kinds.
func translateError(table string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return persistence.ConstraintViolation(table, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR:
			return persistence.ConnectionFailure(err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return persistence.ConnectionFailure(err)
	}
	return err
}
