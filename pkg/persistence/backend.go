package persistence

import (
	"context"
	"time"
)

// Backend is the storage collaborator. It is created once per process and
// shared by every session of a Factory.
type Backend interface {
	// Begin opens a storage transaction. Fails with ErrConnection when
	// storage is unreachable.
	Begin(ctx context.Context) (Tx, error)
	// Close releases the connection source.
	Close() error
}

// Tx is one storage transaction. Statements are applied atomically on
// Commit and discarded on Rollback.
type Tx interface {
	// Insert stores a row and returns the generated id and creation time.
	Insert(ctx context.Context, table string, cols Columns) (int64, time.Time, error)
	// Update rewrites the given columns and returns the new modification time.
	Update(ctx context.Context, table string, id int64, changed Columns) (time.Time, error)
	// Delete removes a row.
	Delete(ctx context.Context, table string, id int64) error
	// Select loads a row. Fails with ErrNotFound when absent.
	Select(ctx context.Context, table string, id int64) (*Row, error)
	// Commit applies the transaction.
	Commit() error
	// Rollback discards the transaction. Safe to call after Commit.
	Rollback() error
}
