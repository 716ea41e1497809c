// Package sqlite provides a SQLite backend on database/sql and the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

// Store provides database operations with connection pooling and prepared statements.
type Store struct {
	db        *sql.DB
	now       func() time.Time
	stmtCache map[string]*sql.Stmt
	stmtMu    sync.RWMutex
}

// StoreConfig holds configuration for the database store.
type StoreConfig struct {
	Now      func() time.Time // time source for created_at/updated_at (default time.Now)
	Path     string
	MaxConns int
	WALMode  bool
}

// NewStore creates a new database store with the given configuration.
func NewStore(cfg StoreConfig) (*Store, error) {
	connStr := "file:" + cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if cfg.WALMode {
		connStr += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure connection pool
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0) // Never expire - SQLite connections are cheap

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, translateError("", fmt.Errorf("ping database: %w", err))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	store := &Store{
		db:        db,
		now:       now,
		stmtCache: make(map[string]*sql.Stmt),
	}

	// Run migrations
	mgr := NewMigrationManager(db)
	if err := mgr.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection and all cached statements.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	for _, stmt := range s.stmtCache {
		_ = stmt.Close()
	}
	s.stmtCache = nil

	return s.db.Close()
}

// GetStmt returns a cached prepared statement, creating it if necessary.
func (s *Store) GetStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	// Double-check after acquiring write lock
	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}
	if s.stmtCache == nil {
		return nil, fmt.Errorf("store is closed")
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	s.stmtCache[query] = stmt
	return stmt, nil
}

// Begin implements persistence.Backend.
func (s *Store) Begin(ctx context.Context) (persistence.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.ConnectionFailure(err)
	}
	return &tx{store: s, tx: sqlTx}, nil
}

// Ping checks if the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return persistence.ConnectionFailure(err)
	}
	return nil
}
