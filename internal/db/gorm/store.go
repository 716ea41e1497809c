package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store represents the GORM database connection.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Config holds database configuration.
type Config struct {
	NowFunc  func() time.Time // time source for created_at/updated_at
	Driver   string           // DriverPostgres (default) or DriverSQLite
	DSN      string           // PostgreSQL DSN or SQLite path
	MaxConns int              // Maximum number of open connections (default: 10)
	LogLevel logger.LogLevel  // GORM log level (logger.Silent for production)
}

// NewStore opens the database, configures the pool and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = gormsqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", cfg.Driver)
	}

	nowFunc := cfg.NowFunc
	if nowFunc == nil {
		nowFunc = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	logLevel := cfg.LogLevel
	if logLevel == 0 {
		logLevel = logger.Silent
	}

	// 1. Open GORM with the selected dialect
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(logLevel),
		PrepareStmt: true,
		NowFunc:     nowFunc,
	})
	if err != nil {
		return nil, translateError("", fmt.Errorf("open gorm %s: %w", dialector.Name(), err))
	}

	// 2. Get underlying *sql.DB for pool configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	// 3. Configure connection pool
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(maxConns/2, 1))
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	// 4. Verify connection
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, translateError("", fmt.Errorf("ping %s: %w", dialector.Name(), err))
	}

	// 5. Run migrations
	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Debug().Str("driver", dialector.Name()).Int("max_conns", maxConns).Msg("GORM store ready")
	return &Store{DB: db, sqlDB: sqlDB}, nil
}

// Begin implements persistence.Backend.
func (s *Store) Begin(ctx context.Context) (persistence.Tx, error) {
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, persistence.ConnectionFailure(tx.Error)
	}
	return &gormTx{db: tx}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return translateError("", s.sqlDB.PingContext(ctx))
}
