// Package backend opens the storage backend selected by the configuration.
package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/lifecycle/internal/config"
	gormdb "github.com/thebtf/lifecycle/internal/db/gorm"
	"github.com/thebtf/lifecycle/internal/db/memory"
	"github.com/thebtf/lifecycle/internal/db/sqlite"
	"github.com/thebtf/lifecycle/internal/privacy"
	"github.com/thebtf/lifecycle/pkg/models"
	"github.com/thebtf/lifecycle/pkg/persistence"
)

// Open returns the backend for cfg.Driver. SQL backends are migrated before
// they are returned.
func Open(cfg *config.Config) (persistence.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("driver", cfg.Driver).
		Str("dsn", privacy.RedactDSN(cfg.DSN)).
		Str("db_path", cfg.DBPath).
		Msg("Opening backend")

	if cfg.Driver == config.DriverSQLite || cfg.Driver == config.DriverGormSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(memory.WithTable(memory.Table{
			Name:    models.MemberTable,
			NotNull: []string{models.ColumnName, models.ColumnAge},
		})), nil

	case config.DriverSQLite:
		store, err := sqlite.NewStore(sqlite.StoreConfig{
			Path:     cfg.DBPath,
			MaxConns: cfg.MaxConns,
			WALMode:  cfg.WALMode,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil

	case config.DriverGormSQLite, config.DriverPostgres:
		gcfg := gormdb.Config{
			Driver:   gormdb.DriverPostgres,
			DSN:      cfg.DSN,
			MaxConns: cfg.MaxConns,
			LogLevel: gormLogLevel(cfg.LogLevel),
		}
		if cfg.Driver == config.DriverGormSQLite {
			gcfg.Driver = gormdb.DriverSQLite
			gcfg.DSN = cfg.DBPath
		}
		store, err := gormdb.NewStore(gcfg)
		if err != nil {
			return nil, fmt.Errorf("open gorm store %s: %w", privacy.RedactDSN(gcfg.DSN), err)
		}
		return store, nil
	}

	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "trace", "debug":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}
