// Package config provides configuration management for the member lifecycle tools.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Supported storage drivers.
const (
	DriverMemory     = "memory"
	DriverSQLite     = "sqlite"
	DriverGormSQLite = "gorm-sqlite"
	DriverPostgres   = "postgres"
)

// Settings keys. The same names are read from the settings file and the environment.
const (
	KeyDriver   = "LIFECYCLE_DRIVER"
	KeyDSN      = "LIFECYCLE_DSN"
	KeyDBPath   = "LIFECYCLE_DB_PATH"
	KeyMaxConns = "LIFECYCLE_MAX_CONNS"
	KeyLogLevel = "LIFECYCLE_LOG_LEVEL"
	KeyWALMode  = "LIFECYCLE_WAL_MODE"
)

// Config holds the application configuration.
type Config struct {
	// Storage settings
	Driver   string `json:"driver" yaml:"driver"`
	DSN      string `json:"dsn,omitempty" yaml:"dsn,omitempty"` // PostgreSQL only
	DBPath   string `json:"db_path" yaml:"db_path"`
	MaxConns int    `json:"max_conns" yaml:"max_conns"`
	WALMode  bool   `json:"wal_mode" yaml:"wal_mode"`

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"` // zerolog level name
}

// DataDir returns the data directory path (~/.lifecycle).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lifecycle")
}

// DBPath returns the default database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "lifecycle.db")
}

// SettingsPath returns the settings file path. A settings.yaml next to it
// is used when the JSON file does not exist.
func SettingsPath() string {
	jsonPath := filepath.Join(DataDir(), "settings.json")
	if _, err := os.Stat(jsonPath); err != nil {
		yml := filepath.Join(DataDir(), "settings.yaml")
		if _, err := os.Stat(yml); err == nil {
			return yml
		}
	}
	return jsonPath
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	def := Default()
	data, err := json.MarshalIndent(map[string]any{
		KeyDriver:   def.Driver,
		KeyDBPath:   def.DBPath,
		KeyMaxConns: def.MaxConns,
		KeyLogLevel: def.LogLevel,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode default settings: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Driver:   DriverSQLite,
		DBPath:   DBPath(),
		MaxConns: 4,
		WALMode:  true,
		LogLevel: "info",
	}
}

// Load reads the settings file at path (SettingsPath when empty), applies
// environment overrides and validates the result. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = SettingsPath()
	}
	cfg := Default()

	settings, err := readSettings(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.apply(settings); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}

	env := make(map[string]any)
	for _, key := range []string{KeyDriver, KeyDSN, KeyDBPath, KeyMaxConns, KeyLogLevel, KeyWALMode} {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			env[key] = v
		}
	}
	if err := cfg.apply(env); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSettings decodes a JSON or YAML settings file into a key map.
func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var settings map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &settings)
	default:
		err = json.Unmarshal(data, &settings)
	}
	if err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return settings, nil
}

// apply maps settings keys onto the config. Values may be native (JSON/YAML)
// or strings (environment).
func (c *Config) apply(settings map[string]any) error {
	if v, ok := settings[KeyDriver]; ok {
		c.Driver = strings.ToLower(fmt.Sprint(v))
	}
	if v, ok := settings[KeyDSN]; ok {
		c.DSN = fmt.Sprint(v)
	}
	if v, ok := settings[KeyDBPath]; ok {
		c.DBPath = fmt.Sprint(v)
	}
	if v, ok := settings[KeyLogLevel]; ok {
		c.LogLevel = strings.ToLower(fmt.Sprint(v))
	}
	if v, ok := settings[KeyMaxConns]; ok {
		n, err := asInt(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: invalid value %v", KeyMaxConns, v)
		}
		c.MaxConns = n
	}
	if v, ok := settings[KeyWALMode]; ok {
		switch b := v.(type) {
		case bool:
			c.WALMode = b
		default:
			parsed, err := strconv.ParseBool(fmt.Sprint(v))
			if err != nil {
				return fmt.Errorf("%s: invalid value %v", KeyWALMode, v)
			}
			c.WALMode = parsed
		}
	}
	return nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return strconv.Atoi(strings.TrimSpace(fmt.Sprint(v)))
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite, DriverGormSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("driver %s requires a database path", c.Driver)
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("driver %s requires a DSN", c.Driver)
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive, got %d", c.MaxConns)
	}
	return nil
}
