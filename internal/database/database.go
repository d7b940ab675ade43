package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// MemoryPath selects a private in-memory SQLite database.
const MemoryPath = ":memory:"

const sqliteConnOpts = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// Config selects and addresses the backend.
type Config struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
}

// Validate checks that the selected driver has an address.
func (c Config) Validate() error {
	switch c.Driver {
	case "", DriverSQLite:
		if c.Path == "" {
			return errors.New("database: sqlite requires a path")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DSN) == "" {
			return errors.New("database: postgres requires a dsn")
		}
	default:
		return fmt.Errorf("database: unknown driver %q (want %s or %s)", c.Driver, DriverSQLite, DriverPostgres)
	}
	return nil
}

// String describes the backend without credentials.
func (c Config) String() string {
	if c.Driver == DriverPostgres {
		if u, err := url.Parse(c.DSN); err == nil && u.Host != "" {
			return "postgres://" + u.Host + u.Path
		}
		return "postgres"
	}
	return "sqlite:" + c.Path
}

// Open connects to the configured backend and installs the tracing plugin.
// The schema is created by the ledger store, not here.
func Open(cfg Config, logger *slog.Logger) (*gorm.DB, error) {
	if logger == nil {
		// Create logger to throw away logs
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		gormCfg.PrepareStmt = true
		db, err = gorm.Open(postgres.Open(strings.TrimSpace(cfg.DSN)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("database: connect postgres: %w", err)
		}
		logger.Info("connected to postgres ledger store", "component", "database")
	default:
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.Path)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("database: open sqlite %s: %w", cfg.Path, err)
		}
		logger.Info("opened sqlite ledger store", "component", "database", "path", cfg.Path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	switch {
	case cfg.Driver != DriverPostgres && cfg.Path == MemoryPath:
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: install tracing: %w", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	if path == MemoryPath {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	if dir := filepath.Dir(path); dir != "." {
		// Best effort; gorm.Open reports the real failure.
		_ = os.MkdirAll(dir, 0o750)
	}
	return "file:" + path + "?" + sqliteConnOpts
}
