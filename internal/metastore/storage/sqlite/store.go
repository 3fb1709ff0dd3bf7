package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/recallkit/recallkit/internal/metastore/apikey"
	"github.com/recallkit/recallkit/internal/metastore/storage/sqlite/migrations"
	"github.com/recallkit/recallkit/internal/platform/config"
	sqlitemigrate "github.com/recallkit/recallkit/internal/platform/storage/sqlitemigrate"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store provides SQLite-backed persistence for agent runtime metadata.
//
// Every mutating operation runs in its own short-lived transaction that
// commits on success and rolls back otherwise; no transaction is shared or
// nested across calls.
type Store struct {
	sqlDB *sql.DB

	// now stamps created/completed times; replaced in tests.
	now func() time.Time

	// generateKey issues credential tokens; replaced in tests.
	generateKey func(prefix string, length int) (string, error)

	keyPrefix string
	keyLength int
}

type storeEnv struct {
	DBPath       string `env:"RECALLKIT_DB_PATH"`
	APIKeyPrefix string `env:"RECALLKIT_API_KEY_PREFIX" envDefault:"sk-"`
	APIKeyLength int    `env:"RECALLKIT_API_KEY_LENGTH" envDefault:"51"`
}

// Open opens a SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB:       sqlDB,
		now:         func() time.Time { return time.Now().UTC() },
		generateKey: apikey.Generate,
		keyPrefix:   apikey.DefaultPrefix,
		keyLength:   apikey.DefaultLength,
	}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// OpenFromEnv opens the store using RECALLKIT_DB_PATH and the API key
// settings from the environment, with a local default path.
func OpenFromEnv() (*Store, error) {
	var cfg storeEnv
	_ = config.ParseEnv(&cfg)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "metadata.db")
	}

	store, err := Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKeyPrefix) != "" {
		store.keyPrefix = cfg.APIKeyPrefix
	}
	if cfg.APIKeyLength > 0 {
		store.keyLength = cfg.APIKeyLength
	}
	return store, nil
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// isUniqueViolation reports whether err is a primary-key or unique-index
// constraint failure. The schema-level unique indexes back the
// application-level existence checks, so a create racing past its check
// still surfaces as already-exists instead of corrupting a namespace.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
