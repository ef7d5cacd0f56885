// Package sqlite implements storage.Store using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
// WAL mode is enabled by default; the function repository is shared with the
// PostgreSQL backend.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/sandrun/internal/storage"
	pgstore "github.com/jkaninda/sandrun/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // "wal" by default.
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	db        *gorm.DB
	functions storage.FunctionStore
	path      string
}

// Open creates the database file if needed and migrates the schema.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  pgstore.NewGormLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	s := &Store{db: db, functions: pgstore.NewFunctionRepository(db), path: cfg.Path}
	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrating sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}

// Functions returns the saved-function repository.
func (s *Store) Functions() storage.FunctionStore { return s.functions }

// Migrate runs GORM AutoMigrate with the PostgreSQL backend's models.
func (s *Store) Migrate(ctx context.Context) error {
	return pgstore.AutoMigrate(s.db.WithContext(ctx))
}

// Ping checks that the database file is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string { return storage.DriverSQLite }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

var _ storage.Store = (*Store)(nil)
