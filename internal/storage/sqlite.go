package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteConfig holds SQLite configuration.
type SQLiteConfig struct {
	Path   string // file path or ":memory:"
	Logger *zap.Logger
}

var sqliteDialect = dialect{
	name:              "sqlite",
	isUniqueViolation: isSQLiteUniqueViolation,
}

// NewSQLiteStore opens (or creates) a SQLite database and applies the schema.
// A single connection serializes writers, which keeps transactions free of
// SQLITE_BUSY and keeps ":memory:" databases alive for the store's lifetime.
func NewSQLiteStore(ctx context.Context, cfg *SQLiteConfig) (*SQLStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if cfg.Path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	cfg.Logger.Info("sqlite-storage-opened", zap.String("path", cfg.Path))

	s := newSQLStore(db, sqliteDialect, cfg.Logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
