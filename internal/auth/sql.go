package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLStore keeps credential records in a SQLite database.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens (or creates) the database at path and migrates it.
// Pragmas go into the DSN so every pooled connection gets them.
func OpenSQLStore(path string) (*SQLStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("auth: open db: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auth: ping db: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auth: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY
	)`); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return err
	}

	migrations := []struct {
		version int
		stmt    string
	}{
		{
			version: 1,
			stmt: `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash BLOB NOT NULL,
		created_at    TEXT NOT NULL DEFAULT (datetime('now'))
	)`,
		},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("version %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) CreateUser(ctx context.Context, username string, passwordHash []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("auth: create user: %w", err)
	}
	return nil
}

func (s *SQLStore) PasswordHash(ctx context.Context, username string) ([]byte, error) {
	var hash []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	return hash, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
