// Package store keeps the bot's local state in SQLite: per-account settings
// for adapters without server-side config, and pairing invites.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"web2pdfbot/internal/domain"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at dbPath and applies pending
// migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for packages that own their own tables.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AccountConfig returns the settings view for one adapter.
func (s *Store) AccountConfig(adapter string) *AccountConfig {
	return &AccountConfig{db: s.db, adapter: adapter}
}

// AccountConfig stores named string settings per account of one adapter.
// Missing keys read as "".
type AccountConfig struct {
	db      *sql.DB
	adapter string
}

func (c *AccountConfig) Get(ctx context.Context, acc domain.AccountID, key string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM account_config WHERE adapter = ? AND account_id = ? AND key = ?`,
		c.adapter, int64(acc), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s for account %d: %w", key, acc, err)
	}
	return value, nil
}

func (c *AccountConfig) Set(ctx context.Context, acc domain.AccountID, key, value string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO account_config (adapter, account_id, key, value, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(adapter, account_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		c.adapter, int64(acc), key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set %s for account %d: %w", key, acc, err)
	}
	return nil
}

// All returns every setting of an account.
func (c *AccountConfig) All(ctx context.Context, acc domain.AccountID) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, value FROM account_config WHERE adapter = ? AND account_id = ? ORDER BY key`,
		c.adapter, int64(acc),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
