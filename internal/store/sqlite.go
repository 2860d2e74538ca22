package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/togethr/internal/domain"
	"github.com/ashureev/togethr/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single profile file is shared by at most a few processes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS profile_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetIdentity reads the stored user id and token.
func (s *SQLiteStore) GetIdentity(ctx context.Context) (domain.Identity, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM profile_kv WHERE key IN (?, ?)`, KeyUserID, KeyToken)
	if err != nil {
		return domain.Identity{}, false, fmt.Errorf("query identity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var id domain.Identity
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return domain.Identity{}, false, fmt.Errorf("scan identity row: %w", err)
		}
		switch key {
		case KeyUserID:
			id.UserID = value
		case KeyToken:
			id.Token = value
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Identity{}, false, fmt.Errorf("iterate identity rows: %w", err)
	}

	if !id.IsComplete() {
		return domain.Identity{}, false, nil
	}
	return id, true, nil
}

// SaveIdentity upserts both keys in one transaction.
func (s *SQLiteStore) SaveIdentity(ctx context.Context, identity domain.Identity) error {
	if !identity.IsComplete() {
		return errors.New("save identity: user id and token are both required")
	}

	return shared.RetryOnConflict(ctx, "save_identity", writeAttempts, writeBaseDelay, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			now := time.Now().Unix()
			query := `
			INSERT INTO profile_kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
			if _, err := tx.ExecContext(ctx, query, KeyUserID, identity.UserID, now); err != nil {
				return fmt.Errorf("upsert user id: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, KeyToken, identity.Token, now); err != nil {
				return fmt.Errorf("upsert token: %w", err)
			}
			return nil
		})
	})
}

// ClearIdentity deletes the stored user id and token.
func (s *SQLiteStore) ClearIdentity(ctx context.Context) error {
	return shared.RetryOnConflict(ctx, "clear_identity", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM profile_kv WHERE key IN (?, ?)`, KeyUserID, KeyToken)
		if err != nil {
			return fmt.Errorf("clear identity: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
