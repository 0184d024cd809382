package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"zenq"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store implements zenq.Storage on a SQLite database, so persisted query
// data survives process restarts.
type Store struct {
	db      *sqlx.DB
	dsn     string
	closeMx sync.Mutex
	closed  bool
}

// Ensure Store implements zenq.Storage.
var _ zenq.Storage = (*Store)(nil)

// New opens (or creates) the SQLite database at dsn and prepares the
// entries table.
func New(dsn string) (*Store, error) {
	log.Printf("Initializing SQLite storage with DSN: %s", dsn)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create entries table: %w", err)
	}

	log.Println("SQLite storage initialized successfully.")
	return &Store{db: db, dsn: dsn}, nil
}

// Read retrieves a persisted payload by key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("sqlite storage is closed")
	}
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM entries WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, zenq.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite Read error for key '%s': %w", key, err)
	}
	return value, nil
}

// Write upserts a persisted payload.
func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if s.isClosed() {
		return fmt.Errorf("sqlite storage is closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite Write error for key '%s': %w", key, err)
	}
	return nil
}

// Delete removes a persisted payload. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return fmt.Errorf("sqlite storage is closed")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlite Delete error for key '%s': %w", key, err)
	}
	return nil
}

// Prune deletes entries older than the given age. Returns the number of
// rows removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	if s.isClosed() {
		return 0, fmt.Errorf("sqlite storage is closed")
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite Prune error: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.closeMx.Lock()
	defer s.closeMx.Unlock()
	return s.closed
}
