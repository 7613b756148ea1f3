package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultRecord is the record name the analysis cache is stored under.
const DefaultRecord = "infralens_analysis_cache"

// Store keeps a single named record in a SQLite key/value table.
type Store struct {
	db   *sql.DB
	name string
}

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS kv_records (
	name TEXT NOT NULL PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// New opens dbPath and returns a Store bound to the record name.
func New(dbPath, name string) (*Store, error) {
	if name == "" {
		name = DefaultRecord
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db, name: name}, nil
}

// Load returns the record, or nil when it has never been written.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_records WHERE name = ?`, s.name,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache load: %w", err)
	}
	return value, nil
}

// Save replaces the record.
func (s *Store) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_records (name, value, updated_at) VALUES (?, ?, ?)`,
		s.name, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cache save: %w", err)
	}
	return nil
}

// UpdatedAt reports when the record was last written.
func (s *Store) UpdatedAt(ctx context.Context) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM kv_records WHERE name = ?`, s.name,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cache updated_at: %w", err)
	}
	return at, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
