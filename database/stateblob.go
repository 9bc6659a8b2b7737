package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// StateBlobStore is a narrow raw database/sql connection (lib/pq driver)
// used only for the state_blob key/value checkpoint table (spec §6), kept
// separate from the GORM connection the same way the teacher keeps a raw
// database/connection.go alongside its GORM database/models.go.
type StateBlobStore struct {
	conn *sql.DB
}

// NewStateBlobStore opens a raw connection and creates the state_blob
// table if absent, with the same pool tuning as the teacher's
// database/connection.go.
func NewStateBlobStore(host string, port int, dbname, user, password string) (*StateBlobStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state_blob connection: %w", err)
	}

	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping state_blob connection: %w", err)
	}

	const createTable = `
		CREATE TABLE IF NOT EXISTS state_blob (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := conn.Exec(createTable); err != nil {
		return nil, fmt.Errorf("failed to create state_blob table: %w", err)
	}

	return &StateBlobStore{conn: conn}, nil
}

// Put upserts key's value (spec §8's persist-then-restore round-trip law).
func (s *StateBlobStore) Put(key string, value []byte) error {
	const upsert = `
		INSERT INTO state_blob (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	_, err := s.conn.Exec(upsert, key, value)
	if err != nil {
		return fmt.Errorf("state_blob put %q: %w", key, err)
	}
	return nil
}

// Get retrieves key's value, returning ok=false if absent.
func (s *StateBlobStore) Get(key string) (value []byte, ok bool, err error) {
	const query = `SELECT value FROM state_blob WHERE key = $1`
	row := s.conn.QueryRow(query, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("state_blob get %q: %w", key, err)
	}
	return value, true, nil
}

// Close closes the raw connection.
func (s *StateBlobStore) Close() error {
	return s.conn.Close()
}
