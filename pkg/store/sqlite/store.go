// Package sqlite is the SQLite-backed item supplier and result cache.
//
// Predictions are unique on (item_id, prompt_name, prompt_version) and
// embeddings on item_id. Rows in both tables are written once and never
// updated; a second write for the same key fails with ErrDuplicate.
package sqlite

import (
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

var (
	// ErrPersistence marks every storage failure.
	ErrPersistence = errors.New("persistence error")
	// ErrDuplicate marks a write whose cache key already exists. It is also
	// an ErrPersistence.
	ErrDuplicate = errors.New("duplicate cache key")
	// ErrNotFound is returned by single-row lookups.
	ErrNotFound = errors.New("not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY,
	text TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS credentials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hash TEXT NOT NULL UNIQUE,
	note TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS predictions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id INTEGER NOT NULL REFERENCES items(id),
	environment TEXT NOT NULL,
	prompt_name TEXT NOT NULL,
	prompt_version INTEGER NOT NULL,
	result TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	credential_id INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE (item_id, prompt_name, prompt_version)
);
CREATE INDEX IF NOT EXISTS idx_predictions_prompt ON predictions(prompt_name, prompt_version);

CREATE TABLE IF NOT EXISTS embeddings (
	item_id INTEGER PRIMARY KEY REFERENCES items(id),
	vector BLOB NOT NULL,
	dims INTEGER NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	credential_id INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS flags (
	item_id INTEGER PRIMARY KEY REFERENCES items(id),
	state INTEGER NOT NULL,
	categories TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// Store is the SQLite result cache.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens dbPath and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open store db")
	}
	// One connection keeps the single-writer model of SQLite explicit.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configure store db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate store db")
	}
	return &Store{db: db, now: time.Now}, nil
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// wrap marks err as ErrPersistence, and additionally as ErrDuplicate for
// unique constraint violations.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	err = errors.Wrap(err, msg)
	if isUniqueViolation(err) {
		err = errors.Mark(err, ErrDuplicate)
	}
	return errors.Mark(err, ErrPersistence)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// rollback is deferred after BeginTx; it is a no-op once committed.
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
