// Package sqlite is the local relational backend. It mirrors the BigQuery
// layout so the same tools and handlers run against a single file.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dvloznov/finance-advisor/internal/store"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

var _ store.Store = (*Store)(nil)

const (
	dateLayout = "2006-01-02"
	tsLayout   = time.RFC3339Nano
)

// Store implements store.Store on SQLite. Each operation checks out its own
// connection and returns it before the call completes.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, finerr.Errorf(finerr.CodeStorePersistFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, finerr.Errorf(finerr.CodeStorePersistFailure, "pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, finerr.Errorf(finerr.CodeStorePersistFailure, "migrating sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	password_hash TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	document_id TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	filename    TEXT NOT NULL,
	upload_date TEXT NOT NULL,
	status      TEXT NOT NULL,
	storage_uri TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	transaction_id TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL REFERENCES documents(document_id),
	user_id        TEXT NOT NULL,
	date           TEXT NOT NULL,
	merchant       TEXT NOT NULL,
	amount         REAL NOT NULL,
	currency       TEXT NOT NULL,
	category       TEXT NOT NULL DEFAULT '',
	correlation_id TEXT UNIQUE,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS budgets (
	budget_id  TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	category   TEXT NOT NULL,
	amount     REAL NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(user_id, category)
);

CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, upload_date);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, date);
CREATE INDEX IF NOT EXISTS idx_transactions_document ON transactions(document_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withConn checks out a dedicated connection for fn and releases it on every
// exit path.
func (s *Store) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return fn(conn)
}

// discard marks conn unusable so the pool closes it instead of reusing it.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
