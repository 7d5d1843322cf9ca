package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups whose subject must exist
var ErrNotFound = errors.New("not found")

// Execer is the query surface shared by *sql.DB and *sql.Tx, so every
// model method can run standalone or inside a transaction.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store owns the embedded framework database. All persisted entities of
// the ingestion engine live in one SQLite file opened in WAL mode.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the framework database at path
func Open(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// DB exposes the pooled connection handle for read-only queries that do
// not need transaction scope.
func (s *Store) DB() Execer {
	return s.db
}

// WithTx runs fn inside a write transaction, committing on nil and rolling
// back on error or panic. Every public state machine command maps to
// exactly one WithTx call.
func (s *Store) WithTx(fn func(tx Execer) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// NowMillis is the timestamp written to created_at columns
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
