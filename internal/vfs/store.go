// Package vfs implements the hierarchical namespace and commit protocol of
// the media VFS: nodes plus an ancestor/descendant closure table over a
// relational store, and the transactional linkage of physical files into it.
package vfs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mediatree/mediatree/internal/content"
	"github.com/mediatree/mediatree/internal/metrics"
)

// Store is the relational VFS store.
type Store struct {
	db      *sql.DB
	content *content.Store
}

// New connects to PostgreSQL and returns a Store backed by it.
func New(databaseURL string, files *content.Store) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, content: files}, nil
}

// NewWithDB wraps an existing database handle. Used by tests to run the
// store against in-memory SQLite.
func NewWithDB(db *sql.DB, files *content.Store) *Store {
	return &Store{db: db, content: files}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// InitSchema applies the embedded schema. Statements are idempotent, so this
// is safe to run at every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// namespace helpers can run standalone or inside a commit transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
