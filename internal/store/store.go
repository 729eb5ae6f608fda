package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateInvoiceNumber is returned when a sale header collides on invoice_number.
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")

	// ErrDuplicateIdempotencyKey is returned when a sale header collides on idempotency_key.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicate is returned for any other unique constraint violation.
	ErrDuplicate = errors.New("duplicate value")
)

// Store is the single persistence adapter. A Store returned to a RunAtomic
// callback is bound to that transaction; every method then runs inside it.
type Store struct {
	db     *sqlx.DB
	q      sqlx.ExtContext
	driver string
}

// NewStore creates a new database store for the given driver ("postgres" or "sqlite3")
func NewStore(driver, databaseURL string) (*Store, error) {
	dsn := databaseURL
	if driver == DriverSQLite && !strings.Contains(dsn, "?") {
		// BEGIN IMMEDIATE serializes writers; the busy timeout queues them instead of failing.
		dsn += "?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, q: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx reports whether the store is bound to a transaction.
func (s *Store) InTx() bool {
	_, ok := s.q.(*sqlx.Tx)
	return ok
}

// RunAtomic executes fn inside a single transaction. Every write made through
// the Store handed to fn commits together, or none does. Calling RunAtomic on
// a transaction-bound Store joins the outer transaction.
func (s *Store) RunAtomic(ctx context.Context, fn func(tx *Store) error) error {
	if s.InTx() {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, driver: s.driver}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := postgresSchema
	if s.driver == DriverSQLite {
		schema = sqliteSchema
	}
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *Store) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, s.q, dest, s.q.Rebind(query), args...)
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.q.Rebind(query), args...)
}

// forUpdate returns the row-locking suffix for the active dialect. SQLite
// transactions already hold the database write lock.
func (s *Store) forUpdate() string {
	if s.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// uniqueViolation reports whether err is a unique constraint violation and,
// when column is non-empty, whether it was raised for that column.
func uniqueViolation(err error, column string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return false
		}
		return column == "" || strings.Contains(pqErr.Constraint, column)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.ExtendedCode != sqlite3.ErrConstraintUnique && liteErr.ExtendedCode != sqlite3.ErrConstraintPrimaryKey {
			return false
		}
		return column == "" || strings.Contains(liteErr.Error(), column)
	}
	return false
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
