// Package store provides the SQL persistence layer for PlanPipe.
//
// A single SQLStore serves both SQLite (mattn/go-sqlite3) and PostgreSQL (lib/pq).
// It holds users with their conversation state, learning objectives, knowledge notes,
// calendar events, the inbound dedup table, the push outbox and durable jobs.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to PostgreSQL
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultDirPermissions defines the default permissions for SQLite database directories
	DefaultDirPermissions = 0755
)

// ErrNotFound is returned when an update or lookup targets a row that does not exist.
var ErrNotFound = errors.New("not found")

//go:embed migrations_sqlite.sql
var sqliteMigrations string

//go:embed migrations_postgres.sql
var postgresMigrations string

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Opts holds configuration for opening a store.
type Opts struct {
	DSN     string
	Dialect Dialect
}

// Option configures Opts.
type Option func(*Opts)

// WithSQLiteDSN selects SQLite with the given database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Dialect = DialectSQLite
	}
}

// WithPostgresDSN selects PostgreSQL with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Dialect = DialectPostgres
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return string(DialectPostgres)
	}
	return string(DialectSQLite)
}

// SQLStore is the database-backed store shared by every repository interface.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to the configured database and applies migrations.
func Open(opts ...Option) (*SQLStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.Open invoked", "DSN_set", cfg.DSN != "", "dialect", cfg.Dialect)

	if cfg.DSN == "" {
		slog.Error("store.Open: DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}
	if cfg.Dialect == "" {
		cfg.Dialect = Dialect(DetectDSNType(cfg.DSN))
	}

	var migrations string
	switch cfg.Dialect {
	case DialectSQLite:
		dir := filepath.Dir(strings.TrimPrefix(cfg.DSN, "file:"))
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("store.Open: failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		migrations = sqliteMigrations
	case DialectPostgres:
		migrations = postgresMigrations
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(string(cfg.Dialect), cfg.DSN)
	if err != nil {
		slog.Error("store.Open: failed to open connection", "error", err, "dialect", cfg.Dialect)
		return nil, err
	}
	if cfg.Dialect == DialectSQLite {
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY under concurrent handlers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		slog.Error("store.Open: ping failed", "error", err, "dialect", cfg.Dialect)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(migrations); err != nil {
		slog.Error("store.Open: failed to run migrations", "error", err, "dialect", cfg.Dialect)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.Open: migrations applied", "dialect", cfg.Dialect)

	return &SQLStore{db: db, dialect: cfg.Dialect, now: time.Now}, nil
}

// Dialect reports the backend in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// timestamp normalizes times to UTC so SQLite's textual comparison stays ordered.
func (s *SQLStore) timestamp() time.Time {
	return s.now().UTC()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...interface{}) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q execer, query string, args ...interface{}) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q execer, query string, args ...interface{}) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// withTx runs fn inside a transaction, committing when fn returns nil.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("SQLStore.withTx: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction failed: %w", err)
	}
	return nil
}
