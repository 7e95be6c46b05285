/*******************************************************************************
 * Copyright (c) 2025 Genome Research Ltd.
 *
 * Permission is hereby granted, free of charge, to any person obtaining
 * a copy of this software and associated documentation files (the
 * "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish,
 * distribute, sublicense, and/or sell copies of the Software, and to
 * permit persons to whom the Software is furnished to do so, subject to
 * the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
 * EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
 * MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
 * CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
 * TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 ******************************************************************************/

// Package catalog is the relational store for plate acquisitions and their
// images.
//
// Every exported operation runs in its own transaction, commits on success
// and rolls back on any error. Uniqueness of acquisitions (by folder) and
// images (by path) is enforced by the database, so any number of pollers may
// write to the same catalog at once.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"

	DefaultQueryTimeout = 30 * time.Second

	pgUniqueViolation = "23505"
)

var (
	ErrAlreadyExists     = errors.New("catalog: already exists")
	ErrIntegrity         = errors.New("catalog: integrity error")
	ErrNotFound          = errors.New("catalog: not found")
	ErrUnsupportedDriver = errors.New("catalog: unsupported driver")
	ErrDSNRequired       = errors.New("catalog: DSN is required")
)

// Config describes how to connect to the catalog database.
type Config struct {
	// Driver is DriverPostgres or DriverSQLite.
	Driver string
	DSN    string

	// MaxOpenConns bounds the connection pool, and so the number of
	// concurrent catalog operations. 0 means no limit.
	MaxOpenConns int
	MaxIdleConns int

	// QueryTimeout bounds every operation; 0 means DefaultQueryTimeout.
	QueryTimeout time.Duration
}

type dialect struct {
	placeholder sq.PlaceholderFormat
	schemaDir   string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres:
		return dialect{placeholder: sq.Dollar, schemaDir: "postgres"}, nil
	case DriverSQLite:
		return dialect{placeholder: sq.Question, schemaDir: "sqlite"}, nil
	default:
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// Store is a connection pool to the catalog database.
type Store struct {
	db      *sql.DB
	sb      sq.StatementBuilderType
	dialect dialect
	timeout time.Duration
}

// Open connects to the database described by cfg and makes sure the schema
// exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, ErrDSNRequired
	}

	if _, err := dialectFor(cfg.Driver); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", cfg.Driver, err)
	}

	s, err := New(db, cfg)
	if err != nil {
		db.Close()

		return nil, err
	}

	if err := s.ping(ctx); err != nil {
		db.Close()

		return nil, err
	}

	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

// New wraps an already open database. The schema is not touched; call
// EnsureSchema if needed.
func New(db *sql.DB, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)

		if cfg.MaxIdleConns <= 0 {
			db.SetMaxIdleConns(cfg.MaxOpenConns)
		}
	}

	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	return &Store{
		db:      db,
		sb:      sq.StatementBuilder.PlaceholderFormat(d.placeholder),
		dialect: d,
		timeout: timeout,
	}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Store) ping(ctx context.Context) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog: ping: %w", err)
	}

	return nil
}

func (s *Store) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// withTx runs fn in a transaction, committing if it returns nil and rolling
// back otherwise. The connection is returned to the pool on every path.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure from
// either supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryRow(ctx context.Context, q queryRower, b sq.Sqlizer, dest ...any) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("catalog: failed to build query: %w", err)
	}

	return q.QueryRowContext(ctx, query, args...).Scan(dest...)
}

func exec(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to build statement: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
