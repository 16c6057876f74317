// Package store persists accounts, leases, payment attempts, invites,
// notifications and activity entries. Queries are built with the ent SQL
// builder so the same code runs against SQLite and Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/sqlgraph"
	"github.com/google/uuid"

	"github.com/matthewbaird/rentals/internal/apperr"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries the repository methods shared by Store and Tx.
type conn struct {
	q       querier
	dialect string
}

func (c conn) sb() *entsql.DialectBuilder { return entsql.Dialect(c.dialect) }

func (c conn) exec(ctx context.Context, query string, args []any) (int64, error) {
	res, err := c.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Store is the database handle used by the services.
type Store struct {
	conn
	db  *sql.DB
	drv *entsql.Driver
}

// Tx is a Store bound to one database transaction.
type Tx struct {
	conn
}

// Open connects to dsn. DSNs starting with postgres:// or postgresql:// use
// the pgx driver; anything else is treated as a SQLite DSN.
func Open(ctx context.Context, dsn string) (*Store, error) {
	driverName, dialectName := "sqlite", dialect.SQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driverName, dialectName = "pgx", dialect.Postgres
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dialectName == dialect.SQLite {
		db.SetMaxOpenConns(1)
		// SQLite leaves foreign keys off per connection.
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{
		conn: conn{q: db, dialect: dialectName},
		db:   db,
		drv:  entsql.OpenDB(dialectName, db),
	}, nil
}

// OpenInMemory opens a private in-memory SQLite database and migrates it.
func OpenInMemory(ctx context.Context) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	s, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(&Tx{conn: conn{q: sqlTx, dialect: s.dialect}}); err != nil {
		if rerr := sqlTx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back: %v", err, rerr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// mapErr converts driver errors into the domain taxonomy.
func mapErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound("%s not found", what)
	case sqlgraph.IsUniqueConstraintError(err):
		return apperr.Wrap(apperr.CodeConflict, err, what+" already exists")
	}
	return fmt.Errorf("%s: %w", what, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// optional returns nil for empty strings so the column is written as NULL.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
