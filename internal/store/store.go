// Package store is the relational backing store that materialized tables
// are loaded into. SQLite is the default; PostgreSQL and SQL Server work
// through the same Dialect interface.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/logging"
)

// ErrNoColumn means a field has no backing column yet, so it cannot be
// indexed or selected.
var ErrNoColumn = errors.New("field has no backing column")

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is an open backing store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the store named by dialect ("sqlite", "postgres",
// "mssql" or an alias). conn is a file path for sqlite and a DSN otherwise.
func Open(ctx context.Context, dialect, conn string) (*Store, error) {
	d := GetDialect(dialect)
	if d == nil {
		return nil, fmt.Errorf("unknown store dialect %q (valid: %s)", dialect, strings.Join(Dialects(), ", "))
	}

	db, err := sql.Open(d.DriverName(), d.PrepareDSN(conn))
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", d.Name(), err)
	}
	db.SetMaxOpenConns(d.MaxOpenConns())
	db.SetMaxIdleConns(d.MaxOpenConns())
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s store: %w", d.Name(), err)
	}
	logging.Debug("Opened %s store", d.Name())
	return &Store{db: db, dialect: d}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// BeginTx starts a transaction.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// TableExists reports whether table exists.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	return s.TableExistsWith(ctx, s.db, table)
}

// TableExistsWith is TableExists on q, typically an open transaction.
func (s *Store) TableExistsWith(ctx context.Context, q Querier, table string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, s.dialect.TableExistsQuery(), table).Scan(&n); err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

// RowCount returns the number of rows in table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	query := "SELECT COUNT(*) FROM " + s.dialect.QuoteIdentifier(table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows of %s: %w", table, err)
	}
	return n, nil
}

// DropTable drops table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.DropTableSQL(table)); err != nil {
		return fmt.Errorf("dropping %s: %w", table, err)
	}
	return nil
}

// CreateTableSQL renders CREATE TABLE for fields whose Column is set. Each
// column type comes from the field negotiated to the dialect.
func (s *Store) CreateTableSQL(table string, fields []*field.Field) (string, error) {
	cols := make([]string, len(fields))
	for i, f := range fields {
		if f.Column == "" {
			return "", fmt.Errorf("%w: %s", ErrNoColumn, f.OriginalName)
		}
		attrs := field.Negotiate(f, s.dialect.Name()).Attrs()
		cols[i] = s.dialect.QuoteIdentifier(f.Column) + " " + s.dialect.ColumnType(attrs)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", s.dialect.QuoteIdentifier(table), strings.Join(cols, ", ")), nil
}

// InsertSQL renders a parameterized single-row INSERT.
func (s *Store) InsertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.QuoteIdentifier(c)
		params[i] = s.dialect.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// Select streams the given columns of table in insertion order where the
// store keeps one.
func (s *Store) Select(ctx context.Context, table string, columns []string) (*sql.Rows, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.QuoteIdentifier(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), s.dialect.QuoteIdentifier(table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", table, err)
	}
	return rows, nil
}
