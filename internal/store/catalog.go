package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/johndauphine/joinkit/internal/field"
)

// CatalogTable records which file each materialized table was loaded from.
const CatalogTable = "joinkit_sources"

// Stamp identifies the file version a table was loaded from.
type Stamp struct {
	Table   string
	Path    string
	Size    int64
	ModTime time.Time
}

// StampFile stamps path for table from the file's current size and
// modification time.
func StampFile(table, path string) (Stamp, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Stamp{}, fmt.Errorf("stamping %s: %w", path, err)
	}
	return Stamp{Table: table, Path: path, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// SameFile reports whether s and o name the same path at the same version.
func (s Stamp) SameFile(o Stamp) bool {
	return s.Path == o.Path && s.Size == o.Size && s.ModTime.Equal(o.ModTime)
}

// EnsureCatalog creates the catalog table if it does not exist.
func (s *Store) EnsureCatalog(ctx context.Context) error {
	exists, err := s.TableExists(ctx, CatalogTable)
	if err != nil || exists {
		return err
	}
	d := s.dialect
	ddl := fmt.Sprintf("CREATE TABLE %s (%s %s, %s %s, %s %s, %s %s)",
		d.QuoteIdentifier(CatalogTable),
		d.QuoteIdentifier("table_name"), d.ColumnType(field.Attrs{Type: field.Text, Length: 128}),
		d.QuoteIdentifier("source_path"), d.ColumnType(field.Attrs{Type: field.Text, Length: 4000}),
		d.QuoteIdentifier("source_size"), d.ColumnType(field.Attrs{Type: field.Integer}),
		d.QuoteIdentifier("source_mtime"), d.ColumnType(field.Attrs{Type: field.Integer}),
	)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", CatalogTable, err)
	}
	return nil
}

// LookupStamp returns the stamp recorded for table. ok is false when
// there is none.
func (s *Store) LookupStamp(ctx context.Context, table string) (Stamp, bool, error) {
	d := s.dialect
	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = %s",
		d.QuoteIdentifier("source_path"), d.QuoteIdentifier("source_size"), d.QuoteIdentifier("source_mtime"),
		d.QuoteIdentifier(CatalogTable), d.QuoteIdentifier("table_name"), d.Placeholder(1))
	var (
		st    = Stamp{Table: table}
		mtime int64
	)
	err := s.db.QueryRowContext(ctx, query, table).Scan(&st.Path, &st.Size, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return Stamp{}, false, nil
	}
	if err != nil {
		return Stamp{}, false, fmt.Errorf("reading stamp of %s: %w", table, err)
	}
	st.ModTime = time.Unix(0, mtime)
	return st, true, nil
}

// PutStamp replaces the stamp of st.Table on q, typically the transaction
// that loads the table.
func (s *Store) PutStamp(ctx context.Context, q Querier, st Stamp) error {
	if err := s.deleteStamp(ctx, q, st.Table); err != nil {
		return err
	}
	d := s.dialect
	query := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) VALUES (%s, %s, %s, %s)",
		d.QuoteIdentifier(CatalogTable),
		d.QuoteIdentifier("table_name"), d.QuoteIdentifier("source_path"),
		d.QuoteIdentifier("source_size"), d.QuoteIdentifier("source_mtime"),
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4))
	if _, err := q.ExecContext(ctx, query, st.Table, st.Path, st.Size, st.ModTime.UnixNano()); err != nil {
		return fmt.Errorf("stamping %s: %w", st.Table, err)
	}
	return nil
}

// DeleteStamp removes the stamp of table.
func (s *Store) DeleteStamp(ctx context.Context, table string) error {
	return s.deleteStamp(ctx, s.db, table)
}

func (s *Store) deleteStamp(ctx context.Context, q Querier, table string) error {
	d := s.dialect
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		d.QuoteIdentifier(CatalogTable), d.QuoteIdentifier("table_name"), d.Placeholder(1))
	if _, err := q.ExecContext(ctx, query, table); err != nil {
		return fmt.Errorf("clearing stamp of %s: %w", table, err)
	}
	return nil
}
