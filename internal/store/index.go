package store

import (
	"context"
	"fmt"

	"github.com/johndauphine/joinkit/internal/field"
	"github.com/johndauphine/joinkit/internal/logging"
)

// TableName is the materialized table for an alias.
func TableName(alias string) string {
	return "table_" + alias
}

// ColumnName is the backing column for a source field under an alias.
func ColumnName(alias, originalName string) string {
	return alias + "_" + originalName
}

// IndexName is the secondary index built over a column.
func IndexName(column string) string {
	return column + "_index"
}

// EnsureIndex builds a secondary index over f's backing column unless it
// already exists, and returns the index name. Repeated calls are no-ops.
func (s *Store) EnsureIndex(ctx context.Context, table string, f *field.Field) (string, error) {
	if f == nil || f.Column == "" {
		name := ""
		if f != nil {
			name = f.OriginalName
		}
		return "", fmt.Errorf("indexing %s.%s: %w", table, name, ErrNoColumn)
	}
	index := IndexName(f.Column)
	if _, err := s.db.ExecContext(ctx, s.dialect.CreateIndexSQL(index, table, f.Column)); err != nil {
		return "", fmt.Errorf("creating index %s: %w", index, err)
	}
	logging.Debug("Ensured index %s on %s", index, table)
	return index, nil
}

// Indexes lists the index names defined on table, sorted.
func (s *Store) Indexes(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.IndexesQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("listing indexes of %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
