package store

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/johndauphine/joinkit/internal/field"
)

// Dialect captures the SQL differences between backing stores. Name is
// also the attribute view key fields are negotiated to before their
// column type is chosen.
type Dialect interface {
	// Name returns the dialect name ("sqlite", "postgres", "mssql").
	Name() string

	// DriverName returns the database/sql driver to open.
	DriverName() string

	// PrepareDSN adds driver options to a user-supplied connection string.
	PrepareDSN(conn string) string

	// MaxOpenConns is the connection pool size.
	MaxOpenConns() int

	QuoteIdentifier(name string) string

	// Placeholder returns the bind parameter for the 1-based position i.
	Placeholder(i int) string

	// ColumnType renders the column type for negotiated attributes.
	ColumnType(a field.Attrs) string

	// BindValue converts a record value into what the driver accepts for a
	// column of type t.
	BindValue(v any, t field.Type) any

	// TableExistsQuery counts tables named by the single parameter.
	TableExistsQuery() string

	// IndexesQuery lists index names of the table named by the single
	// parameter.
	IndexesQuery() string

	CreateIndexSQL(index, table, column string) string
	DropTableSQL(table string) string

	// IsEncodingError reports whether err is the server rejecting text
	// that is invalid in the database encoding.
	IsEncodingError(err error) bool
}

var dialects = map[string]Dialect{}
var dialectAliases = map[string]string{}

func registerDialect(d Dialect, aliases ...string) {
	dialects[d.Name()] = d
	for _, a := range aliases {
		dialectAliases[a] = d.Name()
	}
}

func init() {
	registerDialect(&SQLite{}, "sqlite3")
	registerDialect(&Postgres{}, "postgresql", "pg")
	registerDialect(&MSSQL{}, "sqlserver")
}

// GetDialect returns the dialect for a name or alias, nil when unknown.
func GetDialect(name string) Dialect {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := dialectAliases[name]; ok {
		name = canonical
	}
	return dialects[name]
}

// Dialects returns the registered dialect names, sorted.
func Dialects() []string {
	out := make([]string, 0, len(dialects))
	for name := range dialects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SQLite is the default embedded store (modernc.org/sqlite, pure Go).
type SQLite struct{}

func (d *SQLite) Name() string       { return "sqlite" }
func (d *SQLite) DriverName() string { return "sqlite" }

// WAL lets readers run while a conversion holds the write transaction.
// A second writer waits for busy_timeout and then fails with SQLITE_BUSY.
func (d *SQLite) MaxOpenConns() int { return 4 }

func (d *SQLite) PrepareDSN(conn string) string {
	sep := "?"
	if strings.Contains(conn, "?") {
		sep = "&"
	}
	return conn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (d *SQLite) QuoteIdentifier(name string) string { return quoteDouble(name) }
func (d *SQLite) Placeholder(_ int) string           { return "?" }

func (d *SQLite) ColumnType(a field.Attrs) string {
	switch a.Type {
	case field.Numeric:
		return "NUMERIC"
	case field.Real:
		return "REAL"
	case field.Integer, field.OID:
		return "INTEGER"
	case field.Date:
		return "DATE"
	case field.DateTime:
		return "DATETIME"
	case field.Logical:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// BindValue stores times as ISO text so they sort and compare as strings.
func (d *SQLite) BindValue(v any, t field.Type) any {
	tm, ok := v.(time.Time)
	if !ok {
		return v
	}
	if t == field.Date {
		return tm.Format("2006-01-02")
	}
	return tm.Format("2006-01-02 15:04:05")
}

func (d *SQLite) TableExistsQuery() string {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
}

func (d *SQLite) IndexesQuery() string {
	return "SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? ORDER BY name"
}

func (d *SQLite) CreateIndexSQL(index, table, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.QuoteIdentifier(index), d.QuoteIdentifier(table), d.QuoteIdentifier(column))
}

func (d *SQLite) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (d *SQLite) IsEncodingError(error) bool { return false }

// Postgres stores tables in the connection's current schema through the
// pgx database/sql driver.
type Postgres struct{}

func (d *Postgres) Name() string                  { return "postgres" }
func (d *Postgres) DriverName() string            { return "pgx" }
func (d *Postgres) MaxOpenConns() int             { return 4 }
func (d *Postgres) PrepareDSN(conn string) string { return conn }

func (d *Postgres) QuoteIdentifier(name string) string { return quoteDouble(name) }
func (d *Postgres) Placeholder(i int) string           { return "$" + strconv.Itoa(i) }

func (d *Postgres) ColumnType(a field.Attrs) string {
	switch a.Type {
	case field.Numeric:
		if a.Length > 0 && a.Length <= 1000 {
			return fmt.Sprintf("numeric(%d,%d)", a.Length, clampScale(a.Decimals, a.Length))
		}
		return "numeric"
	case field.Real:
		return "double precision"
	case field.Integer, field.OID:
		return "bigint"
	case field.Date:
		return "date"
	case field.DateTime:
		return "timestamp"
	case field.Logical:
		return "boolean"
	default:
		return "text"
	}
}

func (d *Postgres) BindValue(v any, _ field.Type) any { return v }

func (d *Postgres) TableExistsQuery() string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
}

func (d *Postgres) IndexesQuery() string {
	return "SELECT indexname FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1 ORDER BY indexname"
}

func (d *Postgres) CreateIndexSQL(index, table, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.QuoteIdentifier(index), d.QuoteIdentifier(table), d.QuoteIdentifier(column))
}

func (d *Postgres) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

// sqlStateBadEncoding is character_not_in_repertoire.
const sqlStateBadEncoding = "22021"

func (d *Postgres) IsEncodingError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateBadEncoding
}

// MSSQL stores tables in the login's default schema through go-mssqldb.
type MSSQL struct{}

func (d *MSSQL) Name() string                  { return "mssql" }
func (d *MSSQL) DriverName() string            { return "sqlserver" }
func (d *MSSQL) MaxOpenConns() int             { return 4 }
func (d *MSSQL) PrepareDSN(conn string) string { return conn }

func (d *MSSQL) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

const mssqlMaxNVarChar = 4000

func (d *MSSQL) Placeholder(i int) string { return "@p" + strconv.Itoa(i) }

func (d *MSSQL) ColumnType(a field.Attrs) string {
	switch a.Type {
	case field.Numeric:
		if a.Length > 0 && a.Length <= 38 {
			return fmt.Sprintf("decimal(%d,%d)", a.Length, clampScale(a.Decimals, a.Length))
		}
		return "decimal(38,10)"
	case field.Real:
		return "float"
	case field.Integer, field.OID:
		return "bigint"
	case field.Date:
		return "date"
	case field.DateTime:
		return "datetime2"
	case field.Logical:
		return "bit"
	default:
		// nvarchar(max) cannot be an index key.
		if a.Length > 0 && a.Length <= mssqlMaxNVarChar {
			return fmt.Sprintf("nvarchar(%d)", a.Length)
		}
		return "nvarchar(max)"
	}
}

func (d *MSSQL) BindValue(v any, _ field.Type) any { return v }

func (d *MSSQL) TableExistsQuery() string {
	return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1"
}

func (d *MSSQL) IndexesQuery() string {
	return `SELECT i.name FROM sys.indexes i
		JOIN sys.tables t ON i.object_id = t.object_id
		WHERE t.name = @p1 AND i.name IS NOT NULL
		ORDER BY i.name`
}

func (d *MSSQL) CreateIndexSQL(index, table, column string) string {
	return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = %s AND object_id = OBJECT_ID(%s)) CREATE INDEX %s ON %s (%s)",
		"N"+sqlString(index), "N"+sqlString(table),
		d.QuoteIdentifier(index), d.QuoteIdentifier(table), d.QuoteIdentifier(column))
}

func (d *MSSQL) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (d *MSSQL) IsEncodingError(error) bool { return false }

func clampScale(decimals, length int) int {
	if decimals < 0 {
		return 0
	}
	if decimals > length {
		return length
	}
	return decimals
}
