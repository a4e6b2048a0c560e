// Package sqlstore is the SQL-backed uow.UnitOfWork implementation
// (spec.md section 4.1), grounded on graph/store/sqlite.go and
// graph/store/mysql.go: one *sql.Tx per logical operation, CREATE TABLE IF
// NOT EXISTS migrations run on open, fmt.Errorf-wrapped errors throughout.
// It supports three dialects (SQLite via modernc.org/sqlite, MySQL via
// go-sql-driver/mysql, Postgres via lib/pq) behind a single Dialect
// abstraction so the repository code itself stays driver-agnostic.
package sqlstore

import "fmt"

// Dialect isolates the handful of things that differ between SQL
// backends: placeholder syntax, upsert syntax, and autoincrement type.
type Dialect interface {
	// Name identifies the dialect for logging/error messages.
	Name() string
	// Placeholder returns the positional-parameter token for the nth
	// (1-based) bind variable: "?" for SQLite/MySQL, "$n" for Postgres.
	Placeholder(n int) string
	// AutoIncrementPK returns the column-type clause for an
	// auto-incrementing integer primary key.
	AutoIncrementPK() string
	// UpsertIgnore returns the clause appended to an INSERT to make it a
	// no-op on conflict with the given unique column(s).
	UpsertIgnore(conflictCols ...string) string
	// BlobType returns the column type for variable-length binary data.
	BlobType() string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                 { return "sqlite" }
func (sqliteDialect) Placeholder(int) string        { return "?" }
func (sqliteDialect) AutoIncrementPK() string        { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqliteDialect) UpsertIgnore(cols ...string) string {
	return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", joinCols(cols))
}
func (sqliteDialect) BlobType() string { return "BLOB" }

type mysqlDialect struct{}

func (mysqlDialect) Name() string          { return "mysql" }
func (mysqlDialect) Placeholder(int) string { return "?" }
func (mysqlDialect) AutoIncrementPK() string { return "BIGINT PRIMARY KEY AUTO_INCREMENT" }
func (mysqlDialect) UpsertIgnore(cols ...string) string {
	return "ON DUPLICATE KEY UPDATE hash=hash"
}
func (mysqlDialect) BlobType() string { return "LONGBLOB" }

type postgresDialect struct{}

func (postgresDialect) Name() string           { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) AutoIncrementPK() string  { return "BIGSERIAL PRIMARY KEY" }
func (postgresDialect) UpsertIgnore(cols ...string) string {
	return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", joinCols(cols))
}
func (postgresDialect) BlobType() string { return "BYTEA" }

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// SQLite, MySQL, Postgres are the three supported dialects.
var (
	SQLite   Dialect = sqliteDialect{}
	MySQL    Dialect = mysqlDialect{}
	Postgres Dialect = postgresDialect{}
)
