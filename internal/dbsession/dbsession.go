// Package dbsession owns the live database connection contract shared by
// dumpers, importers, and the ingest orchestrator: opening a connection,
// discovering a table's column schema, estimating row counts, and running
// the session-setup statement every export/import worker starts with.
package dbsession

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"mysqlchump/internal/cellkind"
)

// SessionSetupSQL forces UTC session semantics and disables the checks
// that would otherwise slow or block a bulk load, per spec's export/import
// session-setup contract (§4.5, §4.7): UTC time zone, auto-commit off,
// unique-checks and foreign-key-checks off.
const SessionSetupSQL = "SET time_zone = '+00:00', autocommit = 0, unique_checks = 0, foreign_key_checks = 0"

// Session wraps one *sql.DB connection with the schema-introspection and
// session-setup helpers the dump/load pipeline needs. It owns exactly one
// connection for the duration of one table's export or import, matching
// spec's "database connections are owned by exactly one worker for the
// duration of one table" resource rule.
type Session struct {
	db *sql.DB
}

// Connect opens a MySQL connection and verifies it with a ping, the same
// two-step contract as apply.Applier.Connect.
func Connect(ctx context.Context, dsn string) (*Session, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbsession: failed to open connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("dbsession: failed to ping: %w; additionally failed to close: %w", err, closeErr)
		}
		return nil, fmt.Errorf("dbsession: failed to ping: %w", err)
	}
	return &Session{db: db}, nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers (e.g. the ingest
// orchestrator's transaction control) that need it directly.
func (s *Session) DB() *sql.DB { return s.db }

// SetupSession runs SessionSetupSQL on this connection.
func (s *Session) SetupSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SessionSetupSQL); err != nil {
		return fmt.Errorf("dbsession: session setup failed: %w", err)
	}
	return nil
}

// Columns returns the ordered column schema for table, in
// information_schema.columns.ordinal_position order, classified into
// cellkind.ColumnInfo values via the driver-reported column_type.
func (s *Session) Columns(ctx context.Context, table string) ([]cellkind.ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT column_name, column_type
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return nil, fmt.Errorf("dbsession: column lookup failed for %q: %w", table, err)
	}
	defer rows.Close()

	var cols []cellkind.ColumnInfo
	for rows.Next() {
		var name, colType sql.NullString
		if err := rows.Scan(&name, &colType); err != nil {
			return nil, fmt.Errorf("dbsession: column scan failed for %q: %w", table, err)
		}
		cols = append(cols, cellkind.NewColumnInfo(name.String, colType.String))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbsession: column iteration failed for %q: %w", table, err)
	}
	return cols, nil
}

// ApproxRowCount returns information_schema's best-effort row estimate for
// table, or nil if the estimate is unavailable. Never blocks ingest: a
// query failure here is swallowed and reported as "unknown" rather than
// propagated, per spec's "row-count queries are best-effort" rule.
func (s *Session) ApproxRowCount(ctx context.Context, table string) *int64 {
	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT table_rows FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?
	`, table).Scan(&count)
	if err != nil || !count.Valid {
		return nil
	}
	return &count.Int64
}

// ListTables returns every base table name in the current database, in
// information_schema's own ordering, for a "--table '*'" export run.
func (s *Session) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("dbsession: table listing failed: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("dbsession: table listing scan failed: %w", err)
		}
		names = append(names, name.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbsession: table listing iteration failed: %w", err)
	}
	return names, nil
}

// TableExists reports whether table exists in the current database.
func (s *Session) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?
	`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("dbsession: table existence check failed for %q: %w", table, err)
	}
	return n > 0, nil
}

// IndexExists reports whether an index or constraint named indexName
// already exists on table, used to make deferred-index replay idempotent.
func (s *Session) IndexExists(ctx context.Context, table, indexName string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?
	`, table, indexName).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("dbsession: index existence check failed for %q.%q: %w", table, indexName, err)
	}
	return n > 0, nil
}

// ShowCreateTable returns the server's own CREATE TABLE statement for
// table, the source text the SQL dumper hands to internal/ddl for
// canonicalization.
func (s *Session) ShowCreateTable(ctx context.Context, table string) (string, error) {
	var name, createSQL sql.NullString
	err := s.db.QueryRowContext(ctx, "SHOW CREATE TABLE "+quoteIdent(table)).Scan(&name, &createSQL)
	if err != nil {
		return "", fmt.Errorf("dbsession: SHOW CREATE TABLE failed for %q: %w", table, err)
	}
	return createSQL.String, nil
}

// OpenCursor runs query (typically a SELECT over one table, possibly
// rewritten via --select) and returns the result rows together with the
// column schema derived from the cursor's own reported types, so a
// user-supplied --select projecting a subset of columns is still
// classified correctly.
func (s *Session) OpenCursor(ctx context.Context, query string) (*sql.Rows, []cellkind.ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("dbsession: cursor query failed: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, nil, fmt.Errorf("dbsession: column type lookup failed: %w", err)
	}
	cols := make([]cellkind.ColumnInfo, len(types))
	for i, ct := range types {
		cols[i] = cellkind.NewColumnInfo(ct.Name(), ct.DatabaseTypeName())
	}
	return rows, cols, nil
}

// Exec runs a single DDL/DML statement, wrapping the error with the
// statement (truncated) for diagnostics.
func (s *Session) Exec(ctx context.Context, stmt string) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("dbsession: statement failed: %w\n  Statement: %s", err, truncate(stmt, 120))
	}
	return nil
}

// QuoteIdent backtick-quotes name for embedding in a statement, doubling
// any embedded backtick.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteIdent(name string) string { return QuoteIdent(name) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
