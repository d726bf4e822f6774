// Package load holds the importer-side template shared by sqlload,
// csvload, and jsonload (spec.md §4.6): table preparation (locate or
// synthesize the destination schema, apply option/index rewrites, decide
// whether to create the table) ahead of the row-streaming phase the
// ParallelIngestOrchestrator drives.
package load

import (
	"context"
	"fmt"
	"strings"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/dbsession"
	"mysqlchump/internal/ddl"
	"mysqlchump/internal/sqltoken"
)

// Importer is the operation set the orchestrator drives a table's data
// load through (spec.md §4.6's read_next_table / process_table_creation /
// read_data_sql / read_data_csv). One Importer instance streams a whole
// input (possibly many tables); BeginTable is called once table
// preparation has decided the final destination name and column order.
type Importer interface {
	// ReadNextTable advances to the next table's CREATE TABLE statement.
	// found is false once the input is exhausted. approxRows is a
	// best-effort estimate, nil when the source doesn't carry one.
	ReadNextTable(ctx context.Context) (found bool, createSQL string, approxRows *int64, err error)

	// BeginTable tells the importer the finalized table name and column
	// order (with destination driver types, for type-directed cell
	// conversion) to emit rows against, after table prep may have
	// skipped, renamed, or reordered columns. Returns a *SchemaError when
	// the importer's own source column list can't be reconciled against
	// the destination (e.g. a CSV explicit column list naming an unknown
	// column).
	BeginTable(table string, columns []cellkind.ColumnInfo) error

	// ReadDataSQL returns the next ready-to-execute batch of SQL text
	// (one or more complete statements) and whether more batches follow
	// for the current table.
	ReadDataSQL(ctx context.Context) (batch string, more bool, err error)

	// ReadDataCSV writes the next batch of CSV rows to w (via
	// textpipe.PipeTextWriter's buffered writes) and reports whether more
	// data follows for the current table.
	ReadDataCSV(ctx context.Context, w CSVSink) (more bool, err error)
}

// CSVSink is the subset of *textpipe.PipeTextWriter an Importer needs to
// stream CSV bytes; declared locally so this package doesn't need to
// import textpipe just to name the parameter type in the interface above.
type CSVSink interface {
	Write(chars string) error
}

// SchemaError reports a mismatch between an import source and the
// destination schema that the importer refuses to paper over (e.g. a CSV
// explicit column list that doesn't match the header row).
type SchemaError struct {
	Table   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("load: schema error on table %q: %s", e.Table, e.Message)
}

// UnsupportedFormatError reports a non-standard dump convention an
// importer refuses to guess at: an SQL column-list change mid-batch, a
// JSON envelope with an unsupported version, a CSV row that doesn't
// parse under the active dialect.
type UnsupportedFormatError struct {
	Table   string
	Message string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("load: unsupported format on table %q: %s", e.Table, e.Message)
}

// PrepOptions controls the table-preparation rewrites of spec.md §4.6.1.
type PrepOptions struct {
	// TableFilter is the --table/--tables selection. Empty, or containing
	// "*", matches every table.
	TableFilter []string
	// ForceEngine, when non-empty, rewrites the table's ENGINE option and
	// adds ROW_FORMAT=DYNAMIC.
	ForceEngine string
	// ForceCompressed rewrites ROW_FORMAT=COMPRESSED and drops any
	// engine-specific COMPRESSION option.
	ForceCompressed bool
	// DeferIndexes strips secondary indexes/FKs from the create
	// statement and returns them for post-load replay.
	DeferIndexes bool
	// StripIndexes strips secondary indexes/FKs and discards them
	// entirely (no replay).
	StripIndexes bool
	// NoCreate skips the table entirely when the destination table
	// doesn't already exist.
	NoCreate bool
}

// PreparedTable is the result of Prepare: what to do (if anything) with
// one table.
type PreparedTable struct {
	Table   *ddl.Table
	Matched bool // false: table filtered out, skip data entirely
	// ShouldCreate is true when the destination table doesn't exist and
	// NoCreate wasn't set.
	ShouldCreate bool
	// Skip is true when the table matched the filter but there is
	// nothing to do (doesn't exist and NoCreate was set).
	Skip bool
	// CreateSQL is the (possibly rewritten) statement to execute when
	// ShouldCreate is true.
	CreateSQL string
	// Deferred holds `ALTER TABLE ... ADD <clause>` statements to replay
	// after data load, present only when DeferIndexes was set.
	Deferred []string
}

// Prepare parses createSQL, applies the table-filter/option-rewrite/
// index-deferral rules of spec.md §4.6.1, and checks destination
// existence via sess.
func Prepare(ctx context.Context, sess *dbsession.Session, createSQL string, opts PrepOptions) (*PreparedTable, error) {
	table, err := ddl.ParseCreateTable(sqltoken.New(strings.NewReader(createSQL), 0))
	if err != nil {
		return nil, fmt.Errorf("load: parsing create statement: %w", err)
	}

	if !tableMatches(table.Name, opts.TableFilter) {
		return &PreparedTable{Table: table, Matched: false}, nil
	}

	rewriteOptions(table, opts)

	var deferred []string
	if opts.DeferIndexes || opts.StripIndexes {
		deferred = deferIndexesAndForeignKeys(table, opts.DeferIndexes)
	}

	exists, err := sess.TableExists(ctx, table.Name)
	if err != nil {
		return nil, fmt.Errorf("load: checking destination table %q: %w", table.Name, err)
	}

	prepared := &PreparedTable{Table: table, Matched: true, Deferred: deferred}
	if exists {
		prepared.ShouldCreate = false
		return prepared, nil
	}
	if opts.NoCreate {
		prepared.Skip = true
		return prepared, nil
	}
	prepared.ShouldCreate = true
	prepared.CreateSQL = ddl.ToCreateTableSQL(table) + ";"
	return prepared, nil
}

func tableMatches(name string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == "*" || strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

func rewriteOptions(table *ddl.Table, opts PrepOptions) {
	if opts.ForceEngine != "" {
		table.SetOption("ENGINE", opts.ForceEngine, ddl.OptIdent)
		table.SetOption("ROW_FORMAT", "DYNAMIC", ddl.OptIdent)
	}
	if opts.ForceCompressed {
		table.SetOption("ROW_FORMAT", "COMPRESSED", ddl.OptIdent)
		table.RemoveOption("COMPRESSION")
	}
}

// deferIndexesAndForeignKeys removes every secondary index and foreign key
// from table and, when keep is true, returns the ALTER TABLE statements
// needed to recreate them later. The primary key is never deferred: it is
// structural, not a candidate for post-load replay.
func deferIndexesAndForeignKeys(table *ddl.Table, keep bool) []string {
	var deferred []string
	var kept []ddl.Index
	for _, idx := range table.Indexes {
		if idx.Kind == ddl.IndexPrimary {
			kept = append(kept, idx)
			continue
		}
		if keep {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD %s;", quoteIdentLocal(table.Name), ddl.RenderIndexClause(idx))
			deferred = append(deferred, stmt)
		}
	}
	table.Indexes = kept

	for _, fk := range table.ForeignKeys {
		if keep {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD %s;", quoteIdentLocal(table.Name), ddl.RenderForeignKeyClause(fk))
			deferred = append(deferred, stmt)
		}
	}
	table.ForeignKeys = nil

	return deferred
}

func quoteIdentLocal(name string) string {
	return dbsession.QuoteIdent(name)
}

// ReplayDeferred executes each deferred DDL statement against sess,
// skipping (idempotently) any index or constraint that already exists.
// indexName extracts the identifier MySQL will use for the added
// index/constraint so existence can be checked first; a best-effort
// extraction is enough here since a duplicate-key error from MySQL itself
// is the fallback safety net.
func ReplayDeferred(ctx context.Context, sess *dbsession.Session, table string, statements []string) error {
	for _, stmt := range statements {
		name := indexNameFromAlter(stmt)
		if name != "" {
			exists, err := sess.IndexExists(ctx, table, name)
			if err != nil {
				return fmt.Errorf("load: checking deferred index %q: %w", name, err)
			}
			if exists {
				continue
			}
		}
		if err := sess.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("load: replaying deferred DDL %q: %w", stmt, err)
		}
	}
	return nil
}

// indexNameFromAlter pulls a backtick-quoted identifier following "ADD
// (UNIQUE )?KEY"/"CONSTRAINT" out of a deferred ALTER TABLE statement.
// Returns "" (meaning: skip the existence pre-check, rely on MySQL's own
// duplicate-object error) for unnamed indexes.
func indexNameFromAlter(stmt string) string {
	markers := []string{"CONSTRAINT `", "KEY `"}
	for _, m := range markers {
		if idx := strings.Index(stmt, m); idx >= 0 {
			rest := stmt[idx+len(m):]
			if end := strings.IndexByte(rest, '`'); end >= 0 {
				return rest[:end]
			}
		}
	}
	return ""
}
