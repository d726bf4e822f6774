// Package dump holds the template every format-specific dumper
// (sqldump, csvdump, jsondump) runs: estimate row count, open a cursor,
// write a preamble, stream rows through a per-format cell encoder, write a
// postamble, and report progress at most once per second.
package dump

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/dbsession"
	"mysqlchump/internal/ddl"
	"mysqlchump/internal/progress"
	"mysqlchump/internal/sqltoken"
	"mysqlchump/internal/textpipe"
)

// Options carries the export flags common to every format.
type Options struct {
	// Select is the row source; "{table}" is substituted with the
	// backtick-quoted table name. Empty means "SELECT * FROM `table`".
	Select string
	// NoCreate, when set, skips CREATE TABLE discovery and passes an
	// empty createSQL to the format.
	NoCreate bool
	// Reporter, if non-nil, receives the running row count at most once
	// per second while rows are written, and once more after the last row.
	Reporter *progress.Reporter
}

// Format is the per-format hook set a dumper implements. RunTemplate calls
// these in sequence for one table; a Multiplexable format may be called
// again for a later table on the same writer without WritePreamble/
// WritePostamble repeating framing that should only appear once (the
// format itself decides what "first"/"last" means for its envelope).
type Format interface {
	// Multiplexable reports whether multiple tables may share one writer.
	Multiplexable() bool
	// WritePreamble writes whatever framing precedes a table's rows.
	// createSQL is the table's canonical CREATE TABLE text (empty if
	// --no-creation was set). first is true only for the first table
	// written to this writer.
	WritePreamble(w *textpipe.PipeTextWriter, table, createSQL string, cols []cellkind.ColumnInfo, approxCount *int64, first bool) error
	// WriteRow encodes one row's cells, in column order.
	WriteRow(w *textpipe.PipeTextWriter, cols []cellkind.ColumnInfo, cells []any, rowIndex int64) error
	// WritePostamble writes whatever framing follows a table's rows.
	// actualCount is the number of rows actually written.
	WritePostamble(w *textpipe.PipeTextWriter, table string, actualCount int64) error
}

// RunTemplate implements the shared dumper algorithm from spec §4.5: best-
// effort row-count estimate, cursor open + schema retrieval, preamble,
// row streaming through f, postamble. first selects whether this is the
// first table written to w (only meaningful for multiplexable formats).
func RunTemplate(ctx context.Context, sess *dbsession.Session, table string, w *textpipe.PipeTextWriter, f Format, opts Options, first bool) error {
	approxCount := sess.ApproxRowCount(ctx, table)

	query := opts.Select
	if query == "" {
		query = fmt.Sprintf("SELECT * FROM %s", dbsession.QuoteIdent(table))
	} else {
		query = strings.ReplaceAll(query, "{table}", dbsession.QuoteIdent(table))
	}

	rows, cols, err := sess.OpenCursor(ctx, query)
	if err != nil {
		return fmt.Errorf("dump: %q: %w", table, err)
	}
	defer rows.Close()

	var createSQL string
	if !opts.NoCreate {
		createSQL, err = canonicalCreateTable(ctx, sess, table)
		if err != nil {
			return fmt.Errorf("dump: %q: %w", table, err)
		}
	}

	if err := f.WritePreamble(w, table, createSQL, cols, approxCount, first); err != nil {
		return fmt.Errorf("dump: %q: preamble: %w", table, err)
	}

	scanDest := make([]any, len(cols))
	scanned := make([]sql.RawBytes, len(cols))
	for i := range scanned {
		scanDest[i] = &scanned[i]
	}

	var rowIndex int64
	lastTick := time.Time{}
	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return fmt.Errorf("dump: %q: row scan: %w", table, err)
		}
		cells := make([]any, len(cols))
		for i, raw := range scanned {
			cells[i] = rawCell(raw)
		}
		if err := f.WriteRow(w, cols, cells, rowIndex); err != nil {
			return fmt.Errorf("dump: %q: row %d: %w", table, rowIndex, err)
		}
		rowIndex++

		if opts.Reporter != nil && time.Since(lastTick) >= time.Second {
			opts.Reporter.Report(table, rowIndex, approxCount)
			lastTick = time.Now()
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("dump: %q: row iteration: %w", table, err)
	}
	if opts.Reporter != nil {
		opts.Reporter.Report(table, rowIndex, approxCount)
	}

	if err := f.WritePostamble(w, table, rowIndex); err != nil {
		return fmt.Errorf("dump: %q: postamble: %w", table, err)
	}
	return nil
}

// canonicalCreateTable fetches the server's CREATE TABLE text and
// re-renders it through internal/ddl's canonical form, so every dump
// format emits the same create statement shape regardless of how the
// server happened to format SHOW CREATE TABLE's output.
func canonicalCreateTable(ctx context.Context, sess *dbsession.Session, table string) (string, error) {
	raw, err := sess.ShowCreateTable(ctx, table)
	if err != nil {
		return "", err
	}
	tok := sqltoken.New(strings.NewReader(raw), 4096)
	parsed, err := ddl.ParseCreateTable(tok)
	if err != nil {
		return "", fmt.Errorf("parsing CREATE TABLE for canonicalization: %w", err)
	}
	return ddl.ToCreateTableSQL(parsed), nil
}

// rawCell converts a driver RawBytes scan result into the closed cell
// value set the format encoders switch on: nil, or a copied []byte (the
// cell's textual or binary content exactly as the driver rendered it;
// sql.RawBytes aliases driver-owned memory invalidated by the next Scan,
// so dumpers never hold cells across a row boundary).
func rawCell(raw sql.RawBytes) any {
	if raw == nil {
		return nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp
}
