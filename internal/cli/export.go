// Package cli implements the export/import subcommands' collaborator
// logic (spec.md §6): resolving the table filter, picking a dump/load
// format, and driving internal/dump, internal/load, and internal/ingest
// for cmd/chump's RunE handlers. It mirrors cmd/smf/main.go's split
// between a thin cobra layer and small run* functions, generalized so
// the run* functions live here instead of in cmd/chump/main.go itself.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"mysqlchump/internal/dbsession"
	"mysqlchump/internal/dump"
	"mysqlchump/internal/dump/csvdump"
	"mysqlchump/internal/dump/jsondump"
	"mysqlchump/internal/dump/sqldump"
	"mysqlchump/internal/progress"
	"mysqlchump/internal/textpipe"
)

// ExportOptions carries the export subcommand's flags (spec.md §6).
type ExportOptions struct {
	Format       string // "sql", "csv", or "json"
	Select       string
	NoCreate     bool
	Truncate     bool
	InsertIgnore bool
	CSVHeader    bool
	CSVMySQLMode bool
	Reporter     *progress.Reporter
}

// RunExport resolves tableFilter against sess (expanding a "*" entry to
// every base table) and streams each matched table through the chosen
// format to w.
func RunExport(ctx context.Context, sess *dbsession.Session, w io.Writer, tableFilter []string, opts ExportOptions) (err error) {
	tables, err := resolveExportTables(ctx, sess, tableFilter)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return fmt.Errorf("cli: no tables matched %v", tableFilter)
	}

	format, err := newDumpFormat(opts)
	if err != nil {
		return err
	}
	if !format.Multiplexable() && len(tables) > 1 {
		return fmt.Errorf("cli: %s format can only export one table at a time, got %d", opts.Format, len(tables))
	}

	pw := textpipe.NewPipeTextWriter(w, 0)
	defer func() {
		if closeErr := pw.Close(); err == nil {
			err = closeErr
		}
	}()

	dumpOpts := dump.Options{Select: opts.Select, NoCreate: opts.NoCreate, Reporter: opts.Reporter}
	for i, table := range tables {
		if err = dump.RunTemplate(ctx, sess, table, pw, format, dumpOpts, i == 0); err != nil {
			return err
		}
	}

	if closer, ok := format.(interface {
		Close(w *textpipe.PipeTextWriter) error
	}); ok {
		if err = closer.Close(pw); err != nil {
			return fmt.Errorf("cli: closing envelope: %w", err)
		}
	}
	return nil
}

// resolveExportTables expands a "*" entry in filter into every base table
// sess can see, and passes any other entries through verbatim.
func resolveExportTables(ctx context.Context, sess *dbsession.Session, filter []string) ([]string, error) {
	if len(filter) == 0 {
		return nil, fmt.Errorf("cli: no --table given")
	}
	var explicit []string
	wantsAll := false
	for _, f := range filter {
		if f == "*" {
			wantsAll = true
			continue
		}
		explicit = append(explicit, f)
	}
	if !wantsAll {
		return explicit, nil
	}
	all, err := sess.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return all, nil
}

func newDumpFormat(opts ExportOptions) (dump.Format, error) {
	switch strings.ToLower(opts.Format) {
	case "", "sql":
		return &sqldump.Format{Truncate: opts.Truncate, InsertIgnore: opts.InsertIgnore}, nil
	case "csv":
		return &csvdump.Format{Header: opts.CSVHeader, MySQLMode: opts.CSVMySQLMode}, nil
	case "json":
		return &jsondump.Format{}, nil
	default:
		return nil, fmt.Errorf("cli: unknown export format %q", opts.Format)
	}
}
