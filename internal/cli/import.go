package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"mysqlchump/internal/dbsession"
	"mysqlchump/internal/ingest"
	"mysqlchump/internal/jsontoken"
	"mysqlchump/internal/load"
	"mysqlchump/internal/load/csvload"
	"mysqlchump/internal/load/jsonload"
	"mysqlchump/internal/load/sqlload"
	"mysqlchump/internal/progress"
	"mysqlchump/internal/sqltoken"
)

// ImportOptions carries the import subcommand's flags (spec.md §6).
type ImportOptions struct {
	Format string // "sql", "csv", or "json"
	// Table is the destination table name for a schemaless CSV source,
	// where the input carries no CREATE TABLE of its own.
	Table string
	// TableFilter is the --table/--tables selection applied to a
	// multi-table SQL or JSON source; empty matches every table.
	TableFilter []string

	NoCreate        bool
	Truncate        bool
	InsertIgnore    bool
	CSVHeader       bool
	CSVExplicitCols []string
	CSVFixInvalid   bool

	DeferIndexes    bool
	StripIndexes    bool
	ForceEngine     string
	ForceCompressed bool

	Workers   int
	Mechanism ingest.Mechanism
	Reporter  *progress.Reporter
}

// RunImport streams tables out of r and into sess's database, one table
// at a time: load.Prepare decides whether/how to create each destination
// table, then internal/ingest.Run drives the parallel data load.
func RunImport(ctx context.Context, sess *dbsession.Session, dsn string, r io.Reader, opts ImportOptions) error {
	imp, err := newLoadImporter(r, opts)
	if err != nil {
		return err
	}

	prepOpts := load.PrepOptions{
		TableFilter:     opts.TableFilter,
		ForceEngine:     opts.ForceEngine,
		ForceCompressed: opts.ForceCompressed,
		DeferIndexes:    opts.DeferIndexes,
		StripIndexes:    opts.StripIndexes,
		NoCreate:        opts.NoCreate,
	}

	for {
		found, createSQL, _, err := imp.ReadNextTable(ctx)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		if createSQL == "" {
			// A schemaless source (csvload always reports one table with an
			// empty create statement): there is no CREATE TABLE text to run
			// load.Prepare's filter/rewrite logic over, so the destination
			// table must already exist.
			if opts.Table == "" {
				return fmt.Errorf("cli: --table is required when importing a schemaless CSV source")
			}
			if err := importIntoExistingTable(ctx, sess, dsn, opts.Table, imp, opts); err != nil {
				return err
			}
			continue
		}

		prepared, err := load.Prepare(ctx, sess, createSQL, prepOpts)
		if err != nil {
			return err
		}
		if !prepared.Matched || prepared.Skip {
			if err := drainTable(ctx, imp); err != nil {
				return err
			}
			continue
		}

		if prepared.ShouldCreate {
			if err := sess.Exec(ctx, prepared.CreateSQL); err != nil {
				return err
			}
		}
		if opts.Truncate {
			if err := sess.Exec(ctx, "TRUNCATE TABLE "+dbsession.QuoteIdent(prepared.Table.Name)); err != nil {
				return err
			}
		}

		destCols, err := sess.Columns(ctx, prepared.Table.Name)
		if err != nil {
			return err
		}
		if err := imp.BeginTable(prepared.Table.Name, destCols); err != nil {
			return err
		}
		if err := ingest.Run(ctx, prepared.Table.Name, destCols, imp, ingestOptions(dsn, opts)); err != nil {
			return err
		}
		if err := load.ReplayDeferred(ctx, sess, prepared.Table.Name, prepared.Deferred); err != nil {
			return err
		}
	}
}

func importIntoExistingTable(ctx context.Context, sess *dbsession.Session, dsn, table string, imp load.Importer, opts ImportOptions) error {
	exists, err := sess.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("cli: destination table %q does not exist and the CSV source carries no schema to create it from", table)
	}
	if opts.Truncate {
		if err := sess.Exec(ctx, "TRUNCATE TABLE "+dbsession.QuoteIdent(table)); err != nil {
			return err
		}
	}
	destCols, err := sess.Columns(ctx, table)
	if err != nil {
		return err
	}
	if err := imp.BeginTable(table, destCols); err != nil {
		return err
	}
	return ingest.Run(ctx, table, destCols, imp, ingestOptions(dsn, opts))
}

func ingestOptions(dsn string, opts ImportOptions) ingest.Options {
	return ingest.Options{
		DSN:       dsn,
		Workers:   opts.Workers,
		Mechanism: opts.Mechanism,
		Ignore:    opts.InsertIgnore,
		Reporter:  opts.Reporter,
	}
}

// drainTable consumes a table's remaining data batches without applying
// them, advancing a multi-table SQL or JSON importer past a table that
// load.Prepare decided to skip.
func drainTable(ctx context.Context, imp load.Importer) error {
	for {
		_, more, err := imp.ReadDataSQL(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func newLoadImporter(r io.Reader, opts ImportOptions) (load.Importer, error) {
	switch strings.ToLower(opts.Format) {
	case "", "sql":
		im := sqlload.New(sqltoken.New(r, 0))
		im.InsertIgnore = opts.InsertIgnore
		return im, nil
	case "csv":
		im := csvload.New(r)
		im.Header = opts.CSVHeader
		im.ExplicitColumns = opts.CSVExplicitCols
		im.FixInvalid = opts.CSVFixInvalid
		return im, nil
	case "json":
		return jsonload.New(jsontoken.New(r, 0)), nil
	default:
		return nil, fmt.Errorf("cli: unknown import format %q", opts.Format)
	}
}
