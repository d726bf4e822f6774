// Package main contains the cli implementation of the tool. It uses cobra
// package for cli tool implementation.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"mysqlchump/internal/cli"
	"mysqlchump/internal/config"
	"mysqlchump/internal/dbsession"
	"mysqlchump/internal/ingest"
	"mysqlchump/internal/progress"
)

type exportFlags struct {
	dsn          string
	profile      string
	tables       []string
	format       string
	selectQuery  string
	noCreate     bool
	truncate     bool
	insertIgnore bool
	csvHeader    bool
	csvMySQLMode bool
	timeout      int
}

type importFlags struct {
	dsn           string
	profile       string
	format        string
	table         string
	tables        []string
	noCreate      bool
	truncate      bool
	appendMode    bool
	insertIgnore  bool
	csvHeader     bool
	csvColumns    []string
	csvFixInvalid bool
	deferIndexes  bool
	stripIndexes  bool
	setInnoDB     bool
	setCompressed bool
	workers       int
	mechanism     string
	timeout       int
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "chump",
		Short: "Streaming MySQL dump/load tool",
	}

	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func exportCmd() *cobra.Command {
	flags := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export <target>",
		Short: "Dump one or more tables out of a MySQL database",
		Long: `Export streams one or more tables from a MySQL database into target
(a file path, or "-" for stdout) in the chosen format.

Examples:
  chump export dump.sql --dsn "user:pass@tcp(localhost:3306)/mydb" --table '*'
  chump export - --dsn "..." --table widgets --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runExport(args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.dsn, "dsn", "", "Database connection string")
	cmd.Flags().StringVar(&flags.profile, "profile", "", "TOML connection profile file")
	cmd.Flags().StringSliceVar(&flags.tables, "table", nil, "Table to export (repeatable); '*' exports every table")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "sql", "Output format: sql, csv, or json")
	cmd.Flags().StringVar(&flags.selectQuery, "select", "", `Row source with "{table}" substituted, e.g. "SELECT * FROM {table} WHERE id > 0"`)
	cmd.Flags().BoolVar(&flags.noCreate, "no-creation", false, "Skip CREATE TABLE statements")
	cmd.Flags().BoolVar(&flags.truncate, "truncate", false, "Emit TRUNCATE TABLE before each table's rows (sql format)")
	cmd.Flags().BoolVar(&flags.insertIgnore, "insert-ignore", false, "Use INSERT IGNORE (sql format)")
	cmd.Flags().BoolVar(&flags.csvHeader, "csv-header", false, "Write a CSV header row")
	cmd.Flags().BoolVar(&flags.csvMySQLMode, "csv-mysql-mode", false, "Use MySQL-compatible CSV escaping")
	cmd.Flags().IntVar(&flags.timeout, "timeout", 0, "Timeout in seconds for the whole run (0 = no timeout)")

	return cmd
}

func runExport(target string, flags *exportFlags) error {
	profile, err := config.Load(flags.profile)
	if err != nil {
		return err
	}
	dsn := config.MergeString(flags.dsn, "", profile.DSN)
	if dsn == "" {
		return fmt.Errorf("--dsn is required (or set it via --profile)")
	}
	format := config.MergeString(flags.format, "sql", profile.Format)

	if flags.selectQuery != "" {
		if err := cli.ValidateSelect(strings.ReplaceAll(flags.selectQuery, "{table}", "`_placeholder_`")); err != nil {
			return err
		}
	}

	ctx, cancel := withOptionalTimeout(flags.timeout)
	defer cancel()

	sess, err := dbsession.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer sess.Close()
	if err := sess.SetupSession(ctx); err != nil {
		return err
	}

	out, closeOut, err := openOutput(target)
	if err != nil {
		return err
	}
	defer closeOut()

	return cli.RunExport(ctx, sess, out, flags.tables, cli.ExportOptions{
		Format:       format,
		Select:       flags.selectQuery,
		NoCreate:     flags.noCreate,
		Truncate:     flags.truncate,
		InsertIgnore: flags.insertIgnore,
		CSVHeader:    flags.csvHeader,
		CSVMySQLMode: flags.csvMySQLMode,
		Reporter:     progress.New(os.Stderr, time.Second),
	})
}

func importCmd() *cobra.Command {
	flags := &importFlags{}
	cmd := &cobra.Command{
		Use:   "import <source>",
		Short: "Load a dump file into a MySQL database",
		Long: `Import streams source (a file path, or "-" for stdin) into a MySQL
database, creating destination tables unless they already exist.

Examples:
  chump import dump.sql --dsn "user:pass@tcp(localhost:3306)/mydb"
  chump import widgets.csv --dsn "..." --format csv --table widgets --csv-header`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runImport(args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.dsn, "dsn", "", "Database connection string")
	cmd.Flags().StringVar(&flags.profile, "profile", "", "TOML connection profile file")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "sql", "Input format: sql, csv, or json")
	cmd.Flags().StringVar(&flags.table, "table", "", "Destination table name (required for csv)")
	cmd.Flags().StringSliceVar(&flags.tables, "tables", nil, "Tables to import (repeatable); default is every table in the source")
	cmd.Flags().BoolVar(&flags.noCreate, "no-creation", false, "Never CREATE TABLE; skip tables that don't already exist")
	cmd.Flags().BoolVar(&flags.truncate, "truncate", false, "TRUNCATE each destination table before loading")
	cmd.Flags().BoolVar(&flags.appendMode, "append", false, "Append to existing data even if --truncate is set")
	cmd.Flags().BoolVar(&flags.insertIgnore, "insert-ignore", false, "Use INSERT IGNORE / LOAD DATA ... IGNORE")
	cmd.Flags().BoolVar(&flags.csvHeader, "csv-header", false, "Read column names from the CSV header row")
	cmd.Flags().StringSliceVar(&flags.csvColumns, "csv-columns", nil, "Explicit CSV column list (when --csv-header is not set)")
	cmd.Flags().BoolVar(&flags.csvFixInvalid, "csv-fix-invalid", false, "Tolerate MySQL-dialect quote escaping in CSV input")
	cmd.Flags().BoolVar(&flags.deferIndexes, "defer-indexes", false, "Create secondary indexes/foreign keys after data load")
	cmd.Flags().BoolVar(&flags.stripIndexes, "strip-indexes", false, "Drop secondary indexes/foreign keys entirely")
	cmd.Flags().BoolVar(&flags.setInnoDB, "set-innodb", false, "Force ENGINE=InnoDB, ROW_FORMAT=DYNAMIC")
	cmd.Flags().BoolVar(&flags.setCompressed, "set-compressed", false, "Force ROW_FORMAT=COMPRESSED")
	cmd.Flags().IntVarP(&flags.workers, "parallelism", "p", 4, "Number of concurrent ingest workers")
	cmd.Flags().StringVar(&flags.mechanism, "mechanism", "sql-statements", "Ingest mechanism: sql-statements or load-infile")
	cmd.Flags().IntVar(&flags.timeout, "timeout", 0, "Timeout in seconds for the whole run (0 = no timeout)")

	return cmd
}

func runImport(source string, flags *importFlags) error {
	profile, err := config.Load(flags.profile)
	if err != nil {
		return err
	}
	dsn := config.MergeString(flags.dsn, "", profile.DSN)
	if dsn == "" {
		return fmt.Errorf("--dsn is required (or set it via --profile)")
	}
	format := config.MergeString(flags.format, "sql", profile.Format)
	workers := config.MergeInt(flags.workers, 4, profile.Parallelism)

	mechanism, err := parseMechanism(config.MergeString(flags.mechanism, "sql-statements", profile.Mechanism))
	if err != nil {
		return err
	}

	var forceEngine string
	if flags.setInnoDB {
		forceEngine = "InnoDB"
	}

	ctx, cancel := withOptionalTimeout(flags.timeout)
	defer cancel()

	sess, err := dbsession.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer sess.Close()
	if err := sess.SetupSession(ctx); err != nil {
		return err
	}

	in, closeIn, err := openInput(source)
	if err != nil {
		return err
	}
	defer closeIn()

	return cli.RunImport(ctx, sess, dsn, in, cli.ImportOptions{
		Format:          format,
		Table:           flags.table,
		TableFilter:     flags.tables,
		NoCreate:        flags.noCreate,
		Truncate:        flags.truncate && !flags.appendMode,
		InsertIgnore:    flags.insertIgnore,
		CSVHeader:       flags.csvHeader,
		CSVExplicitCols: flags.csvColumns,
		CSVFixInvalid:   flags.csvFixInvalid,
		DeferIndexes:    flags.deferIndexes,
		StripIndexes:    flags.stripIndexes,
		ForceEngine:     forceEngine,
		ForceCompressed: flags.setCompressed,
		Workers:         workers,
		Mechanism:       mechanism,
		Reporter:        progress.New(os.Stderr, time.Second),
	})
}

func parseMechanism(name string) (ingest.Mechanism, error) {
	switch strings.ToLower(name) {
	case "", "sql-statements":
		return ingest.SqlStatements, nil
	case "load-infile":
		return ingest.LoadInfile, nil
	default:
		return 0, fmt.Errorf("unknown --mechanism %q (want sql-statements or load-infile)", name)
	}
}

func withOptionalTimeout(seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(seconds)*time.Second)
}

func openOutput(target string) (io.Writer, func(), error) {
	if target == "" || target == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file %q: %w", target, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openInput(source string) (io.Reader, func(), error) {
	if source == "" || source == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, nil, fmt.Errorf("opening input file %q: %w", source, err)
	}
	return f, func() { _ = f.Close() }, nil
}
