// Package ingest implements the ParallelIngestOrchestrator (spec.md §4.7):
// given an already-positioned load.Importer and a target table, it drives
// N worker connections through one of two ingest mechanisms — bounded-
// channel SQL statement execution, or native bulk-loading over
// backpressured byte pipes — with per-worker transactions and a shared
// one-permit lock serializing session setup and commit.
package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/dbsession"
	"mysqlchump/internal/load"
	"mysqlchump/internal/progress"
	"mysqlchump/internal/textpipe"
)

// Mechanism selects an ingest strategy (spec.md §4.7).
type Mechanism int

const (
	// SqlStatements executes rewritten INSERT statements over a bounded
	// channel, one worker transaction per connection.
	SqlStatements Mechanism = iota
	// LoadInfile streams CSV bytes through backpressured pipes into a
	// native LOAD DATA LOCAL INFILE bulk-loader per connection.
	LoadInfile
)

// pipeHighWaterMark and pipeLowWaterMark are the byte-pipe watermarks
// spec.md §4.7 specifies for the LoadInfile path: writes suspend at 1 MiB
// queued, resuming once drained to 512 KiB.
const (
	pipeHighWaterMark = 1 << 20
	pipeLowWaterMark  = 512 << 10
)

// producerSpinWait is how long the LoadInfile producer sleeps when every
// pipe is currently backpressured, per spec.md §4.7.
const producerSpinWait = 2 * time.Millisecond

// Options controls one Run call.
type Options struct {
	// DSN opens one connection per worker; Run never reuses the caller's
	// own session, since spec.md §5 requires each worker to own its
	// connection for the duration of the table.
	DSN string
	// Workers is the worker/connection count N; fewer than 1 is treated
	// as 1.
	Workers int
	// Mechanism selects SqlStatements or LoadInfile.
	Mechanism Mechanism
	// Ignore requests conflict-tolerant inserts: INSERT IGNORE for the
	// SqlStatements path, LOAD DATA ... IGNORE for the LoadInfile path.
	Ignore bool
	// Reporter, if non-nil, receives a best-effort progress tick per
	// batch routed to a worker.
	Reporter *progress.Reporter
}

// Run drives imp's remaining rows for table into the destination via
// opts.Mechanism, awaiting every worker before returning (spec.md §5:
// "the orchestrator always awaits all worker tasks before returning").
// The importer must already have had BeginTable called for table.
func Run(ctx context.Context, table string, columns []cellkind.ColumnInfo, imp load.Importer, opts Options) error {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	switch opts.Mechanism {
	case LoadInfile:
		return runLoadInfile(ctx, table, columns, imp, opts, workers)
	default:
		return runSQLStatements(ctx, table, imp, opts, workers)
	}
}

// --- SqlStatements path -----------------------------------------------------

func runSQLStatements(ctx context.Context, table string, imp load.Importer, opts Options, workers int) error {
	ch := make(chan string, 2)
	var setupMu sync.Mutex
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			errs[worker] = runSQLWorker(ctx, worker, opts.DSN, opts.Ignore, ch, &setupMu)
		}(i)
	}

	producerErr := runSQLProducer(ctx, table, imp, ch, opts.Reporter)
	wg.Wait()

	if producerErr != nil {
		return producerErr
	}
	for i, e := range errs {
		if e != nil {
			return &WorkerError{Worker: i, Err: e}
		}
	}
	return nil
}

// runSQLProducer repeatedly calls imp.ReadDataSQL, routing each batch into
// ch, and closes ch once the importer reports no more batches — the
// producer side of spec.md §4.7's SqlStatements path.
func runSQLProducer(ctx context.Context, table string, imp load.Importer, ch chan<- string, reporter *progress.Reporter) error {
	defer close(ch)
	var batches int64
	for {
		batch, more, err := imp.ReadDataSQL(ctx)
		if err != nil {
			return err
		}
		if batch != "" {
			select {
			case ch <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
			batches++
			if reporter != nil {
				reporter.Report(table, batches, nil)
			}
		}
		if !more {
			return nil
		}
	}
}

// runSQLWorker opens its own connection, serializes session setup and
// final commit behind setupMu (spec.md §5's shared one-permit lock), and
// executes every batch it reads from ch inside one transaction.
func runSQLWorker(ctx context.Context, worker int, dsn string, ignore bool, ch <-chan string, setupMu *sync.Mutex) error {
	sess, err := dbsession.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer sess.Close()

	setupMu.Lock()
	tx, err := sess.DB().BeginTx(ctx, nil)
	if err == nil {
		_, err = tx.ExecContext(ctx, dbsession.SessionSetupSQL)
	}
	setupMu.Unlock()
	if err != nil {
		return fmt.Errorf("session setup: %w", err)
	}

	for stmt := range ch {
		if ignore {
			stmt = forceInsertIgnore(stmt)
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing batch: %w", err)
		}
	}

	setupMu.Lock()
	err = tx.Commit()
	setupMu.Unlock()
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// forceInsertIgnore rewrites a leading "INSERT INTO" into "INSERT IGNORE
// INTO", for --insert-ignore runs against importers (csvload, jsonload)
// that don't already parametrize the verb the way sqlload.Importer does.
func forceInsertIgnore(stmt string) string {
	const from = "INSERT INTO"
	const to = "INSERT IGNORE INTO"
	if strings.HasPrefix(stmt, to) {
		return stmt
	}
	if strings.HasPrefix(stmt, from) {
		return to + stmt[len(from):]
	}
	return stmt
}

// --- LoadInfile path ---------------------------------------------------------

func runLoadInfile(ctx context.Context, table string, columns []cellkind.ColumnInfo, imp load.Importer, opts Options, workers int) error {
	pipes := make([]*textpipe.Pipe, workers)
	writers := make([]*textpipe.PipeTextWriter, workers)
	readerNames := make([]string, workers)
	for i := range pipes {
		pipes[i] = textpipe.NewPipe(pipeHighWaterMark, pipeLowWaterMark)
		writers[i] = textpipe.NewPipeTextWriter(pipes[i], 0)
		readerNames[i] = fmt.Sprintf("mysqlchump-ingest-%s-%d", table, i)
		mysql.RegisterReaderHandler(readerNames[i], readerHandlerFor(pipes[i]))
	}
	defer func() {
		for _, name := range readerNames {
			mysql.DeregisterReaderHandler(name)
		}
	}()

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			errs[worker] = runLoadInfileWorker(ctx, worker, opts.DSN, table, columns, readerNames[worker], opts.Ignore)
		}(i)
	}

	producerErr := runLoadInfileProducer(ctx, table, imp, pipes, writers, opts.Reporter)
	wg.Wait()

	if producerErr != nil {
		return producerErr
	}
	for i, e := range errs {
		if e != nil {
			return &WorkerError{Worker: i, Err: e}
		}
	}
	return nil
}

func readerHandlerFor(p *textpipe.Pipe) func() io.Reader {
	return func() io.Reader { return p }
}

// runLoadInfileProducer iterates pipes round-robin, routing each
// read_data_csv batch to the first pipe that isn't currently
// backpressured (spin-waiting producerSpinWait when every pipe is at its
// high-water mark), then soft-flushing it. Once the importer reports no
// more rows, every pipe is completed so its bulk-loader sees end of data.
func runLoadInfileProducer(ctx context.Context, table string, imp load.Importer, pipes []*textpipe.Pipe, writers []*textpipe.PipeTextWriter, reporter *progress.Reporter) error {
	n := len(pipes)
	idx := 0
	var batches int64

	for {
		chosen := -1
		for i := 0; i < n; i++ {
			cand := (idx + i) % n
			if pipes[cand].Pending() < pipeHighWaterMark {
				chosen = cand
				break
			}
		}
		if chosen == -1 {
			select {
			case <-ctx.Done():
				return completeAll(pipes, writers, ctx.Err())
			case <-time.After(producerSpinWait):
			}
			continue
		}

		more, err := imp.ReadDataCSV(ctx, writers[chosen])
		if err != nil {
			return completeAll(pipes, writers, err)
		}
		if err := writers[chosen].Flush(true); err != nil {
			return completeAll(pipes, writers, err)
		}
		batches++
		if reporter != nil {
			reporter.Report(table, batches, nil)
		}
		idx = (chosen + 1) % n

		if !more {
			return completeAll(pipes, writers, nil)
		}
	}
}

// completeAll closes every writer — a hard flush that also stops its
// background drain goroutine, so without it a pipe could be marked
// complete before its last chunk has actually reached it, and the
// goroutine would run forever — then marks each pipe complete with err,
// so every worker's bulk-loader observes either clean EOF or the
// propagated failure.
func completeAll(pipes []*textpipe.Pipe, writers []*textpipe.PipeTextWriter, err error) error {
	for _, w := range writers {
		_ = w.Close()
	}
	for _, p := range pipes {
		p.Complete(err)
	}
	return err
}

// runLoadInfileWorker opens its own connection and issues one LOAD DATA
// LOCAL INFILE statement bound to its pipe's registered reader name,
// blocking until the bulk-loader has drained the pipe to completion.
func runLoadInfileWorker(ctx context.Context, worker int, dsn, table string, columns []cellkind.ColumnInfo, readerName string, ignore bool) error {
	sess, err := dbsession.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer sess.Close()

	stmt := buildLoadDataSQL(table, columns, readerName, ignore)
	if err := sess.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("LOAD DATA: %w", err)
	}
	return nil
}

// buildLoadDataSQL renders the LOAD DATA LOCAL INFILE statement of
// spec.md §4.7: utf8mb4, comma fields, optional double-quote enclosure,
// backslash escape, LF lines, no header line (the producer's pipe carries
// data rows only). Columns whose driver type contains BLOB are bound to a
// user variable and decoded with FROM_BASE64; columns whose driver type
// contains BIT are bound and reinterpreted with CAST(... AS SIGNED); every
// other column is loaded
// directly by name.
func buildLoadDataSQL(table string, columns []cellkind.ColumnInfo, readerName string, ignore bool) string {
	var colList, setClauses []string
	varIndex := 0
	for _, col := range columns {
		upper := strings.ToUpper(col.RawType)
		switch {
		case strings.Contains(upper, "BLOB"):
			varIndex++
			v := fmt.Sprintf("@v%d", varIndex)
			colList = append(colList, v)
			setClauses = append(setClauses, fmt.Sprintf("%s = FROM_BASE64(%s)", quoteIdent(col.Name), v))
		case strings.Contains(upper, "BIT"):
			varIndex++
			v := fmt.Sprintf("@v%d", varIndex)
			colList = append(colList, v)
			setClauses = append(setClauses, fmt.Sprintf("%s = CAST(%s AS SIGNED)", quoteIdent(col.Name), v))
		default:
			colList = append(colList, quoteIdent(col.Name))
		}
	}

	var b strings.Builder
	b.WriteString("LOAD DATA LOCAL INFILE 'Reader::")
	b.WriteString(readerName)
	b.WriteString("' ")
	if ignore {
		b.WriteString("IGNORE ")
	}
	b.WriteString("INTO TABLE ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" CHARACTER SET utf8mb4")
	b.WriteString(` FIELDS TERMINATED BY ',' OPTIONALLY ENCLOSED BY '"' ESCAPED BY '\\'`)
	b.WriteString(` LINES TERMINATED BY '\n'`)
	// No header line to skip: every load.Importer.ReadDataCSV implementation
	// (csvload included) emits data rows only — a Header=true CSV source
	// already consumed its header during ReadNextTable.
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ","))
	b.WriteByte(')')
	if len(setClauses) > 0 {
		b.WriteString(" SET ")
		b.WriteString(strings.Join(setClauses, ", "))
	}
	return b.String()
}

func quoteIdent(name string) string {
	return dbsession.QuoteIdent(name)
}
