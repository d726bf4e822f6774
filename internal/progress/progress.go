// Package progress reports dump/load progress to an injected io.Writer, at
// most once per second, the same dependency-injected-writer idiom
// apply.Applier uses for its own status output rather than reaching for a
// logging library the teacher's stack does not carry.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Reporter throttles progress output to at most one line per Interval.
// Safe for concurrent use by multiple ingest workers sharing one table.
type Reporter struct {
	out      io.Writer
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// New returns a Reporter writing to out (defaulting to os.Stderr) at most
// once per interval (defaulting to one second).
func New(out io.Writer, interval time.Duration) *Reporter {
	if out == nil {
		out = os.Stderr
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{out: out, interval: interval}
}

// Report prints a progress line for table if at least one interval has
// elapsed since the last report for any table on this Reporter (the first
// call always prints). approxCount may be nil when the row-count estimate
// was unavailable.
func (r *Reporter) Report(table string, rows int64, approxCount *int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return
	}
	r.last = now

	if approxCount != nil && *approxCount > 0 {
		pct := float64(rows) / float64(*approxCount) * 100
		fmt.Fprintf(r.out, "  %s: %d/~%d rows (%.1f%%)\n", table, rows, *approxCount, pct)
	} else {
		fmt.Fprintf(r.out, "  %s: %d rows\n", table, rows)
	}
}

// Done prints a completion line, bypassing the interval throttle.
func (r *Reporter) Done(table string, rows int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = time.Now()
	fmt.Fprintf(r.out, "  %s: done, %d rows\n", table, rows)
}
