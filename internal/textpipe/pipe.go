// Package textpipe implements a backpressured byte pipe and a buffered
// character-level writer over it. It exists because io.Pipe exposes no
// high/low water marks: the bulk-loader ingest path (see internal/ingest)
// needs a producer that observes queued bytes and suspends before it
// overruns a configured limit, and a consumer (the database driver's
// LOAD DATA LOCAL INFILE reader) that drains it like an ordinary io.Reader.
package textpipe

import (
	"io"
	"sync"
)

// Pipe is a backpressured, in-memory byte queue with one producer and one
// consumer. Write blocks while the queue holds at least High bytes; Read
// unblocks writers once the queue has drained to at most Low bytes.
type Pipe struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf  []byte
	high int
	low  int

	closed bool
	err    error
}

// NewPipe returns a Pipe whose Write calls suspend once the queue reaches
// high bytes, resuming once a Read has drained it to low bytes or fewer.
func NewPipe(high, low int) *Pipe {
	p := &Pipe{high: high, low: low}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// Write implements io.Writer. It suspends the caller while the queue is at
// or above the high-water mark, then appends b whole.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) >= p.high {
		if p.closed {
			return 0, io.ErrClosedPipe
		}
		p.notFull.Wait()
	}
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.buf = append(p.buf, b...)
	p.notEmpty.Signal()
	return len(b), nil
}

// Read implements io.Reader. It suspends while the queue is empty and the
// pipe is still open, and returns the completion error (or io.EOF) once the
// queue has drained after Complete.
func (p *Pipe) Read(dst []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 {
		if p.closed {
			if p.err != nil {
				return 0, p.err
			}
			return 0, io.EOF
		}
		p.notEmpty.Wait()
	}
	n := copy(dst, p.buf)
	p.buf = p.buf[n:]
	if len(p.buf) <= p.low {
		p.notFull.Broadcast()
	}
	return n, nil
}

// Complete marks the pipe as finished; pending and future Reads observe
// io.EOF (or err, if non-nil) once the queue has drained. A worker that
// fails mid-table calls Complete with its error so the producer unwinds.
func (p *Pipe) Complete(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
}

// Pending reports the number of bytes currently queued. Exercised by tests
// asserting the producer suspends before exceeding the high-water mark.
func (p *Pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
