package requestlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// WriterOptions tunes the background writer.
type WriterOptions struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Logger        zerolog.Logger
	// Dropped and Failed are optional counters for entries that never reached the sink.
	Dropped prometheus.Counter
	Failed  prometheus.Counter
}

// Stats is a snapshot of writer counters.
type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Writer is an Appender that hands entries to a single background worker.
// Entries keep their append order. A full buffer drops the entry instead of
// blocking; sink errors are counted and logged, never returned.
type Writer struct {
	sink Sink
	opts WriterOptions
	ch   chan Entry
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewWriter starts the background worker.
func NewWriter(sink Sink, opts WriterOptions) *Writer {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	w := &Writer{
		sink: sink,
		opts: opts,
		ch:   make(chan Entry, opts.Buffer),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Append enqueues e. It never blocks.
func (w *Writer) Append(e Entry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(1)
		return
	}
	select {
	case w.ch <- e:
	default:
		w.drop(1)
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the writer counters.
func (w *Writer) Stats() Stats {
	return Stats{Written: w.written.Load(), Dropped: w.dropped.Load(), Failed: w.failed.Load()}
}

func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, w.opts.BatchSize)
	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= w.opts.BatchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *Writer) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.WriteTimeout)
	defer cancel()
	err := w.write(ctx, batch)
	if err != nil {
		w.failed.Add(int64(len(batch)))
		if w.opts.Failed != nil {
			w.opts.Failed.Add(float64(len(batch)))
		}
		w.opts.Logger.Warn().Err(err).Int("entries", len(batch)).Msg("request log write failed")
		return
	}
	w.written.Add(int64(len(batch)))
}

func (w *Writer) write(ctx context.Context, batch []Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return w.sink.Write(ctx, append([]Entry(nil), batch...))
}

func (w *Writer) drop(n int) {
	w.dropped.Add(int64(n))
	if w.opts.Dropped != nil {
		w.opts.Dropped.Add(float64(n))
	}
}

type panicError struct{ value any }

func (p panicError) Error() string { return "request log sink panicked" }
