// Package reporter periodically snapshots a counter registry and hands the
// batch to sinks such as the journal and Parquet writers.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/counter"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
	"github.com/xtxerr/perfkit/internal/snapshot"
)

// Source produces the records of one snapshot. *counter.Registry is a Source.
type Source interface {
	Snapshot() []snapshot.Record
}

// Sink receives snapshot batches. Write is never called concurrently for
// one sink.
type Sink interface {
	Write(b *snapshot.Batch) error
	Close() error
}

// Flusher is implemented by sinks that buffer writes.
type Flusher interface {
	Flush() error
}

// Options configures a Reporter.
type Options struct {
	Interval time.Duration
	Host     string
	Clock    clock.Clock

	// Metrics, if set, receives the reporter's own counters in the
	// "perfkit.reporter" section.
	Metrics *counter.Registry

	// HistorySize keeps this many recent batches in memory.
	HistorySize int
}

// Stats holds reporter statistics.
type Stats struct {
	Batches     atomic.Int64
	Records     atomic.Int64
	SinkErrors  atomic.Int64
	LastBatchMs atomic.Int64
}

type namedSink struct {
	name string
	sink Sink
}

// Reporter runs the snapshot loop.
type Reporter struct {
	mu sync.Mutex

	src     Source
	sinks   []namedSink
	history *History
	opts    Options
	log     *slog.Logger

	metrics struct {
		batches counter.Handle
		errors  counter.Handle
		latency counter.Handle
	}

	running atomic.Bool
	stopped bool // sinks closed; guarded by mu
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	flushCh chan struct{}

	stats Stats
}

// New creates a reporter over src.
func New(src Source, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultReportInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	r := &Reporter{
		src:     src,
		opts:    opts,
		log:     logging.Component("reporter"),
		flushCh: make(chan struct{}, 1),
	}
	if opts.HistorySize > 0 {
		r.history = NewHistory(opts.HistorySize)
	}
	if opts.Metrics != nil {
		r.registerMetrics(opts.Metrics)
	}
	return r
}

const metricsSection = "perfkit.reporter"

func (r *Reporter) registerMetrics(reg *counter.Registry) {
	ensure := func(name string, kind counter.Kind, desc string) counter.Handle {
		h, err := reg.Create(metricsSection, name, kind, desc)
		if errors.Is(err, errors.ErrDuplicateName) {
			h, err = reg.Lookup(metricsSection, name)
		}
		if err != nil {
			r.log.Warn("reporter counter unavailable", "name", name, "error", err)
		}
		return h
	}
	r.metrics.batches = ensure("batches", counter.KindRate, "snapshot batches per second")
	r.metrics.errors = ensure("sink errors", counter.KindNumber, "failed sink writes")
	r.metrics.latency = ensure("write latency us", counter.KindPercentile, "time to write one batch to all sinks, microseconds")
}

// AddSink registers a sink. Sinks cannot be added while running.
func (r *Reporter) AddSink(name string, s Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running.Load() {
		return fmt.Errorf("add sink %q: %w", name, errors.ErrAlreadyRunning)
	}
	r.sinks = append(r.sinks, namedSink{name: name, sink: s})
	return nil
}

// Start starts the loop. The first batch is taken one interval later.
func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running.Load() {
		return errors.ErrAlreadyRunning
	}
	if r.stopped {
		return fmt.Errorf("reporter: %w", errors.ErrWriterClosed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	// The ticker exists before IsRunning reports true.
	ticker := r.opts.Clock.Ticker(r.opts.Interval)
	r.wg.Add(1)
	go r.loop(ctx, ticker)
	r.running.Store(true)

	r.log.Info("reporter started", "interval", r.opts.Interval, "sinks", len(r.sinks))
	return nil
}

func (r *Reporter) loop(ctx context.Context, ticker *clock.Ticker) {
	defer r.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		case <-r.flushCh:
			r.Report()
		}
	}
}

// Stop stops the loop, writes a final batch, and flushes and closes every
// sink. It returns the first close error.
func (r *Reporter) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	r.cancel()
	r.wg.Wait()

	r.Report()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true

	var first error
	for _, s := range r.sinks {
		if err := s.sink.Close(); err != nil {
			r.log.Error("close sink", "sink", s.name, "error", err)
			if first == nil {
				first = fmt.Errorf("close sink %s: %w", s.name, err)
			}
		}
	}
	r.log.Info("reporter stopped", "batches", r.stats.Batches.Load())
	return first
}

// Run starts the loop, blocks until ctx is done, then stops.
func (r *Reporter) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return r.Stop()
}

// Trigger requests a batch outside the schedule. It does not block.
func (r *Reporter) Trigger() {
	select {
	case r.flushCh <- struct{}{}:
	default:
		// already pending
	}
}

// Report takes one snapshot and writes it to every sink now. Sink errors
// are logged and counted; they do not stop the other sinks. Once Stop has
// closed the sinks Report does nothing and returns nil.
func (r *Reporter) Report() *snapshot.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}

	start := r.opts.Clock.Now()
	batch := &snapshot.Batch{
		TakenAtMs: start.UnixMilli(),
		Host:      r.opts.Host,
		Records:   r.src.Snapshot(),
	}

	if r.history != nil {
		r.history.Push(batch)
	}

	for _, s := range r.sinks {
		if err := s.sink.Write(batch); err != nil {
			r.sinkFailed(s.name, "write", err)
			continue
		}
		if f, ok := s.sink.(Flusher); ok {
			if err := f.Flush(); err != nil {
				r.sinkFailed(s.name, "flush", err)
			}
		}
	}

	r.stats.Batches.Add(1)
	r.stats.Records.Add(int64(len(batch.Records)))
	r.stats.LastBatchMs.Store(batch.TakenAtMs)

	if reg := r.opts.Metrics; reg != nil {
		reg.Increment(r.metrics.batches)
		reg.Add(r.metrics.latency, uint64(r.opts.Clock.Since(start).Microseconds()))
	}
	return batch
}

func (r *Reporter) sinkFailed(name, op string, err error) {
	r.stats.SinkErrors.Add(1)
	if reg := r.opts.Metrics; reg != nil {
		reg.Increment(r.metrics.errors)
	}
	r.log.Error("sink "+op+" failed", "sink", name, "error", err)
}

// Stats returns the reporter statistics.
func (r *Reporter) Stats() *Stats {
	return &r.stats
}

// History returns the in-memory history, or nil when none is kept.
func (r *Reporter) History() *History {
	return r.history
}

func (r *Reporter) sinkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// IsRunning reports whether the loop is running.
func (r *Reporter) IsRunning() bool {
	return r.running.Load()
}
