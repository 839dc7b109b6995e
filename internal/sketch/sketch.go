// Package sketch estimates percentiles of a stream of uint64 samples over a
// sliding time window.
//
// Samples are counted in logarithmic buckets (the DDSketch index mapping)
// held in atomic counters, so Observe never blocks. Two windows are kept:
// the current one and the one before it. Queries fold both into a DDSketch,
// weighting the previous window by the share of the current window that
// has not elapsed yet, and read quantiles from that.
package sketch

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/mapping"
	"github.com/DataDog/sketches-go/ddsketch/store"
	"github.com/benbjohnson/clock"

	"github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/errors"
)

// Options configures an Estimator.
type Options struct {
	// Window is the length of one window. Defaults to config.DefaultPercentileWindow.
	Window time.Duration

	// RelativeAccuracy bounds the relative error of every estimate.
	// Defaults to config.DefaultPercentileAccuracy.
	RelativeAccuracy float64

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Estimator is a windowed percentile estimator. It is safe for concurrent use.
type Estimator struct {
	mapping *mapping.LogarithmicMapping
	offset  int
	size    int
	window  time.Duration
	clock   clock.Clock

	state atomic.Pointer[windows]
}

type windows struct {
	cur  *window
	prev *window
}

type window struct {
	epoch   int64
	zero    atomic.Uint64
	count   atomic.Uint64
	sum     atomic.Uint64 // float64 bits
	buckets []atomic.Uint64
}

// New creates an estimator.
func New(opts Options) (*Estimator, error) {
	if opts.Window <= 0 {
		opts.Window = config.DefaultPercentileWindow
	}
	if opts.RelativeAccuracy == 0 {
		opts.RelativeAccuracy = config.DefaultPercentileAccuracy
	}
	if opts.RelativeAccuracy < 0 || opts.RelativeAccuracy >= 1 {
		return nil, errors.NewInvalidValue("relative accuracy", opts.RelativeAccuracy, "must be in (0, 1)")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	m, err := mapping.NewLogarithmicMapping(opts.RelativeAccuracy)
	if err != nil {
		return nil, fmt.Errorf("index mapping: %w", err)
	}

	lo := m.Index(1)
	hi := m.Index(math.MaxUint64)

	e := &Estimator{
		mapping: m,
		offset:  lo,
		size:    hi - lo + 1,
		window:  opts.Window,
		clock:   opts.Clock,
	}
	e.state.Store(&windows{cur: e.newWindow(e.epoch(e.clock.Now()))})
	return e, nil
}

func (e *Estimator) newWindow(epoch int64) *window {
	return &window{
		epoch:   epoch,
		buckets: make([]atomic.Uint64, e.size),
	}
}

func (e *Estimator) epoch(t time.Time) int64 {
	return t.UnixNano() / int64(e.window)
}

// Window returns the window length.
func (e *Estimator) Window() time.Duration {
	return e.window
}

// RelativeAccuracy returns the relative error bound of estimates.
func (e *Estimator) RelativeAccuracy() float64 {
	return e.mapping.RelativeAccuracy()
}

// Observe records one sample.
func (e *Estimator) Observe(v uint64) {
	e.ObserveN(v, 1)
}

// ObserveN records n samples of value v.
func (e *Estimator) ObserveN(v uint64, n uint64) {
	if n == 0 {
		return
	}
	w := e.current()
	if v == 0 {
		w.zero.Add(n)
	} else {
		w.buckets[e.bucket(v)].Add(n)
	}
	w.count.Add(n)
	addFloat(&w.sum, float64(v)*float64(n))
}

func (e *Estimator) bucket(v uint64) int {
	i := e.mapping.Index(float64(v)) - e.offset
	if i < 0 {
		return 0
	}
	if i >= e.size {
		return e.size - 1
	}
	return i
}

// current returns the window for now, installing a fresh one when the
// epoch has moved on.
func (e *Estimator) current() *window {
	epoch := e.epoch(e.clock.Now())
	for {
		s := e.state.Load()
		if s.cur.epoch >= epoch {
			return s.cur
		}
		next := &windows{cur: e.newWindow(epoch)}
		if s.cur.epoch == epoch-1 {
			next.prev = s.cur
		}
		if e.state.CompareAndSwap(s, next) {
			return next.cur
		}
	}
}

func addFloat(a *atomic.Uint64, delta float64) {
	for {
		old := a.Load()
		if a.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

// =============================================================================
// Queries
// =============================================================================

// Summary is a consistent view of the window used to answer queries.
type Summary struct {
	sketch *ddsketch.DDSketch
	count  float64
	sum    float64
	err    error // first sample the sketch refused
}

// Snapshot folds the current and previous windows into a Summary.
func (e *Estimator) Snapshot() *Summary {
	now := e.clock.Now()
	epoch := e.epoch(now)
	s := e.state.Load()

	var cur, prev *window
	switch s.cur.epoch {
	case epoch:
		cur = s.cur
		if s.prev != nil && s.prev.epoch == epoch-1 {
			prev = s.prev
		}
	case epoch - 1:
		prev = s.cur
	}

	elapsed := float64(now.UnixNano()-epoch*int64(e.window)) / float64(e.window)
	prevWeight := 1 - elapsed

	sum := &Summary{
		sketch: ddsketch.NewDDSketch(e.mapping, store.NewDenseStore(), store.NewDenseStore()),
	}
	sum.add(e, cur, 1)
	sum.add(e, prev, prevWeight)
	return sum
}

func (s *Summary) add(e *Estimator, w *window, weight float64) {
	if w == nil || weight <= 0 {
		return
	}
	if n := w.zero.Load(); n > 0 {
		s.addCount(0, float64(n)*weight)
	}
	for i := range w.buckets {
		n := w.buckets[i].Load()
		if n == 0 {
			continue
		}
		s.addCount(e.mapping.Value(i+e.offset), float64(n)*weight)
	}
	s.count += float64(w.count.Load()) * weight
	s.sum += math.Float64frombits(w.sum.Load()) * weight
}

func (s *Summary) addCount(v, n float64) {
	if err := s.sketch.AddWithCount(v, n); err != nil && s.err == nil {
		s.err = fmt.Errorf("add %v x %v: %w", v, n, err)
	}
}

// Err returns the first sample the sketch refused. Bucket values come from
// the sketch's own mapping, so this is nil unless the estimator is broken.
func (s *Summary) Err() error { return s.err }

// Count returns the (weighted) number of samples in the summary.
func (s *Summary) Count() float64 { return s.count }

// Mean returns the mean sample, or 0 when there are no samples.
func (s *Summary) Mean() float64 {
	if s.count <= 0 {
		return 0
	}
	return s.sum / s.count
}

// Quantiles returns the estimate for each q in qs. Every q must be in [0, 1].
// An empty summary yields zeros. A summary that lost samples returns Err.
func (s *Summary) Quantiles(qs ...float64) ([]float64, error) {
	for _, q := range qs {
		if q < 0 || q > 1 || math.IsNaN(q) {
			return nil, fmt.Errorf("quantile %v: %w", q, errors.ErrInvalidPercentile)
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.sketch.IsEmpty() {
		return make([]float64, len(qs)), nil
	}
	return s.sketch.GetValuesAtQuantiles(qs)
}

// Quantiles is a shortcut for Snapshot().Quantiles.
func (e *Estimator) Quantiles(qs ...float64) ([]float64, error) {
	return e.Snapshot().Quantiles(qs...)
}

// Percentile returns the estimate for a single quantile q in [0, 1].
func (e *Estimator) Percentile(q float64) (float64, error) {
	v, err := e.Quantiles(q)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// Mean returns the mean sample in the window.
func (e *Estimator) Mean() float64 {
	return e.Snapshot().Mean()
}

// Count returns the weighted sample count in the window, rounded.
func (e *Estimator) Count() uint64 {
	return uint64(math.Round(e.Snapshot().Count()))
}
