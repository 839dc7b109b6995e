// Package counter implements named performance counters and the registry
// that owns them.
//
// Counters come in three kinds: Number (a signed integer), Rate (events per
// second over a sliding window) and Percentile (the distribution of recent
// samples). Instrumented code creates a counter once, keeps the returned
// Handle, and mutates through it on hot paths:
//
//	reg := counter.NewRegistry()
//	h, err := reg.Create("rpc", "latency_us", counter.KindPercentile, "RPC latency")
//	...
//	reg.Add(h, uint64(elapsed.Microseconds()))
//
// Mutations and value queries never take a lock. The registry's name index
// is guarded by a mutex that only Create, Remove, Lookup and List touch.
package counter

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
	"github.com/xtxerr/perfkit/internal/sketch"
	"github.com/xtxerr/perfkit/internal/snapshot"
	"github.com/xtxerr/perfkit/internal/validation"
)

// entry is an immutable registration record. The counter state it points to
// is the only mutable part.
type entry struct {
	key         Key
	kind        Kind
	description string
	gen         uint32
	created     time.Time
	c           counter
}

type page []atomic.Pointer[entry]

// Registry maps (section, name) to counters. It is safe for concurrent use.
type Registry struct {
	clock           clock.Clock
	rateWindow      time.Duration
	rateSlots       int
	pctWindow       time.Duration
	pctAccuracy     float64
	dupPolicy       DuplicatePolicy
	log             *slog.Logger
	misusePerSecond float64
	misuseBurst     int
	pageSize        int
	maxPages        int

	// Arena. Pages are allocated on demand and never freed.
	pages []atomic.Pointer[page]

	mu    sync.RWMutex
	names map[Key]Handle
	gens  []uint32 // last generation issued per slot
	free  []uint32
	next  uint32

	misuse        *rate.Limiter
	misuseDropped atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:           clock.New(),
		rateWindow:      config.DefaultRateWindow,
		rateSlots:       config.DefaultRateSlots,
		pctWindow:       config.DefaultPercentileWindow,
		pctAccuracy:     config.DefaultPercentileAccuracy,
		dupPolicy:       DuplicateFail,
		misusePerSecond: config.DefaultMisuseLogPerSecond,
		misuseBurst:     config.DefaultMisuseLogBurst,
		pageSize:        config.RegistryPageSize,
		maxPages:        config.RegistryMaxPages,
		names:           make(map[Key]Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logging.Component("counter")
	}
	r.pages = make([]atomic.Pointer[page], r.maxPages)
	r.misuse = rate.NewLimiter(rate.Limit(r.misusePerSecond), r.misuseBurst)
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, created on first use with
// default options.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Capacity returns the maximum number of live counters.
func (r *Registry) Capacity() int {
	return r.pageSize * r.maxPages
}

// DuplicatePolicy returns the registry's duplicate policy.
func (r *Registry) DuplicatePolicy() DuplicatePolicy {
	return r.dupPolicy
}

// =============================================================================
// Arena
// =============================================================================

func (r *Registry) cell(slot uint32) *atomic.Pointer[entry] {
	pi := int(slot) / r.pageSize
	if pi >= len(r.pages) {
		return nil
	}
	p := r.pages[pi].Load()
	if p == nil {
		return nil
	}
	return &(*p)[int(slot)%r.pageSize]
}

// resolve returns the live entry for h. It takes no lock.
func (r *Registry) resolve(h Handle) *entry {
	if h.gen == 0 {
		return nil
	}
	c := r.cell(h.slot)
	if c == nil {
		return nil
	}
	e := c.Load()
	if e == nil || e.gen != h.gen {
		return nil
	}
	return e
}

// alloc reserves a slot and its next generation. Caller holds r.mu.
func (r *Registry) alloc() (uint32, uint32, error) {
	if n := len(r.free); n > 0 {
		slot := r.free[n-1]
		r.free = r.free[:n-1]
		gen := r.gens[slot] + 1
		if gen == 0 {
			gen = 1
		}
		r.gens[slot] = gen
		return slot, gen, nil
	}

	if int(r.next) >= r.Capacity() {
		return 0, 0, fmt.Errorf("%d counters: %w", r.Capacity(), errors.ErrRegistryFull)
	}
	slot := r.next
	pi := int(slot) / r.pageSize
	if r.pages[pi].Load() == nil {
		p := make(page, r.pageSize)
		r.pages[pi].Store(&p)
	}
	r.next++
	r.gens = append(r.gens, 1)
	return slot, 1, nil
}

// =============================================================================
// Registration
// =============================================================================

// Create registers a counter and returns its handle.
//
// If the key is taken, DuplicateFail returns ErrDuplicateName and
// DuplicateReuse returns the existing handle when the kinds match.
func (r *Registry) Create(section, name string, kind Kind, description string) (Handle, error) {
	if err := validation.ValidateSection(section); err != nil {
		return Handle{}, err
	}
	if err := validation.ValidateCounterName(name); err != nil {
		return Handle{}, err
	}
	if !kind.Valid() {
		return Handle{}, fmt.Errorf("%s: %w", kind, errors.ErrInvalidKind)
	}

	key := Key{Section: section, Name: name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.names[key]; ok {
		if r.dupPolicy == DuplicateReuse {
			if e := r.resolve(h); e != nil && e.kind == kind {
				return h, nil
			}
		}
		return Handle{}, errors.NewDuplicate(key.String())
	}

	c, err := r.newCounter(kind)
	if err != nil {
		return Handle{}, fmt.Errorf("create %s: %w", key, err)
	}

	slot, gen, err := r.alloc()
	if err != nil {
		return Handle{}, fmt.Errorf("create %s: %w", key, err)
	}

	e := &entry{
		key:         key,
		kind:        kind,
		description: description,
		gen:         gen,
		created:     r.clock.Now(),
		c:           c,
	}
	r.cell(slot).Store(e)

	h := Handle{slot: slot, gen: gen}
	r.names[key] = h

	r.log.Debug("counter created", "key", key.String(), "kind", kind.String(), "handle", h.String())
	return h, nil
}

func (r *Registry) newCounter(kind Kind) (counter, error) {
	switch kind {
	case KindNumber:
		return &numberCounter{}, nil
	case KindRate:
		return newRateCounter(r.clock, r.rateWindow, r.rateSlots), nil
	case KindPercentile:
		return newPercentileCounter(sketch.Options{
			Window:           r.pctWindow,
			RelativeAccuracy: r.pctAccuracy,
			Clock:            r.clock,
		})
	default:
		return nil, fmt.Errorf("%s: %w", kind, errors.ErrInvalidKind)
	}
}

// Remove deregisters the counter. Every later operation through h fails
// with ErrInvalidHandle. An operation racing with Remove either fails or
// lands on the detached counter, where it is never observed.
func (r *Registry) Remove(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.resolve(h)
	if e == nil {
		return r.invalid("remove", h)
	}

	r.cell(h.slot).Store(nil)
	delete(r.names, e.key)
	r.free = append(r.free, h.slot)

	r.log.Debug("counter removed", "key", e.key.String(), "handle", h.String())
	return nil
}

// Lookup returns the handle of a registered counter.
func (r *Registry) Lookup(section, name string) (Handle, error) {
	key := Key{Section: section, Name: name}

	r.mu.RLock()
	h, ok := r.names[key]
	r.mu.RUnlock()

	if !ok {
		return Handle{}, errors.NewNotFound("counter", key.String())
	}
	return h, nil
}

// Info describes the counter behind h.
func (r *Registry) Info(h Handle) (Info, error) {
	e := r.resolve(h)
	if e == nil {
		return Info{}, fmt.Errorf("info %s: %w", h, errors.ErrInvalidHandle)
	}
	return e.info(h), nil
}

func (e *entry) info(h Handle) Info {
	return Info{
		Handle:      h,
		Key:         e.key,
		Kind:        e.kind,
		Description: e.description,
		Created:     e.created,
	}
}

// List returns all registered counters sorted by section, then name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.names))
	for _, h := range r.names {
		if e := r.resolve(h); e != nil {
			out = append(out, e.info(h))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// Len returns the number of registered counters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// =============================================================================
// Mutation
// =============================================================================

func (r *Registry) get(op string, h Handle) (*entry, error) {
	if e := r.resolve(h); e != nil {
		return e, nil
	}
	return nil, r.invalid(op, h)
}

// invalid logs a throttled warning and returns ErrInvalidHandle.
func (r *Registry) invalid(op string, h Handle) error {
	if r.misuse.Allow() {
		r.log.Warn("operation on invalid counter handle",
			"op", op,
			"handle", h.String(),
			"suppressed", r.misuseDropped.Swap(0))
	} else {
		r.misuseDropped.Add(1)
	}
	return fmt.Errorf("%s %s: %w", op, h, errors.ErrInvalidHandle)
}

// Increment adds one to a Number, counts one event on a Rate and records a
// sample of 1 on a Percentile counter.
func (r *Registry) Increment(h Handle) error {
	return r.Add(h, 1)
}

// Decrement subtracts one from a Number counter. Other kinds return
// ErrUnsupportedOperation.
func (r *Registry) Decrement(h Handle) error {
	e, err := r.get("decrement", h)
	if err != nil {
		return err
	}
	switch c := e.c.(type) {
	case *numberCounter:
		c.v.Add(-1)
		return nil
	case *rateCounter, *percentileCounter:
		return errors.NewUnsupported("decrement", e.kind.String())
	default:
		panic(unknownVariant(c))
	}
}

// Add adds v to a Number, counts v events on a Rate and records a sample of
// v on a Percentile counter. Number arithmetic wraps around.
func (r *Registry) Add(h Handle, v uint64) error {
	e, err := r.get("add", h)
	if err != nil {
		return err
	}
	switch c := e.c.(type) {
	case *numberCounter:
		c.v.Add(int64(v))
	case *rateCounter:
		c.add(v)
	case *percentileCounter:
		c.est.Observe(v)
	default:
		panic(unknownVariant(c))
	}
	return nil
}

// Set replaces a Number's value and records a sample of v on a Percentile
// counter. Rate counters return ErrUnsupportedOperation.
func (r *Registry) Set(h Handle, v uint64) error {
	e, err := r.get("set", h)
	if err != nil {
		return err
	}
	switch c := e.c.(type) {
	case *numberCounter:
		c.v.Store(int64(v))
	case *rateCounter:
		return errors.NewUnsupported("set", e.kind.String())
	case *percentileCounter:
		c.est.Observe(v)
	default:
		panic(unknownVariant(c))
	}
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Value returns the Number's value, the Rate in events per second, or the
// mean of the Percentile counter's window.
func (r *Registry) Value(h Handle) (float64, error) {
	e, err := r.get("value", h)
	if err != nil {
		return 0, err
	}
	switch c := e.c.(type) {
	case *numberCounter:
		return float64(c.v.Load()), nil
	case *rateCounter:
		return c.rate(), nil
	case *percentileCounter:
		return c.est.Mean(), nil
	default:
		panic(unknownVariant(c))
	}
}

// IntegerValue returns Value as an unsigned integer. A negative Number is
// returned in two's complement.
func (r *Registry) IntegerValue(h Handle) (uint64, error) {
	e, err := r.get("integer value", h)
	if err != nil {
		return 0, err
	}
	switch c := e.c.(type) {
	case *numberCounter:
		return uint64(c.v.Load()), nil
	case *rateCounter:
		return uint64(c.rate()), nil
	case *percentileCounter:
		return uint64(c.est.Mean()), nil
	default:
		panic(unknownVariant(c))
	}
}

// Percentile returns one fixed percentile of a Percentile counter.
// Other kinds return ErrUnsupportedOperation.
func (r *Registry) Percentile(h Handle, p Percentile) (float64, error) {
	if !p.Valid() {
		return 0, fmt.Errorf("%s: %w", p, errors.ErrInvalidPercentile)
	}
	e, err := r.get("percentile", h)
	if err != nil {
		return 0, err
	}
	switch c := e.c.(type) {
	case *numberCounter, *rateCounter:
		return 0, errors.NewUnsupported("percentile", e.kind.String())
	case *percentileCounter:
		return c.est.Percentile(p.Quantile())
	default:
		panic(unknownVariant(c))
	}
}

// Percentiles returns all fixed percentiles of a Percentile counter from one
// consistent view, so the values are non-decreasing.
func (r *Registry) Percentiles(h Handle) ([NumPercentiles]float64, error) {
	var out [NumPercentiles]float64
	e, err := r.get("percentiles", h)
	if err != nil {
		return out, err
	}
	switch c := e.c.(type) {
	case *numberCounter, *rateCounter:
		return out, errors.NewUnsupported("percentiles", e.kind.String())
	case *percentileCounter:
		_, _, out, err = c.percentiles()
		return out, err
	default:
		panic(unknownVariant(c))
	}
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot returns the state of every counter, sorted like List.
func (r *Registry) Snapshot() []snapshot.Record {
	infos := r.List()
	now := r.clock.Now().UnixMilli()

	out := make([]snapshot.Record, 0, len(infos))
	for _, info := range infos {
		e := r.resolve(info.Handle)
		if e == nil {
			continue // removed since List
		}
		out = append(out, e.record(now))
	}
	return out
}

// Record returns the state of one counter.
func (r *Registry) Record(h Handle) (snapshot.Record, error) {
	e, err := r.get("record", h)
	if err != nil {
		return snapshot.Record{}, err
	}
	return e.record(r.clock.Now().UnixMilli()), nil
}

func (e *entry) record(nowMs int64) snapshot.Record {
	rec := snapshot.Record{
		Section:     e.key.Section,
		Name:        e.key.Name,
		Kind:        e.kind.String(),
		Description: e.description,
		TimestampMs: nowMs,
	}
	switch c := e.c.(type) {
	case *numberCounter:
		v := c.v.Load()
		rec.Value = float64(v)
		rec.Integer = uint64(v)
		rec.Total = uint64(v)
	case *rateCounter:
		v := c.rate()
		rec.Value = v
		rec.Integer = uint64(v)
		rec.Total = c.total.Load()
	case *percentileCounter:
		mean, count, pcts, err := c.percentiles()
		rec.Value = mean
		rec.Integer = uint64(math.Max(mean, 0))
		rec.Total = count
		rec.Percentiles = pcts
		rec.HasPercentiles = err == nil
	default:
		panic(unknownVariant(c))
	}
	return rec
}
