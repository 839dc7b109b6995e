package counter

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
	testutil "github.com/xtxerr/perfkit/internal/testing"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	base := []Option{
		WithClock(mock),
		WithLogger(logging.Discard()),
		WithRateWindow(10*time.Second, 10),
		WithPercentileWindow(time.Minute, 0.01),
	}
	return NewRegistry(append(base, opts...)...), mock
}

func mustCreate(t *testing.T, r *Registry, section, name string, kind Kind) Handle {
	t.Helper()
	h, err := r.Create(section, name, kind, "test counter")
	if err != nil {
		t.Fatalf("Create(%q, %q, %v) error = %v", section, name, kind, err)
	}
	return h
}

// =============================================================================
// Number
// =============================================================================

func TestNumberCounter(t *testing.T) {
	r, _ := newTestRegistry(t)
	h := mustCreate(t, r, "io", "queue_depth", KindNumber)

	for i := 0; i < 3; i++ {
		if err := r.Increment(h); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Decrement(h); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(h, 10); err != nil {
		t.Fatal(err)
	}

	if v, _ := r.Value(h); v != 12 {
		t.Errorf("Value() = %v, want 12", v)
	}
	if v, _ := r.IntegerValue(h); v != 12 {
		t.Errorf("IntegerValue() = %v, want 12", v)
	}

	if err := r.Set(h, 5); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Value(h); v != 5 {
		t.Errorf("Value() after Set = %v, want 5", v)
	}
}

func TestNumberCounterNegative(t *testing.T) {
	r, _ := newTestRegistry(t)
	h := mustCreate(t, r, "io", "balance", KindNumber)

	r.Decrement(h)
	if v, _ := r.Value(h); v != -1 {
		t.Errorf("Value() = %v, want -1", v)
	}
	if v, _ := r.IntegerValue(h); v != math.MaxUint64 {
		t.Errorf("IntegerValue() = %v, want two's complement of -1", v)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	r, _ := newTestRegistry(t)
	h := mustCreate(t, r, "rpc", "calls", KindNumber)

	const workers = 16
	const perWorker = 5000

	gt := testutil.NewGoroutineTest(t)
	for w := 0; w < workers; w++ {
		gt.Go(func() error {
			for i := 0; i < perWorker; i++ {
				if err := r.Increment(h); err != nil {
					return err
				}
			}
			return nil
		})
	}
	gt.Wait()

	if v, _ := r.IntegerValue(h); v != workers*perWorker {
		t.Errorf("IntegerValue() = %d, want %d", v, workers*perWorker)
	}
}

// =============================================================================
// Rate
// =============================================================================

func TestRateBurstDecays(t *testing.T) {
	r, mock := newTestRegistry(t)
	h := mustCreate(t, r, "net", "rx_packets", KindRate)

	mock.Add(500 * time.Millisecond)
	if err := r.Add(h, 100); err != nil {
		t.Fatal(err)
	}

	// Younger than one slot: the divisor is one slot.
	if v, _ := r.Value(h); v != 100 {
		t.Errorf("Value() at 0.5s = %v, want 100", v)
	}

	mock.Add(4500 * time.Millisecond)
	if v, _ := r.Value(h); v != 20 {
		t.Errorf("Value() at 5s = %v, want 20", v)
	}

	mock.Add(5500 * time.Millisecond)
	if v, _ := r.Value(h); v != 0 {
		t.Errorf("Value() after one window = %v, want 0", v)
	}

	rec, err := r.Record(h)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Total != 100 {
		t.Errorf("Total = %d, want 100", rec.Total)
	}
}

func TestRateEvenlySpaced(t *testing.T) {
	r, mock := newTestRegistry(t)
	h := mustCreate(t, r, "net", "tx_packets", KindRate)

	const k = 100
	const window = 10 * time.Second

	mock.Add(50 * time.Millisecond)
	for i := 0; i < k; i++ {
		r.Increment(h)
		mock.Add(window / k)
	}

	want := float64(k) / window.Seconds()
	v, err := r.Value(h)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-want) > want*0.05 {
		t.Errorf("Value() = %v, want %v within 5%%", v, want)
	}

	iv, _ := r.IntegerValue(h)
	if iv != uint64(v) {
		t.Errorf("IntegerValue() = %d, want %d", iv, uint64(v))
	}
}

func TestRateSteadyLoad(t *testing.T) {
	r, mock := newTestRegistry(t)
	h := mustCreate(t, r, "disk", "writes", KindRate)

	// 50 events per second for a minute.
	for i := 0; i < 60*50; i++ {
		r.Increment(h)
		mock.Add(20 * time.Millisecond)
	}

	v, _ := r.Value(h)
	if math.Abs(v-50) > 2.5 {
		t.Errorf("Value() = %v, want ~50", v)
	}
}

func TestRateLateWriterDropped(t *testing.T) {
	mock := clock.NewMock()
	c := newRateCounter(mock, 10*time.Second, 10)

	mock.Add(25 * time.Second)
	c.add(3) // tick 25, slot 5

	// A writer still holding tick 15 for slot 5 must not clobber tick 25.
	slot := &c.slots[5]
	before := slot.word.Load()
	mock.Set(time.Unix(0, 0).Add(15 * time.Second))
	c.add(1)
	if got := slot.word.Load(); got != before {
		t.Errorf("slot overwritten by a late writer: %#x -> %#x", before, got)
	}
	if c.total.Load() != 4 {
		t.Errorf("total = %d, want 4", c.total.Load())
	}
}

func TestRateTagWrap(t *testing.T) {
	// 5<<tagBits ticks later slot 5 sees tick 5's tag again.
	wrap := uint64(5) << tagBits

	tests := []struct {
		name     string
		lastTick uint64
	}{
		{"same tag", 5},
		{"tag just above", 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			c := newRateCounter(mock, 10*time.Second, 10)

			mock.Add(time.Duration(tt.lastTick) * time.Second)
			c.add(3)

			now := 5 + wrap
			mock.Set(time.Unix(0, 0).Add(time.Duration(now) * time.Second))
			if v := c.rate(); v != 0 {
				t.Errorf("rate() = %v before any new event, want 0", v)
			}

			c.add(1)
			slot := &c.slots[5]
			if got := slot.word.Load() & countMask; got != 1 {
				t.Errorf("slot count = %d, want 1", got)
			}
			if got := slot.tick.Load(); got != now {
				t.Errorf("slot tick = %d, want %d", got, now)
			}
			if v := c.rate(); v <= 0 {
				t.Errorf("rate() = %v after an event, want > 0", v)
			}
		})
	}
}

func TestRateNeverNegative(t *testing.T) {
	r, mock := newTestRegistry(t)
	h := mustCreate(t, r, "net", "drops", KindRate)

	for i := 0; i < 50; i++ {
		r.Add(h, uint64(i))
		mock.Add(time.Duration(i*37) * time.Millisecond)
		if v, _ := r.Value(h); v < 0 {
			t.Fatalf("Value() = %v at step %d", v, i)
		}
	}
}

// =============================================================================
// Percentile
// =============================================================================

func TestPercentileCounter(t *testing.T) {
	r, _ := newTestRegistry(t)
	h := mustCreate(t, r, "rpc", "latency_us", KindPercentile)

	for v := uint64(1); v <= 100; v++ {
		if err := r.Set(h, v); err != nil {
			t.Fatal(err)
		}
	}

	p50, err := r.Percentile(h, P50)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p50-50) > 5 {
		t.Errorf("p50 = %v, want ~50", p50)
	}
	p99, _ := r.Percentile(h, P99)
	if math.Abs(p99-99) > 9.9 {
		t.Errorf("p99 = %v, want ~99", p99)
	}

	all, err := r.Percentiles(h)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(all); i++ {
		if all[i] < all[i-1] {
			t.Errorf("percentiles not monotone: %v", all)
		}
	}

	if v, _ := r.Value(h); v != 50.5 {
		t.Errorf("Value() = %v, want mean 50.5", v)
	}
	if v, _ := r.IntegerValue(h); v != 50 {
		t.Errorf("IntegerValue() = %v, want 50", v)
	}

	rec, _ := r.Record(h)
	if !rec.HasPercentiles || rec.Total != 100 || rec.Percentiles != all {
		t.Errorf("Record() = %+v", rec)
	}
}

func TestPercentileInvalid(t *testing.T) {
	r, _ := newTestRegistry(t)
	h := mustCreate(t, r, "rpc", "size", KindPercentile)

	if _, err := r.Percentile(h, Percentile(9)); !errors.Is(err, errors.ErrInvalidPercentile) {
		t.Errorf("Percentile(9) error = %v, want ErrInvalidPercentile", err)
	}
}

// =============================================================================
// Unsupported operations
// =============================================================================

func TestUnsupportedOperations(t *testing.T) {
	r, _ := newTestRegistry(t)
	num := mustCreate(t, r, "x", "num", KindNumber)
	rt := mustCreate(t, r, "x", "rate", KindRate)
	pct := mustCreate(t, r, "x", "pct", KindPercentile)

	tests := []struct {
		name string
		op   func() error
	}{
		{"decrement rate", func() error { return r.Decrement(rt) }},
		{"decrement percentile", func() error { return r.Decrement(pct) }},
		{"set rate", func() error { return r.Set(rt, 1) }},
		{"percentile of number", func() error { _, err := r.Percentile(num, P50); return err }},
		{"percentile of rate", func() error { _, err := r.Percentile(rt, P99); return err }},
		{"percentiles of number", func() error { _, err := r.Percentiles(num); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			if !errors.Is(err, errors.ErrUnsupportedOperation) {
				t.Errorf("error = %v, want ErrUnsupportedOperation", err)
			}
		})
	}

	// Rejected operations leave state unchanged.
	if rec, _ := r.Record(rt); rec.Total != 0 {
		t.Errorf("rate total = %d after rejected ops", rec.Total)
	}
	if rec, _ := r.Record(pct); rec.Total != 0 {
		t.Errorf("percentile count = %d after rejected ops", rec.Total)
	}
}

// =============================================================================
// Registration
// =============================================================================

func TestCreateValidation(t *testing.T) {
	r, _ := newTestRegistry(t)

	tests := []struct {
		name    string
		section string
		cname   string
		kind    Kind
		want    error
	}{
		{"empty section", "", "n", KindNumber, errors.ErrInvalidName},
		{"empty name", "s", "", KindNumber, errors.ErrInvalidName},
		{"separator in name", "s", "a*b", KindNumber, errors.ErrInvalidName},
		{"zero kind", "s", "n", 0, errors.ErrInvalidKind},
		{"unknown kind", "s", "n", Kind(42), errors.ErrInvalidKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := r.Create(tt.section, tt.cname, tt.kind, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
			if !h.IsZero() {
				t.Errorf("Create() returned handle %v on error", h)
			}
		})
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after failed creates", r.Len())
	}
}

func TestDuplicateFail(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustCreate(t, r, "io", "reads", KindNumber)

	for _, kind := range []Kind{KindNumber, KindRate} {
		_, err := r.Create("io", "reads", kind, "")
		if !errors.Is(err, errors.ErrDuplicateName) {
			t.Errorf("Create(duplicate, %v) error = %v, want ErrDuplicateName", kind, err)
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestDuplicateReuse(t *testing.T) {
	r, _ := newTestRegistry(t, WithDuplicatePolicy(DuplicateReuse))
	h1 := mustCreate(t, r, "io", "reads", KindNumber)

	h2, err := r.Create("io", "reads", KindNumber, "again")
	if err != nil {
		t.Fatalf("Create(same kind) error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("reuse returned %v, want %v", h2, h1)
	}

	if _, err := r.Create("io", "reads", KindRate, ""); !errors.Is(err, errors.ErrDuplicateName) {
		t.Errorf("Create(other kind) error = %v, want ErrDuplicateName", err)
	}
}

func TestParseDuplicatePolicy(t *testing.T) {
	if p, err := ParseDuplicatePolicy("reuse"); err != nil || p != DuplicateReuse {
		t.Errorf("ParseDuplicatePolicy(reuse) = %v, %v", p, err)
	}
	if p, err := ParseDuplicatePolicy(""); err != nil || p != DuplicateFail {
		t.Errorf("ParseDuplicatePolicy(\"\") = %v, %v", p, err)
	}
	if _, err := ParseDuplicatePolicy("merge"); !errors.IsValidation(err) {
		t.Errorf("ParseDuplicatePolicy(merge) error = %v", err)
	}
}

func TestRemoveInvalidatesHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	h := mustCreate(t, r, "io", "reads", KindNumber)
	r.Add(h, 5)

	if err := r.Remove(h); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	ops := map[string]func() error{
		"increment": func() error { return r.Increment(h) },
		"decrement": func() error { return r.Decrement(h) },
		"add":       func() error { return r.Add(h, 1) },
		"set":       func() error { return r.Set(h, 1) },
		"value":     func() error { _, err := r.Value(h); return err },
		"integer":   func() error { _, err := r.IntegerValue(h); return err },
		"info":      func() error { _, err := r.Info(h); return err },
		"remove":    func() error { return r.Remove(h) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, errors.ErrInvalidHandle) {
			t.Errorf("%s after remove: error = %v, want ErrInvalidHandle", name, err)
		}
	}

	if _, err := r.Lookup("io", "reads"); !errors.IsNotFound(err) {
		t.Errorf("Lookup() after remove error = %v, want not found", err)
	}

	// The slot is reused with a new generation; the old handle stays dead.
	h2 := mustCreate(t, r, "io", "reads", KindNumber)
	if h2.slot != h.slot || h2.gen == h.gen {
		t.Errorf("reuse: old %v new %v", h, h2)
	}
	if err := r.Increment(h); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("stale handle after reuse: error = %v", err)
	}
	if v, _ := r.Value(h2); v != 0 {
		t.Errorf("new counter starts at %v, want 0", v)
	}
}

func TestZeroHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustCreate(t, r, "io", "reads", KindNumber)

	if err := r.Increment(Handle{}); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Increment(zero) error = %v", err)
	}
	if err := r.Increment(Handle{slot: 999999, gen: 1}); !errors.Is(err, errors.ErrInvalidHandle) {
		t.Errorf("Increment(out of range) error = %v", err)
	}
}

func TestRemoveRacesWithMutation(t *testing.T) {
	r, _ := newTestRegistry(t)

	for round := 0; round < 20; round++ {
		h := mustCreate(t, r, "race", "counter", KindNumber)

		var removing atomic.Bool
		gt := testutil.NewGoroutineTest(t)
		for w := 0; w < 4; w++ {
			gt.Go(func() error {
				for {
					err := r.Increment(h)
					if err == nil {
						continue
					}
					if !errors.Is(err, errors.ErrInvalidHandle) {
						return fmt.Errorf("unexpected error: %w", err)
					}
					if !removing.Load() {
						return fmt.Errorf("handle failed before removal: %w", err)
					}
					// Once failed, always failed.
					for i := 0; i < 100; i++ {
						if err := r.Add(h, 1); !errors.Is(err, errors.ErrInvalidHandle) {
							return fmt.Errorf("handle revived after removal: %v", err)
						}
					}
					return nil
				}
			})
		}

		time.Sleep(time.Millisecond)
		removing.Store(true)
		if err := r.Remove(h); err != nil {
			t.Fatalf("round %d: Remove() error = %v", round, err)
		}
		gt.Wait()
	}

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestConcurrentCreateRemove(t *testing.T) {
	r, _ := newTestRegistry(t, WithArena(8, 16))

	gt := testutil.NewGoroutineTest(t)
	for w := 0; w < 8; w++ {
		w := w
		gt.Go(func() error {
			for i := 0; i < 200; i++ {
				name := fmt.Sprintf("c%d_%d", w, i)
				h, err := r.Create("churn", name, KindNumber, "")
				if err != nil {
					return err
				}
				if err := r.Increment(h); err != nil {
					return err
				}
				if v, err := r.Value(h); err != nil || v != 1 {
					return fmt.Errorf("%s: value %v, %v", name, v, err)
				}
				if err := r.Remove(h); err != nil {
					return err
				}
			}
			return nil
		})
	}
	gt.Wait()

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryFull(t *testing.T) {
	r, _ := newTestRegistry(t, WithArena(2, 2))
	if r.Capacity() != 4 {
		t.Fatalf("Capacity() = %d, want 4", r.Capacity())
	}

	var hs []Handle
	for i := 0; i < 4; i++ {
		hs = append(hs, mustCreate(t, r, "cap", fmt.Sprintf("c%d", i), KindNumber))
	}
	if _, err := r.Create("cap", "c4", KindNumber, ""); !errors.Is(err, errors.ErrRegistryFull) {
		t.Fatalf("Create() beyond capacity error = %v, want ErrRegistryFull", err)
	}

	if err := r.Remove(hs[1]); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, r, "cap", "c4", KindNumber)
}

// =============================================================================
// Lookup, list and snapshot
// =============================================================================

func TestLookupListSnapshot(t *testing.T) {
	r, mock := newTestRegistry(t)
	mock.Add(time.Hour)

	hb := mustCreate(t, r, "net", "b", KindRate)
	ha := mustCreate(t, r, "net", "a", KindNumber)
	hio := mustCreate(t, r, "io", "z", KindPercentile)

	h, err := r.Lookup("net", "a")
	if err != nil || h != ha {
		t.Errorf("Lookup(net, a) = %v, %v; want %v", h, err, ha)
	}

	info, err := r.Info(hb)
	if err != nil {
		t.Fatal(err)
	}
	if info.Key.String() != "net*b" || info.Kind != KindRate || info.Description != "test counter" {
		t.Errorf("Info() = %+v", info)
	}
	if !info.Created.Equal(mock.Now()) {
		t.Errorf("Created = %v, want %v", info.Created, mock.Now())
	}

	list := r.List()
	var keys []string
	for _, i := range list {
		keys = append(keys, i.Key.String())
	}
	if got := strings.Join(keys, ","); got != "io*z,net*a,net*b" {
		t.Errorf("List() order = %s", got)
	}

	r.Set(ha, 42)
	r.Add(hio, 7)

	recs := r.Snapshot()
	if len(recs) != 3 {
		t.Fatalf("Snapshot() = %d records", len(recs))
	}
	if recs[1].Name != "a" || recs[1].Value != 42 || recs[1].Kind != "number" {
		t.Errorf("number record = %+v", recs[1])
	}
	if recs[0].Kind != "percentile" || !recs[0].HasPercentiles || recs[0].Total != 1 {
		t.Errorf("percentile record = %+v", recs[0])
	}
	if recs[0].TimestampMs != mock.Now().UnixMilli() {
		t.Errorf("TimestampMs = %d", recs[0].TimestampMs)
	}
}

func TestMisuseLogThrottled(t *testing.T) {
	var logs testutil.LogBuffer
	r := NewRegistry(WithLogger(logs.NewLogger(slog.LevelDebug)), WithMisuseLogLimit(0, 2))

	testutil.RunConcurrently(t, 5, func(int) error {
		for i := 0; i < 2; i++ {
			if err := r.Increment(Handle{slot: 1, gen: 1}); !errors.Is(err, errors.ErrInvalidHandle) {
				return fmt.Errorf("error = %v, want ErrInvalidHandle", err)
			}
		}
		return nil
	})

	if n := logs.Count("invalid counter handle"); n != 2 {
		t.Errorf("logged %d warnings, want 2", n)
	}
}

func TestDefaultRegistry(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different registries")
	}
}

func BenchmarkIncrement(b *testing.B) {
	r := NewRegistry(WithLogger(logging.Discard()))
	h, _ := r.Create("bench", "calls", KindNumber, "")
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			r.Increment(h)
		}
	})
}

func BenchmarkRateAdd(b *testing.B) {
	r := NewRegistry(WithLogger(logging.Discard()))
	h, _ := r.Create("bench", "events", KindRate, "")
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			r.Increment(h)
		}
	})
}
