package counter

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/perfkit/internal/sketch"
)

// counter is the state of one variant. The set of implementations is closed:
// *numberCounter, *rateCounter and *percentileCounter.
type counter interface {
	kind() Kind
}

func unknownVariant(c counter) string {
	return fmt.Sprintf("counter: unknown variant %T", c)
}

// =============================================================================
// Number
// =============================================================================

type numberCounter struct {
	v atomic.Int64
}

func (*numberCounter) kind() Kind { return KindNumber }

// =============================================================================
// Rate
// =============================================================================

// A rate slot packs a short tick tag and an event count into one word so
// that counting into the current tick is a single CAS. The tag alone wraps,
// so each slot also records the full tick that claimed it; a slot counts
// only when both agree.
const (
	countBits = 40
	tagBits   = 64 - countBits
	countMask = uint64(1)<<countBits - 1
	tagMask   = uint64(1)<<tagBits - 1
)

type rateSlot struct {
	word atomic.Uint64 // tag<<countBits | count
	tick atomic.Uint64 // full tick of the last claim
}

type rateCounter struct {
	clock clock.Clock
	start time.Time
	tick  time.Duration
	slots []rateSlot
	total atomic.Uint64

	// claimMu serializes handing a slot to a new tick.
	claimMu sync.Mutex
}

func newRateCounter(clk clock.Clock, window time.Duration, slots int) *rateCounter {
	tick := window / time.Duration(slots)
	if tick <= 0 {
		tick = time.Millisecond
	}
	return &rateCounter{
		clock: clk,
		start: clk.Now(),
		tick:  tick,
		slots: make([]rateSlot, slots),
	}
}

func (*rateCounter) kind() Kind { return KindRate }

func (c *rateCounter) tickAt(t time.Time) uint64 {
	d := t.Sub(c.start)
	if d < 0 {
		return 0
	}
	return uint64(d / c.tick)
}

func (c *rateCounter) add(n uint64) {
	c.total.Add(n)

	t := c.tickAt(c.clock.Now())
	tag := t & tagMask
	s := &c.slots[t%uint64(len(c.slots))]
	for {
		old := s.word.Load()
		if old>>countBits != tag || s.tick.Load() != t {
			if !c.claim(s, t) {
				// A later tick owns the slot; this tick has left the window.
				return
			}
			continue
		}

		cnt := old & countMask
		if n >= countMask-cnt {
			cnt = countMask
		} else {
			cnt += n
		}
		if s.word.CompareAndSwap(old, tag<<countBits|cnt) {
			return
		}
	}
}

// claim hands s to tick t unless a later tick already holds it. The word is
// reset before the tick is published, so a writer of the previous owner
// fails its CAS and a writer of t waits for the new tick.
func (c *rateCounter) claim(s *rateSlot, t uint64) bool {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()

	owner := s.tick.Load()
	switch {
	case owner == t && s.word.Load()>>countBits == t&tagMask:
		return true
	case owner > t:
		return false
	}
	s.word.Store((t & tagMask) << countBits)
	s.tick.Store(t)
	return true
}

// rate returns events per second over the window ending now. The divisor is
// the time the window actually covers: the elapsed part of the current tick
// plus the full ticks before it, capped by the counter's age and never less
// than one tick.
func (c *rateCounter) rate() float64 {
	now := c.clock.Now()
	t := c.tickAt(now)
	n := uint64(len(c.slots))

	var events uint64
	for i := uint64(0); i < n && i <= t; i++ {
		tt := t - i
		s := &c.slots[tt%n]
		w := s.word.Load()
		if w>>countBits == tt&tagMask && s.tick.Load() == tt {
			events += w & countMask
		}
	}
	if events == 0 {
		return 0
	}

	age := now.Sub(c.start)
	covered := time.Duration(n-1)*c.tick + (age - time.Duration(t)*c.tick)
	if covered > age {
		covered = age
	}
	if covered < c.tick {
		covered = c.tick
	}
	return float64(events) / covered.Seconds()
}

// =============================================================================
// Percentile
// =============================================================================

type percentileCounter struct {
	est *sketch.Estimator
}

func newPercentileCounter(opts sketch.Options) (*percentileCounter, error) {
	est, err := sketch.New(opts)
	if err != nil {
		return nil, err
	}
	return &percentileCounter{est: est}, nil
}

func (*percentileCounter) kind() Kind { return KindPercentile }

func (c *percentileCounter) percentiles() (mean float64, count uint64, values [NumPercentiles]float64, err error) {
	s := c.est.Snapshot()
	qs, err := s.Quantiles(Quantiles()...)
	if err == nil {
		copy(values[:], qs)
	}
	return s.Mean(), uint64(math.Round(s.Count())), values, err
}
