package counter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xtxerr/perfkit/internal/errors"
)

// =============================================================================
// Kind
// =============================================================================

// Kind is the variant of a counter. It is fixed at creation.
type Kind uint8

const (
	// KindNumber holds an instantaneous signed integer.
	KindNumber Kind = iota + 1
	// KindRate reports events per second over a sliding window.
	KindRate
	// KindPercentile tracks the distribution of recent samples.
	KindPercentile
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindRate:
		return "rate"
	case KindPercentile:
		return "percentile"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k >= KindNumber && k <= KindPercentile
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "num":
		return KindNumber, nil
	case "rate":
		return KindRate, nil
	case "percentile", "percentiles", "number_percentiles":
		return KindPercentile, nil
	}
	return 0, fmt.Errorf("%q: %w", s, errors.ErrInvalidKind)
}

// =============================================================================
// Percentile
// =============================================================================

// Percentile selects one of the fixed percentiles a percentile counter reports.
type Percentile uint8

const (
	P50 Percentile = iota
	P90
	P95
	P99
	P999

	// NumPercentiles is the number of fixed percentiles.
	NumPercentiles = 5
)

var (
	quantiles = [NumPercentiles]float64{0.50, 0.90, 0.95, 0.99, 0.999}
	percents  = [NumPercentiles]float64{50, 90, 95, 99, 99.9}
	names     = [NumPercentiles]string{"p50", "p90", "p95", "p99", "p99.9"}
)

// Quantiles returns the quantiles of all fixed percentiles in ascending order.
func Quantiles() []float64 {
	q := quantiles
	return q[:]
}

// AllPercentiles returns every fixed percentile in ascending order.
func AllPercentiles() []Percentile {
	return []Percentile{P50, P90, P95, P99, P999}
}

// Valid reports whether p is one of the fixed percentiles.
func (p Percentile) Valid() bool {
	return p < NumPercentiles
}

// Quantile returns p as a fraction in [0, 1].
func (p Percentile) Quantile() float64 {
	if !p.Valid() {
		return 0
	}
	return quantiles[p]
}

// String returns the percentile as printed in reports, e.g. "p99.9".
func (p Percentile) String() string {
	if !p.Valid() {
		return fmt.Sprintf("percentile(%d)", uint8(p))
	}
	return names[p]
}

// ParsePercentile parses "99.9", "p99.9" or "0.999".
func ParsePercentile(s string) (Percentile, error) {
	v, err := strconv.ParseFloat(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "p"), 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, errors.ErrInvalidPercentile)
	}
	if v > 0 && v < 1 {
		v *= 100
	}
	for i, pct := range percents {
		if closeTo(v, pct) {
			return Percentile(i), nil
		}
	}
	return 0, fmt.Errorf("%q: not one of 50, 90, 95, 99, 99.9: %w", s, errors.ErrInvalidPercentile)
}

func closeTo(a, b float64) bool {
	d := a - b
	return d < 1e-6 && d > -1e-6
}
