package counter

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/perfkit/internal/errors"
)

// DuplicatePolicy decides what Create does when the key is already registered.
type DuplicatePolicy uint8

const (
	// DuplicateFail rejects the registration with ErrDuplicateName.
	DuplicateFail DuplicatePolicy = iota
	// DuplicateReuse returns the existing handle if the kinds match.
	DuplicateReuse
)

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateFail:
		return "fail"
	case DuplicateReuse:
		return "reuse"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParseDuplicatePolicy parses "fail" or "reuse".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail", "":
		return DuplicateFail, nil
	case "reuse":
		return DuplicateReuse, nil
	}
	return 0, errors.NewInvalidValue("duplicate policy", s, "expected fail or reuse")
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source of rate and percentile counters.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithRateWindow sets the window and slot count of rate counters.
func WithRateWindow(window time.Duration, slots int) Option {
	return func(r *Registry) {
		if window > 0 {
			r.rateWindow = window
		}
		if slots >= 2 && slots <= 1024 {
			r.rateSlots = slots
		}
	}
}

// WithPercentileWindow sets the window and relative accuracy of percentile counters.
func WithPercentileWindow(window time.Duration, accuracy float64) Option {
	return func(r *Registry) {
		if window > 0 {
			r.pctWindow = window
		}
		if accuracy > 0 {
			r.pctAccuracy = accuracy
		}
	}
}

// WithDuplicatePolicy sets the duplicate registration policy.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(r *Registry) { r.dupPolicy = p }
}

// WithLogger sets the logger used for misuse warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMisuseLogLimit throttles warnings about invalid handles.
func WithMisuseLogLimit(perSecond float64, burst int) Option {
	return func(r *Registry) {
		r.misusePerSecond = perSecond
		r.misuseBurst = burst
	}
}

// WithArena sets the slot page size and the maximum number of pages.
// Capacity is pageSize*maxPages counters.
func WithArena(pageSize, maxPages int) Option {
	return func(r *Registry) {
		if pageSize > 0 {
			r.pageSize = pageSize
		}
		if maxPages > 0 {
			r.maxPages = maxPages
		}
	}
}
