// Package snapshot defines the point-in-time view of counters that every
// exporter consumes, and its protobuf wire encoding.
package snapshot

import "time"

// NumPercentiles is the length of Record.Percentiles (p50, p90, p95, p99, p99.9).
const NumPercentiles = 5

// Record is the state of one counter at one instant.
type Record struct {
	Section     string
	Name        string
	Kind        string // "number", "rate" or "percentile"
	Description string
	TimestampMs int64

	// Value is the counter's reported value: the number, events per
	// second, or the mean sample.
	Value float64

	// Integer is the integer form of Value.
	Integer uint64

	// Total is the number for Number counters, the total events ever
	// counted for Rate counters, and the samples in the window for
	// Percentile counters.
	Total uint64

	Percentiles    [NumPercentiles]float64
	HasPercentiles bool
}

// Key returns "section*name".
func (r *Record) Key() string {
	return r.Section + "*" + r.Name
}

// Time returns the record timestamp.
func (r *Record) Time() time.Time {
	return time.UnixMilli(r.TimestampMs)
}

// Batch is a set of records taken together.
type Batch struct {
	TakenAtMs int64
	Host      string
	Records   []Record
}

// TakenAt returns the batch timestamp.
func (b *Batch) TakenAt() time.Time {
	return time.UnixMilli(b.TakenAtMs)
}
