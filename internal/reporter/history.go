package reporter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/perfkit/internal/snapshot"
)

// History keeps the most recent batches in memory. When full, a push
// overwrites the oldest batch. It is safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	data     []*snapshot.Batch
	head     int64 // next write position
	tail     int64 // oldest batch position
	count    int64
	capacity int64

	pushCount atomic.Int64
	dropCount atomic.Int64
}

// HistoryStats holds history statistics.
type HistoryStats struct {
	Capacity  int
	Count     int
	PushCount int64
	DropCount int64
}

// NewHistory creates a history of the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{
		data:     make([]*snapshot.Batch, capacity),
		capacity: int64(capacity),
	}
}

// Push adds a batch, overwriting the oldest when full.
func (h *History) Push(b *snapshot.Batch) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count >= h.capacity {
		h.data[h.tail%h.capacity] = nil
		h.tail++
		h.count--
		h.dropCount.Add(1)
	}

	h.data[h.head%h.capacity] = b
	h.head++
	h.count++
	h.pushCount.Add(1)
}

// Newest returns the most recent batch.
func (h *History) Newest() (*snapshot.Batch, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return nil, false
	}
	return h.data[(h.head-1)%h.capacity], true
}

// Len returns the number of batches held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int(h.count)
}

// Cap returns the capacity.
func (h *History) Cap() int {
	return int(h.capacity)
}

// Query returns the records of one counter, oldest first. A positive
// limit keeps only the newest limit records.
func (h *History) Query(section, name string, limit int) []snapshot.Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []snapshot.Record
	for i := int64(0); i < h.count; i++ {
		b := h.data[(h.tail+i)%h.capacity]
		for j := range b.Records {
			if b.Records[j].Section == section && b.Records[j].Name == name {
				out = append(out, b.Records[j])
				break
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// TimeRange returns the timestamps of the oldest and newest batches, or
// zeros when empty.
func (h *History) TimeRange() (oldest, newest int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return 0, 0
	}
	return h.data[h.tail%h.capacity].TakenAtMs, h.data[(h.head-1)%h.capacity].TakenAtMs
}

// Duration returns the time covered by the held batches.
func (h *History) Duration() time.Duration {
	oldest, newest := h.TimeRange()
	return time.Duration(newest-oldest) * time.Millisecond
}

// Clear removes every batch.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.data {
		h.data[i] = nil
	}
	h.head, h.tail, h.count = 0, 0, 0
}

// Stats returns history statistics.
func (h *History) Stats() HistoryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HistoryStats{
		Capacity:  int(h.capacity),
		Count:     int(h.count),
		PushCount: h.pushCount.Load(),
		DropCount: h.dropCount.Load(),
	}
}
