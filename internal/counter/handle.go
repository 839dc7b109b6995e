package counter

import (
	"fmt"
	"time"

	"github.com/xtxerr/perfkit/internal/validation"
)

// Handle refers to a registered counter. Handles are small values meant to
// be obtained once and kept by the instrumented code.
//
// A handle pairs an arena slot with the generation of the counter that
// occupied the slot when the handle was issued. Once the counter is removed
// every operation through the handle fails with ErrInvalidHandle, even after
// the slot has been reused. The zero Handle is never valid.
type Handle struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

// ID packs the handle into one integer, for logs and wire formats.
func (h Handle) ID() uint64 {
	return uint64(h.gen)<<32 | uint64(h.slot)
}

// HandleFromID is the inverse of Handle.ID.
func HandleFromID(id uint64) Handle {
	return Handle{slot: uint32(id), gen: uint32(id >> 32)}
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.slot, h.gen)
}

// Key identifies a counter by section and name.
type Key struct {
	Section string
	Name    string
}

// String returns "section*name".
func (k Key) String() string {
	return k.Section + validation.KeySeparator + k.Name
}

func (k Key) less(o Key) bool {
	if k.Section != o.Section {
		return k.Section < o.Section
	}
	return k.Name < o.Name
}

// Info describes a registered counter.
type Info struct {
	Handle      Handle
	Key         Key
	Kind        Kind
	Description string
	Created     time.Time
}
