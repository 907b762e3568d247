package disas

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// BreakpointSet holds the guest PCs currently breakpointed, shared
// across every translation goroutine. cmd/tcgtrans fills it from its
// --break flags; the translator loop checks every instruction of a TB
// against one snapshot taken for that TB, so a change to the set takes
// effect from the next TB on.
//
// Grounded on golang-set for its snapshot-friendly, safe-to-range-over
// Clone semantics; the mutex around it follows bassosimone/risc32's
// pkg/vm/tty.go pattern of guarding shared state with a plain
// sync.Mutex rather than channels, since this is read-mostly shared
// state, not a pipeline.
type BreakpointSet struct {
	mu  sync.Mutex
	set mapset.Set[uint64]
}

// NewBreakpointSet returns an empty set.
func NewBreakpointSet() *BreakpointSet {
	return &BreakpointSet{set: mapset.NewSet[uint64]()}
}

// Add inserts pc into the set.
func (b *BreakpointSet) Add(pc uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set.Add(pc)
}

// Remove deletes pc from the set.
func (b *BreakpointSet) Remove(pc uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set.Remove(pc)
}

// Snapshot returns an immutable copy safe to consult for the lifetime
// of one TB's translation without holding the lock. Loop's caller
// (cmd/tcgtrans's runLoop) takes one snapshot per TB and passes it to
// Loop.
func (b *BreakpointSet) Snapshot() mapset.Set[uint64] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.set.Clone()
}
