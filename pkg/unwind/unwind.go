// Package unwind implements the restart/unwind side-table: a mapping from a host code offset within a
// compiled TB back to the guest PC (and any ISA-specific restart
// datum, e.g. a pending delay-slot target) active when that host
// instruction was generated. A runtime fault at some host offset uses
// this table to reconstruct "which guest instruction was executing"
// and restart translation there.
//
// Grounded on the insn_start bookkeeping in
// original_source/target-lm32/translate.c (each decode iteration
// begins by recording tcg_ctx->gen_insn_data against the current dc->pc
// before emitting any IR for that instruction) and on bassosimone/risc32's
// straight-line, append-only slice idiom used throughout pkg/vm for
// small per-entry tables.
package unwind

import (
	"sort"

	"github.com/kvemu/tcgtrans/pkg/tcg"
)

// Entry records one guest-instruction boundary's restart information.
type Entry struct {
	// HostOffset is the offset, in generated-code order (here: IR op
	// index, since this module has no physical code generator), of the
	// first op belonging to this guest instruction.
	HostOffset int
	// GuestPC is the guest program counter at the start of that
	// instruction.
	GuestPC uint64
	// Extra is an architecture-specific restart datum: a delay-slot
	// shadow target, a lazy-flags CCOp tag, or zero when unused.
	Extra int64
}

// Table is a monotone-by-HostOffset sequence of Entry, built once while
// a TB is translated and then queried at fault time. Entries must be
// appended in strictly increasing HostOffset order (Record panics
// otherwise), matching the fact that insn_start ops are themselves
// emitted in strictly increasing op-stream order.
type Table struct {
	entries []Entry
	patched map[int]int64 // HostOffset -> replacement Extra
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{patched: make(map[int]int64)}
}

// Record appends one restart point. Record panics if hostOffset does
// not strictly increase, since that would break Lookup's binary search
// invariant.
func (t *Table) Record(hostOffset int, guestPC uint64, extra int64) {
	if n := len(t.entries); n > 0 && hostOffset <= t.entries[n-1].HostOffset {
		panic("unwind: Record called with non-increasing host offset")
	}
	t.entries = append(t.entries, Entry{HostOffset: hostOffset, GuestPC: guestPC, Extra: extra})
}

// Patch overrides the Extra field recorded for the entry at exactly
// hostOffset, used when a later pass within the same TB discovers
// extra restart information only after insn_start was already emitted
// (e.g. a delayed-branch shadow target resolved one instruction
// later, on an ISA with delay slots). Patch panics if hostOffset was never Recorded.
func (t *Table) Patch(hostOffset int, extra int64) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].HostOffset >= hostOffset })
	if i == len(t.entries) || t.entries[i].HostOffset != hostOffset {
		panic("unwind: Patch on an unrecorded host offset")
	}
	t.patched[hostOffset] = extra
}

// Lookup finds the restart entry governing faultOffset: the entry with
// the greatest HostOffset less than or equal to faultOffset.
// ok is false if faultOffset precedes every recorded entry.
func (t *Table) Lookup(faultOffset int) (entry Entry, ok bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].HostOffset > faultOffset })
	if i == 0 {
		return Entry{}, false
	}
	e := t.entries[i-1]
	if extra, patched := t.patched[e.HostOffset]; patched {
		e.Extra = extra
	}
	return e, true
}

// Len reports how many entries have been recorded.
func (t *Table) Len() int { return len(t.entries) }

// BuildFromProgram reconstructs the restart table a TB's translation
// would have recorded, using each OpInsnStart's position in the
// finished op stream as its HostOffset. This build has no physical
// code generator downstream of the IR, so op index stands in for the
// real backend's host-code offset; a backend would call Record
// directly at emission time instead of reconstructing it after the
// fact.
func BuildFromProgram(prog *tcg.IRProgram) *Table {
	t := NewTable()
	for i, op := range prog.Ops {
		if op.Kind == tcg.OpInsnStart {
			t.Record(i, op.PC, op.Extra)
		}
	}
	return t
}
