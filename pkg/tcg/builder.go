// Package tcg implements the architecture-neutral intermediate
// representation ("TCG IR") that the translator loop and the
// per-architecture decoders emit into. It owns temporary and label
// allocation for one translation block (TB) at a time and never
// reorders or eliminates the ops it is given — that is a backend
// concern, explicitly out of scope here.
//
// Adapted from the encode-time bit-packing idiom of
// pkg/asm/instruction.go in bassosimone/risc32: there, one small struct
// per opcode carried just enough fields to produce one 32-bit word.
// Here, one Builder carries the growing op stream for one TB, and the
// "encode" step is replaced by "append a typed Op".
package tcg

import "fmt"

// DefaultMaxOps bounds how many ops a single TB buffer may hold before
// Builder.emit returns ErrBufferFull. The translator loop (pkg/disas)
// treats that as "IR buffer is nearly full" and
// terminates the TB with DISAS_TOO_MANY.
const DefaultMaxOps = 4096

// Builder emits a linear stream of Op into one TB's buffer. A Builder
// is created fresh for each TB; it is never shared across TBs.
type Builder struct {
	maxOps int
	ops    []Op

	nextTempID  int
	nextLabelID int

	// freeEphemeral holds ephemeral temps freed since the last bound
	// label, keyed by width, available for FreeTemp/NewTemp recycling.
	freeEphemeral map[Width][]*Temp

	// openLabels counts labels allocated but not yet bound; used by
	// Finish to detect an unbound label, which is caller misuse.
	openLabels map[int]*Label

	// sawInsnStart is exported via HasInsnStart for the helper emitter
	// (pkg/tcg/helper), which must refuse to emit a call before the
	// first InsnStart of the TB.
	sawInsnStart bool

	// noReturnSeen latches once a NoReturn helper call is emitted (see
	// MarkNoReturn); until the next SetLabel, further emission is a
	// logic error and the builder refuses it.
	noReturnSeen bool

	// lastInsnStartIdx is the position in ops of the most recent
	// InsnStart, or -1 if no instruction has started yet this TB.
	// RewindLastInsn truncates back to this position to discard a
	// partially-emitted instruction.
	lastInsnStartIdx int

	// labelWatermark is nextLabelID as of the most recent InsnStart;
	// RewindLastInsn uses it to release any label the discarded
	// instruction allocated but never bound.
	labelWatermark int
}

// NewBuilder creates a Builder with the default op budget.
func NewBuilder() *Builder {
	return NewBuilderSize(DefaultMaxOps)
}

// NewBuilderSize creates a Builder with an explicit op budget. The
// translator loop translates into whichever Builder its caller supplies;
// it never allocates or resizes one itself.
func NewBuilderSize(maxOps int) *Builder {
	return &Builder{
		maxOps:           maxOps,
		freeEphemeral:    make(map[Width][]*Temp),
		openLabels:       make(map[int]*Label),
		lastInsnStartIdx: -1,
	}
}

// Ops returns the emitted op stream so far. Callers must not mutate it.
func (b *Builder) Ops() []Op { return b.ops }

// Len reports how many ops have been emitted.
func (b *Builder) Len() int { return len(b.ops) }

// Full reports whether the next emission would exceed the op budget;
// the translator loop polls this for its "IR buffer is nearly full"
// soft-termination check.
func (b *Builder) Full() bool { return len(b.ops) >= b.maxOps }

// HasInsnStart reports whether at least one InsnStart has been emitted
// in this TB; pkg/tcg/helper's Call requires this before emitting.
func (b *Builder) HasInsnStart() bool { return b.sawInsnStart }

// NoReturn reports whether a NoReturn helper call has been emitted
// since the last bound label; further emission before the next SetLabel
// is a programming error.
func (b *Builder) NoReturn() bool { return b.noReturnSeen }

// MarkNoReturn latches the no-further-emission invariant until the next
// SetLabel. Called by the helper emitter when a NoReturn helper call is
// emitted.
func (b *Builder) MarkNoReturn() { b.noReturnSeen = true }

func (b *Builder) guardMisuse() {
	if b.noReturnSeen {
		panic("tcg: emission after NoReturn terminator")
	}
}

func (b *Builder) emit(op Op) error {
	b.guardMisuse()
	if len(b.ops) >= b.maxOps {
		return ErrBufferFull
	}
	b.ops = append(b.ops, op)
	return nil
}

// --- Temporaries ---------------------------------------------------

// NewTemp allocates an ephemeral temporary of the given width,
// recycling a previously freed ephemeral temp of the same width if one
// is available in the current basic-block segment: a freed temp may be
// recycled only within the same basic-block segment (no bound label in
// between).
func (b *Builder) NewTemp(width Width) *Temp {
	if pool := b.freeEphemeral[width]; len(pool) > 0 {
		t := pool[len(pool)-1]
		b.freeEphemeral[width] = pool[:len(pool)-1]
		t.freed = false
		return t
	}
	t := &Temp{id: b.nextTempID, width: width, class: Ephemeral}
	b.nextTempID++
	return t
}

// NewLocalTemp allocates a temp that survives across bound labels
// within this TB. Local temps are never recycled by FreeTemp/NewTemp.
func (b *Builder) NewLocalTemp(width Width) *Temp {
	t := &Temp{id: b.nextTempID, width: width, class: Local}
	b.nextTempID++
	return t
}

// FreeTemp releases an ephemeral temp for recycling. Freeing a Local
// temp, or a temp already freed, is a programming error and panics.
func (b *Builder) FreeTemp(t *Temp) {
	if t.class != Ephemeral {
		panic("tcg: FreeTemp on a local temp")
	}
	if t.freed {
		panic("tcg: double free of temp")
	}
	t.freed = true
	b.freeEphemeral[t.width] = append(b.freeEphemeral[t.width], t)
}

// clearRecycling drops the ephemeral free-list; called whenever a
// label is bound, since a freed-before-the-label temp may not be
// recycled across the label.
func (b *Builder) clearRecycling() {
	for w := range b.freeEphemeral {
		delete(b.freeEphemeral, w)
	}
}

// --- Constants -------------------------------------------------------

// ConstI32 materializes a 32-bit constant into a fresh ephemeral temp
// via a movi op.
func (b *Builder) ConstI32(value int32) (*Temp, error) {
	return b.constInto(Width32, int64(value))
}

// ConstI64 materializes a 64-bit constant into a fresh ephemeral temp.
func (b *Builder) ConstI64(value int64) (*Temp, error) {
	return b.constInto(Width64, value)
}

// ConstPtr materializes a pointer-width constant (used for the
// CPU-state base pointer and absolute branch targets).
func (b *Builder) ConstPtr(value int64) (*Temp, error) {
	return b.constInto(WidthPtr, value)
}

func (b *Builder) constInto(w Width, value int64) (*Temp, error) {
	t := b.NewTemp(w)
	if err := b.emit(Op{Kind: OpMovi, Dst: t, A: Imm{Value: value, width: w}}); err != nil {
		return nil, err
	}
	return t, nil
}

// --- Labels ----------------------------------------------------------

// NewLabel allocates an unbound label.
func (b *Builder) NewLabel() *Label {
	l := &Label{id: b.nextLabelID}
	b.nextLabelID++
	b.openLabels[l.id] = l
	return l
}

// SetLabel binds a label at the current position. Binding an
// already-bound label is a programming error and panics. Binding a
// label also releases the NoReturn latch, since a branch can reach the
// code that follows it.
func (b *Builder) SetLabel(l *Label) error {
	if l.bound {
		panic("tcg: label bound twice")
	}
	b.noReturnSeen = false
	l.bound = true
	delete(b.openLabels, l.id)
	b.clearRecycling()
	return b.emit(Op{Kind: OpSetLabel, Label: l})
}

// Finish validates that every allocated label has been bound and
// returns the finished op stream as an IRProgram. Calling Finish with
// an unbound label is a programming error and panics.
func (b *Builder) Finish() (*IRProgram, error) {
	if len(b.openLabels) > 0 {
		panic(fmt.Sprintf("tcg: %d unbound label(s) at end of TB", len(b.openLabels)))
	}
	return &IRProgram{Ops: b.ops, NumTemps: b.nextTempID, NumLabels: b.nextLabelID}, nil
}

// --- Arithmetic / moves ------------------------------------------------

// EmitBinop emits dst = a <kind> b.
func (b *Builder) EmitBinop(kind Opcode, dst, a, op2 Operand) error {
	return b.emit(Op{Kind: kind, Dst: dst, A: a, B: op2})
}

// EmitUnop emits dst = <kind> a (bswap, ext*, clz, ctz, ctpop).
func (b *Builder) EmitUnop(kind Opcode, dst, a Operand) error {
	return b.emit(Op{Kind: kind, Dst: dst, A: a})
}

// EmitMovi emits dst = imm.
func (b *Builder) EmitMovi(dst *Temp, value int64) error {
	return b.emit(Op{Kind: OpMovi, Dst: dst, A: Imm{Value: value, width: dst.width}})
}

// EmitMov emits dst = src.
func (b *Builder) EmitMov(dst, src Operand) error {
	return b.emit(Op{Kind: OpMov, Dst: dst, A: src})
}

// EmitSetcond emits dst = (a <cond> b) ? 1 : 0.
func (b *Builder) EmitSetcond(cond Cond, dst, a, op2 Operand) error {
	return b.emit(Op{Kind: OpSetcond, Dst: dst, A: a, B: op2, Cond: cond})
}

// EmitMovcond emits dst = (a <cond> b) ? ifTrue : ifFalse, encoded as
// a 4-operand op via Args (Dst is the destination, A/B hold the
// condition operands, Args holds [ifTrue, ifFalse]).
func (b *Builder) EmitMovcond(cond Cond, dst, a, op2, ifTrue, ifFalse Operand) error {
	return b.emit(Op{Kind: OpMovcond, Dst: dst, A: a, B: op2, Cond: cond, Args: []Operand{ifTrue, ifFalse}})
}

// --- Control flow ------------------------------------------------------

// EmitBrcond emits: if (a <cond> b) goto label.
func (b *Builder) EmitBrcond(cond Cond, a, op2 Operand, label *Label) error {
	return b.emit(Op{Kind: OpBrcond, A: a, B: op2, Cond: cond, Label: label})
}

// EmitBr emits: goto label.
func (b *Builder) EmitBr(label *Label) error {
	return b.emit(Op{Kind: OpBr, Label: label})
}

// --- Guest memory --------------------------------------------------------

// EmitQemuLd emits dst = *(guest*)addr, per mem's size/sign/endian/align/MMU attributes.
func (b *Builder) EmitQemuLd(dst, addr Operand, mem MemOp) error {
	return b.emit(Op{Kind: OpQemuLd, Dst: dst, A: addr, Mem: mem})
}

// EmitQemuSt emits *(guest*)addr = src.
func (b *Builder) EmitQemuSt(src, addr Operand, mem MemOp) error {
	return b.emit(Op{Kind: OpQemuSt, A: src, B: addr, Mem: mem})
}

// EmitAtomic emits one atomic primitive (xchg/cmpxchg/fetch-op/128-bit
// cmpxchg). cmpArgs carries the compare value for cmpxchg variants.
func (b *Builder) EmitAtomic(kind Opcode, dst, addr, val Operand, mem MemOp, cmp Operand) error {
	op := Op{Kind: kind, Dst: dst, A: addr, B: val, Mem: mem}
	if cmp != nil {
		op.Args = []Operand{cmp}
	}
	return b.emit(op)
}

// --- CPU state -----------------------------------------------------------

// EmitLdCPU emits dst = cpu_state[offset:width].
func (b *Builder) EmitLdCPU(dst Operand, offset uintptr, width Width) error {
	return b.emit(Op{Kind: OpLdCPU, Dst: dst, Extra: int64(offset), Mem: MemOp{SizeBits: int(width)}})
}

// EmitStCPU emits cpu_state[offset:width] = src.
func (b *Builder) EmitStCPU(src Operand, offset uintptr, width Width) error {
	return b.emit(Op{Kind: OpStCPU, A: src, Extra: int64(offset), Mem: MemOp{SizeBits: int(width)}})
}

// --- Instruction boundary / terminators -----------------------------------

// EmitInsnStart marks a guest-instruction boundary, carrying the guest
// PC and an ISA-specific "extra" unwind datum.
func (b *Builder) EmitInsnStart(pc uint64, extra int64) error {
	mark, labelMark := len(b.ops), b.nextLabelID
	if err := b.emit(Op{Kind: OpInsnStart, PC: pc, Extra: extra}); err != nil {
		return err
	}
	b.sawInsnStart = true
	b.lastInsnStartIdx = mark
	b.labelWatermark = labelMark
	return nil
}

// RewindLastInsn discards every op emitted since (and including) the
// most recent InsnStart, undoing a partially-emitted instruction's IR.
// The translator loop calls this when TranslateInsn fails with
// ErrBufferFull, so the TB ends cleanly at the prior instruction
// boundary instead of carrying a truncated final instruction. It is a
// no-op if no instruction has started yet this TB. Any label the
// discarded instruction allocated but never bound is released too,
// since an unbound label would otherwise make Finish panic.
func (b *Builder) RewindLastInsn() {
	if b.lastInsnStartIdx < 0 {
		return
	}
	b.ops = b.ops[:b.lastInsnStartIdx]
	for id := range b.openLabels {
		if id >= b.labelWatermark {
			delete(b.openLabels, id)
		}
	}
	b.sawInsnStart = b.lastInsnStartIdx > 0
	b.lastInsnStartIdx = -1
}

// EmitGotoTB emits a direct-patched jump to another TB sharing this
// TB's guest page. slot must be 0 or 1.
func (b *Builder) EmitGotoTB(slot int) error {
	if slot != 0 && slot != 1 {
		panic("tcg: goto_tb slot must be 0 or 1")
	}
	return b.emit(Op{Kind: OpGotoTB, Extra: int64(slot)})
}

// EmitExitTB emits an unconditional return to the dispatcher. target
// is an opaque encoding of "this TB + slot", or 0 to mean "look up the
// next TB at run time".
func (b *Builder) EmitExitTB(target int64) error {
	return b.emit(Op{Kind: OpExitTB, Extra: target})
}

// --- Helper calls ----------------------------------------------------------

// EmitCall appends an OpCall built by pkg/tcg/helper.Emitter. It is not
// meant to be called directly by decoders; pkg/tcg/helper validates
// arity and argument types first and is the only intended caller, kept
// in a separate package so pkg/tcg need not know about helper
// signatures or flags.
func (b *Builder) EmitCall(dst Operand, helperID int, args ...Operand) error {
	return b.emit(Op{Kind: OpCall, Dst: dst, Helper: helperID, Args: args})
}

// IRProgram is the finalized, read-only result of one TB's translation:
// the op stream plus enough metadata for a backend to allocate storage
// for temps/labels. TranslationBlock metadata lives in pkg/disas, whose
// translator loop wraps the IRProgram after Finish returns; the unwind
// side-table lives in pkg/unwind and is not attached to either, but
// rebuilt from the op stream on demand (unwind.BuildFromProgram).
type IRProgram struct {
	Ops       []Op
	NumTemps  int
	NumLabels int
}
