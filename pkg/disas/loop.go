package disas

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kvemu/tcgtrans/pkg/tcg"
)

// TranslatorOps is the per-architecture vtable the generic Loop below
// drives. Exactly one implementation exists per
// realized guest ISA (pkg/arch/riscv.New, pkg/arch/lm32.New);
// everything else in this package is architecture-independent.
//
// Method names and responsibilities are grounded directly on
// original_source/include/exec/translator.h's TranslatorOps struct
// (init_disas_context, tb_start, insn_start, translate_insn, tb_stop,
// disas_log), translated one-for-one into a Go interface instead of a
// struct of function pointers.
type TranslatorOps interface {
	// InitDisasContext populates architecture-specific fields of dc
	// (ISAFeatures, Privilege, Endian, ...) before the first
	// instruction of the TB is decoded.
	InitDisasContext(dc *Context, cpu CPUState) error

	// TBStart emits any IR needed once per TB before the first
	// instruction (e.g. icount synchronization).
	TBStart(dc *Context, b *tcg.Builder) error

	// InsnStart emits the insn_start marker for the instruction about
	// to be decoded at dc.PCNext.
	InsnStart(dc *Context, b *tcg.Builder) error

	// TranslateInsn decodes and emits IR for exactly one guest
	// instruction at dc.PCNext, advancing dc.PCNext past it; a direct
	// jump instead leaves dc.PCNext at its static target, and an
	// instruction that fails or ends the TB NoReturn leaves dc.PCNext at
	// that instruction. It returns one of the disas sentinel errors
	// (ErrIllegalInstruction, ErrPrivilegedInstruction,
	// ErrAlignmentFault, ErrBufferFull, ErrFetchFault) on failure,
	// wrapped with fmt.Errorf("%w: ...") for context; a tcg.ErrBufferFull
	// from a Builder emission is accepted in place of ErrBufferFull.
	TranslateInsn(ctx context.Context, dc *Context, b *tcg.Builder, cpu CPUState) error

	// TBStop emits the TB's epilogue IR appropriate to dc.IsJmp
	// (goto_tb, exit_tb, or nothing for NoReturn) once the loop has
	// decided to stop.
	TBStop(dc *Context, b *tcg.Builder) error

	// BreakpointTrap emits the IR sequence for a guest breakpoint hit at
	// dc.PCNext, in place of translating the instruction there: store
	// dc.PCNext into the PC CPU-state field so the debugger sees an
	// accurate PC, then raise a breakpoint exception through a NoReturn
	// helper call. BreakpointTrap sets dc.IsJmp itself (to NoReturn, since
	// the raise never returns to generated code); the loop does not emit
	// any further epilogue of its own after calling this.
	BreakpointTrap(dc *Context, b *tcg.Builder) error

	// DisasLog is called after a successfully finished TB if the
	// caller enabled disassembly logging; implementations typically
	// render the decoded instructions via a structured logger the way
	// bassosimone/risc32's pkg/vm.Disassemble renders one instruction at a
	// time.
	DisasLog(dc *Context, tb *TranslationBlock)
}

// LogFunc receives the finished TB when disassembly logging is
// requested; passing nil disables logging regardless of
// TranslatorOps.DisasLog.
type LogFunc func(dc *Context, tb *TranslationBlock)

// Loop drives one TB's translation to completion: it repeatedly calls
// InsnStart/TranslateInsn until a stopping condition is reached, then
// calls TBStop and assembles the finished TranslationBlock.
//
// Stopping conditions, in the order the loop checks them each
// iteration (a breakpoint at the very first instruction of the TB
// always takes precedence over the max-instruction-count check, since
// otherwise a MaxInsns of 1 could hide a breakpoint forever):
//
//  1. A breakpoint snapshot hit at dc.PCNext, checked right after the
//     instruction's insn_start marker (the TB's first instruction
//     included) — stop without translating this instruction and call
//     TranslatorOps.BreakpointTrap instead, which synchronizes the PC
//     and raises a breakpoint exception (IsJmp ends up NoReturn) so the
//     debugger actually sees the trap rather than a plain fallthrough.
//  2. TranslateInsn returns an error — map it to a terminal IsJmp (see
//     mapError) and stop. An ErrBufferFull error (or a tcg.ErrBufferFull
//     passed up unwrapped from a Builder emission) additionally rewinds
//     the builder back to the start of the instruction that failed to
//     finish emitting (Builder.RewindLastInsn), so the TB ends with a
//     clean instruction boundary rather than truncated partial IR.
//  3. TranslateInsn itself set dc.IsJmp to a terminal, non-Next value
//     (NoReturn, Jump, Update, TBJump, or Target(n)) — stop immediately,
//     honoring whatever the decoder decided.
//  4. The IR buffer neared capacity — stop with IsJmp = TooMany.
//  5. dc.SingleStepEnabled is set — stop with IsJmp = Update after
//     exactly one instruction, so a single-stepping caller gets a TB
//     per guest instruction (tb.NumInsns == 1) rather than per budget.
//  6. dc.NumInsns reaches dc.MaxInsns — stop with IsJmp = TooMany.
//  7. dc.PCNext has crossed into the next guest page — stop with
//     IsJmp = Next (a TB never spans two pages, so goto_tb's
//     same-page precondition is always satisfiable for a finished TB).
func Loop(ctx context.Context, cpu CPUState, ops TranslatorOps, dc *Context, b *tcg.Builder, breakpoints mapset.Set[uint64], log LogFunc) (*TranslationBlock, error) {
	if err := ops.InitDisasContext(dc, cpu); err != nil {
		return nil, fmt.Errorf("disas: init_disas_context: %w", err)
	}
	if err := ops.TBStart(dc, b); err != nil {
		return nil, fmt.Errorf("disas: tb_start: %w", err)
	}

	pageBase := dc.PCFirst

	for {
		if err := ops.InsnStart(dc, b); err != nil {
			return nil, fmt.Errorf("disas: insn_start at pc=%#x: %w", dc.PCNext, err)
		}

		if breakpoints != nil && breakpoints.Contains(dc.PCNext) {
			if err := ops.BreakpointTrap(dc, b); err != nil {
				return nil, fmt.Errorf("disas: breakpoint_trap at pc=%#x: %w", dc.PCNext, err)
			}
			break
		}

		pcBefore := dc.PCNext
		err := ops.TranslateInsn(ctx, dc, b, cpu)
		if err != nil {
			dc.IsJmp = mapError(err)
			if dc.IsJmp == Next {
				// Not one of the recognized sentinels: propagate as a
				// hard failure rather than silently treating an
				// unrecognized error as "ran out of budget".
				return nil, fmt.Errorf("disas: translate_insn at pc=%#x: %w", pcBefore, err)
			}
			if errors.Is(err, ErrBufferFull) || errors.Is(err, tcg.ErrBufferFull) {
				// The instruction starting at pcBefore never finished
				// emitting; discard its partial IR rather than leaving a
				// truncated instruction baked into the TB.
				b.RewindLastInsn()
				dc.PCNext = pcBefore
			}
			break
		}
		dc.NumInsns++

		if dc.IsJmp != Next {
			// The decoder itself decided the TB is done (NoReturn,
			// Jump, Update, TBJump, or a direct Target(n)).
			break
		}
		if b.Full() {
			dc.IsJmp = TooMany
			break
		}
		if dc.SingleStepEnabled {
			dc.IsJmp = Update
			break
		}
		if dc.NumInsns >= dc.MaxInsns {
			dc.IsJmp = TooMany
			break
		}
		if !samePage(pageBase, dc.PCNext) {
			break
		}
	}

	if err := ops.TBStop(dc, b); err != nil {
		return nil, fmt.Errorf("disas: tb_stop: %w", err)
	}

	prog, err := b.Finish()
	if err != nil {
		return nil, fmt.Errorf("disas: finish: %w", err)
	}

	var flags TBFlags
	if dc.IcountEnabled {
		flags |= TBIcounted
	}
	if dc.ioSeen {
		flags |= TBLastIsIO
	}

	tb := &TranslationBlock{
		PCFirst:  dc.PCFirst,
		PCLast:   dc.PCNext,
		NumInsns: dc.NumInsns,
		Program:  prog,
		IsJmp:    dc.IsJmp,
		Flags:    flags,
	}
	switch n, ok := dc.IsJmp.TargetN(); {
	case ok:
		tb.Successor[n%2] = dc.PCNext
	case dc.IsJmp == Next || dc.IsJmp == TooMany || dc.IsJmp == TBJump || dc.IsJmp == Update:
		tb.Successor[0] = dc.PCNext
	}

	if log != nil {
		ops.DisasLog(dc, tb)
		log(dc, tb)
	}
	return tb, nil
}

// mapError maps one of the disas sentinel errors (matched with
// errors.Is, so a wrapped sentinel counts too), or a tcg.ErrBufferFull
// from the Builder, onto its terminal IsJmp value. Any other error maps
// to Next, which Loop treats as an unrecognized failure and returns to
// its caller wrapped with the failing PC.
func mapError(err error) IsJmp {
	switch {
	case errors.Is(err, ErrIllegalInstruction), errors.Is(err, ErrPrivilegedInstruction),
		errors.Is(err, ErrAlignmentFault), errors.Is(err, ErrFetchFault):
		return NoReturn
	case errors.Is(err, ErrBufferFull), errors.Is(err, tcg.ErrBufferFull):
		return TooMany
	default:
		return Next
	}
}
