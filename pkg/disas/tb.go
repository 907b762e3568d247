package disas

import "github.com/kvemu/tcgtrans/pkg/tcg"

// PageSize is the guest page size used for the goto_tb "same page"
// eligibility check. Every realized architecture here
// uses a conventional 4KiB page; ISAConfig has no page-size setting, so
// this constant applies to every ISA.
const PageSize = 4096

// TranslationBlock is the finalized unit of translation: one
// contiguous run of guest instructions sharing the same guest page,
// decoded into one IRProgram, with two goto_tb successor slots. Whether
// a slot may be taken is decided at translation time (UseGotoTB) and is
// not recorded here.
type TranslationBlock struct {
	PCFirst  uint64
	PCLast   uint64
	NumInsns int

	Program *tcg.IRProgram

	// Successor[0] and Successor[1] are the goto_tb targets this TB may
	// chain to directly, or 0 if that slot was never used.
	Successor [2]uint64

	IsJmp IsJmp

	// Flags records control facts about how this TB was translated that
	// a caller replaying it against an instruction-count budget needs,
	// separately from IsJmp (which only describes how translation
	// ended, not what happened along the way).
	Flags TBFlags
}

// TBFlags is a bitmask of control facts recorded on a finished
// TranslationBlock.
type TBFlags uint32

const (
	// TBIcounted marks a TB translated with Context.IcountEnabled set:
	// its NumInsns is meaningful against an instruction-count budget.
	TBIcounted TBFlags = 1 << iota
	// TBLastIsIO marks a TB whose last instruction performed a
	// guest-memory access while IcountEnabled was set, forcing an early
	// stop via IOStart rather than running to the ordinary budget.
	TBLastIsIO
)

// samePage reports whether pc shares PageSize-aligned page with base,
// per original_source/include/exec/translator.h's is_same_page.
func samePage(base, pc uint64) bool {
	return base/PageSize == pc/PageSize
}

// UseGotoTB reports whether a direct branch from the TB currently
// being translated to target may use goto_tb rather than a generic
// exit_tb, per translator.h's translator_use_goto_tb: same page, and
// single-step mode disabled. Icount mode needs no separate check here:
// IOStart already forces dc.IsJmp away from Next/Target(n) the instant
// a memory access occurs under Context.IcountEnabled, so a caller ever
// reaching UseGotoTB with a Target(n) result has nothing left to guard.
func UseGotoTB(dc *Context, target uint64) bool {
	if dc.SingleStepEnabled {
		return false
	}
	return samePage(dc.PCFirst, target)
}

// IOStart implements translator_io_start's documented contract: when
// Context.IcountEnabled is set, a decoder calls this immediately before
// emitting a guest-memory access so the TB ends after the current
// instruction rather than continuing to accumulate instructions the
// icount budget cannot safely account for past an I/O boundary. It
// reports whether the TB must stop as a result.
func IOStart(dc *Context) bool {
	if !dc.IcountEnabled {
		return false
	}
	dc.ioSeen = true
	if dc.IsJmp == Next {
		dc.IsJmp = TooMany
	}
	return true
}
