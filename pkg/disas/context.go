// Package disas implements the generic translator loop: the
// guest-ISA-independent state machine that drives a per-architecture
// TranslatorOps vtable across one translation block, and the
// DecodeContext fields every architecture shares.
//
// Grounded on original_source/include/exec/translator.h, the actual
// QEMU header this package's API is distilled from (DisasContextBase,
// DisasJumpType, TranslatorOps, translator_loop). The Go idiom — one
// shared Context plus an architecture-private Scratch value instead of
// an embedded DecodeContext, an explicit vtable interface instead of
// function pointers, explicit context.Context threading (passed through
// to TranslateInsn and the CPUState fetches; Loop itself never checks it
// for cancellation) — follows bassosimone/risc32's pkg/vm request/response style
// generalized to a multi-architecture setting.
package disas

import "context"

// IsJmp classifies how a TB's translation ended. It has a fixed set of
// named values plus an open-ended "direct jump to static target N"
// family.
type IsJmp int

const (
	// Next means the loop stopped only because the next guest PC starts
	// a new page; fall through to the next sequential TB at run time.
	// It is also the value while the TB is still being decoded.
	Next IsJmp = iota
	// TooMany means the TB reached its MaxInsns budget, the IR buffer
	// neared capacity (or filled mid-instruction), or IOStart ended it
	// under icount; same epilogue as Next, and nothing in this package
	// logs the two differently.
	TooMany
	// NoReturn means the last op emitted can never fall through (a
	// NoReturn helper call, or an explicit guest halt); no epilogue
	// jump is appended at all.
	NoReturn
	// Jump means the decoder stored a run-time-computed target into the
	// PC CPU-state field (indirect branch, return); TBStop then ends the
	// TB with a bare exit_tb.
	Jump
	// Update means CPU state requires a synchronizing store before any
	// exit (e.g. a pending asynchronous interrupt check, or the loop
	// stopping after exactly one instruction because
	// Context.SingleStepEnabled is set); the epilogue falls back to a
	// bare exit_tb, same as Next/TooMany.
	Update
	// TBJump means the decoder emitted a goto_tb and it is safe to
	// chain directly to the successor TB at translation time.
	TBJump

	// targetBase offsets the Target(n) family clear of the named
	// constants above; IsJmp values >= targetBase carry n = value -
	// targetBase, the static target slot a direct branch is known to
	// land on within this same page.
	targetBase = 1 << 16
)

// Target returns the IsJmp value meaning "direct jump to static target n".
func Target(n int) IsJmp { return IsJmp(targetBase + n) }

// TargetN reports (n, true) if j is a Target(n) value.
func (j IsJmp) TargetN() (int, bool) {
	if int(j) >= targetBase {
		return int(j) - targetBase, true
	}
	return 0, false
}

// FlagState summarizes how condition-code flags stand at the current
// decode position, letting a decoder choose lazy vs. eager evaluation.
// Exactly one of the three forms is ever meaningful at a time; Kind
// selects which.
type FlagState struct {
	Kind    FlagKind
	// CCOp names the lazily-deferred operation whose result would
	// produce the flags, when Kind == FlagLazy (e.g. "sub", "add").
	CCOp string
}

// FlagKind selects which shape FlagState.CCOp takes.
type FlagKind int

const (
	// FlagUnknown means flags have not been touched since tb_start;
	// reading them now requires synchronizing from CPU state first.
	FlagUnknown FlagKind = iota
	// FlagEager means the condition codes are already materialized in
	// IR temps/globals and may be read directly.
	FlagEager
	// FlagLazy means the flags are deferred: CCOp names the last
	// result-producing operation, and reading a flag now requires
	// emitting the deferred computation first.
	FlagLazy
)

// Context is the architecture-independent decode state threaded
// through one TB's translation.
// Per-architecture decoders do not embed Context; they keep their
// ISA-specific per-TB state in Scratch (below).
type Context struct {
	// PCFirst is the guest PC the TB started at; PCNext is the guest PC
	// the decoder is currently positioned at (advances every
	// TranslateInsn call).
	PCFirst uint64
	PCNext  uint64

	NumInsns int
	MaxInsns int

	IsJmp IsJmp

	// SingleStepEnabled forces Loop to stop after exactly one
	// instruction (IsJmp = Update), set by a caller that wants one TB
	// per guest instruction rather than per max-insns budget.
	SingleStepEnabled bool
	PluginEnabled     bool

	// IcountEnabled marks a TB as accounted against an instruction-count
	// budget. A decoder that emits a guest-memory access calls IOStart,
	// which (when this is set) forces the TB to end after the current
	// instruction, since a device access is not safe to replay if the
	// TB were re-executed speculatively for the icount budget to settle.
	IcountEnabled bool

	// ioSeen records whether IOStart actually fired during this TB's
	// translation; Loop folds it into TranslationBlock.Flags at the end.
	ioSeen bool

	// ISAFeatures is an opaque bitmask of enabled optional extensions
	// (e.g. hardware divide, misaligned access) a decoder consults;
	// its bit assignment is architecture-specific and owned by the
	// decoder package that sets it (pkg/arch/riscv defines its bits from
	// the pkg/config toggles; pkg/arch/lm32 sets none).
	ISAFeatures uint64

	// Privilege is the current privilege ring (0 = most privileged).
	// Neither realized decoder reads it: LM32's "user" opcode is
	// rejected with ErrPrivilegedInstruction whatever its value.
	Privilege int

	Endian Endian

	// DelaySlotPending is set by an architecture that just decoded a
	// delayed-branch instruction; the next TranslateInsn call executes
	// in the delay slot before the branch takes effect. Architectures
	// without delay slots never set this.
	DelaySlotPending bool
	DelaySlotTarget  uint64

	Flags FlagState

	// RegisterWindowHigh is the high-water mark of the guest register
	// window seen so far in this TB (architectures without windowed
	// registers leave this at zero always).
	RegisterWindowHigh int

	// Scratch holds architecture-private per-TB decode state (e.g. a
	// helper.Emitter bound to this TB's Builder, or a pending branch
	// target awaiting TBStop). The generic Context has no business
	// knowing its shape; TBStart initializes it and the rest of that
	// architecture's TranslatorOps methods type-assert it back.
	Scratch any
}

// Endian is the guest's instruction and data byte order.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

// CPUState is the minimal read interface the loop and a decoder need
// against the running (or snapshotted) guest CPU to fetch code bytes.
// Every fetch takes the guest's instruction byte order explicitly
// rather than assuming one, since a decoder's Context carries exactly
// the Endian value (LittleEndian for RISC-V, BigEndian for LM32) that
// must govern how the fetched bytes are assembled into a value.
type CPUState interface {
	FetchU16(ctx context.Context, pc uint64, endian Endian) (uint16, error)
	FetchU32(ctx context.Context, pc uint64, endian Endian) (uint32, error)
	FetchU64(ctx context.Context, pc uint64, endian Endian) (uint64, error)
}
