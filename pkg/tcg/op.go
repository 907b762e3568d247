package tcg

// Opcode tags one emitted IR operation. The families cover arithmetic,
// comparisons, bit ops, guest-memory loads/stores, CPU-state
// loads/stores, control flow, and helper calls.
type Opcode int

const (
	// Arithmetic
	OpAdd Opcode = iota
	OpSub
	OpAnd
	OpOr
	OpXor
	OpMul
	OpDivU
	OpDivS
	OpRemU
	OpRemS
	OpShl
	OpShr
	OpSar
	OpRotl
	OpRotr

	// Comparisons
	OpSetcond
	OpMovcond

	// Bit ops
	OpExt8s
	OpExt8u
	OpExt16s
	OpExt16u
	OpExt32s
	OpExt32u
	OpBswap
	OpDeposit
	OpExtract
	OpClz
	OpCtz
	OpCtpop

	// Moves / constants
	OpMovi
	OpMov

	// Guest memory
	OpQemuLd
	OpQemuSt

	// Atomics
	OpAtomicXchg
	OpAtomicCmpxchg
	OpAtomicFetchAdd
	OpAtomicCmpxchgI128

	// CPU state
	OpLdCPU
	OpStCPU

	// Control flow
	OpInsnStart
	OpBr
	OpBrcond
	OpSetLabel
	OpGotoTB
	OpExitTB

	// Calls
	OpCall
)

// Cond is a comparison predicate, used by Setcond, Movcond and Brcond.
type Cond int

const (
	CondEq Cond = iota
	CondNe
	CondLtS
	CondLeS
	CondGtS
	CondGeS
	CondLtU
	CondLeU
	CondGtU
	CondGeU
)

// Endian selects the byte order of a guest memory access.
type Endian int

const (
	EndianLittle Endian = iota
	EndianBig
	EndianNative
)

// MemOp describes the attributes of a qemu_ld/qemu_st access: the
// access size in bits, whether a load sign-extends, the byte order,
// whether strict alignment is required, and the MMU index used to
// resolve the access (out of scope here; threaded through verbatim to
// the backend). MemOp has no atomic marker: an atomic access is
// identified by its op's Opcode (the OpAtomic* kinds).
type MemOp struct {
	SizeBits    int
	Signed      bool
	Endian      Endian
	AlignStrict bool
	MMUIndex    int
}

// Op is one emitted IR operation: a tag plus up to three operand
// slots. Not every field is meaningful for every Opcode; see the
// Emit* helpers in builder.go for which fields a given Opcode uses.
type Op struct {
	Kind Opcode
	Dst  Operand
	A    Operand
	B    Operand
	Cond Cond
	Mem  MemOp
	// Label is the branch target for Br/Brcond/SetLabel, or the bound
	// label itself for SetLabel.
	Label *Label
	// PC carries the guest PC for InsnStart.
	PC uint64
	// Extra carries opcode-specific small integers: the insn_start
	// "extra" unwind datum, the goto_tb/exit_tb slot selector (0 or 1),
	// or a Deposit/Extract bit-position pair packed as pos<<8|len.
	Extra int64
	// Helper is set for OpCall; it is an opaque index into whatever
	// helper.Registry emitted the call, so that pkg/tcg need not import
	// pkg/tcg/helper (which itself depends on pkg/tcg).
	Helper int
	Args   []Operand
}
