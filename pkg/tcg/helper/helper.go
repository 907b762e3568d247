// Package helper implements the helper-call emitter: a
// registry of out-of-line functions a decoder can invoke from generated
// IR for anything too heavy or too rare to inline (division-by-zero
// interception, misaligned-access fixups, privileged-instruction traps,
// exception raising).
//
// Grounded on original_source/include/exec/helper-gen.h's DEF_HELPER_*
// macro family: a helper there is a (name, return type, argument type
// list, flag bitmask) tuple expanded into a typed call-emission
// function. Registry/Emitter below is the same shape expressed as Go
// values instead of C preprocessor macros.
package helper

import (
	"errors"
	"fmt"

	"github.com/kvemu/tcgtrans/pkg/tcg"
)

// Flags describes properties of a helper that the translator loop and
// the call emitter must account for, mirroring QEMU's own TCG_CALL_*
// flag bits.
type Flags int

const (
	// PureReadState marks a helper that only reads CPU state and has no
	// other side effect; such a call may in principle be reordered or
	// elided by a backend (the IR layer here never does so itself).
	PureReadState Flags = 1 << iota
	// WritesState marks a helper that writes CPU state directly rather
	// than through its return value (e.g. by taking an explicit
	// CPU-state pointer argument).
	WritesState
	// MayRaise marks a helper that can raise a guest exception
	// (longjmp/non-local-return in the original C). The emitted OpCall
	// carries no error check of its own; the flag is recorded on the
	// Helper only.
	MayRaise
	// NoReturn marks a helper that never returns to its caller at all
	// (a guest exception is certain, not merely possible). Emitting a
	// NoReturn call forces the enclosing Builder into its terminal
	// state: no further ops may be appended until the next bound label.
	NoReturn
)

// ArgKind is the Go-level type of one helper argument or return value.
type ArgKind int

const (
	ArgI32 ArgKind = iota
	ArgI64
	ArgPtr // CPU-state pointer or guest-memory pointer
)

// Signature fixes the arity and type of a helper's arguments and
// return value. Every helper implicitly receives the CPU-state pointer
// as its first real argument; Signature.Args lists only the remaining,
// decoder-supplied arguments.
type Signature struct {
	Return ArgKind
	Args   []ArgKind
}

// Helper is one registered out-of-line function.
type Helper struct {
	id    int
	Name  string
	Sig   Signature
	Flags Flags
}

// ID returns the helper's registry index, used as tcg.Op.Helper.
func (h *Helper) ID() int { return h.id }

var (
	// ErrUnknownHelper indicates a call to a helper ID the registry
	// never registered.
	ErrUnknownHelper = errors.New("helper: unknown helper")
	// ErrArityMismatch indicates a call supplied a different number of
	// arguments than the helper's signature declares.
	ErrArityMismatch = errors.New("helper: argument count mismatch")
	// ErrTypeMismatch indicates a call supplied an argument whose width
	// does not match the corresponding ArgKind in the signature.
	ErrTypeMismatch = errors.New("helper: argument type mismatch")
	// ErrNoInsnStart indicates an attempt to emit a call before the
	// enclosing TB has emitted its first InsnStart; every helper call
	// must be attributable to a guest instruction for unwind purposes.
	ErrNoInsnStart = errors.New("helper: call emitted before insn_start")
)

// Registry holds every helper function known to one guest-ISA build.
// Like BindingTable, a Registry is built once per process and then
// frozen and shared read-only across concurrently-translating TBs.
type Registry struct {
	byID   []*Helper
	byName map[string]*Helper
	frozen bool
}

// NewRegistry returns an empty, mutable registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Helper)}
}

// Register declares a new helper. Register panics if called after Freeze.
func (r *Registry) Register(name string, sig Signature, flags Flags) *Helper {
	if r.frozen {
		panic("helper: Register on a frozen Registry")
	}
	if _, ok := r.byName[name]; ok {
		panic(fmt.Sprintf("helper: duplicate helper %q", name))
	}
	h := &Helper{id: len(r.byID), Name: name, Sig: sig, Flags: flags}
	r.byID = append(r.byID, h)
	r.byName[name] = h
	return h
}

// Freeze marks the registry immutable.
func (r *Registry) Freeze() { r.frozen = true }

// Lookup resolves a helper by name.
func (r *Registry) Lookup(name string) (*Helper, error) {
	h, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownHelper
	}
	return h, nil
}

func (r *Registry) byIDOrErr(id int) (*Helper, error) {
	if id < 0 || id >= len(r.byID) {
		return nil, ErrUnknownHelper
	}
	return r.byID[id], nil
}

// Emitter emits OpCall ops against one frozen Registry into one
// Builder. A decoder holds one Emitter per TB (it wraps the TB's
// Builder, which already enforces the "no emission after NoReturn"
// invariant).
type Emitter struct {
	reg *Registry
	b   *tcg.Builder
}

// NewEmitter binds an Emitter to a registry and the TB's builder.
func NewEmitter(reg *Registry, b *tcg.Builder) *Emitter {
	return &Emitter{reg: reg, b: b}
}

// Call emits a call to helper h with the given decoder-supplied
// arguments (the CPU-state pointer is threaded implicitly and must not
// be included in args); dst receives the return value, or is nil for a
// void helper. Call validates arity and argument widths before
// emitting, and forces the builder into its terminal state (until the
// next bound label) if h is NoReturn.
func (e *Emitter) Call(h *Helper, dst tcg.Operand, args ...tcg.Operand) error {
	if !e.b.HasInsnStart() {
		return ErrNoInsnStart
	}
	if _, err := e.reg.byIDOrErr(h.id); err != nil {
		return err
	}
	if len(args) != len(h.Sig.Args) {
		return ErrArityMismatch
	}
	for i, a := range args {
		if !kindMatches(h.Sig.Args[i], a.Width()) {
			return ErrTypeMismatch
		}
	}

	op := tcg.Op{Kind: tcg.OpCall, Dst: dst, Helper: h.id, Args: args}
	if err := e.emitRaw(op); err != nil {
		return err
	}
	if h.Flags&NoReturn != 0 {
		e.b.MarkNoReturn()
	}
	return nil
}

func kindMatches(k ArgKind, w tcg.Width) bool {
	switch k {
	case ArgI32:
		return w == tcg.Width32
	case ArgI64:
		return w == tcg.Width64
	case ArgPtr:
		return w == tcg.WidthPtr
	default:
		return false
	}
}

// emitRaw appends op via the builder's exported Emit surface. Builder
// does not expose a generic "append any Op" method on purpose (every
// other package goes through a typed Emit* helper); helper is the one
// package allowed to construct an OpCall directly, since only it knows
// the call's shape. This lives behind EmitCall on Builder.
func (e *Emitter) emitRaw(op tcg.Op) error {
	return e.b.EmitCall(op.Dst, op.Helper, op.Args...)
}
