package tcg

// Width is the bit width of a Temp or Global. The builder recognizes
// two integer widths plus an opaque pointer width used for the
// CPU-state base pointer threaded into helper calls.
type Width int

const (
	Width32 Width = 32
	Width64 Width = 64
	WidthPtr Width = 0
)

// TempClass fixes whether a Temp survives across a bound Label within
// the same TB ("local") or is discarded at the next label
// ("ephemeral"). A Temp's class is fixed at creation.
type TempClass int

const (
	Ephemeral TempClass = iota
	Local
)

// Operand is anything that may occupy an operand slot of an Op: a
// Temp, a Global, or an immediate constant. Labels occupy their own
// dedicated Op field rather than an operand slot, since a label is
// never read or written like a value.
type Operand interface {
	operand()
	Width() Width
}

// Temp is a TB-local IR temporary. It is never read before it is
// written, and backends rely on that property; the builder does not
// itself verify it (that would require dataflow analysis out of scope
// for the IR layer) but Builder.FreeTemp and the class-mismatch panics
// in builder.go guard the cheaper invariants it can check locally.
type Temp struct {
	id    int
	width Width
	class TempClass
	freed bool
}

func (*Temp) operand() {}

// Width implements Operand.
func (t *Temp) Width() Width { return t.width }

// ID returns the temporary's identity, stable for the lifetime of the TB.
func (t *Temp) ID() int { return t.id }

// Class reports whether the temp is Local or Ephemeral.
func (t *Temp) Class() TempClass { return t.class }

// Global is an IR operand bound to a fixed offset in the per-vCPU
// CPU-state struct. Globals are process-scoped: one BindingTable
// instance produces all Globals for a given guest-ISA build, and the
// same *Global is shared by every TB translated against that table.
type Global struct {
	id           int
	Name         string
	Offset       uintptr
	width        Width
	DirtyTracked bool
}

func (*Global) operand() {}

// Width implements Operand.
func (g *Global) Width() Width { return g.width }

// Imm is an immediate constant operand. Builder.ConstI32/ConstI64/ConstPtr
// materialize an Imm into a fresh Temp via a movi op rather than handing
// out a bare Imm, because every other Op operand slot expects something
// with a stable identity (temps/globals); Imm itself is only ever the
// right-hand side of a movi.
type Imm struct {
	Value int64
	width Width
}

func (Imm) operand() {}

// Width implements Operand.
func (i Imm) Width() Width { return i.width }

// Label is a bindable branch target within one TB. It must be bound
// exactly once (via Builder.SetLabel) before the TB ends; forward and
// backward branches are both permitted.
type Label struct {
	id    int
	bound bool
}

// ID returns the label's identity, stable for the lifetime of the TB.
func (l *Label) ID() int { return l.id }

// Bound reports whether SetLabel has already been called for this label.
func (l *Label) Bound() bool { return l.bound }
