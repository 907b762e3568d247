package tcg

// BindingTable maps named CPU-state fields to Global operands. One
// BindingTable is built once per guest-ISA target (process lifetime,
// not per-TB) and then shared read-only by every TB's Builder: globals
// are process-scoped, never per-translation.
//
// Grounded on bassosimone/risc32's VM register file in pkg/vm/vm.go, where
// GPR/S/PC are fixed, named slots at fixed struct offsets; BindingTable
// generalizes that fixed layout into a lookup table so each
// architecture package (pkg/arch/riscv, pkg/arch/lm32) can describe its
// own CPU-state struct instead of hard-coding RiSC-32's.
type BindingTable struct {
	byName map[string]*Global
	order  []*Global
	frozen bool
}

// NewBindingTable returns an empty, mutable table.
func NewBindingTable() *BindingTable {
	return &BindingTable{byName: make(map[string]*Global)}
}

// Bind registers a new Global at the given CPU-state byte offset.
// Binding the same name twice returns ErrDuplicateGlobal. Bind panics
// if called after Freeze, since a frozen table is shared read-only
// across goroutines translating different TBs concurrently.
func (t *BindingTable) Bind(name string, offset uintptr, width Width, dirtyTracked bool) (*Global, error) {
	if t.frozen {
		panic("tcg: Bind on a frozen BindingTable")
	}
	if _, ok := t.byName[name]; ok {
		return nil, ErrDuplicateGlobal
	}
	g := &Global{id: len(t.order), Name: name, Offset: offset, width: width, DirtyTracked: dirtyTracked}
	t.byName[name] = g
	t.order = append(t.order, g)
	return g, nil
}

// Freeze marks the table immutable. Every architecture package calls
// Freeze once, after registering all of its CPU-state fields, before
// handing the table to the translator loop.
func (t *BindingTable) Freeze() { t.frozen = true }

// Frozen reports whether Freeze has been called.
func (t *BindingTable) Frozen() bool { return t.frozen }

// Lookup returns the Global bound to name, or ErrUnknownGlobal.
func (t *BindingTable) Lookup(name string) (*Global, error) {
	g, ok := t.byName[name]
	if !ok {
		return nil, ErrUnknownGlobal
	}
	return g, nil
}

// All returns every bound Global in binding order. The slice is owned
// by the table and must not be mutated by callers.
func (t *BindingTable) All() []*Global { return t.order }

// Len reports how many globals are bound.
func (t *BindingTable) Len() int { return len(t.order) }
