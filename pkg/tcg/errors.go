package tcg

import "errors"

// The following errors may be returned by Builder emission methods.
var (
	// ErrBufferFull indicates that the TB's op budget has been exhausted.
	// The translator loop in pkg/disas handles it by rewinding to the
	// last InsnStart (Builder.RewindLastInsn) and ending the TB at that
	// instruction boundary with TooMany; it does not retry the TB.
	ErrBufferFull = errors.New("tcg: op buffer full")

	// ErrUnknownGlobal indicates a lookup for a Global that was never
	// bound in the BindingTable.
	ErrUnknownGlobal = errors.New("tcg: unknown global")

	// ErrDuplicateGlobal indicates an attempt to bind the same global
	// name twice in the same BindingTable.
	ErrDuplicateGlobal = errors.New("tcg: duplicate global binding")
)
