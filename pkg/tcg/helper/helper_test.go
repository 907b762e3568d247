package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvemu/tcgtrans/pkg/tcg"
)

func newFrozenRegistry() (*Registry, *Helper, *Helper) {
	reg := NewRegistry()
	divzero := reg.Register("divzero", Signature{Return: ArgI32, Args: []ArgKind{ArgI32, ArgI32}}, PureReadState)
	raise := reg.Register("raise", Signature{Return: ArgI32, Args: nil}, NoReturn|WritesState)
	reg.Freeze()
	return reg, divzero, raise
}

func TestCallBeforeInsnStartFails(t *testing.T) {
	reg, divzero, _ := newFrozenRegistry()
	b := tcg.NewBuilder()
	e := NewEmitter(reg, b)
	a := b.NewTemp(tcg.Width32)
	c := b.NewTemp(tcg.Width32)
	dst := b.NewTemp(tcg.Width32)
	err := e.Call(divzero, dst, a, c)
	assert.ErrorIs(t, err, ErrNoInsnStart)
}

func TestCallArityMismatch(t *testing.T) {
	reg, divzero, _ := newFrozenRegistry()
	b := tcg.NewBuilder()
	require.NoError(t, b.EmitInsnStart(0, 0))
	e := NewEmitter(reg, b)
	a := b.NewTemp(tcg.Width32)
	dst := b.NewTemp(tcg.Width32)
	err := e.Call(divzero, dst, a)
	assert.ErrorIs(t, err, ErrArityMismatch)
}

func TestCallTypeMismatch(t *testing.T) {
	reg, divzero, _ := newFrozenRegistry()
	b := tcg.NewBuilder()
	require.NoError(t, b.EmitInsnStart(0, 0))
	e := NewEmitter(reg, b)
	a := b.NewTemp(tcg.Width64)
	c := b.NewTemp(tcg.Width32)
	dst := b.NewTemp(tcg.Width32)
	err := e.Call(divzero, dst, a, c)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCallNoReturnMarksBuilderTerminal(t *testing.T) {
	reg, _, raise := newFrozenRegistry()
	b := tcg.NewBuilder()
	require.NoError(t, b.EmitInsnStart(0, 0))
	e := NewEmitter(reg, b)
	require.NoError(t, e.Call(raise, nil))
	assert.True(t, b.NoReturn())
	assert.Panics(t, func() { b.EmitBr(b.NewLabel()) })
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	reg, _, _ := newFrozenRegistry()
	assert.Panics(t, func() {
		reg.Register("late", Signature{Return: ArgI32}, 0)
	})
}

func TestRegisterDuplicateNamePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register("dup", Signature{Return: ArgI32}, 0)
	assert.Panics(t, func() {
		reg.Register("dup", Signature{Return: ArgI32}, 0)
	})
}

func TestLookupByName(t *testing.T) {
	reg, divzero, _ := newFrozenRegistry()
	found, err := reg.Lookup("divzero")
	require.NoError(t, err)
	assert.Equal(t, divzero, found)

	_, err = reg.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownHelper)
}
