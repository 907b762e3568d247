package tcg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindDuplicateNameFails(t *testing.T) {
	bt := NewBindingTable()
	_, err := bt.Bind("x1", 4, Width32, true)
	require.NoError(t, err)
	_, err = bt.Bind("x1", 8, Width32, true)
	assert.ErrorIs(t, err, ErrDuplicateGlobal)
}

func TestBindAfterFreezePanics(t *testing.T) {
	bt := NewBindingTable()
	bt.Freeze()
	assert.Panics(t, func() { bt.Bind("pc", 0, Width32, true) })
}

func TestLookupUnknownGlobal(t *testing.T) {
	bt := NewBindingTable()
	_, err := bt.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownGlobal)
}

func TestAllPreservesBindOrder(t *testing.T) {
	bt := NewBindingTable()
	a, err := bt.Bind("a", 0, Width32, true)
	require.NoError(t, err)
	b, err := bt.Bind("b", 4, Width32, true)
	require.NoError(t, err)
	bt.Freeze()
	assert.Equal(t, []*Global{a, b}, bt.All())
	assert.Equal(t, 2, bt.Len())
	assert.True(t, bt.Frozen())
}
