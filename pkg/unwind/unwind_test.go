package unwind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvemu/tcgtrans/pkg/tcg"
)

func TestRecordRequiresIncreasingOffsets(t *testing.T) {
	tbl := NewTable()
	tbl.Record(0, 0x1000, 0)
	assert.Panics(t, func() { tbl.Record(0, 0x1004, 0) })
}

func TestLookupFindsGreatestOffsetNotExceedingFault(t *testing.T) {
	tbl := NewTable()
	tbl.Record(0, 0x1000, 0)
	tbl.Record(5, 0x1004, 0)
	tbl.Record(10, 0x1008, 0)

	e, ok := tbl.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1004), e.GuestPC)

	e, ok = tbl.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), e.GuestPC)

	_, ok = tbl.Lookup(-1)
	assert.False(t, ok)
}

func TestPatchOverridesExtraForLookup(t *testing.T) {
	tbl := NewTable()
	tbl.Record(0, 0x1000, 1)
	tbl.Patch(0, 99)
	e, ok := tbl.Lookup(0)
	require.True(t, ok)
	assert.EqualValues(t, 99, e.Extra)
}

func TestPatchUnrecordedOffsetPanics(t *testing.T) {
	tbl := NewTable()
	assert.Panics(t, func() { tbl.Patch(3, 1) })
}

func TestBuildFromProgramCollectsInsnStarts(t *testing.T) {
	b := tcg.NewBuilder()
	require.NoError(t, b.EmitInsnStart(0x1000, 0))
	tmp := b.NewTemp(tcg.Width32)
	require.NoError(t, b.EmitMovi(tmp, 1))
	require.NoError(t, b.EmitInsnStart(0x1004, 7))
	prog, err := b.Finish()
	require.NoError(t, err)

	tbl := BuildFromProgram(prog)
	require.Equal(t, 2, tbl.Len())
	e, ok := tbl.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), e.GuestPC)
	e, ok = tbl.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1004), e.GuestPC)
	assert.EqualValues(t, 7, e.Extra)
}
