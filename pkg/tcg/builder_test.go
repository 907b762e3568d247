package tcg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTempAssignsStableIDs(t *testing.T) {
	b := NewBuilder()
	t0 := b.NewTemp(Width32)
	t1 := b.NewTemp(Width32)
	assert.Equal(t, 0, t0.ID())
	assert.Equal(t, 1, t1.ID())
	assert.Equal(t, Ephemeral, t0.Class())
}

func TestFreeTempRecyclesWithinSameSegment(t *testing.T) {
	b := NewBuilder()
	t0 := b.NewTemp(Width32)
	b.FreeTemp(t0)
	t1 := b.NewTemp(Width32)
	assert.Same(t, t0, t1, "a freed ephemeral temp should be recycled before a label is bound")
}

func TestSetLabelClearsRecyclingWindow(t *testing.T) {
	b := NewBuilder()
	t0 := b.NewTemp(Width32)
	b.FreeTemp(t0)
	l := b.NewLabel()
	require.NoError(t, b.SetLabel(l))
	t1 := b.NewTemp(Width32)
	assert.NotSame(t, t0, t1, "recycling must not cross a bound label")
}

func TestFreeTempOnLocalPanics(t *testing.T) {
	b := NewBuilder()
	local := b.NewLocalTemp(Width32)
	assert.Panics(t, func() { b.FreeTemp(local) })
}

func TestFreeTempDoubleFreePanics(t *testing.T) {
	b := NewBuilder()
	t0 := b.NewTemp(Width32)
	b.FreeTemp(t0)
	assert.Panics(t, func() { b.FreeTemp(t0) })
}

func TestSetLabelTwicePanics(t *testing.T) {
	b := NewBuilder()
	l := b.NewLabel()
	require.NoError(t, b.SetLabel(l))
	assert.Panics(t, func() { b.SetLabel(l) })
}

func TestFinishPanicsOnUnboundLabel(t *testing.T) {
	b := NewBuilder()
	b.NewLabel()
	assert.Panics(t, func() { b.Finish() })
}

func TestGotoTBRejectsBadSlot(t *testing.T) {
	b := NewBuilder()
	assert.Panics(t, func() { b.EmitGotoTB(2) })
}

func TestEmissionAfterNoReturnPanics(t *testing.T) {
	b := NewBuilder()
	b.MarkNoReturn()
	assert.Panics(t, func() { b.EmitBr(b.NewLabel()) })
}

func TestBufferFullStopsEmission(t *testing.T) {
	b := NewBuilderSize(2)
	t0 := b.NewTemp(Width32)
	require.NoError(t, b.EmitMovi(t0, 1))
	require.NoError(t, b.EmitMovi(t0, 2))
	err := b.EmitMovi(t0, 3)
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestRewindLastInsnDiscardsPartialInstruction(t *testing.T) {
	b := NewBuilderSize(3)
	require.NoError(t, b.EmitInsnStart(0, 0))
	t0 := b.NewTemp(Width32)
	require.NoError(t, b.EmitMovi(t0, 1))
	require.NoError(t, b.EmitInsnStart(4, 0))
	t1 := b.NewTemp(Width32)
	err := b.EmitMovi(t1, 2) // buffer now full mid-instruction
	require.ErrorIs(t, err, ErrBufferFull)

	b.RewindLastInsn()
	prog, err := b.Finish()
	require.NoError(t, err)
	require.Len(t, prog.Ops, 2, "only the first, fully-emitted instruction's ops should remain")
	assert.Equal(t, OpInsnStart, prog.Ops[0].Kind)
	assert.Equal(t, uint64(0), prog.Ops[0].PC)
}

func TestRewindLastInsnReleasesUnboundLabel(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.EmitInsnStart(0, 0))
	b.NewLabel() // allocated but never bound by the discarded instruction
	b.RewindLastInsn()
	_, err := b.Finish()
	require.NoError(t, err, "a label allocated only by the rewound instruction must not block Finish")
}

func TestRewindLastInsnNoopBeforeAnyInstruction(t *testing.T) {
	b := NewBuilder()
	b.RewindLastInsn()
	prog, err := b.Finish()
	require.NoError(t, err)
	assert.Empty(t, prog.Ops)
}

func TestConstI32RoundTripsThroughMovi(t *testing.T) {
	b := NewBuilder()
	tmp, err := b.ConstI32(-7)
	require.NoError(t, err)
	prog, err := b.Finish()
	require.NoError(t, err)
	require.Len(t, prog.Ops, 1)
	op := prog.Ops[0]
	assert.Equal(t, OpMovi, op.Kind)
	assert.Same(t, tmp, op.Dst)
	imm, ok := op.A.(Imm)
	require.True(t, ok)
	assert.Equal(t, int64(-7), imm.Value)
}

func TestFinishReportsTempAndLabelCounts(t *testing.T) {
	b := NewBuilder()
	b.NewTemp(Width32)
	b.NewTemp(Width64)
	l := b.NewLabel()
	require.NoError(t, b.SetLabel(l))
	prog, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, 2, prog.NumTemps)
	assert.Equal(t, 1, prog.NumLabels)
}
