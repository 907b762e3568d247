package disas_test

import (
	"context"
	"fmt"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvemu/tcgtrans/pkg/disas"
	"github.com/kvemu/tcgtrans/pkg/tcg"
)

// fakeCPU serves every fetch as a 4-byte no-op instruction; it exists
// only so TranslateInsn below has something to call.
type fakeCPU struct{}

func (fakeCPU) FetchU16(ctx context.Context, pc uint64, endian disas.Endian) (uint16, error) {
	return 0, nil
}
func (fakeCPU) FetchU32(ctx context.Context, pc uint64, endian disas.Endian) (uint32, error) {
	return 0, nil
}
func (fakeCPU) FetchU64(ctx context.Context, pc uint64, endian disas.Endian) (uint64, error) {
	return 0, nil
}

// fakeOps is a minimal TranslatorOps: every instruction is 4 bytes and
// emits one movi; failWith, when set, is returned by TranslateInsn
// on the instruction index failAt names.
type fakeOps struct {
	failAt       int
	failWith     error
	bufferFullAt int // instruction index to partially emit then fail; -1 disables
	insns        int
}

func (f *fakeOps) InitDisasContext(dc *disas.Context, cpu disas.CPUState) error { return nil }
func (f *fakeOps) TBStart(dc *disas.Context, b *tcg.Builder) error              { return nil }
func (f *fakeOps) InsnStart(dc *disas.Context, b *tcg.Builder) error {
	return b.EmitInsnStart(dc.PCNext, 0)
}
func (f *fakeOps) TranslateInsn(ctx context.Context, dc *disas.Context, b *tcg.Builder, cpu disas.CPUState) error {
	if f.insns == f.failAt && f.failWith != nil {
		return f.failWith
	}
	t := b.NewTemp(tcg.Width32)
	if err := b.EmitMovi(t, 1); err != nil {
		return err
	}
	if f.insns == f.bufferFullAt {
		// Simulate an instruction whose first op fit but whose second
		// did not: partially-emitted IR that must be discarded, not a
		// clean single-op failure.
		if _, err := b.ConstI32(2); err != nil {
			return fmt.Errorf("%w: mid-instruction", disas.ErrBufferFull)
		}
	}
	f.insns++
	dc.PCNext += 4
	return nil
}
func (f *fakeOps) TBStop(dc *disas.Context, b *tcg.Builder) error {
	if dc.IsJmp == disas.NoReturn {
		return nil
	}
	return b.EmitExitTB(0)
}
func (f *fakeOps) BreakpointTrap(dc *disas.Context, b *tcg.Builder) error {
	dc.IsJmp = disas.NoReturn
	return nil
}
func (f *fakeOps) DisasLog(dc *disas.Context, tb *disas.TranslationBlock) {}

func TestLoopStopsAtMaxInsns(t *testing.T) {
	ops := &fakeOps{failAt: -1, bufferFullAt: -1}
	dc := &disas.Context{PCFirst: 0, PCNext: 0, MaxInsns: 3}
	b := tcg.NewBuilder()
	tb, err := disas.Loop(context.Background(), fakeCPU{}, ops, dc, b, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, tb.NumInsns)
	assert.Equal(t, disas.TooMany, tb.IsJmp)
}

func TestLoopBreakpointTakesPrecedenceOverMaxInsnsAfterFirstInsn(t *testing.T) {
	ops := &fakeOps{failAt: -1, bufferFullAt: -1}
	dc := &disas.Context{PCFirst: 0, PCNext: 0, MaxInsns: 100}
	b := tcg.NewBuilder()
	bps := mapset.NewSet[uint64](uint64(4))
	tb, err := disas.Loop(context.Background(), fakeCPU{}, ops, dc, b, bps, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tb.NumInsns, "must translate the first instruction even though pc=0 is not itself breakpointed")
	assert.Equal(t, uint64(4), tb.PCLast)
	assert.Equal(t, disas.NoReturn, tb.IsJmp, "a breakpoint hit must trap via BreakpointTrap, not fall through as an ordinary budget stop")
}

func TestLoopMapsIllegalInstructionToNoReturn(t *testing.T) {
	ops := &fakeOps{failAt: 1, bufferFullAt: -1, failWith: fmt.Errorf("%w: boom", disas.ErrIllegalInstruction)}
	dc := &disas.Context{PCFirst: 0, PCNext: 0, MaxInsns: 100}
	b := tcg.NewBuilder()
	tb, err := disas.Loop(context.Background(), fakeCPU{}, ops, dc, b, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, disas.NoReturn, tb.IsJmp)
	assert.Equal(t, 1, tb.NumInsns)
}

func TestLoopPropagatesUnrecognizedErrorAsHardFailure(t *testing.T) {
	ops := &fakeOps{failAt: 0, bufferFullAt: -1, failWith: fmt.Errorf("weird fetch backend failure")}
	dc := &disas.Context{PCFirst: 0, PCNext: 0, MaxInsns: 100}
	b := tcg.NewBuilder()
	_, err := disas.Loop(context.Background(), fakeCPU{}, ops, dc, b, nil, nil)
	assert.Error(t, err)
}

func TestLoopStopsAtPageBoundary(t *testing.T) {
	ops := &fakeOps{failAt: -1, bufferFullAt: -1}
	start := uint64(disas.PageSize - 4)
	dc := &disas.Context{PCFirst: start, PCNext: start, MaxInsns: 100}
	b := tcg.NewBuilder()
	tb, err := disas.Loop(context.Background(), fakeCPU{}, ops, dc, b, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tb.NumInsns, "a TB never spans two guest pages")
}

func TestIOStartForcesTooManyUnderIcount(t *testing.T) {
	dc := &disas.Context{IcountEnabled: true}
	stopped := disas.IOStart(dc)
	assert.True(t, stopped)
	assert.Equal(t, disas.TooMany, dc.IsJmp)
}

func TestIOStartNoopWithoutIcount(t *testing.T) {
	dc := &disas.Context{}
	stopped := disas.IOStart(dc)
	assert.False(t, stopped)
	assert.Equal(t, disas.Next, dc.IsJmp)
}

func TestLoopRewindsPartialInstructionOnBufferFull(t *testing.T) {
	// maxOps=4: instruction 0 (pc=0) cleanly takes InsnStart+Movi (2 ops).
	// Instruction 1 (pc=4) is bufferFullAt: InsnStart+Movi fill the
	// budget exactly, then the extra ConstI32 call in TranslateInsn
	// finds the buffer already full and fails mid-instruction.
	ops := &fakeOps{failAt: -1, bufferFullAt: 1}
	dc := &disas.Context{PCFirst: 0, PCNext: 0, MaxInsns: 100}
	b := tcg.NewBuilderSize(4)
	tb, err := disas.Loop(context.Background(), fakeCPU{}, ops, dc, b, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, tb.NumInsns, "the buffer-full instruction must not count as translated")
	assert.Equal(t, uint64(4), tb.PCLast, "PCLast must rewind to the start of the discarded instruction, not past it")
	assert.Equal(t, disas.TooMany, tb.IsJmp)
	require.Len(t, tb.Program.Ops, 3, "instruction 0's InsnStart+Movi plus TBStop's epilogue exit_tb, nothing from the discarded instruction")
	assert.Equal(t, tcg.OpInsnStart, tb.Program.Ops[0].Kind)
	assert.Equal(t, uint64(0), tb.Program.Ops[0].PC)
	assert.Equal(t, tcg.OpExitTB, tb.Program.Ops[2].Kind)
}

func TestLoopSingleStepStopsAfterOneInstruction(t *testing.T) {
	ops := &fakeOps{failAt: -1, bufferFullAt: -1}
	dc := &disas.Context{PCFirst: 0, PCNext: 0, MaxInsns: 100, SingleStepEnabled: true}
	b := tcg.NewBuilder()
	tb, err := disas.Loop(context.Background(), fakeCPU{}, ops, dc, b, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tb.NumInsns, "single-stepping must yield exactly one instruction per TB")
	assert.Equal(t, disas.Update, tb.IsJmp)
	assert.Equal(t, uint64(4), tb.Successor[0], "the normal fallthrough successor is still known statically")
}
