package lm32

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvemu/tcgtrans/pkg/config"
	"github.com/kvemu/tcgtrans/pkg/disas"
	"github.com/kvemu/tcgtrans/pkg/guest"
	"github.com/kvemu/tcgtrans/pkg/tcg"
)

// encodeRR packs an RR-format instruction: opcode (already including
// the bit31 RR marker, i.e. >= 32), r0, r1, r2.
func encodeRR(opcode uint32, r0, r1, r2 uint8) uint32 {
	return opcode<<26 | uint32(r0)<<21 | uint32(r1)<<16 | uint32(r2)<<11
}

// encodeRI packs an RI-format instruction: opcode (< 32), r0, r1,
// imm16.
func encodeRI(opcode uint32, r0, r1 uint8, imm16 uint16) uint32 {
	return opcode<<26 | uint32(r0)<<21 | uint32(r1)<<16 | uint32(imm16)
}

func newTestDecoder(t *testing.T) (*Decoder, *guest.Memory) {
	t.Helper()
	cfg, err := config.Default("lm32")
	require.NoError(t, err)
	d, err := New(cfg)
	require.NoError(t, err)
	mem := guest.NewMemory(4096)
	return d, mem
}

func translateOne(t *testing.T, d *Decoder, mem *guest.Memory, pc uint64, raw uint32, maxInsns int) (*disas.TranslationBlock, error) {
	t.Helper()
	// LM32 is big-endian; encode the test word the same way InitDisasContext's
	// dc.Endian = disas.BigEndian tells the loop to fetch it.
	be := []byte{byte(raw >> 24), byte(raw >> 16), byte(raw >> 8), byte(raw)}
	require.NoError(t, mem.LoadAt(uint32(pc), be))
	dc := &disas.Context{PCFirst: pc, PCNext: pc, MaxInsns: maxInsns}
	b := tcg.NewBuilder()
	return disas.Loop(context.Background(), mem, d, dc, b, nil, nil)
}

func TestLoadByteSignExtends(t *testing.T) {
	d, mem := newTestDecoder(t)
	raw := encodeRI(4 /* lb */, 1, 2, 0) // lb r2, 0(r1)
	tb, err := translateOne(t, d, mem, 0, raw, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, tb.NumInsns)

	var ld *tcg.Op
	for i := range tb.Program.Ops {
		if tb.Program.Ops[i].Kind == tcg.OpQemuLd {
			ld = &tb.Program.Ops[i]
		}
	}
	require.NotNil(t, ld, "lb must emit a QemuLd")
	assert.Equal(t, 8, ld.Mem.SizeBits)
	assert.True(t, ld.Mem.Signed, "lb's load must be sign-extending")
}

func TestIllegalOpcodeRoutesThroughHelperAndEndsTB(t *testing.T) {
	d, mem := newTestDecoder(t)
	raw := encodeRR(39 /* ill */, 0, 0, 0)
	tb, err := translateOne(t, d, mem, 0, raw, 10)
	require.NoError(t, err)
	assert.Equal(t, disas.NoReturn, tb.IsJmp)

	var sawCall bool
	for _, op := range tb.Program.Ops {
		if op.Kind == tcg.OpCall {
			sawCall = true
		}
	}
	assert.True(t, sawCall, "an illegal opcode must call lm32_raise_illegal")
}

func TestDivuByZeroGuardsWithHelperCall(t *testing.T) {
	d, mem := newTestDecoder(t)
	raw := encodeRR(35 /* divu */, 1, 2, 3) // divu r3, r1, r2
	tb, err := translateOne(t, d, mem, 0, raw, 1)
	require.NoError(t, err)
	assert.Equal(t, disas.TooMany, tb.IsJmp)

	var sawBrcond, sawCall, sawDivU bool
	for _, op := range tb.Program.Ops {
		switch op.Kind {
		case tcg.OpBrcond:
			sawBrcond = true
		case tcg.OpCall:
			sawCall = true
		case tcg.OpDivU:
			sawDivU = true
		}
	}
	assert.True(t, sawBrcond, "divu must guard the divisor with a brcond against zero")
	assert.True(t, sawCall, "divu must call lm32_raise_divide_by_zero on a zero divisor")
	assert.True(t, sawDivU, "divu must still emit the real division for the non-zero case")
}

func TestAndhiWritesTheFieldR1RegisterNotTheLoggedOne(t *testing.T) {
	d, mem := newTestDecoder(t)
	// RI-format andhi: field r0 = source register 5, field r1 = the
	// register actually written (10), imm16 = 0x00ff. In RI format
	// there is no real r2 field -- it overlaps the low bits of imm16 --
	// so LoggedAndhiDest(f) names whatever register index those
	// overlapping bits happen to spell out (here, 0x00ff's bits 11-15
	// are all zero, i.e. "r0"), never the register actually written.
	raw := encodeRI(24 /* andhi */, 5, 10, 0x00ff)
	tb, err := translateOne(t, d, mem, 0, raw, 1)
	require.NoError(t, err)

	f := extractFields(raw)
	require.EqualValues(t, 10, f.r1)
	loggedName := fmt.Sprintf("r%d", LoggedAndhiDest(f))
	require.Equal(t, "r0", loggedName, "test fixture sanity: the overlapping bits must spell out r0")

	var wroteR10, wroteLoggedName bool
	for _, op := range tb.Program.Ops {
		if op.Kind != tcg.OpAnd {
			continue
		}
		g, ok := op.Dst.(*tcg.Global)
		if !ok {
			continue
		}
		if g.Name == "r10" {
			wroteR10 = true
		}
		if g.Name == loggedName {
			wroteLoggedName = true
		}
	}
	assert.True(t, wroteR10, "andhi must write the field-r1 register (translate.c's dec_andhi behavior)")
	assert.False(t, wroteLoggedName, "andhi must not write the register its logged name implies")
}

func TestCondBranchUsesImm16ForTargetAlignmentCheck(t *testing.T) {
	d, mem := newTestDecoder(t)
	// be r0, r1, 1 -- imm16=1, shifted by 2 gives target pc+4, aligned.
	raw := encodeRI(17 /* be */, 0, 1, 1)
	tb, err := translateOne(t, d, mem, 0, raw, 1)
	require.NoError(t, err)
	n, ok := tb.IsJmp.TargetN()
	require.True(t, ok, "a conditional branch always terminates the TB with a direct Target(n)")
	assert.Equal(t, 0, n)

	var sawBrcond bool
	for _, op := range tb.Program.Ops {
		if op.Kind == tcg.OpBrcond {
			sawBrcond = true
		}
	}
	assert.True(t, sawBrcond, "be must emit a brcond comparing r0 and r1")
}

// encodeJ packs an immediate-jump-format instruction (bi, calli):
// opcode occupies bits 26-31, the full 26-bit offset occupies bits
// 0-25.
func encodeJ(opcode uint32, imm26 uint32) uint32 {
	return opcode<<26 | (imm26 & 0x3ffffff)
}

func TestBranchImmediateUsesImm26Target(t *testing.T) {
	d, mem := newTestDecoder(t)
	raw := encodeJ(56 /* bi */, 2) // bi: target = pc + sign_extend(2<<2, 26) = pc+8
	tb, err := translateOne(t, d, mem, 0, raw, 10)
	require.NoError(t, err)
	n, ok := tb.IsJmp.TargetN()
	require.True(t, ok, "bi must end the TB with a direct Target(n)")
	assert.Equal(t, 0, n)
	assert.Equal(t, uint64(8), tb.Successor[0])
}
