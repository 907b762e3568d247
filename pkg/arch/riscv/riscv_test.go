package riscv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvemu/tcgtrans/pkg/config"
	"github.com/kvemu/tcgtrans/pkg/disas"
	"github.com/kvemu/tcgtrans/pkg/guest"
	"github.com/kvemu/tcgtrans/pkg/tcg"
)

func encodeR(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeI(imm int32, rs1, funct3, rd, opcode uint32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

// encodeB packs imm (a multiple of 2, 13-bit signed) into the B-type
// split-field layout bImm() decodes, mirroring decode.go's own bImm
// bit assignment in reverse.
func encodeB(imm int32, rs1, rs2, funct3, opcode uint32) uint32 {
	u := uint32(imm)
	bit12 := (u >> 12) & 1
	bit11 := (u >> 11) & 1
	bits10_5 := (u >> 5) & 0x3f
	bits4_1 := (u >> 1) & 0xf
	return bit12<<31 | bits10_5<<25 | rs2<<20 | rs1<<15 | funct3<<12 | bits4_1<<8 | bit11<<7 | opcode
}

func newTestDecoder(t *testing.T, hardwareDivide bool) (*Decoder, *guest.Memory) {
	t.Helper()
	cfg, err := config.Default("riscv32imac")
	require.NoError(t, err)
	cfg.HardwareDivide = hardwareDivide
	d, err := New(cfg)
	require.NoError(t, err)
	mem := guest.NewMemory(4096)
	return d, mem
}

func translateOne(t *testing.T, d *Decoder, mem *guest.Memory, pc uint64, raw uint32, maxInsns int) (*disas.TranslationBlock, error) {
	t.Helper()
	le := []byte{byte(raw), byte(raw >> 8), byte(raw >> 16), byte(raw >> 24)}
	require.NoError(t, mem.LoadAt(uint32(pc), le))
	dc := &disas.Context{PCFirst: pc, PCNext: pc, MaxInsns: maxInsns}
	b := tcg.NewBuilder()
	return disas.Loop(context.Background(), mem, d, dc, b, nil, nil)
}

func TestExecOpEmitsAddThenWritesRd(t *testing.T) {
	d, mem := newTestDecoder(t, true)
	raw := encodeR(0x00, 2, 1, 0x0, 3, opOP) // add x3, x1, x2
	tb, err := translateOne(t, d, mem, 0, raw, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, tb.NumInsns)
	assert.Equal(t, disas.TooMany, tb.IsJmp)

	var sawAdd, sawMovToX3 bool
	for _, op := range tb.Program.Ops {
		if op.Kind == tcg.OpAdd {
			sawAdd = true
		}
		if op.Kind == tcg.OpMov {
			if g, ok := op.Dst.(*tcg.Global); ok && g.Name == "x3" {
				sawMovToX3 = true
			}
		}
	}
	assert.True(t, sawAdd, "expected an OpAdd for add x3, x1, x2")
	assert.True(t, sawMovToX3, "expected the add's result to be written into x3")
}

func TestExecBranchMisalignedTargetEndsTBAsNoReturn(t *testing.T) {
	d, mem := newTestDecoder(t, true)
	raw := encodeB(2, 0, 0, 0x0, opBRANCH) // beq x0, x0, pc+2
	tb, err := translateOne(t, d, mem, 0, raw, 10)
	require.NoError(t, err)
	assert.Equal(t, disas.NoReturn, tb.IsJmp, "an alignment fault maps to a NoReturn epilogue, not a hard Loop error")
}

func TestExecBranchAlignedTargetModelsFallthroughSuccessor(t *testing.T) {
	d, mem := newTestDecoder(t, true)
	raw := encodeB(8, 1, 2, 0x0, opBRANCH) // beq x1, x2, pc+8
	tb, err := translateOne(t, d, mem, 0, raw, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), tb.Successor[0], "the not-taken fallthrough occupies the single modeled successor slot")
}

func TestExecSystemUnrecognizedImmRoutesThroughIllegalHelper(t *testing.T) {
	d, mem := newTestDecoder(t, true)
	raw := encodeI(2, 0, 0x0, 0, opSYSTEM) // neither ECALL (0) nor EBREAK (1)
	tb, err := translateOne(t, d, mem, 0, raw, 10)
	require.NoError(t, err)
	assert.Equal(t, disas.NoReturn, tb.IsJmp)

	var sawCall bool
	for _, op := range tb.Program.Ops {
		if op.Kind == tcg.OpCall {
			sawCall = true
		}
	}
	assert.True(t, sawCall, "an unrecognized SYSTEM immediate must still route through riscv_raise_illegal")
}

func TestExecMulDivSoftwareDivideRoutesThroughHelper(t *testing.T) {
	d, mem := newTestDecoder(t, false) // HardwareDivide disabled
	raw := encodeR(0x01, 2, 1, 0x4, 3, opOP) // div x3, x1, x2
	tb, err := translateOne(t, d, mem, 0, raw, 1)
	require.NoError(t, err)
	assert.Equal(t, disas.TooMany, tb.IsJmp, "a software-divide call is not itself terminal")

	var sawCall bool
	for _, op := range tb.Program.Ops {
		if op.Kind == tcg.OpCall {
			sawCall = true
		}
	}
	assert.True(t, sawCall, "DIV without hardware divide must call riscv_divrem_by_zero")
}

func TestExecMulDivHardwareDivideGuardsZeroAndOverflowBeforeRawOp(t *testing.T) {
	d, mem := newTestDecoder(t, true)
	raw := encodeR(0x01, 2, 1, 0x4, 3, opOP) // div x3, x1, x2
	tb, err := translateOne(t, d, mem, 0, raw, 1)
	require.NoError(t, err)

	var sawDivS, sawCall, sawBrcond bool
	for _, op := range tb.Program.Ops {
		switch op.Kind {
		case tcg.OpDivS:
			sawDivS = true
		case tcg.OpCall:
			sawCall = true
		case tcg.OpBrcond:
			sawBrcond = true
		}
	}
	assert.True(t, sawDivS, "hardware divide still emits OpDivS on the guarded fallthrough path")
	assert.True(t, sawCall, "hardware divide still reaches riscv_divrem_by_zero on the guarded branch")
	assert.True(t, sawBrcond, "a raw divide must never be reachable without a guard branch in front of it")
}

func TestTranslateInsnRejectsUnalignedFetch(t *testing.T) {
	d, mem := newTestDecoder(t, true)
	raw := encodeR(0x00, 2, 1, 0x0, 3, opOP)
	// pc=1 is odd, violating RISC-V's 2-byte minimum instruction
	// alignment even before any C-extension compressed form is
	// considered.
	le := []byte{byte(raw), byte(raw >> 8), byte(raw >> 16), byte(raw >> 24)}
	require.NoError(t, mem.LoadAt(0, le))
	dc := &disas.Context{PCFirst: 1, PCNext: 1, MaxInsns: 10}
	b := tcg.NewBuilder()
	tb, err := disas.Loop(context.Background(), mem, d, dc, b, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, disas.NoReturn, tb.IsJmp)
}
