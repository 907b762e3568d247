package tcg

import (
	"fmt"
	"strings"
)

// String renders an operand the way a disassembly listing would: a
// temp as "tN", a global by its bound name, an immediate as a bare
// decimal literal.
func operandString(op Operand) string {
	switch v := op.(type) {
	case *Temp:
		return fmt.Sprintf("t%d", v.id)
	case *Global:
		return v.Name
	case Imm:
		return fmt.Sprintf("%d", v.Value)
	case nil:
		return "-"
	default:
		return fmt.Sprintf("%v", op)
	}
}

var opcodeNames = map[Opcode]string{
	OpAdd: "add", OpSub: "sub", OpAnd: "and", OpOr: "or", OpXor: "xor",
	OpMul: "mul", OpDivU: "divu", OpDivS: "div", OpRemU: "remu", OpRemS: "rem",
	OpShl: "shl", OpShr: "shr", OpSar: "sar", OpRotl: "rotl", OpRotr: "rotr",
	OpSetcond: "setcond", OpMovcond: "movcond",
	OpExt8s: "ext8s", OpExt8u: "ext8u", OpExt16s: "ext16s", OpExt16u: "ext16u",
	OpExt32s: "ext32s", OpExt32u: "ext32u", OpBswap: "bswap",
	OpDeposit: "deposit", OpExtract: "extract", OpClz: "clz", OpCtz: "ctz", OpCtpop: "ctpop",
	OpMovi: "movi", OpMov: "mov",
	OpQemuLd: "qemu_ld", OpQemuSt: "qemu_st",
	OpAtomicXchg: "atomic_xchg", OpAtomicCmpxchg: "atomic_cmpxchg",
	OpAtomicFetchAdd: "atomic_fetch_add", OpAtomicCmpxchgI128: "atomic_cmpxchg_i128",
	OpLdCPU: "ld_cpu", OpStCPU: "st_cpu",
	OpInsnStart: "insn_start", OpBr: "br", OpBrcond: "brcond",
	OpSetLabel: "set_label", OpGotoTB: "goto_tb", OpExitTB: "exit_tb",
	OpCall: "call",
}

// String renders one Op as a single disassembly-style line, e.g.
// "t2 = add t0, x1" or "brcond eq t0, t1 -> L3".
func (op Op) String() string {
	name := opcodeNames[op.Kind]
	switch op.Kind {
	case OpInsnStart:
		return fmt.Sprintf("insn_start pc=%#x extra=%d", op.PC, op.Extra)
	case OpSetLabel:
		return fmt.Sprintf("set_label L%d", op.Label.ID())
	case OpBr:
		return fmt.Sprintf("br -> L%d", op.Label.ID())
	case OpBrcond:
		return fmt.Sprintf("brcond %s %s, %s -> L%d", condName(op.Cond), operandString(op.A), operandString(op.B), op.Label.ID())
	case OpGotoTB:
		return fmt.Sprintf("goto_tb %d", op.Extra)
	case OpExitTB:
		return fmt.Sprintf("exit_tb %d", op.Extra)
	case OpCall:
		args := make([]string, len(op.Args))
		for i, a := range op.Args {
			args[i] = operandString(a)
		}
		dst := ""
		if op.Dst != nil {
			dst = operandString(op.Dst) + " = "
		}
		return fmt.Sprintf("%scall #%d(%s)", dst, op.Helper, strings.Join(args, ", "))
	case OpQemuLd:
		return fmt.Sprintf("%s %s, [%s] size=%d signed=%v", name, operandString(op.Dst), operandString(op.A), op.Mem.SizeBits, op.Mem.Signed)
	case OpQemuSt:
		return fmt.Sprintf("%s %s, [%s] size=%d signed=%v", name, operandString(op.A), operandString(op.B), op.Mem.SizeBits, op.Mem.Signed)
	case OpLdCPU:
		return fmt.Sprintf("%s = ld_cpu off=%d", operandString(op.Dst), op.Extra)
	case OpStCPU:
		return fmt.Sprintf("st_cpu off=%d, %s", op.Extra, operandString(op.A))
	case OpMovi, OpMov:
		return fmt.Sprintf("%s = %s %s", operandString(op.Dst), name, operandString(op.A))
	case OpSetcond:
		return fmt.Sprintf("%s = setcond %s %s, %s", operandString(op.Dst), condName(op.Cond), operandString(op.A), operandString(op.B))
	case OpMovcond:
		return fmt.Sprintf("%s = movcond %s %s, %s ? %s : %s", operandString(op.Dst), condName(op.Cond), operandString(op.A), operandString(op.B), operandString(op.Args[0]), operandString(op.Args[1]))
	default:
		if op.B != nil {
			return fmt.Sprintf("%s = %s %s, %s", operandString(op.Dst), name, operandString(op.A), operandString(op.B))
		}
		return fmt.Sprintf("%s = %s %s", operandString(op.Dst), name, operandString(op.A))
	}
}

func condName(c Cond) string {
	names := [...]string{"eq", "ne", "lts", "les", "gts", "ges", "ltu", "leu", "gtu", "geu"}
	if int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("cond(%d)", c)
}

// String renders the whole op stream, one instruction per line,
// mirroring bassosimone/risc32's Disassemble's "one mnemonic line per
// instruction" shape generalized to a full IR listing.
func (p *IRProgram) String() string {
	var b strings.Builder
	for i, op := range p.Ops {
		fmt.Fprintf(&b, "%4d  %s\n", i, op.String())
	}
	return b.String()
}
