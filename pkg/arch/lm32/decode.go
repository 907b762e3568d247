package lm32

// fields holds every bitfield the decode loop extracts once per
// instruction, grounded field-for-field on translate.c's decode():
// opcode = bits 26-31, r0/csr = bits 21-25, r1 = bits 16-20,
// r2 = bits 11-15, imm5 = bits 0-4, imm16 = bits 0-15,
// imm26 = bits 0-25, and bit 31 selects RR format over RI format.
type fields struct {
	raw    uint32
	opcode uint8
	r0     uint8
	r1     uint8
	r2     uint8
	csr    uint8
	imm5   uint16
	imm16  uint16
	imm26  uint32
	isRR   bool
}

func extractBits(v uint32, lo, hi int) uint32 {
	width := hi - lo + 1
	mask := uint32(1)<<uint(width) - 1
	return (v >> uint(lo)) & mask
}

func extractFields(ir uint32) fields {
	return fields{
		raw:    ir,
		opcode: uint8(extractBits(ir, 26, 31)),
		r0:     uint8(extractBits(ir, 21, 25)),
		csr:    uint8(extractBits(ir, 21, 25)),
		r1:     uint8(extractBits(ir, 16, 20)),
		r2:     uint8(extractBits(ir, 11, 15)),
		imm5:   uint16(extractBits(ir, 0, 4)),
		imm16:  uint16(extractBits(ir, 0, 15)),
		imm26:  extractBits(ir, 0, 25),
		isRR:   ir&(1<<31) != 0,
	}
}

// signExtend sign-extends the low `width` bits of val, per
// translate.c's sign_extend helper.
func signExtend(val uint32, width uint) int32 {
	shift := 32 - width
	return int32(val<<shift) >> shift
}

// signExtendImm16 sign-extends a 16-bit immediate to 32 bits, as every
// RI-format arithmetic/compare op in translate.c does before using it.
func signExtendImm16(v uint16) int32 { return signExtend(uint32(v), 16) }
