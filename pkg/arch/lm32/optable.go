package lm32

// mnemonicTable reproduces translate.c's decinfo[] array verbatim, one
// mnemonic string per 6-bit opcode value (0-63), so that the opcode
// numbering realized here matches the original exactly rather than
// being renumbered for convenience.
var mnemonicTable = [64]string{
	"sru", "nor", "mul", "sh", "lb", "sr", "xor", "lh",
	"and", "xnor", "lw", "lhu", "sb", "add", "or", "sl",
	"lbu", "be", "bg", "bge", "bgeu", "bgu", "sw", "bne",
	"andhi", "cmpe", "cmpg", "cmpge", "cmpgeu", "cmpgu", "orhi", "cmpne",

	"sru", "nor", "mul", "divu", "rcsr", "sr", "xor", "ill",
	"and", "xnor", "ill", "scall", "sextb", "add", "or", "sl",
	"b", "modu", "sub", "user", "wcsr", "ill", "call", "sexth",
	"bi", "cmpe", "cmpg", "cmpge", "cmpgeu", "cmpgu", "calli", "cmpne",
}
