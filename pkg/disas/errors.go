package disas

import "errors"

// Sentinel errors a TranslatorOps implementation (one per guest ISA)
// returns from TranslateInsn to report a decode-time fault. The
// translator Loop maps each of these onto a terminal IsJmp state and
// an epilogue action, following bassosimone/risc32's own sentinel+wrap
// error idiom (ErrHalted/ErrNotPermitted/ErrSIGSEGV in pkg/vm/vm.go).
var (
	// ErrIllegalInstruction indicates the decoder recognized no
	// encoding for the fetched bits.
	ErrIllegalInstruction = errors.New("disas: illegal instruction")

	// ErrPrivilegedInstruction indicates the encoding is recognized but
	// unavailable at the current privilege ring.
	ErrPrivilegedInstruction = errors.New("disas: privileged instruction")

	// ErrAlignmentFault indicates a fetch or an instruction's own
	// addressing violated the ISA's required alignment.
	ErrAlignmentFault = errors.New("disas: alignment fault")

	// ErrBufferFull indicates the IR buffer filled mid-instruction; the
	// loop rewinds to the start of that instruction and ends the TB at
	// the previous instruction boundary with IsJmp = TooMany. The TB is
	// not retranslated.
	ErrBufferFull = errors.New("disas: ir buffer full")

	// ErrFetchFault indicates the guest code fetch itself faulted
	// (e.g. the page backing PCNext is unmapped).
	ErrFetchFault = errors.New("disas: fetch fault")
)
