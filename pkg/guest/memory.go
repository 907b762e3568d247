// Package guest implements the byte-addressable guest memory and
// paging model backing disas.CPUState. It holds no per-vCPU register
// state: the Globals bound by pkg/arch/riscv and pkg/arch/lm32 are
// CPU-state offsets with no backing struct in this package.
//
// Grounded directly on bassosimone/risc32's pkg/vm/vm.go: the same optional
// one-level page table (status-register-gated, 1024 32-bit entries,
// <BaseAddr:22><Flags:10> entry layout) and the same
// ErrSIGSEGV/ErrNotPermitted sentinel-error vocabulary, generalized
// from RiSC-32's word-addressed 32-bit memory to ordinary
// byte-addressed memory so multiple differently-sized ISAs (RISC-V's
// 32-bit words, LM32's 32-bit words, but general enough for a future
// byte/halfword-native ISA) can share one implementation.
package guest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kvemu/tcgtrans/pkg/disas"
)

// byteOrder resolves a disas.Endian to the encoding/binary.ByteOrder
// that actually assembles fetched bytes into a value.
func byteOrder(endian disas.Endian) binary.ByteOrder {
	if endian == disas.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Page table / status-register constants, unchanged in meaning from
// pkg/vm/vm.go's StatusPaging/StatusUserMode and the page-table entry
// layout documented in its package comment.
const (
	StatusUserMode = 1 << iota
	StatusPaging
)

const (
	pageEntries  = 1024
	pageIDBits   = 10
	pageOffsetMask = pageEntries - 1
)

// Memory flags, unchanged from pkg/vm/vm.go.
const (
	FlagExec = 1 << iota
	FlagWrite
	FlagRead
)

var (
	// ErrSIGSEGV indicates an access to an address outside physical
	// memory, or through an unmapped/zeroed page table entry.
	ErrSIGSEGV = errors.New("guest: segmentation fault")
	// ErrNotPermitted indicates a page's flags forbid the requested
	// access kind.
	ErrNotPermitted = errors.New("guest: operation not permitted")
)

// Memory is flat guest physical memory plus the same optional
// single-level paging scheme pkg/vm/vm.go implements, driven by two
// status registers: S[0]'s StatusPaging bit enables translation, and
// S[1] holds the page table's physical base address.
type Memory struct {
	bytes []byte
	S     [2]uint32
}

// NewMemory allocates size bytes of zeroed guest physical memory.
func NewMemory(size int) *Memory {
	return &Memory{bytes: make([]byte, size)}
}

// Bytes exposes the underlying backing store, e.g. for a CLI loader
// populating initial program image bytes.
func (m *Memory) Bytes() []byte { return m.bytes }

// translate resolves off through the page table when paging is
// enabled, exactly as pkg/vm/vm.go's Memory method does, adapted to a
// byte-addressed space: pageid uses the top bits of the address above
// the 10 low page-offset bits instead of RiSC-32's word-granularity
// split.
func (m *Memory) translate(off uint32, flags uint32) (uint32, error) {
	if m.S[0]&StatusPaging == 0 {
		return off, nil
	}
	pageid := off >> pageIDBits
	entryAddr := m.S[1] + pageid*4
	if int(entryAddr)+4 > len(m.bytes) {
		return 0, fmt.Errorf("%w: page entry above physical memory", ErrSIGSEGV)
	}
	entry := binary.LittleEndian.Uint32(m.bytes[entryAddr:])
	entryFlags := entry & 0x3ff
	if entryFlags&flags != flags {
		return 0, fmt.Errorf("%w: memory flags mismatch", ErrNotPermitted)
	}
	base := entry &^ pageOffsetMask
	return base + (off & pageOffsetMask), nil
}

func (m *Memory) access(off uint32, n int, flags uint32) ([]byte, error) {
	resolved, err := m.translate(off, flags)
	if err != nil {
		return nil, err
	}
	end := int(resolved) + n
	if end > len(m.bytes) || end < 0 {
		return nil, ErrSIGSEGV
	}
	return m.bytes[resolved:end], nil
}

// FetchU16 implements disas.CPUState for a 16-bit fetch in the given
// guest byte order.
func (m *Memory) FetchU16(ctx context.Context, pc uint64, endian disas.Endian) (uint16, error) {
	b, err := m.access(uint32(pc), 2, FlagRead|FlagExec)
	if err != nil {
		return 0, err
	}
	return byteOrder(endian).Uint16(b), nil
}

// FetchU32 implements disas.CPUState for a 32-bit fetch in the given
// guest byte order.
func (m *Memory) FetchU32(ctx context.Context, pc uint64, endian disas.Endian) (uint32, error) {
	b, err := m.access(uint32(pc), 4, FlagRead|FlagExec)
	if err != nil {
		return 0, err
	}
	return byteOrder(endian).Uint32(b), nil
}

// FetchU64 implements disas.CPUState for a 64-bit fetch in the given
// guest byte order.
func (m *Memory) FetchU64(ctx context.Context, pc uint64, endian disas.Endian) (uint64, error) {
	b, err := m.access(uint32(pc), 8, FlagRead|FlagExec)
	if err != nil {
		return 0, err
	}
	return byteOrder(endian).Uint64(b), nil
}

// LoadAt copies data into guest physical memory starting at off,
// bypassing paging, for initial image loading.
func (m *Memory) LoadAt(off uint32, data []byte) error {
	if int(off)+len(data) > len(m.bytes) {
		return ErrSIGSEGV
	}
	copy(m.bytes[off:], data)
	return nil
}
