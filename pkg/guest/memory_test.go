package guest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvemu/tcgtrans/pkg/disas"
)

func TestFetchU32RoundTripsLittleEndian(t *testing.T) {
	m := NewMemory(64)
	require.NoError(t, m.LoadAt(0, []byte{0x13, 0x00, 0x00, 0x00}))
	v, err := m.FetchU32(context.Background(), 0, disas.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x13), v)
}

func TestFetchU32RoundTripsBigEndian(t *testing.T) {
	m := NewMemory(64)
	require.NoError(t, m.LoadAt(0, []byte{0x00, 0x00, 0x00, 0x13}))
	v, err := m.FetchU32(context.Background(), 0, disas.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x13), v)
}

func TestFetchOutOfBoundsFails(t *testing.T) {
	m := NewMemory(4)
	_, err := m.FetchU32(context.Background(), 4, disas.LittleEndian)
	assert.ErrorIs(t, err, ErrSIGSEGV)
}

func TestLoadAtOutOfBoundsFails(t *testing.T) {
	m := NewMemory(4)
	err := m.LoadAt(2, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrSIGSEGV)
}

func TestPagingTranslatesThroughEntry(t *testing.T) {
	m := NewMemory(4096 * 2)
	// Page table lives at offset 0: a single entry for pageid 0 mapping
	// to physical base 4096, readable and executable.
	entry := uint32(4096) | FlagRead | FlagExec
	le := []byte{byte(entry), byte(entry >> 8), byte(entry >> 16), byte(entry >> 24)}
	require.NoError(t, m.LoadAt(0, le))
	require.NoError(t, m.LoadAt(4096, []byte{0x42, 0, 0, 0}))

	m.S[0] = StatusPaging
	m.S[1] = 0

	v, err := m.FetchU32(context.Background(), 0, disas.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x42), v)
}

func TestPagingRejectsMissingFlags(t *testing.T) {
	m := NewMemory(4096 * 2)
	entry := uint32(4096) | FlagWrite // not readable/executable
	le := []byte{byte(entry), byte(entry >> 8), byte(entry >> 16), byte(entry >> 24)}
	require.NoError(t, m.LoadAt(0, le))
	m.S[0] = StatusPaging
	m.S[1] = 0

	_, err := m.FetchU32(context.Background(), 0, disas.LittleEndian)
	assert.ErrorIs(t, err, ErrNotPermitted)
}
