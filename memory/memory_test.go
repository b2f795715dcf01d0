package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZeroed(t *testing.T) {
	p := New()
	v, err := p.Read32(WorkBase)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)
}

func TestRoundTrip32(t *testing.T) {
	p := New()
	require.NoError(t, p.Write32(WorkBase+4, 0xdeadbeef))
	v, err := p.Read32(WorkBase + 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v)
}

func TestInputBankReadOnlyToVM(t *testing.T) {
	p := New()
	err := p.Write8(InputBase, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfBounds))

	// HAL-side write bypasses the VM permission.
	require.NoError(t, p.IPIWrite8(0, 1))
	b, err := p.Read8(InputBase)
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)
}

func TestCrossBankAccessRejected(t *testing.T) {
	p := New()
	// Last valid byte of Input bank is InputBase+InputSize-1; a 4-byte
	// read starting there crosses into Output.
	_, err := p.Read32(InputBase + InputSize - 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfBounds))
}

func TestCodeBankNotReachableViaLoadStore(t *testing.T) {
	p := New()
	_, err := p.Read8(CodeBase)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfBounds))

	err = p.Write8(CodeBase, 1)
	require.Error(t, err)
}

func TestFailedStoreLeavesBanksUnchanged(t *testing.T) {
	p := New()
	require.NoError(t, p.Write32(WorkBase, 0x11223344))

	// An out-of-bounds write must not have a partial effect anywhere.
	err := p.Write32(0xFFFFFFF0, 0xaaaaaaaa)
	require.Error(t, err)

	v, err := p.Read32(WorkBase)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), v)
}

func TestLoadCodeExtendsLoadedLength(t *testing.T) {
	p := New()
	assert.Equal(t, uint32(0), p.LoadedCodeSize())

	require.NoError(t, p.LoadCode([]byte{1, 2, 3, 4}, 0))
	assert.Equal(t, uint32(4), p.LoadedCodeSize())

	require.NoError(t, p.LoadCode([]byte{5, 6}, 10))
	assert.Equal(t, uint32(12), p.LoadedCodeSize())

	view, ok := p.GetCode(0, 4)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, view)
}

func TestLoadCodeRejectsOversize(t *testing.T) {
	p := New()
	err := p.LoadCode(make([]byte, CodeSize+1), 0)
	require.Error(t, err)
}

func TestGetRegion(t *testing.T) {
	p := New()
	b, ok := p.GetRegion(WorkBase)
	require.True(t, ok)
	assert.Equal(t, BankWork, b)

	_, ok = p.GetRegion(0x1234)
	assert.False(t, ok)
}

func TestRetainSurvivesAcrossRestore(t *testing.T) {
	p := New()
	require.NoError(t, p.Write8(RetainBase, 0x42))
	saved := p.RetainBytes()

	p.Init() // zeroes all banks, including retain
	v, err := p.Read8(RetainBase)
	require.NoError(t, err)
	assert.Equal(t, byte(0), v)

	p.RestoreRetain(saved)
	v, err = p.Read8(RetainBase)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), v)
}

func TestEndiannessLittle(t *testing.T) {
	p := New()
	require.NoError(t, p.Write16(WorkBase, 0x0102))
	b0, _ := p.Read8(WorkBase)
	b1, _ := p.Read8(WorkBase + 1)
	assert.Equal(t, byte(0x02), b0)
	assert.Equal(t, byte(0x01), b1)
}
