package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimHALGPIORoundTrip(t *testing.T) {
	h := NewSimHAL(nil)
	require.NoError(t, h.GPIOWrite(3, 1))
	v, err := h.GPIORead(3)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v)

	v, err = h.GPIORead(99)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), v, "unwritten channel reads zero")
}

func TestSimHALRetainRoundTrip(t *testing.T) {
	h := NewSimHAL(nil)
	require.NoError(t, h.PersistRetain([]byte{1, 2, 3}))
	got, err := h.LoadRetain()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestSimHALUnimplementedStubs(t *testing.T) {
	h := NewSimHAL(nil)
	_, err := h.ADCRead(0)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.ErrorIs(t, h.DACWrite(0, 0), ErrNotImplemented)
	_, err = h.Socket("tcp", "localhost:0")
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestManualHALAdvancesOnlyOnDemand(t *testing.T) {
	h := NewManualHAL()
	assert.Equal(t, uint32(0), h.Tick())
	assert.Equal(t, uint32(10), h.Advance(10))
	assert.Equal(t, uint32(10), h.Tick())
	h.Sleep(1000) // must not block or advance the clock
	assert.Equal(t, uint32(10), h.Tick())
}
