package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zplc/zplc-core/memory"
)

func TestAddRemoveClear(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Add(0x2000))
	require.NoError(t, m.Add(0x2004))
	assert.Equal(t, 2, m.Count())

	require.NoError(t, m.Remove(0x2000))
	assert.Equal(t, 1, m.Count())
	assert.Error(t, m.Remove(0x2000))

	require.NoError(t, m.Clear())
	assert.Equal(t, 0, m.Count())
}

func TestCheckDetectsChangeAfterPriming(t *testing.T) {
	plane := memory.New()
	plane.Init()
	m := NewManager()
	require.NoError(t, m.Add(memory.WorkBase))

	require.NoError(t, plane.Write32(memory.WorkBase, 42))
	changes := m.Check(plane)
	assert.Empty(t, changes, "first Check only primes the baseline value")

	require.NoError(t, plane.Write32(memory.WorkBase, 99))
	changes = m.Check(plane)
	require.Len(t, changes, 1)
	assert.Equal(t, uint32(42), changes[0].OldVal)
	assert.Equal(t, uint32(99), changes[0].NewVal)

	changes = m.Check(plane)
	assert.Empty(t, changes, "unchanged value produces no further change")
}

func TestCheckSkipsUnreadableAddress(t *testing.T) {
	plane := memory.New()
	plane.Init()
	m := NewManager()
	require.NoError(t, m.Add(0xFFFFFFFF))
	assert.NotPanics(t, func() { m.Check(plane) })
}
