package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandHistoryAddAndGetAll(t *testing.T) {
	h := NewCommandHistory()
	h.Add("watch 0x2000")
	h.Add("status")
	h.Add("tasks")

	require.Equal(t, 3, h.Size())
	all := h.GetAll()
	assert.Equal(t, []string{"watch 0x2000", "status", "tasks"}, all)
}

func TestCommandHistoryIgnoresEmptyAndConsecutiveDuplicates(t *testing.T) {
	h := NewCommandHistory()
	h.Add("status")
	h.Add("")
	h.Add("status")
	h.Add("tasks")

	assert.Equal(t, 2, h.Size(), "empty commands and immediate repeats must not grow history")
}

func TestCommandHistoryNavigation(t *testing.T) {
	h := NewCommandHistory()
	h.Add("a")
	h.Add("b")
	h.Add("c")

	assert.Equal(t, "c", h.Previous())
	assert.Equal(t, "b", h.Previous())
	assert.Equal(t, "a", h.Previous())
	assert.Equal(t, "", h.Previous(), "no more history before the first command")

	assert.Equal(t, "b", h.Next())
	assert.Equal(t, "c", h.Next())
	assert.Equal(t, "", h.Next(), "no more history past the last command")
}

func TestCommandHistorySearch(t *testing.T) {
	h := NewCommandHistory()
	h.Add("watch 0x2000")
	h.Add("watch 0x3000")
	h.Add("status")

	results := h.Search("watch")
	assert.Equal(t, []string{"watch 0x2000", "watch 0x3000"}, results)
}

func TestCommandHistoryClear(t *testing.T) {
	h := NewCommandHistory()
	h.Add("status")
	h.Clear()
	assert.Equal(t, 0, h.Size())
	assert.Empty(t, h.GetAll())
}
