// Package watch implements the value-change watchpoints behind spec
// §6's "add/remove/clear watched memory addresses" command group.
// Generalized from the teacher's register-or-expression watchpoints
// (debugger/watchpoints.go) to plain Memory Plane addresses: ZPLC has
// no register file and no expression language, only a flat address
// map (spec §4.1), so a watch is just an address plus its last
// observed 32-bit value.
package watch

import (
	"fmt"
	"sync"

	"github.com/zplc/zplc-core/memory"
)

// Watch is one monitored address and the value it last held.
type Watch struct {
	Addr      uint32
	LastValue uint32
	HitCount  int
	primed    bool
}

// Change describes a watch whose value differed from its last
// observation, the instant Check noticed it.
type Change struct {
	Addr    uint32
	OldVal  uint32
	NewVal  uint32
}

// Manager tracks the active set of watched addresses. It is safe for
// concurrent use: Check runs on the scheduler's cycle goroutines while
// Add/Remove/Clear run on the command-dispatch path (API or debugger).
type Manager struct {
	mu      sync.Mutex
	watches map[uint32]*Watch
}

// NewManager creates an empty watch set.
func NewManager() *Manager {
	return &Manager{watches: make(map[uint32]*Watch)}
}

// Add starts watching addr. Adding an address already watched is a
// no-op (idempotent, matching spec §6's "add" verb having no separate
// "already watching" error).
func (m *Manager) Add(addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watches[addr]; ok {
		return nil
	}
	m.watches[addr] = &Watch{Addr: addr}
	return nil
}

// Remove stops watching addr.
func (m *Manager) Remove(addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watches[addr]; !ok {
		return fmt.Errorf("watch: address 0x%08X is not watched", addr)
	}
	delete(m.watches, addr)
	return nil
}

// Clear removes every watch.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watches = make(map[uint32]*Watch)
	return nil
}

// List returns a snapshot of the current watch set, addresses in
// ascending order.
func (m *Manager) List() []Watch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Watch, 0, len(m.watches))
	for _, w := range m.watches {
		out = append(out, *w)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Addr > out[j].Addr; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Count reports how many addresses are currently watched.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Check re-reads every watched address in plane and returns one
// Change per address whose value differs from its last observation.
// A watch whose address can't currently be read (out of bounds, or a
// bank without read permission) is skipped rather than erroring,
// matching the teacher's CheckWatchpoints "skip if memory read
// fails" behaviour.
func (m *Manager) Check(plane *memory.Plane) []Change {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changes []Change
	for _, w := range m.watches {
		val, err := plane.Read32(w.Addr)
		if err != nil {
			continue
		}
		if !w.primed {
			w.primed = true
			w.LastValue = val
			continue
		}
		if val != w.LastValue {
			changes = append(changes, Change{Addr: w.Addr, OldVal: w.LastValue, NewVal: val})
			w.HitCount++
			w.LastValue = val
		}
	}
	return changes
}
