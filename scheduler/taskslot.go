package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zplc/zplc-core/vm"
)

// TaskDef describes a task being registered directly (register_task),
// as opposed to one parsed from a program file's TASK segment (see
// loader.TaskDef, which additionally carries the file-resolved entry
// point). ID is caller-assigned and must be unique among live slots.
type TaskDef struct {
	ID         uint16
	Type       uint8
	Priority   uint8
	IntervalUS uint32
	StackSize  uint16
}

// TaskSlot is one entry in the scheduler's fixed-size task table: a
// task definition, its private VM, its run state and its accumulated
// statistics. Each slot owns one timer.
type TaskSlot struct {
	mu    sync.Mutex
	def   TaskDef
	vm    *vm.VM
	state SlotState
	stats TaskStats

	runnablePending atomic.Bool

	tickerMu sync.Mutex
	ticker   *time.Ticker
}

// ID returns the slot's task ID.
func (t *TaskSlot) ID() uint16 { return t.def.ID }

// Priority returns the slot's configured priority.
func (t *TaskSlot) Priority() uint8 { return t.def.Priority }

// IntervalUS returns the slot's configured cycle interval.
func (t *TaskSlot) IntervalUS() uint32 { return t.def.IntervalUS }

// State returns the slot's current run state.
func (t *TaskSlot) State() SlotState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stats returns a snapshot of the slot's accumulated statistics.
func (t *TaskSlot) Stats() TaskStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// VM exposes the slot's underlying interpreter, for callers (debugger,
// API) that need direct inspection/attach access.
func (t *TaskSlot) VM() *vm.VM { return t.vm }

func intervalMS(intervalUS uint32) time.Duration {
	ms := intervalUS / 1000
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// ensureTicker creates the slot's ticker, stopped, the first time it is
// called. Subsequent calls are no-ops; armTicker/disarmTicker start and
// stop the same ticker instance thereafter.
func (t *TaskSlot) ensureTicker() {
	t.tickerMu.Lock()
	defer t.tickerMu.Unlock()
	if t.ticker != nil {
		return
	}
	t.ticker = time.NewTicker(intervalMS(t.def.IntervalUS))
	t.ticker.Stop()
}

func (t *TaskSlot) armTicker() {
	t.tickerMu.Lock()
	defer t.tickerMu.Unlock()
	period := intervalMS(t.def.IntervalUS)
	if t.ticker == nil {
		t.ticker = time.NewTicker(period)
		return
	}
	t.ticker.Reset(period)
}

func (t *TaskSlot) disarmTicker() {
	t.tickerMu.Lock()
	defer t.tickerMu.Unlock()
	if t.ticker != nil {
		t.ticker.Stop()
	}
}

func (t *TaskSlot) tickerChan() <-chan time.Time {
	t.tickerMu.Lock()
	defer t.tickerMu.Unlock()
	if t.ticker == nil {
		return nil
	}
	return t.ticker.C
}
