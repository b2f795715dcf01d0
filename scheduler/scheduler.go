// Package scheduler owns the bounded set of task slots, fires each at
// its configured cadence, serialises shared Memory Plane access, syncs
// digital I/O through the HAL, and tracks per-task and scheduler-wide
// health (spec §4.4). It is the component that turns a loaded program
// into a running one.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zplc/zplc-core/debugchan"
	"github.com/zplc/zplc-core/hal"
	"github.com/zplc/zplc-core/loader"
	"github.com/zplc/zplc-core/memory"
	"github.com/zplc/zplc-core/vm"
	"github.com/zplc/zplc-core/watch"
)

// IOChannel maps one HAL GPIO channel number to a byte offset in the
// Input or Output bank. Which channel feeds which offset is program
// (compiler) policy, not core policy (spec §9) — the Scheduler just
// runs whatever list it is configured with.
type IOChannel struct {
	Channel int
	Offset  uint32
}

// Limits bounds what register_task/load will accept (spec §4.4:
// "reject if intervals are out of range, code won't fit, or no slot is
// free"). Mirrors config.Config.Scheduler.
type Limits struct {
	MinIntervalUS uint32
	MaxIntervalUS uint32
	MaxTasks      int
	LockTimeoutMS int
}

// Scheduler is the ZPLC runtime's task executor (spec §4.4).
type Scheduler struct {
	plane  *memory.Plane
	hal    hal.HAL
	limits Limits

	inputChannels  []IOChannel
	outputChannels []IOChannel

	debug   *debugchan.Channel
	watches *watch.Manager

	mu            sync.Mutex
	state         State
	slots         []*TaskSlot // fixed-size table, index == slot handle
	attached      bool        // whether a debugger is attached (BREAK resolution, DESIGN.md)
	diagnosticsOn bool        // coverage/instruction-mix tracking (SPEC_FULL §4, DESIGN.md)
	diagHotLimit  int         // bound on the per-task hot-PC histogram

	lock *sharedLock

	ctx    context.Context
	cancel context.CancelFunc

	high   *executor
	normal *executor

	activeJobs sync.WaitGroup
	cycleCount atomic.Uint64
}

// New constructs a Scheduler bound to plane and h, with no task slots
// allocated yet. Call Init before registering tasks.
func New(plane *memory.Plane, h hal.HAL, limits Limits, ioIn, ioOut []IOChannel, debug *debugchan.Channel) *Scheduler {
	return &Scheduler{
		plane:          plane,
		hal:            h,
		limits:         limits,
		inputChannels:  ioIn,
		outputChannels: ioOut,
		debug:          debug,
		watches:        watch.NewManager(),
		state:          StateUninit,
		lock:           newSharedLock(),
	}
}

// Watches exposes the scheduler's watchpoint manager so the debug
// channel's watch_add/watch_remove/watch_clear commands (spec §6),
// wired from the API or the TUI, operate on the same set of watched
// addresses that runCycle checks every cycle.
func (s *Scheduler) Watches() *watch.Manager { return s.watches }

// Init performs the Uninit->Idle transition: allocates the (empty)
// slot table and starts the two priority-tier executors.
func (s *Scheduler) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninit {
		return fmt.Errorf("%w: init requires Uninit, have %s", ErrBadTransition, s.state)
	}

	maxTasks := s.limits.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 32
	}
	s.slots = make([]*TaskSlot, maxTasks)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.high = newExecutor(s.ctx, maxTasks)
	s.normal = newExecutor(s.ctx, maxTasks)

	s.state = StateIdle
	if data, err := s.hal.LoadRetain(); err != nil {
		s.hal.Log("scheduler: load retain: %v", err)
	} else if len(data) > 0 {
		s.plane.RestoreRetain(data)
	}
	if s.debug != nil {
		s.debug.EmitAlways(debugchan.ReadyFrame("1.0", []string{"opcode", "fb", "task", "cycle", "error", "watch"}))
	}
	return nil
}

// State returns the scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TaskCount returns the number of occupied slots.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, slot := range s.slots {
		if slot != nil {
			n++
		}
	}
	return n
}

// Task returns the slot at handle, or nil if it is free/out of range.
func (s *Scheduler) Task(handle int) *TaskSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle < 0 || handle >= len(s.slots) {
		return nil
	}
	return s.slots[handle]
}

// Stats returns a snapshot of scheduler-wide and per-task statistics.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := SchedulerStats{
		CycleCount: s.cycleCount.Load(),
		SlotStats:  make(map[uint16]TaskStats),
		SlotStates: make(map[uint16]SlotState),
	}
	for _, slot := range s.slots {
		if slot == nil {
			continue
		}
		out.TaskCount++
		out.SlotStats[slot.ID()] = slot.Stats()
		out.SlotStates[slot.ID()] = slot.State()
	}
	return out
}

// Lock acquires the shared-memory lock on behalf of an external caller
// (e.g. the debugger inspecting memory while the scheduler is paused).
func (s *Scheduler) Lock(timeoutMS int) error { return s.lock.Lock(timeoutMS) }

// Unlock releases the shared-memory lock.
func (s *Scheduler) Unlock() { s.lock.Unlock() }

// ReadMemory returns a snapshot of length bytes of the Memory Plane
// starting at addr, for inspection tools (the API's memory endpoint,
// the debugger's hex view) that need a point-in-time read without a
// full debug-frame subscription. Acquires the shared lock for the
// duration of the read, same as a task cycle would.
func (s *Scheduler) ReadMemory(addr uint32, length uint32) ([]byte, error) {
	if err := s.lock.Lock(s.limits.LockTimeoutMS); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	out := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		v, err := s.plane.Read8(addr + i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Scheduler) validateInterval(intervalUS uint32) error {
	min, max := s.limits.MinIntervalUS, s.limits.MaxIntervalUS
	if min > 0 && intervalUS < min {
		return fmt.Errorf("%w: %d us < min %d us", ErrIntervalOutOfRange, intervalUS, min)
	}
	if max > 0 && intervalUS > max {
		return fmt.Errorf("%w: %d us > max %d us", ErrIntervalOutOfRange, intervalUS, max)
	}
	return nil
}

func (s *Scheduler) freeSlotLocked() (int, error) {
	for i, slot := range s.slots {
		if slot == nil {
			return i, nil
		}
	}
	return -1, ErrNoFreeSlot
}

// RegisterTask allocates a free slot, appends codeBytes to the Memory
// Plane's current code tail, and configures a VM entering at that
// append offset (spec §4.4). Only legal while Idle or Uninit's
// successor Idle state — the code bank is otherwise immutable (spec
// §5) — and only while the scheduler is not Running/Paused.
func (s *Scheduler) RegisterTask(def TaskDef, codeBytes []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return -1, fmt.Errorf("%w: register_task requires Idle, have %s", ErrBadTransition, s.state)
	}
	if err := s.validateInterval(def.IntervalUS); err != nil {
		return -1, err
	}
	idx, err := s.freeSlotLocked()
	if err != nil {
		return -1, err
	}

	entryOffset := s.plane.LoadedCodeSize()
	if err := s.plane.LoadCode(codeBytes, entryOffset); err != nil {
		return -1, fmt.Errorf("%w: %v", ErrCodeTooLarge, err)
	}

	taskVM := vm.New(s.plane)
	taskVM.TaskID = def.ID
	taskVM.Priority = def.Priority
	s.configureVM(taskVM)
	if err := taskVM.SetEntry(entryOffset, uint32(len(codeBytes))); err != nil {
		return -1, err
	}

	slot := &TaskSlot{def: def, vm: taskVM, state: SlotIdle}
	slot.ensureTicker()
	s.slots[idx] = slot
	go s.watch(idx, slot)

	return idx, nil
}

// Load runs the Loader against fileBytes and registers one slot per
// parsed TaskDef, each entering at its file-resolved entry point
// (spec §4.4 "load"). Returns the number of tasks loaded.
func (s *Scheduler) Load(fileBytes []byte) (int, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: load requires Idle, have %s", ErrBadTransition, s.state)
	}
	maxTasks := len(s.slots)
	s.mu.Unlock()

	if _, err := loader.LoadProgram(s.plane, fileBytes); err != nil {
		return 0, err
	}
	tasks, err := loader.LoadTasks(s.plane, fileBytes, maxTasks)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, td := range tasks {
		if err := s.validateInterval(td.IntervalUS); err != nil {
			return loaded, err
		}
		idx, err := s.freeSlotLocked()
		if err != nil {
			return loaded, err
		}

		taskVM := vm.New(s.plane)
		taskVM.TaskID = td.ID
		taskVM.Priority = td.Priority
		s.configureVM(taskVM)
		windowLen := s.plane.LoadedCodeSize() - uint32(td.EntryPoint)
		if err := taskVM.SetEntry(uint32(td.EntryPoint), windowLen); err != nil {
			return loaded, err
		}

		def := TaskDef{ID: td.ID, Type: td.Type, Priority: td.Priority, IntervalUS: td.IntervalUS, StackSize: td.StackSize}
		slot := &TaskSlot{def: def, vm: taskVM, state: SlotIdle}
		slot.ensureTicker()
		s.slots[idx] = slot
		go s.watch(idx, slot)
		loaded++
	}
	return loaded, nil
}

// UnregisterTask stops slot's timer, drains its pending runnable and
// frees the slot. The task's code remains in the Memory Plane (the
// core never reclaims code bank space).
func (s *Scheduler) UnregisterTask(handle int) error {
	s.mu.Lock()
	if handle < 0 || handle >= len(s.slots) || s.slots[handle] == nil {
		s.mu.Unlock()
		return ErrUnknownSlot
	}
	slot := s.slots[handle]
	s.slots[handle] = nil
	s.mu.Unlock()

	slot.disarmTicker()
	for slot.runnablePending.Load() {
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Start performs the Idle->Running transition: zeroes statistics,
// resets every VM to its entry point, and arms every slot's timer
// (spec §4.4).
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: start requires Idle, have %s", ErrBadTransition, s.state)
	}
	s.cycleCount.Store(0)
	for _, slot := range s.slots {
		if slot == nil {
			continue
		}
		slot.mu.Lock()
		slot.stats.reset()
		slot.state = SlotRunning
		slot.mu.Unlock()
		slot.vm.ResetCycle()
		slot.runnablePending.Store(false)
		slot.armTicker()
	}
	s.state = StateRunning
	return nil
}

// Pause performs the Running->Paused transition: disarms every timer
// without touching task state, so Resume can pick up cleanly.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("%w: pause requires Running, have %s", ErrBadTransition, s.state)
	}
	for _, slot := range s.slots {
		if slot == nil {
			continue
		}
		slot.disarmTicker()
	}
	s.state = StatePaused
	return nil
}

// Resume performs the Paused->Running transition, rearming timers.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: resume requires Paused, have %s", ErrBadTransition, s.state)
	}
	for _, slot := range s.slots {
		if slot == nil {
			continue
		}
		slot.armTicker()
	}
	s.state = StateRunning
	return nil
}

// Stop performs the Running|Paused->Idle transition. It arms no
// further timers and waits for any in-flight cycle to finish before
// returning (spec §4.4, §5).
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StatePaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: stop requires Running or Paused, have %s", ErrBadTransition, s.state)
	}
	for _, slot := range s.slots {
		if slot == nil {
			continue
		}
		slot.disarmTicker()
		slot.mu.Lock()
		if slot.state != SlotError {
			slot.state = SlotIdle
		}
		slot.mu.Unlock()
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.activeJobs.Wait()
	return nil
}

// Shutdown performs the any-state->Uninit transition: stops the
// scheduler if it was running, then terminates the priority-tier
// executors for good. The Scheduler is unusable after Shutdown.
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateRunning || state == StatePaused {
		if err := s.Stop(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninit {
		if err := s.hal.PersistRetain(s.plane.RetainBytes()); err != nil {
			s.hal.Log("scheduler: persist retain: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.state = StateUninit
	s.slots = nil
	return nil
}

func (s *Scheduler) executorFor(priority uint8) *executor {
	if priority <= 1 {
		return s.high
	}
	return s.normal
}

// watch is the per-slot timing loop: one goroutine per registered
// slot for its lifetime, reading its own ticker and dispatching to
// the priority-appropriate executor. It exits when the scheduler
// shuts down.
func (s *Scheduler) watch(handle int, slot *TaskSlot) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-slot.tickerChan():
			if !ok {
				return
			}
			s.onTick(slot)
		}
	}
}

func (s *Scheduler) onTick(slot *TaskSlot) {
	slot.mu.Lock()
	st := slot.state
	slot.mu.Unlock()
	if st != SlotRunning {
		return
	}

	if !slot.runnablePending.CompareAndSwap(false, true) {
		// A runnable is already pending: drop this tick (spec §4.4
		// scheduling algorithm — bounds memory instead of queueing).
		slot.mu.Lock()
		slot.stats.overrun()
		slot.mu.Unlock()
		return
	}

	dispatchMS := s.hal.Tick()
	ex := s.executorFor(slot.Priority())
	s.activeJobs.Add(1)
	if !ex.submit(func() {
		defer s.activeJobs.Done()
		defer slot.runnablePending.Store(false)
		s.runCycle(slot, dispatchMS)
	}) {
		s.activeJobs.Done()
		slot.runnablePending.Store(false)
	}
}

// runCycle is the per-cycle body (spec §4.4, ten numbered steps).
func (s *Scheduler) runCycle(slot *TaskSlot, dispatchMS uint32) {
	startTick := s.hal.Tick()

	if err := s.lock.Lock(s.limits.LockTimeoutMS); err != nil {
		s.hal.Log("scheduler: task %d: shared lock: %v", slot.ID(), err)
		return
	}
	defer s.lock.Unlock()

	for _, ch := range s.inputChannels {
		val, err := s.hal.GPIORead(ch.Channel)
		if err != nil {
			s.hal.Log("scheduler: task %d: input channel %d: %v", slot.ID(), ch.Channel, err)
			continue
		}
		if err := s.plane.IPIWrite8(ch.Offset, val); err != nil {
			s.hal.Log("scheduler: task %d: input sync @0x%04X: %v", slot.ID(), ch.Offset, err)
		}
	}

	_, vmErr := slot.vm.RunCycle()

	for _, ch := range s.outputChannels {
		val, err := s.plane.OPIRead8(ch.Offset)
		if err != nil {
			s.hal.Log("scheduler: task %d: output sync @0x%04X: %v", slot.ID(), ch.Offset, err)
			continue
		}
		if err := s.hal.GPIOWrite(ch.Channel, val); err != nil {
			s.hal.Log("scheduler: task %d: output channel %d: %v", slot.ID(), ch.Channel, err)
		}
	}

	endTick := s.hal.Tick()
	execUs := (endTick - startTick) * 1000
	deadlineMS := dispatchMS + uint32(intervalMS(slot.IntervalUS()).Milliseconds())
	overran := endTick > deadlineMS

	slot.mu.Lock()
	slot.stats.record(execUs)
	slot.stats.recordDiagnostics(slot.vm)
	if overran {
		slot.stats.overrun()
	}
	faulted := vmErr != nil
	if faulted {
		slot.state = SlotError
	}
	slot.mu.Unlock()

	n := s.cycleCount.Add(1)

	if s.debug != nil {
		s.debug.Emit(debugchan.TaskFrame(slot.ID(), int64(startTick), int64(endTick), execUs, overran))
		s.debug.Emit(debugchan.CycleFrame(n, execUs, 1))
		if faulted {
			fault := slot.vm.LastError
			s.debug.Emit(debugchan.ErrorFrame(fault.Kind.String(), fault.Error(), fault.PC))
		}
		for _, chg := range s.watches.Check(s.plane) {
			s.debug.Emit(debugchan.WatchFrame(chg.Addr, chg.OldVal, chg.NewVal))
		}
	}
}

// ResetSlot recovers a faulted slot, clearing its VM's fault state: back
// to Running when the scheduler is Running, otherwise to Idle, for a
// "reset_vm" debug command (spec §6). It does not
// rearm the timer; a subsequent Start (or the scheduler already being
// Running) will resume ticking it.
func (s *Scheduler) ResetSlot(handle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if handle < 0 || handle >= len(s.slots) || s.slots[handle] == nil {
		return ErrUnknownSlot
	}
	slot := s.slots[handle]
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.vm.ResetCycle()
	if s.state == StateRunning {
		slot.state = SlotRunning
	} else {
		slot.state = SlotIdle
	}
	slot.runnablePending.Store(false)
	return nil
}

// SetAttached toggles whether BREAK halts a task's VM into
// StateBreakpoint or is the no-op the base spec describes (Open
// Question 1, resolved in DESIGN.md). It is applied to every live slot
// and to slots registered afterwards, so a debugger attaching before
// any task exists still sees BREAK stop execution once one is loaded.
func (s *Scheduler) SetAttached(attached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = attached
	for _, slot := range s.slots {
		if slot == nil {
			continue
		}
		slot.mu.Lock()
		slot.vm.Attached = attached
		slot.mu.Unlock()
	}
}

// Attached reports the current attach state set by SetAttached.
func (s *Scheduler) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// EnableDiagnostics turns on per-task code coverage and instruction-mix
// tracking (SPEC_FULL §4 supplement). It only takes effect for tasks
// registered afterward — mirrors the teacher's once-per-run trace-enable
// model, since retrofitting a histogram onto a VM already mid-cycle
// would report a misleadingly partial picture. maxHotEntries bounds the
// per-task hot-PC histogram's distinct-address count (0 means
// unbounded).
func (s *Scheduler) EnableDiagnostics(maxHotEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnosticsOn = true
	s.diagHotLimit = maxHotEntries
}

// configureVM applies scheduler-wide settings to a newly created task
// VM: its tick source, the current attach state, diagnostics (if
// enabled), and the debug-channel hooks that drive verbose-mode opcode/
// fb frames and breakpoint notifications. Called once per task, at
// register_task/load time, before SetEntry.
func (s *Scheduler) configureVM(taskVM *vm.VM) {
	taskVM.Clock = s.hal.Tick
	taskVM.Attached = s.attached
	if s.diagnosticsOn {
		taskVM.Coverage = vm.NewCoverage()
		taskVM.Stats = vm.NewInstructionStats(s.diagHotLimit)
	}
	if s.debug == nil {
		return
	}
	taskVM.SetOpcodeHook(func(v *vm.VM, op vm.Opcode) {
		if s.debug.Mode() != debugchan.ModeVerbose {
			return
		}
		var tos int32
		if v.SP > 0 {
			tos = v.Stack[v.SP-1]
		}
		s.debug.Emit(debugchan.OpcodeFrame(op.Mnemonic(), uint16(v.PC), uint16(v.SP), tos))
	})
	taskVM.SetFuncHook(func(v *vm.VM, call bool, depth int) {
		if s.debug.Mode() != debugchan.ModeVerbose {
			return
		}
		s.debug.Emit(debugchan.FBFrame(v.TaskID, v.PC, depth))
	})
	taskVM.OnBreak = func(v *vm.VM) {
		s.debug.EmitAlways(debugchan.AckFrame("break", map[string]interface{}{"task": v.TaskID, "pc": v.PC}))
	}
}

// handleByTaskID finds the slot handle whose TaskDef.ID matches id, or
// -1 if no live slot has that ID.
func (s *Scheduler) handleByTaskID(id uint16) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, slot := range s.slots {
		if slot != nil && slot.ID() == id {
			return i
		}
	}
	return -1
}

// DebugHandlers builds the debugchan.Handlers that drive the debug
// channel's command surface (spec §6) from this scheduler: mode
// switches go straight to the debug channel, status reports scheduler
// and per-slot statistics, watch add/remove/clear operate on the
// watchpoint manager checked every cycle, and reset_vm recovers a
// faulted slot by task ID. Both the API and the TUI wire the same
// Handlers value so either surface can drive the other's view of the
// running system.
func (s *Scheduler) DebugHandlers() debugchan.Handlers {
	return debugchan.Handlers{
		SetMode: func(m debugchan.Mode) {
			if s.debug != nil {
				s.debug.SetMode(m)
			}
		},
		GetStatus: func() map[string]interface{} {
			stats := s.Stats()
			tasks := make(map[string]interface{}, len(stats.SlotStats))
			for id, st := range stats.SlotStats {
				tasks[fmt.Sprintf("%d", id)] = map[string]interface{}{
					"state":            stats.SlotStates[id].String(),
					"cycle_count":      st.CycleCount,
					"overrun_count":    st.OverrunCount,
					"last_exec_us":     st.LastExecTimeUs,
					"max_exec_us":      st.MaxExecTimeUs,
					"avg_exec_us":      st.AvgExecTimeUs,
					"coverage_offsets": st.CoverageOffsets,
					"opcode_counts":    st.OpcodeCounts,
					"hot_pc":           st.HotPC,
				}
			}
			return map[string]interface{}{
				"state":       s.State().String(),
				"cycle_count": stats.CycleCount,
				"task_count":  stats.TaskCount,
				"tasks":       tasks,
			}
		},
		WatchAdd:    func(addr uint32) error { return s.watches.Add(addr) },
		WatchRemove: func(addr uint32) error { return s.watches.Remove(addr) },
		WatchClear:  func() error { return s.watches.Clear() },
		ResetVM: func(taskID uint16) error {
			handle := s.handleByTaskID(taskID)
			if handle < 0 {
				return fmt.Errorf("%w: task id %d", ErrUnknownSlot, taskID)
			}
			return s.ResetSlot(handle)
		},
	}
}
