package scheduler

import "github.com/zplc/zplc-core/vm"

// TaskStats accumulates the per-task counters exposed by the scheduler's
// `stats` query (spec §4.4 step 7). The exponential moving average
// mirrors the teacher's PerformanceStatistics accumulation style
// (vm/statistics.go) adapted to a single scalar instead of a breakdown
// map: avg := first ? sample : (avg*7 + sample)/8.
//
// CoverageOffsets/OpcodeCounts/HotPC are the SPEC_FULL §4 diagnostics
// supplement; all three stay zero/nil unless Scheduler.EnableDiagnostics
// was called before the task was registered.
type TaskStats struct {
	CycleCount     uint64
	OverrunCount   uint64
	LastExecTimeUs uint32
	MaxExecTimeUs  uint32
	AvgExecTimeUs  uint32

	CoverageOffsets int
	OpcodeCounts    map[string]uint64
	HotPC           map[uint32]uint64

	hasSample bool
}

func (s *TaskStats) reset() {
	*s = TaskStats{}
}

func (s *TaskStats) record(execUs uint32) {
	s.CycleCount++
	s.LastExecTimeUs = execUs
	if execUs > s.MaxExecTimeUs {
		s.MaxExecTimeUs = execUs
	}
	if !s.hasSample {
		s.AvgExecTimeUs = execUs
		s.hasSample = true
		return
	}
	s.AvgExecTimeUs = uint32((uint64(s.AvgExecTimeUs)*7 + uint64(execUs)) / 8)
}

func (s *TaskStats) overrun() {
	s.OverrunCount++
}

// recordDiagnostics snapshots taskVM's coverage/instruction-mix trackers,
// if enabled, into fresh maps so a concurrent Stats() reader never shares
// mutable state with the VM that is about to run its next cycle.
func (s *TaskStats) recordDiagnostics(taskVM *vm.VM) {
	if taskVM.Coverage != nil {
		s.CoverageOffsets = taskVM.Coverage.Count()
	}
	if taskVM.Stats != nil {
		s.OpcodeCounts = taskVM.Stats.CountsByMnemonic()
		s.HotPC = taskVM.Stats.HotPCSnapshot()
	}
}

// SchedulerStats is the scheduler-wide view returned by Stats().
type SchedulerStats struct {
	CycleCount  uint64
	TaskCount   int
	SlotStats   map[uint16]TaskStats
	SlotStates  map[uint16]SlotState
}
