package debugger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zplc/zplc-core/debugchan"
	"github.com/zplc/zplc-core/hal"
	"github.com/zplc/zplc-core/memory"
	"github.com/zplc/zplc-core/scheduler"
)

func newTestDebugger(t *testing.T) *Debugger {
	t.Helper()
	plane := memory.New()
	plane.Init()
	h := hal.NewSimHAL(nil)
	debug := debugchan.NewChannel(debugchan.ModeOff)
	limits := scheduler.Limits{MinIntervalUS: 1000, MaxIntervalUS: 1_000_000_000, MaxTasks: 8, LockTimeoutMS: 200}
	sched := scheduler.New(plane, h, limits, nil, nil, debug)
	require.NoError(t, sched.Init())
	t.Cleanup(func() {
		_ = sched.Shutdown()
		debug.Close()
	})
	return New(sched, debug)
}

var haltOnly = []byte{0x21}

func TestAttachDetachDrivesSchedulerAttached(t *testing.T) {
	d := newTestDebugger(t)
	handle, err := d.Sched.RegisterTask(scheduler.TaskDef{ID: 1, IntervalUS: 10_000}, haltOnly)
	require.NoError(t, err)

	require.NoError(t, d.ExecuteCommand("attach"))
	assert.True(t, d.Sched.Attached())
	assert.True(t, d.Sched.Task(handle).VM().Attached)

	require.NoError(t, d.ExecuteCommand("detach"))
	assert.False(t, d.Sched.Attached())
}

func TestModeCommandSwitchesChannelVerbosity(t *testing.T) {
	d := newTestDebugger(t)
	require.NoError(t, d.ExecuteCommand("mode verbose"))
	assert.Equal(t, debugchan.ModeVerbose, d.Debug.Mode())
	assert.Contains(t, d.GetOutput(), "verbose")
}

func TestModeCommandRejectsUnknownMode(t *testing.T) {
	d := newTestDebugger(t)
	assert.Error(t, d.ExecuteCommand("mode bogus"))
}

func TestWatchUnwatchClearWatch(t *testing.T) {
	d := newTestDebugger(t)
	require.NoError(t, d.ExecuteCommand("watch 0x2000"))
	assert.Equal(t, 1, d.Sched.Watches().Count())

	require.NoError(t, d.ExecuteCommand("watches"))
	assert.Contains(t, d.GetOutput(), "0x00002000")

	require.NoError(t, d.ExecuteCommand("unwatch 0x2000"))
	assert.Equal(t, 0, d.Sched.Watches().Count())

	require.NoError(t, d.ExecuteCommand("watch 0x2000"))
	require.NoError(t, d.ExecuteCommand("watch 0x3000"))
	require.NoError(t, d.ExecuteCommand("clearwatch"))
	assert.Equal(t, 0, d.Sched.Watches().Count())
}

func TestEmptyCommandRepeatsLast(t *testing.T) {
	d := newTestDebugger(t)
	require.NoError(t, d.ExecuteCommand("watch 0x2000"))
	require.NoError(t, d.ExecuteCommand(""))
	assert.Equal(t, 1, d.Sched.Watches().Count(), "watch is idempotent, so repeating it must not error or double-count")
}

// divByZeroProgram faults every cycle with DIV_BY_ZERO: PUSH8 5, PUSH8 0, DIV, HALT.
var divByZeroProgram = []byte{0x02, 0x05, 0x02, 0x00, 0x13, 0x21}

func TestResetCommandRecoversFaultedTask(t *testing.T) {
	d := newTestDebugger(t)
	handle, err := d.Sched.RegisterTask(scheduler.TaskDef{ID: 7, IntervalUS: 10_000}, divByZeroProgram)
	require.NoError(t, err)

	require.NoError(t, d.Sched.Start())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, d.Sched.Stop())

	slot := d.Sched.Task(handle)
	require.Equal(t, scheduler.SlotError, slot.State())

	require.NoError(t, d.ExecuteCommand("reset 7"))
	assert.Equal(t, scheduler.SlotIdle, slot.State())
}

func TestMemCommandReportsReadError(t *testing.T) {
	d := newTestDebugger(t)
	assert.Error(t, d.ExecuteCommand("mem 0xFFFFFFFF 4"))
}

func TestUnknownCommandErrors(t *testing.T) {
	d := newTestDebugger(t)
	assert.Error(t, d.ExecuteCommand("frobnicate"))
}

func TestTaskNotAttachedByDefault(t *testing.T) {
	d := newTestDebugger(t)
	handle, err := d.Sched.RegisterTask(scheduler.TaskDef{ID: 1, IntervalUS: 10_000}, haltOnly)
	require.NoError(t, err)
	assert.False(t, d.Sched.Task(handle).VM().Attached)
}
