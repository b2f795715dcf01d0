// Package debugger implements an interactive console attached to a
// running Scheduler: a tview/tcell TUI (task table, memory hex view,
// watch list, frame tail, command bar) driven by the same command
// surface the API exposes over HTTP (spec §6), plus attach/detach
// control over the BREAK resolution (SPEC_FULL.md §4).
package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zplc/zplc-core/debugchan"
	"github.com/zplc/zplc-core/scheduler"
)

// Debugger holds console state bound to one running scheduler: command
// history, a tail of the most recent debug frames of any tag (up to
// maxFrameTail, for the TUI's tail view),
// and an output buffer the command handlers write human-readable
// results into.
type Debugger struct {
	Sched *scheduler.Scheduler
	Debug *debugchan.Channel

	History *CommandHistory
	Output  strings.Builder

	LastCommand string

	sub    *debugchan.Subscription
	frames []debugchan.Frame
}

// maxFrameTail bounds how many recent debug frames the TUI keeps for
// its scrollback; older frames are dropped rather than grown without
// bound.
const maxFrameTail = 500

// New builds a console bound to sched and its debug channel. It does
// not attach; call Attach to start receiving frames and to flip BREAK
// into its halting behaviour.
func New(sched *scheduler.Scheduler, debug *debugchan.Channel) *Debugger {
	return &Debugger{
		Sched:   sched,
		Debug:   debug,
		History: NewCommandHistory(),
	}
}

// Attach subscribes to the debug channel and marks the scheduler
// attached, so BREAK halts into StateBreakpoint instead of being a
// no-op (spec §9 Open Question 1, resolved in DESIGN.md).
func (d *Debugger) Attach() {
	if d.sub != nil {
		return
	}
	d.sub = d.Debug.Subscribe()
	d.Sched.SetAttached(true)
	go d.drainFrames()
}

// Detach reverses Attach: unsubscribes and lets BREAK become a no-op
// again.
func (d *Debugger) Detach() {
	if d.sub == nil {
		return
	}
	d.Debug.Unsubscribe(d.sub)
	d.sub = nil
	d.Sched.SetAttached(false)
}

func (d *Debugger) drainFrames() {
	sub := d.sub
	if sub == nil {
		return
	}
	for frame := range sub.Frames {
		d.frames = append(d.frames, frame)
		if len(d.frames) > maxFrameTail {
			d.frames = d.frames[len(d.frames)-maxFrameTail:]
		}
	}
}

// Frames returns a snapshot of the most recently received debug
// frames, oldest first.
func (d *Debugger) Frames() []debugchan.Frame {
	out := make([]debugchan.Frame, len(d.frames))
	copy(out, d.frames)
	return out
}

// Println writes args, space-separated, and a trailing newline to the
// output buffer.
func (d *Debugger) Println(args ...interface{}) {
	fmt.Fprintln(&d.Output, args...)
}

// Printf writes a formatted line to the output buffer.
func (d *Debugger) Printf(format string, args ...interface{}) {
	fmt.Fprintf(&d.Output, format, args...)
}

// GetOutput returns and clears the accumulated output buffer.
func (d *Debugger) GetOutput() string {
	s := d.Output.String()
	d.Output.Reset()
	return s
}

// ExecuteCommand parses and runs one console command line. An empty
// line repeats the last command, matching the teacher console's
// repeat-on-enter convention for stepping commands.
func (d *Debugger) ExecuteCommand(cmdLine string) error {
	cmdLine = strings.TrimSpace(cmdLine)
	if cmdLine == "" {
		cmdLine = d.LastCommand
	}
	if cmdLine != "" {
		d.History.Add(cmdLine)
		d.LastCommand = cmdLine
	}

	parts := strings.Fields(cmdLine)
	if len(parts) == 0 {
		return nil
	}
	return d.handleCommand(strings.ToLower(parts[0]), parts[1:])
}

func (d *Debugger) handleCommand(cmd string, args []string) error {
	switch cmd {
	case "attach":
		d.Attach()
		d.Println("attached")
		return nil
	case "detach":
		d.Detach()
		d.Println("detached")
		return nil
	case "mode":
		return d.cmdMode(args)
	case "status":
		return d.cmdStatus(args)
	case "watch", "w":
		return d.cmdWatch(args)
	case "unwatch":
		return d.cmdUnwatch(args)
	case "clearwatch":
		return d.cmdClearWatch(args)
	case "watches":
		return d.cmdWatches(args)
	case "tasks":
		return d.cmdTasks(args)
	case "reset":
		return d.cmdReset(args)
	case "mem", "x":
		return d.cmdMem(args)
	case "start":
		return d.lifecycle(d.Sched.Start, "started")
	case "stop":
		return d.lifecycle(d.Sched.Stop, "stopped")
	case "pause":
		return d.lifecycle(d.Sched.Pause, "paused")
	case "resume":
		return d.lifecycle(d.Sched.Resume, "resumed")
	case "help", "h", "?":
		return d.cmdHelp(args)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

func (d *Debugger) lifecycle(fn func() error, verb string) error {
	if err := fn(); err != nil {
		return err
	}
	d.Println(verb)
	return nil
}

func (d *Debugger) cmdMode(args []string) error {
	if len(args) == 0 {
		d.Println(d.Debug.Mode().String())
		return nil
	}
	mode, err := debugchan.ParseMode(args[0])
	if err != nil {
		return err
	}
	d.Debug.SetMode(mode)
	d.Printf("mode set to %s\n", mode)
	return nil
}

func (d *Debugger) cmdStatus(args []string) error {
	status := d.Sched.DebugHandlers().GetStatus()
	d.Printf("state: %v  cycle_count: %v  task_count: %v\n", status["state"], status["cycle_count"], status["task_count"])
	return nil
}

func (d *Debugger) cmdWatch(args []string) error {
	addr, err := parseAddress(args)
	if err != nil {
		return err
	}
	if err := d.Sched.Watches().Add(addr); err != nil {
		return err
	}
	d.Printf("watching 0x%08X\n", addr)
	return nil
}

func (d *Debugger) cmdUnwatch(args []string) error {
	addr, err := parseAddress(args)
	if err != nil {
		return err
	}
	if err := d.Sched.Watches().Remove(addr); err != nil {
		return err
	}
	d.Printf("stopped watching 0x%08X\n", addr)
	return nil
}

func (d *Debugger) cmdClearWatch(args []string) error {
	if err := d.Sched.Watches().Clear(); err != nil {
		return err
	}
	d.Println("all watches cleared")
	return nil
}

func (d *Debugger) cmdWatches(args []string) error {
	for _, w := range d.Sched.Watches().List() {
		d.Printf("0x%08X = 0x%08X (hits: %d)\n", w.Addr, w.LastValue, w.HitCount)
	}
	return nil
}

func (d *Debugger) cmdTasks(args []string) error {
	stats := d.Sched.Stats()
	for id, st := range stats.SlotStats {
		d.Printf("task %d: %s  cycles=%d overruns=%d last_us=%d\n",
			id, stats.SlotStates[id], st.CycleCount, st.OverrunCount, st.LastExecTimeUs)
	}
	return nil
}

func (d *Debugger) cmdReset(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: reset <task-id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid task id: %s", args[0])
	}
	if err := d.Sched.DebugHandlers().ResetVM(uint16(id)); err != nil {
		return err
	}
	d.Printf("task %d reset\n", id)
	return nil
}

func (d *Debugger) cmdMem(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: mem <address> <length>")
	}
	addr, err := parseAddressStr(args[0])
	if err != nil {
		return err
	}
	length, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil || length == 0 {
		return fmt.Errorf("invalid length: %s", args[1])
	}
	data, err := d.Sched.ReadMemory(addr, uint32(length))
	if err != nil {
		return err
	}
	d.Printf("0x%08X: % X\n", addr, data)
	return nil
}

func (d *Debugger) cmdHelp(args []string) error {
	d.Println("attach, detach, mode [off|summary|verbose], status, watch <addr>,")
	d.Println("unwatch <addr>, clearwatch, watches, tasks, reset <id>, mem <addr> <len>,")
	d.Println("start, stop, pause, resume, help, quit")
	return nil
}

func parseAddress(args []string) (uint32, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("usage: watch <address>")
	}
	return parseAddressStr(args[0])
}

func parseAddressStr(s string) (uint32, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		return uint32(v), err
	}
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}
