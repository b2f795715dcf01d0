// Package debugchan implements the ZPLC debug channel: a
// machine-parseable, one-frame-per-line stream of runtime traces (spec
// §4.5), plus the command surface that drives it. It never changes
// program behaviour or timing when the channel's mode is off.
package debugchan

import "time"

// Tag identifies a Frame's kind (spec §3, DebugFrame).
type Tag string

const (
	TagOpcode Tag = "opcode"
	TagFB     Tag = "fb"
	TagTask   Tag = "task"
	TagCycle  Tag = "cycle"
	TagError  Tag = "error"
	TagAck    Tag = "ack"
	TagWatch  Tag = "watch"
	TagReady  Tag = "ready"
)

// Frame is one debug record: a tag, its typed payload, and the host
// timestamp it was produced at. One Frame marshals to exactly one JSON
// line (spec's framing contract: "one frame = one line", fields
// unambiguously typed).
type Frame struct {
	Tag       Tag                    `json:"tag"`
	Fields    map[string]interface{} `json:"fields"`
	HostTSMs  int64                  `json:"host_ts_ms"`
}

func newFrame(tag Tag, fields map[string]interface{}) Frame {
	return Frame{Tag: tag, Fields: fields, HostTSMs: time.Now().UnixMilli()}
}

// OpcodeFrame is emitted after every executed opcode in verbose mode.
func OpcodeFrame(mnemonic string, pc, sp uint16, tos int32) Frame {
	return newFrame(TagOpcode, map[string]interface{}{
		"op": mnemonic, "pc": pc, "sp": sp, "tos": tos,
	})
}

// FBFrame marks a call/return boundary in verbose mode (the closest
// analogue a stack-machine ISA has to a function-block entry/exit).
func FBFrame(taskID uint16, pc uint32, depth int) Frame {
	return newFrame(TagFB, map[string]interface{}{
		"id": taskID, "pc": pc, "depth": depth,
	})
}

// TaskFrame is emitted once per task-cycle in summary mode.
func TaskFrame(id uint16, startMs, endMs int64, execUs uint32, overrun bool) Frame {
	return newFrame(TagTask, map[string]interface{}{
		"id": id, "start_ms": startMs, "end_ms": endMs, "us": execUs, "overrun": overrun,
	})
}

// CycleFrame is emitted once per scheduler cycle in summary mode.
func CycleFrame(n uint64, execUs uint32, tasks int) Frame {
	return newFrame(TagCycle, map[string]interface{}{
		"n": n, "us": execUs, "tasks": tasks,
	})
}

// ErrorFrame is always emitted (mode permitting) for any observable
// runtime fault.
func ErrorFrame(code string, msg string, pc uint32) Frame {
	return newFrame(TagError, map[string]interface{}{
		"code": code, "msg": msg, "pc": pc,
	})
}

// WatchFrame reports a value change at a watched memory address.
func WatchFrame(addr uint32, oldVal, newVal uint32) Frame {
	return newFrame(TagWatch, map[string]interface{}{
		"addr": addr, "old": oldVal, "new": newVal,
	})
}

// AckFrame answers a command, regardless of the current mode: the
// command surface itself is always live (spec §6).
func AckFrame(cmd string, val interface{}) Frame {
	return newFrame(TagAck, map[string]interface{}{
		"cmd": cmd, "val": val,
	})
}

// ReadyFrame is emitted once, on boot, declaring the protocol version
// and capability set. It is emitted unconditionally: it is the
// channel's own handshake, not an execution-produced trace, so it does
// not count against the "mode=off produces zero debug frames"
// invariant (spec §8), which governs frames produced *by running
// programs*.
func ReadyFrame(version string, capabilities []string) Frame {
	return newFrame(TagReady, map[string]interface{}{
		"version": version, "capabilities": capabilities,
	})
}
