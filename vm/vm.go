// Package vm implements the ZPLC per-task bytecode interpreter: a
// stack-based virtual machine with a private evaluation stack, call
// stack, program counter and error state, sharing the Memory Plane with
// every other task's VM.
package vm

import (
	"github.com/zplc/zplc-core/memory"
)

const (
	// EvalStackDepth is the fixed depth of the evaluation stack (spec §3).
	EvalStackDepth = 256
	// CallStackDepth is the fixed depth of the call stack (spec §3).
	CallStackDepth = 32
)

// State is the VM's execution state (spec §4.2 state machine).
type State int

const (
	StateReady State = iota
	StateRunning
	StateHalted
	StateFaulted
	// StateBreakpoint is not named in spec.md's state machine; it is the
	// SPEC_FULL supplement resolving Open Question 1 (BREAK halting for
	// an attached debugger). It behaves like StateHalted (not an error)
	// but is distinguished so a debugger can tell "I stopped you" apart
	// from "the program finished".
	StateBreakpoint
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	case StateBreakpoint:
		return "breakpoint"
	default:
		return "unknown"
	}
}

// StepResult is the outcome of a single Step call.
type StepResult int

const (
	StepOK StepResult = iota
	StepHalted
	StepBreakpoint
	StepFault
)

// VM is the complete per-task interpreter. It is created once per task at
// registration and lives for the task's registered lifetime; its private
// state (stack, call stack, PC, flags) is owned exclusively by the owning
// TaskSlot, never aliased across tasks. The Memory Plane it points at is
// shared by every task's VM and must only be touched while the
// Scheduler's shared-memory lock is held.
type VM struct {
	Plane *memory.Plane
	code  []byte // read-only view of the whole Code bank, bound at Init

	PC uint32 // offset into the Code bank (0-based), not a logical address
	SP int    // evaluation stack depth, 0..EvalStackDepth
	BP uint32 // base pointer: reserved for local-variable addressing; no
	// opcode in the current instruction set manipulates it. Kept as a
	// VM field because spec §3's data model names it explicitly.
	Stack [EvalStackDepth]int32

	CallDepth  int
	CallStack  [CallStackDepth]uint32
	Flags      uint32 // reserved; no opcode currently reads or writes it

	State     State
	LastError *FaultError

	EntryOffset uint32 // start of this task's code window
	CodeEnd     uint32 // end (exclusive) of this task's code window

	TaskID   uint16
	Priority uint8

	// Clock supplies GET_TICKS; wired to hal.HAL.Tick by the scheduler.
	Clock func() uint32

	// OnBreak, if set, is called when BREAK executes. It never alters
	// program state itself; the VM's own transition into StateBreakpoint
	// (when a debugger is attached) is driven by Attached, not by this
	// hook's return value. Used to notify the debug channel.
	OnBreak func(v *VM)

	// Attached resolves Open Question 1 (see DESIGN.md): when true,
	// BREAK halts the VM into StateBreakpoint; when false (the default)
	// BREAK is the no-op the base spec describes.
	Attached bool

	// Diagnostics, all nil unless explicitly enabled (SPEC_FULL
	// supplement, modeled on the teacher's Phase 10/11 trace hooks).
	Coverage   *Coverage
	Stats      *InstructionStats
	onOpcode   func(v *VM, op Opcode) // verbose debug-channel hook
	onFunc     func(v *VM, call bool, depth int) // fb frame hook
}

// New creates a VM bound to plane. Call Init before use.
func New(plane *memory.Plane) *VM {
	v := &VM{Plane: plane}
	v.Init()
	return v
}

// SetOpcodeHook installs the verbose-mode per-opcode debug callback.
func (v *VM) SetOpcodeHook(fn func(v *VM, op Opcode)) { v.onOpcode = fn }

// SetFuncHook installs the fb-frame (call/return boundary) debug callback.
func (v *VM) SetFuncHook(fn func(v *VM, call bool, depth int)) { v.onFunc = fn }

// Init zeroes private state, binds the Code bank view, and sets PC to 0.
func (v *VM) Init() {
	v.PC = 0
	v.SP = 0
	v.BP = 0
	v.CallDepth = 0
	v.Flags = 0
	v.State = StateReady
	v.LastError = nil
	if view, ok := v.Plane.GetCode(0, v.Plane.LoadedCodeSize()); ok {
		v.code = view
	} else {
		v.code = nil
	}
}

// SetEntry records the task's entry point and code window. It fails if
// the window would leave the loaded Code region.
func (v *VM) SetEntry(entryOffset, taskCodeLen uint32) error {
	end := entryOffset + taskCodeLen
	if end < entryOffset || end > v.Plane.LoadedCodeSize() {
		return newFault(ErrInvalidJump, entryOffset, "entry window [0x%04X,0x%04X) exceeds loaded code size 0x%04X", entryOffset, end, v.Plane.LoadedCodeSize())
	}
	if view, ok := v.Plane.GetCode(0, v.Plane.LoadedCodeSize()); ok {
		v.code = view
	}
	v.EntryOffset = entryOffset
	v.CodeEnd = end
	v.PC = entryOffset
	return nil
}

// ResetCycle returns the VM to Ready at the task's entry point, clearing
// the stacks and any fault/halt state. Idempotent on both fresh and
// halted/faulted VMs.
func (v *VM) ResetCycle() {
	v.PC = v.EntryOffset
	v.SP = 0
	v.CallDepth = 0
	v.State = StateReady
	v.LastError = nil
}

func (v *VM) fault(kind ErrorKind, pc uint32, format string, args ...interface{}) error {
	f := newFault(kind, pc, format, args...)
	v.LastError = f
	v.State = StateFaulted
	return f
}

func (v *VM) push(val int32) error {
	if v.SP >= EvalStackDepth {
		return v.fault(ErrStackOverflow, v.PC, "evaluation stack full (depth %d)", EvalStackDepth)
	}
	v.Stack[v.SP] = val
	v.SP++
	return nil
}

func (v *VM) pop() (int32, error) {
	if v.SP <= 0 {
		return 0, v.fault(ErrStackUnderflow, v.PC, "evaluation stack empty")
	}
	v.SP--
	return v.Stack[v.SP], nil
}

func (v *VM) peek(depthFromTop int) (int32, error) {
	idx := v.SP - 1 - depthFromTop
	if idx < 0 {
		return 0, v.fault(ErrStackUnderflow, v.PC, "evaluation stack underflow on peek")
	}
	return v.Stack[idx], nil
}

// fetchByte reads one code byte at absolute offset off, bounds-checked
// against this task's own [EntryOffset, CodeEnd) window (task isolation:
// one VM may never read another task's code even though all code lives
// in the same shared Code bank).
func (v *VM) fetchByte(off uint32) (byte, error) {
	if off < v.EntryOffset || off >= v.CodeEnd {
		return 0, v.fault(ErrInvalidJump, v.PC, "pc 0x%04X outside task code window [0x%04X,0x%04X)", off, v.EntryOffset, v.CodeEnd)
	}
	if int(off) >= len(v.code) {
		return 0, v.fault(ErrInvalidOpcode, v.PC, "code fetch at 0x%04X past loaded code", off)
	}
	return v.code[off], nil
}

func (v *VM) fetchOperandBytes(off uint32, n int) ([]byte, error) {
	if off+uint32(n) > v.CodeEnd {
		return nil, v.fault(ErrInvalidOpcode, v.PC, "truncated operand at 0x%04X", off)
	}
	if int(off+uint32(n)) > len(v.code) {
		return nil, v.fault(ErrInvalidOpcode, v.PC, "truncated operand at 0x%04X past loaded code", off)
	}
	return v.code[off : off+uint32(n)], nil
}

// jumpTarget validates an absolute code-bank offset target is within
// this task's own code window.
func (v *VM) jumpTarget(target uint32) error {
	if target < v.EntryOffset || target >= v.CodeEnd {
		return v.fault(ErrInvalidJump, v.PC, "jump target 0x%04X outside task code window [0x%04X,0x%04X)", target, v.EntryOffset, v.CodeEnd)
	}
	return nil
}

// Step fetches, decodes and executes exactly one instruction.
func (v *VM) Step() StepResult {
	if v.State == StateFaulted || v.State == StateHalted || v.State == StateBreakpoint {
		return StepFault
	}
	v.State = StateRunning

	startPC := v.PC
	opByte, err := v.fetchByte(v.PC)
	if err != nil {
		return StepFault
	}
	op := Opcode(opByte)
	size, known := operandSize(op)
	if !known {
		v.fault(ErrInvalidOpcode, startPC, "unknown opcode 0x%02X", opByte)
		return StepFault
	}
	var operand []byte
	if size > 0 {
		operand, err = v.fetchOperandBytes(v.PC+1, size)
		if err != nil {
			return StepFault
		}
	}

	if v.Coverage != nil {
		v.Coverage.Record(startPC)
	}
	if v.Stats != nil {
		v.Stats.Record(op)
		v.Stats.RecordPC(startPC)
	}
	if v.onOpcode != nil {
		v.onOpcode(v, op)
	}

	res := v.execute(op, operand, size)

	switch v.State {
	case StateFaulted:
		return StepFault
	case StateHalted:
		return StepHalted
	case StateBreakpoint:
		return StepBreakpoint
	default:
		v.State = StateRunning
		return res
	}
}

// Run steps until halted/faulted or maxInstructions is exhausted (0 means
// unbounded within this call). It returns the number of instructions
// actually executed and the terminal error, if any (nil on a normal
// HALT/top-level-RET).
func (v *VM) Run(maxInstructions int) (int, error) {
	n := 0
	for maxInstructions <= 0 || n < maxInstructions {
		res := v.Step()
		n++
		switch res {
		case StepHalted, StepBreakpoint:
			return n, nil
		case StepFault:
			return n, v.LastError
		}
	}
	return n, nil
}

// RunCycle resets the VM to its entry point and runs it to completion of
// one scan cycle (HALT, top-level RET, a fault, or an attached-debugger
// breakpoint).
func (v *VM) RunCycle() (int, error) {
	v.ResetCycle()
	return v.Run(0)
}
