package vm

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/zplc/zplc-core/memory"
)

// execute performs the one opcode already fetched (and operand already
// sliced) at v.PC, advancing v.PC on any non-terminal, non-faulting
// path. v.State has already been set to StateRunning by the caller; this
// function may change it to StateHalted, StateFaulted or
// StateBreakpoint.
func (v *VM) execute(op Opcode, operand []byte, operandSize int) StepResult {
	pc := v.PC
	advance := func() { v.PC = pc + 1 + uint32(operandSize) }

	switch op {
	case NOP:
		advance()
		return StepOK

	case HALT:
		v.State = StateHalted
		return StepHalted

	case BREAK:
		if v.OnBreak != nil {
			v.OnBreak(v)
		}
		advance()
		if v.Attached {
			v.State = StateBreakpoint
			return StepBreakpoint
		}
		return StepOK

	case GET_TICKS:
		var ticks uint32
		if v.Clock != nil {
			ticks = v.Clock()
		}
		if err := v.push(int32(ticks)); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case DUP:
		top, err := v.peek(0)
		if err != nil {
			return StepFault
		}
		if err := v.push(top); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case DROP:
		if _, err := v.pop(); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case SWAP:
		if v.SP < 2 {
			v.fault(ErrStackUnderflow, pc, "SWAP needs 2 values")
			return StepFault
		}
		v.Stack[v.SP-1], v.Stack[v.SP-2] = v.Stack[v.SP-2], v.Stack[v.SP-1]
		advance()
		return StepOK

	case OVER:
		val, err := v.peek(1)
		if err != nil {
			return StepFault
		}
		if err := v.push(val); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case ROT:
		if v.SP < 3 {
			v.fault(ErrStackUnderflow, pc, "ROT needs 3 values")
			return StepFault
		}
		a, b, c := v.Stack[v.SP-3], v.Stack[v.SP-2], v.Stack[v.SP-1]
		v.Stack[v.SP-3], v.Stack[v.SP-2], v.Stack[v.SP-1] = b, c, a
		advance()
		return StepOK

	case ADD, SUB, MUL, DIV, MOD:
		b, a, err := v.popTwo()
		if err != nil {
			return StepFault
		}
		var result int32
		switch op {
		case ADD:
			result = a + b
		case SUB:
			result = a - b
		case MUL:
			result = a * b
		case DIV:
			if b == 0 {
				v.fault(ErrDivByZero, pc, "integer division by zero")
				return StepFault
			}
			result = a / b
		case MOD:
			if b == 0 {
				v.fault(ErrDivByZero, pc, "integer modulo by zero")
				return StepFault
			}
			result = a % b
		}
		if err := v.push(result); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case NEG:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(-a); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case ABS:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if a < 0 {
			a = -a
		}
		if err := v.push(a); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case ADDF, SUBF, MULF, DIVF:
		b, a, err := v.popTwo()
		if err != nil {
			return StepFault
		}
		fa := math.Float32frombits(uint32(a))
		fb := math.Float32frombits(uint32(b))
		var fr float32
		switch op {
		case ADDF:
			fr = fa + fb
		case SUBF:
			fr = fa - fb
		case MULF:
			fr = fa * fb
		case DIVF:
			if fb == 0 {
				v.fault(ErrDivByZero, pc, "float division by zero")
				return StepFault
			}
			fr = fa / fb
		}
		if err := v.push(int32(math.Float32bits(fr))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case NEGF:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		fr := -math.Float32frombits(uint32(a))
		if err := v.push(int32(math.Float32bits(fr))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case ABSF:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		fr := math.Float32frombits(uint32(a))
		if fr < 0 {
			fr = -fr
		}
		if err := v.push(int32(math.Float32bits(fr))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case AND, OR, XOR:
		b, a, err := v.popTwo()
		if err != nil {
			return StepFault
		}
		var result int32
		switch op {
		case AND:
			result = a & b
		case OR:
			result = a | b
		case XOR:
			result = a ^ b
		}
		if err := v.push(result); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case NOT:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(^a); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case SHL, SHR, SAR:
		b, a, err := v.popTwo()
		if err != nil {
			return StepFault
		}
		shift := uint32(b) & 31
		var result int32
		switch op {
		case SHL:
			result = int32(uint32(a) << shift)
		case SHR:
			result = int32(uint32(a) >> shift)
		case SAR:
			result = a >> shift
		}
		if err := v.push(result); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case EQ, NE, LT, LE, GT, GE, LTU, GTU:
		b, a, err := v.popTwo()
		if err != nil {
			return StepFault
		}
		var res bool
		switch op {
		case EQ:
			res = a == b
		case NE:
			res = a != b
		case LT:
			res = a < b
		case LE:
			res = a <= b
		case GT:
			res = a > b
		case GE:
			res = a >= b
		case LTU:
			res = uint32(a) < uint32(b)
		case GTU:
			res = uint32(a) > uint32(b)
		}
		var cell int32
		if res {
			cell = 1
		}
		if err := v.push(cell); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case I2F:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(int32(math.Float32bits(float32(a)))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case F2I:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(int32(math.Float32frombits(uint32(a)))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case I2B:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(int32(uint8(a))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case EXT8:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(int32(int8(a))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case EXT16:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(int32(int16(a))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case ZEXT8:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(int32(uint8(a))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case ZEXT16:
		a, err := v.pop()
		if err != nil {
			return StepFault
		}
		if err := v.push(int32(uint16(a))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case PUSH8:
		if err := v.push(int32(int8(operand[0]))); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case PUSH16:
		raw := int16(binary.LittleEndian.Uint16(operand))
		if err := v.push(int32(raw)); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case PUSH32:
		raw := binary.LittleEndian.Uint32(operand)
		if err := v.push(int32(raw)); err != nil {
			return StepFault
		}
		advance()
		return StepOK

	case JR, JRZ, JRNZ:
		target := pc + 2 + uint32(int32(int8(operand[0])))
		take := op == JR
		if op != JR {
			a, err := v.pop()
			if err != nil {
				return StepFault
			}
			if op == JRZ {
				take = a == 0
			} else {
				take = a != 0
			}
		}
		if !take {
			advance()
			return StepOK
		}
		if err := v.jumpTarget(target); err != nil {
			return StepFault
		}
		v.PC = target
		return StepOK

	case JMP, JZ, JNZ:
		target := uint32(binary.LittleEndian.Uint16(operand))
		take := op == JMP
		if op != JMP {
			a, err := v.pop()
			if err != nil {
				return StepFault
			}
			if op == JZ {
				take = a == 0
			} else {
				take = a != 0
			}
		}
		if !take {
			advance()
			return StepOK
		}
		if err := v.jumpTarget(target); err != nil {
			return StepFault
		}
		v.PC = target
		return StepOK

	case CALL:
		target := uint32(binary.LittleEndian.Uint16(operand))
		if v.CallDepth >= CallStackDepth {
			v.fault(ErrCallOverflow, pc, "call stack full (depth %d)", CallStackDepth)
			return StepFault
		}
		if err := v.jumpTarget(target); err != nil {
			return StepFault
		}
		retAddr := pc + 1 + uint32(operandSize)
		v.CallStack[v.CallDepth] = retAddr
		v.CallDepth++
		if v.onFunc != nil {
			v.onFunc(v, true, v.CallDepth)
		}
		v.PC = target
		return StepOK

	case RET:
		if v.CallDepth == 0 {
			v.State = StateHalted
			return StepHalted
		}
		v.CallDepth--
		target := v.CallStack[v.CallDepth]
		if v.onFunc != nil {
			v.onFunc(v, false, v.CallDepth)
		}
		v.PC = target
		return StepOK

	case LOAD8, LOAD16, LOAD32, LOAD64:
		addr := uint32(binary.LittleEndian.Uint16(operand))
		if err := v.execLoad(op, addr); err != nil {
			v.memFault(pc, err)
			return StepFault
		}
		advance()
		return StepOK

	case STORE8, STORE16, STORE32, STORE64:
		addr := uint32(binary.LittleEndian.Uint16(operand))
		if err := v.execStore(op, addr); err != nil {
			// execStore only reports memory faults directly; stack
			// underflow faults have already been recorded.
			if !errors.Is(err, memory.ErrOutOfBounds) {
				return StepFault
			}
			v.memFault(pc, err)
			return StepFault
		}
		advance()
		return StepOK

	default:
		v.fault(ErrInvalidOpcode, pc, "unknown opcode 0x%02X", byte(op))
		return StepFault
	}
}

func (v *VM) memFault(pc uint32, err error) {
	v.fault(ErrOutOfBounds, pc, "%s", err.Error())
}

// popTwo pops b (top of stack) then a (second from top), matching the
// "a OP b" convention for every binary opcode: a is pushed first.
func (v *VM) popTwo() (b, a int32, err error) {
	b, err = v.pop()
	if err != nil {
		return 0, 0, err
	}
	a, err = v.pop()
	if err != nil {
		return 0, 0, err
	}
	return b, a, nil
}

func (v *VM) execLoad(op Opcode, addr uint32) error {
	switch op {
	case LOAD8:
		val, err := v.Plane.Read8(addr)
		if err != nil {
			return err
		}
		return v.push(int32(val))
	case LOAD16:
		val, err := v.Plane.Read16(addr)
		if err != nil {
			return err
		}
		return v.push(int32(val))
	case LOAD32:
		val, err := v.Plane.Read32(addr)
		if err != nil {
			return err
		}
		return v.push(int32(val))
	case LOAD64:
		val, err := v.Plane.Read64(addr)
		if err != nil {
			return err
		}
		if err := v.push(int32(uint32(val))); err != nil {
			return err
		}
		return v.push(int32(uint32(val >> 32)))
	}
	return nil
}

func (v *VM) execStore(op Opcode, addr uint32) error {
	switch op {
	case STORE8:
		val, err := v.pop()
		if err != nil {
			return err
		}
		return v.Plane.Write8(addr, byte(val))
	case STORE16:
		val, err := v.pop()
		if err != nil {
			return err
		}
		return v.Plane.Write16(addr, uint16(val))
	case STORE32:
		val, err := v.pop()
		if err != nil {
			return err
		}
		return v.Plane.Write32(addr, uint32(val))
	case STORE64:
		high, err := v.pop()
		if err != nil {
			return err
		}
		low, err := v.pop()
		if err != nil {
			return err
		}
		combined := uint64(uint32(low)) | uint64(uint32(high))<<32
		return v.Plane.Write64(addr, combined)
	}
	return nil
}
