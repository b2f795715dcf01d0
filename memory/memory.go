// Package memory implements the ZPLC Memory Plane: five fixed, process-wide
// byte banks at fixed base addresses, with bounds-checked address
// translation and little-endian accessors.
//
// The Plane itself holds no lock. Every VM shares one Plane, but it is
// the Scheduler's shared-memory lock that makes concurrent access safe;
// Plane methods assume the caller already holds that lock (or that only
// one goroutine is touching the Plane, as during Load/Init).
package memory

import (
	"encoding/binary"
	"fmt"
)

// Bank identifies one of the five fixed memory regions.
type Bank int

const (
	BankInput Bank = iota
	BankOutput
	BankWork
	BankRetain
	BankCode
)

func (b Bank) String() string {
	switch b {
	case BankInput:
		return "input"
	case BankOutput:
		return "output"
	case BankWork:
		return "work"
	case BankRetain:
		return "retain"
	case BankCode:
		return "code"
	default:
		return "unknown"
	}
}

// Permission is a bitmask of what the VM may do to a region through the
// checked accessors. The Code bank carries no VM-facing permission at
// all: it is read only through get_code, never through read/write.
type Permission byte

const (
	PermNone  Permission = 0
	PermRead  Permission = 1 << 0
	PermWrite Permission = 1 << 1
)

// Fixed address map. Any implementation MUST preserve these exactly (spec
// §4.1).
const (
	InputBase  = 0x0000
	InputSize  = 0x1000 // 4 KiB
	OutputBase = 0x1000
	OutputSize = 0x1000 // 4 KiB
	WorkBase   = 0x2000
	WorkSize   = 0x2000 // 8 KiB
	RetainBase = 0x4000
	RetainSize = 0x1000 // 4 KiB
	CodeBase   = 0x5000
	CodeSize   = 0x4000 // 16 KiB
)

// region is one fixed bank of bytes.
type region struct {
	bank Bank
	base uint32
	size uint32
	data []byte
	perm Permission
}

// Plane is the ZPLC Memory Plane: the five fixed banks plus the tracked
// length of the loaded code image.
type Plane struct {
	regions [5]*region

	loadedCodeLen uint32

	// Access counters, purely diagnostic (not reported by SchedulerStats
	// or the debug channel), never consulted for correctness.
	AccessCount uint64
	ReadCount   uint64
	WriteCount  uint64
}

// New creates a Plane with all banks allocated and zeroed.
func New() *Plane {
	p := &Plane{}
	p.regions[BankInput] = &region{bank: BankInput, base: InputBase, size: InputSize, data: make([]byte, InputSize), perm: PermRead}
	p.regions[BankOutput] = &region{bank: BankOutput, base: OutputBase, size: OutputSize, data: make([]byte, OutputSize), perm: PermRead | PermWrite}
	p.regions[BankWork] = &region{bank: BankWork, base: WorkBase, size: WorkSize, data: make([]byte, WorkSize), perm: PermRead | PermWrite}
	p.regions[BankRetain] = &region{bank: BankRetain, base: RetainBase, size: RetainSize, data: make([]byte, RetainSize), perm: PermRead | PermWrite}
	p.regions[BankCode] = &region{bank: BankCode, base: CodeBase, size: CodeSize, data: make([]byte, CodeSize), perm: PermNone}
	return p
}

// Init zeroes all banks and clears the tracked loaded-code length. Never
// fails. Per spec §4.1; the Retain-across-cold-boot invariant in §3 is
// implemented one layer up, by the Scheduler calling the HAL's retain
// persistence hooks around Init/Shutdown — see DESIGN.md.
func (p *Plane) Init() {
	for _, r := range p.regions {
		for i := range r.data {
			r.data[i] = 0
		}
	}
	p.loadedCodeLen = 0
	p.AccessCount = 0
	p.ReadCount = 0
	p.WriteCount = 0
}

// GetRegion returns the bank whose base address exactly matches base, or
// (nil, false) if no bank starts there.
func (p *Plane) GetRegion(base uint32) (Bank, bool) {
	for _, r := range p.regions {
		if r.base == base {
			return r.bank, true
		}
	}
	return 0, false
}

// LoadCode copies bytes into the Code bank at dstOffset (an offset
// relative to the start of the Code bank, not an absolute address). It
// extends the tracked loaded-code length if this copy pushes the upper
// bound higher, and fails if the copy would not fit in the 16 KiB Code
// bank.
func (p *Plane) LoadCode(bytes []byte, dstOffset uint32) error {
	code := p.regions[BankCode]
	end := dstOffset + uint32(len(bytes))
	if end < dstOffset || end > code.size {
		return fmt.Errorf("%w: code load of %d bytes at offset 0x%04X exceeds %d-byte code bank", ErrOutOfBounds, len(bytes), dstOffset, code.size)
	}
	copy(code.data[dstOffset:end], bytes)
	if end > p.loadedCodeLen {
		p.loadedCodeLen = end
	}
	return nil
}

// GetCode returns a read-only view of [offset, offset+length) within the
// Code bank, or (nil, false) if the range is out of bounds.
func (p *Plane) GetCode(offset, length uint32) ([]byte, bool) {
	code := p.regions[BankCode]
	end := offset + length
	if end < offset || end > code.size {
		return nil, false
	}
	return code.data[offset:end], true
}

// LoadedCodeSize returns the current upper bound of loaded code.
func (p *Plane) LoadedCodeSize() uint32 {
	return p.loadedCodeLen
}

// findBank translates a logical address into the bank and offset
// covering it. It never returns a bank the VM may reach through
// read/write if that bank is the Code bank (Code is reachable only
// through GetCode/LoadCode).
func (p *Plane) findBank(addr uint32, size uint32) (*region, uint32, error) {
	for _, r := range p.regions {
		if addr >= r.base && addr < r.base+r.size {
			end := addr + size
			if end < addr || end > r.base+r.size {
				return nil, 0, fmt.Errorf("%w: access of %d bytes at 0x%08X crosses bank boundary of %s", ErrOutOfBounds, size, addr, r.bank)
			}
			if r.bank == BankCode {
				return nil, 0, fmt.Errorf("%w: code bank 0x%08X not reachable via load/store", ErrOutOfBounds, addr)
			}
			return r, addr - r.base, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: address 0x%08X is not mapped", ErrOutOfBounds, addr)
}

func (p *Plane) checkedRead(addr, size uint32) (*region, uint32, error) {
	r, off, err := p.findBank(addr, size)
	if err != nil {
		return nil, 0, err
	}
	if r.perm&PermRead == 0 {
		return nil, 0, fmt.Errorf("%w: read permission denied for %s bank at 0x%08X", ErrOutOfBounds, r.bank, addr)
	}
	p.AccessCount++
	p.ReadCount++
	return r, off, nil
}

func (p *Plane) checkedWrite(addr, size uint32) (*region, uint32, error) {
	r, off, err := p.findBank(addr, size)
	if err != nil {
		return nil, 0, err
	}
	if r.perm&PermWrite == 0 {
		return nil, 0, fmt.Errorf("%w: write permission denied for %s bank at 0x%08X", ErrOutOfBounds, r.bank, addr)
	}
	p.AccessCount++
	p.WriteCount++
	return r, off, nil
}

// Read8 reads a single byte.
func (p *Plane) Read8(addr uint32) (byte, error) {
	r, off, err := p.checkedRead(addr, 1)
	if err != nil {
		return 0, err
	}
	return r.data[off], nil
}

// Write8 writes a single byte.
func (p *Plane) Write8(addr uint32, v byte) error {
	r, off, err := p.checkedWrite(addr, 1)
	if err != nil {
		return err
	}
	r.data[off] = v
	return nil
}

// Read16 reads a little-endian 16-bit halfword.
func (p *Plane) Read16(addr uint32) (uint16, error) {
	r, off, err := p.checkedRead(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.data[off : off+2]), nil
}

// Write16 writes a little-endian 16-bit halfword.
func (p *Plane) Write16(addr uint32, v uint16) error {
	r, off, err := p.checkedWrite(addr, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(r.data[off:off+2], v)
	return nil
}

// Read32 reads a little-endian 32-bit word.
func (p *Plane) Read32(addr uint32) (uint32, error) {
	r, off, err := p.checkedRead(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.data[off : off+4]), nil
}

// Write32 writes a little-endian 32-bit word.
func (p *Plane) Write32(addr uint32, v uint32) error {
	r, off, err := p.checkedWrite(addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(r.data[off:off+4], v)
	return nil
}

// Read64 reads a little-endian 64-bit doubleword.
func (p *Plane) Read64(addr uint32) (uint64, error) {
	r, off, err := p.checkedRead(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.data[off : off+8]), nil
}

// Write64 writes a little-endian 64-bit doubleword.
func (p *Plane) Write64(addr uint32, v uint64) error {
	r, off, err := p.checkedWrite(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(r.data[off:off+8], v)
	return nil
}

// IPIWrite8/16/32 are HAL -> Input bank helpers used only by the
// Scheduler's input-sync phase; they bypass the VM-facing read-only
// permission on the Input bank (that permission exists to stop the VM
// writing its own inputs, not to stop the HAL supplying them).
func (p *Plane) IPIWrite8(offset uint32, v byte) error {
	return p.ioWrite8(BankInput, offset, v)
}

func (p *Plane) IPIWrite16(offset uint32, v uint16) error {
	return p.ioWrite16(BankInput, offset, v)
}

func (p *Plane) IPIWrite32(offset uint32, v uint32) error {
	return p.ioWrite32(BankInput, offset, v)
}

// OPIRead8/16/32 are Output bank -> HAL helpers used only by the
// Scheduler's output-sync phase.
func (p *Plane) OPIRead8(offset uint32) (byte, error) {
	return p.ioRead8(BankOutput, offset)
}

func (p *Plane) OPIRead16(offset uint32) (uint16, error) {
	return p.ioRead16(BankOutput, offset)
}

func (p *Plane) OPIRead32(offset uint32) (uint32, error) {
	return p.ioRead32(BankOutput, offset)
}

func (p *Plane) ioWrite8(bank Bank, offset uint32, v byte) error {
	r := p.regions[bank]
	if offset >= r.size {
		return fmt.Errorf("%w: %s bank offset 0x%04X out of range", ErrOutOfBounds, bank, offset)
	}
	r.data[offset] = v
	return nil
}

func (p *Plane) ioWrite16(bank Bank, offset uint32, v uint16) error {
	r := p.regions[bank]
	if offset+2 > r.size {
		return fmt.Errorf("%w: %s bank offset 0x%04X out of range", ErrOutOfBounds, bank, offset)
	}
	binary.LittleEndian.PutUint16(r.data[offset:offset+2], v)
	return nil
}

func (p *Plane) ioWrite32(bank Bank, offset uint32, v uint32) error {
	r := p.regions[bank]
	if offset+4 > r.size {
		return fmt.Errorf("%w: %s bank offset 0x%04X out of range", ErrOutOfBounds, bank, offset)
	}
	binary.LittleEndian.PutUint32(r.data[offset:offset+4], v)
	return nil
}

func (p *Plane) ioRead8(bank Bank, offset uint32) (byte, error) {
	r := p.regions[bank]
	if offset >= r.size {
		return 0, fmt.Errorf("%w: %s bank offset 0x%04X out of range", ErrOutOfBounds, bank, offset)
	}
	return r.data[offset], nil
}

func (p *Plane) ioRead16(bank Bank, offset uint32) (uint16, error) {
	r := p.regions[bank]
	if offset+2 > r.size {
		return 0, fmt.Errorf("%w: %s bank offset 0x%04X out of range", ErrOutOfBounds, bank, offset)
	}
	return binary.LittleEndian.Uint16(r.data[offset : offset+2]), nil
}

func (p *Plane) ioRead32(bank Bank, offset uint32) (uint32, error) {
	r := p.regions[bank]
	if offset+4 > r.size {
		return 0, fmt.Errorf("%w: %s bank offset 0x%04X out of range", ErrOutOfBounds, bank, offset)
	}
	return binary.LittleEndian.Uint32(r.data[offset : offset+4]), nil
}

// RetainBytes returns a copy of the Retain bank, for the HAL persistence
// hooks to write out at shutdown.
func (p *Plane) RetainBytes() []byte {
	r := p.regions[BankRetain]
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// RestoreRetain overwrites the Retain bank from previously persisted
// bytes (truncated or zero-padded to fit).
func (p *Plane) RestoreRetain(data []byte) {
	r := p.regions[BankRetain]
	n := copy(r.data, data)
	for i := n; i < len(r.data); i++ {
		r.data[i] = 0
	}
}
