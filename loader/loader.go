// Package loader parses the ZPLC container file format into a code
// image and a task table (spec §4.3). It is the only place that
// understands the on-disk byte layout; everything downstream deals in
// FileHeader/TaskDef values.
package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/zplc/zplc-core/memory"
)

const (
	headerSize        = 32
	segmentEntrySize  = 8
	taskDefSize       = 16
	maxSegmentPayload = 1 << 24 // sanity cap well above any real segment
)

// SupportedMajorVersion is the highest FileHeader.VersionMajor this
// loader accepts.
const SupportedMajorVersion = 1

// Segment type tags. The spec names the segment kinds ("CODE, TASK,
// …") without fixing their byte values; only the magic is byte-exact.
// These assignments are ours; unknown types are ignored on read, per
// spec §4.3.
const (
	SegmentCode uint16 = 1
	SegmentTask uint16 = 2
)

// Task type values for TaskDef.Type. Like the segment tags, the spec
// names the two kinds without fixing an encoding.
const (
	TaskTypeCyclic uint8 = 0
	TaskTypeEvent  uint8 = 1
)

var magic = [4]byte{'Z', 'P', 'L', 'C'}

// FileHeader is the container's fixed 32-byte preamble.
type FileHeader struct {
	VersionMajor uint16
	VersionMinor uint16
	EntryPoint   uint16 // offset into the code segment
	CodeSize     uint32 // bytes of the code segment
	SegmentCount uint16
}

// SegmentEntry is one row of the segment table following the header.
type SegmentEntry struct {
	Type uint16
	Size uint32
}

// TaskDef is the stable 16-byte task descriptor record (spec §3).
type TaskDef struct {
	ID         uint16
	Type       uint8
	Priority   uint8
	IntervalUS uint32
	EntryPoint uint16 // offset into the loaded code segment
	StackSize  uint16
}

type parsedSegment struct {
	SegmentEntry
	payload []byte
}

type parsedFile struct {
	header   FileHeader
	segments []parsedSegment
}

func parse(data []byte) (*parsedFile, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: file of %d bytes shorter than %d-byte header", ErrTruncated, len(data), headerSize)
	}
	if data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] || data[3] != magic[3] {
		return nil, fmt.Errorf("%w: got %02X %02X %02X %02X", ErrBadMagic, data[0], data[1], data[2], data[3])
	}
	h := FileHeader{
		VersionMajor: binary.LittleEndian.Uint16(data[4:6]),
		VersionMinor: binary.LittleEndian.Uint16(data[6:8]),
		EntryPoint:   binary.LittleEndian.Uint16(data[8:10]),
		CodeSize:     binary.LittleEndian.Uint32(data[10:14]),
		SegmentCount: binary.LittleEndian.Uint16(data[26:28]),
	}
	if h.VersionMajor > SupportedMajorVersion {
		return nil, fmt.Errorf("%w: major version %d > supported %d", ErrBadVersion, h.VersionMajor, SupportedMajorVersion)
	}

	tableStart := headerSize
	tableEnd := tableStart + int(h.SegmentCount)*segmentEntrySize
	if tableEnd < tableStart || tableEnd > len(data) {
		return nil, fmt.Errorf("%w: segment table of %d entries needs more than the %d bytes remaining", ErrTruncated, h.SegmentCount, len(data)-tableStart)
	}

	segs := make([]parsedSegment, h.SegmentCount)
	payloadOff := tableEnd
	for i := range segs {
		off := tableStart + i*segmentEntrySize
		entry := SegmentEntry{
			Type: binary.LittleEndian.Uint16(data[off : off+2]),
			Size: binary.LittleEndian.Uint32(data[off+4 : off+8]),
		}
		if entry.Size > maxSegmentPayload {
			return nil, fmt.Errorf("%w: segment %d declares implausible size %d", ErrTruncated, i, entry.Size)
		}
		end := payloadOff + int(entry.Size)
		if end < payloadOff || end > len(data) {
			return nil, fmt.Errorf("%w: segment %d payload of %d bytes exceeds file length", ErrTruncated, i, entry.Size)
		}
		segs[i] = parsedSegment{SegmentEntry: entry, payload: data[payloadOff:end]}
		payloadOff = end
	}

	return &parsedFile{header: h, segments: segs}, nil
}

func (pf *parsedFile) segmentOfType(typ uint16) ([]byte, bool) {
	for _, s := range pf.segments {
		if s.Type == typ {
			return s.payload, true
		}
	}
	return nil, false
}

// LoadProgram validates data as a ZPLC container, locates its code
// (an explicit CODE segment, or — if none is present — the header's
// own entry_point/code_size window immediately following the segment
// table) and copies it into plane's Code bank at offset 0. It returns
// the program's entry point, an offset into that code.
func LoadProgram(plane *memory.Plane, data []byte) (uint16, error) {
	pf, err := parse(data)
	if err != nil {
		return 0, err
	}
	code, err := pf.code(data)
	if err != nil {
		return 0, err
	}
	if uint32(len(code)) > memory.CodeSize {
		return 0, fmt.Errorf("%w: code segment of %d bytes exceeds %d-byte code bank", ErrCodeTooLarge, len(code), memory.CodeSize)
	}
	if err := plane.LoadCode(code, 0); err != nil {
		return 0, fmt.Errorf("loader: %w", err)
	}
	return pf.header.EntryPoint, nil
}

func (pf *parsedFile) code(data []byte) ([]byte, error) {
	if payload, ok := pf.segmentOfType(SegmentCode); ok {
		return payload, nil
	}
	start := headerSize + int(pf.header.SegmentCount)*segmentEntrySize
	end := start + int(pf.header.CodeSize)
	if end < start || end > len(data) {
		return nil, fmt.Errorf("%w: fallback code region of %d bytes exceeds file length", ErrTruncated, pf.header.CodeSize)
	}
	return data[start:end], nil
}

// LoadTasks runs LoadProgram's prerequisites, then parses the TASK
// segment into up to capacity TaskDefs (in file order; extras beyond
// capacity are dropped, mirroring the "up to capacity" wording of spec
// §4.3). It fails with ErrNoTaskSegment if no TASK segment is present.
func LoadTasks(plane *memory.Plane, data []byte, capacity int) ([]TaskDef, error) {
	pf, err := parse(data)
	if err != nil {
		return nil, err
	}
	code, err := pf.code(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(code)) > memory.CodeSize {
		return nil, fmt.Errorf("%w: code segment of %d bytes exceeds %d-byte code bank", ErrCodeTooLarge, len(code), memory.CodeSize)
	}
	if err := plane.LoadCode(code, 0); err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}

	payload, ok := pf.segmentOfType(SegmentTask)
	if !ok {
		return nil, ErrNoTaskSegment
	}
	if len(payload)%taskDefSize != 0 {
		return nil, fmt.Errorf("%w: task segment length %d not a multiple of %d-byte TaskDef", ErrTruncated, len(payload), taskDefSize)
	}

	n := len(payload) / taskDefSize
	if capacity >= 0 && n > capacity {
		n = capacity
	}
	tasks := make([]TaskDef, 0, n)
	for i := 0; i < n; i++ {
		b := payload[i*taskDefSize : (i+1)*taskDefSize]
		tasks = append(tasks, TaskDef{
			ID:         binary.LittleEndian.Uint16(b[0:2]),
			Type:       b[2],
			Priority:   b[3],
			IntervalUS: binary.LittleEndian.Uint32(b[4:8]),
			EntryPoint: binary.LittleEndian.Uint16(b[8:10]),
			StackSize:  binary.LittleEndian.Uint16(b[10:12]),
		})
	}
	return tasks, nil
}
