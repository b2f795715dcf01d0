package loader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zplc/zplc-core/memory"
)

// buildContainer assembles a byte-exact ZPLC container from a header and
// an ordered list of (type, payload) segments, computing sizes and the
// segment table itself so tests describe content, not offsets.
func buildContainer(major, minor, entry uint16, codeSize uint32, segs [][2]interface{}) []byte {
	header := make([]byte, headerSize)
	copy(header[0:4], magic[:])
	binary.LittleEndian.PutUint16(header[4:6], major)
	binary.LittleEndian.PutUint16(header[6:8], minor)
	binary.LittleEndian.PutUint16(header[8:10], entry)
	binary.LittleEndian.PutUint32(header[10:14], codeSize)
	binary.LittleEndian.PutUint16(header[26:28], uint16(len(segs)))

	table := make([]byte, 0, len(segs)*segmentEntrySize)
	payloads := make([]byte, 0)
	for _, s := range segs {
		typ := s[0].(uint16)
		payload := s[1].([]byte)
		entryBytes := make([]byte, segmentEntrySize)
		binary.LittleEndian.PutUint16(entryBytes[0:2], typ)
		binary.LittleEndian.PutUint32(entryBytes[4:8], uint32(len(payload)))
		table = append(table, entryBytes...)
		payloads = append(payloads, payload...)
	}

	out := append([]byte{}, header...)
	out = append(out, table...)
	out = append(out, payloads...)
	return out
}

func taskDefBytes(id uint16, typ, priority uint8, intervalUS uint32, entry, stack uint16) []byte {
	b := make([]byte, taskDefSize)
	binary.LittleEndian.PutUint16(b[0:2], id)
	b[2] = typ
	b[3] = priority
	binary.LittleEndian.PutUint32(b[4:8], intervalUS)
	binary.LittleEndian.PutUint16(b[8:10], entry)
	binary.LittleEndian.PutUint16(b[10:12], stack)
	return b
}

// Scenario 5 (spec §8): input 41 42 43 44 ... yields BAD_MAGIC; the
// Memory Plane's Code bank is left unchanged.
func TestLoadProgramRejectsBadMagic(t *testing.T) {
	data := make([]byte, headerSize)
	copy(data, []byte{0x41, 0x42, 0x43, 0x44})
	plane := memory.New()

	_, err := LoadProgram(plane, data)
	require.ErrorIs(t, err, ErrBadMagic)
	assert.Equal(t, uint32(0), plane.LoadedCodeSize())
}

func TestLoadProgramRejectsBadVersion(t *testing.T) {
	data := buildContainer(SupportedMajorVersion+1, 0, 0, 0, nil)
	plane := memory.New()

	_, err := LoadProgram(plane, data)
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestLoadProgramRejectsTruncatedHeader(t *testing.T) {
	plane := memory.New()
	_, err := LoadProgram(plane, []byte{'Z', 'P', 'L', 'C'})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestLoadProgramWithExplicitCodeSegment(t *testing.T) {
	code := []byte{0x02, 0x03, 0x02, 0x04, 0x10, 0x14, 0x04, 0x20, 0x21}
	data := buildContainer(1, 0, 0, 0, [][2]interface{}{
		{SegmentCode, code},
	})
	plane := memory.New()

	entry, err := LoadProgram(plane, data)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), entry)

	got, ok := plane.GetCode(0, uint32(len(code)))
	require.True(t, ok)
	assert.Equal(t, code, got)
}

func TestLoadProgramFallsBackToHeaderWithoutCodeSegment(t *testing.T) {
	code := []byte{0x21} // HALT
	// No explicit segments: code lives immediately after the (empty)
	// segment table, sized by the header's own code_size.
	data := buildContainer(1, 0, 5, uint32(len(code)), nil)
	data = append(data, code...)
	plane := memory.New()

	entry, err := LoadProgram(plane, data)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), entry)

	got, ok := plane.GetCode(0, uint32(len(code)))
	require.True(t, ok)
	assert.Equal(t, code, got)
}

func TestLoadProgramRejectsCodeTooLarge(t *testing.T) {
	oversized := make([]byte, memory.CodeSize+1)
	data := buildContainer(1, 0, 0, 0, [][2]interface{}{
		{SegmentCode, oversized},
	})
	plane := memory.New()

	_, err := LoadProgram(plane, data)
	require.ErrorIs(t, err, ErrCodeTooLarge)
}

func TestLoadTasksParsesTaskDefs(t *testing.T) {
	code := []byte{0x21}
	tasks := append(
		taskDefBytes(1, TaskTypeCyclic, 0, 10_000, 0, 64),
		taskDefBytes(2, TaskTypeCyclic, 2, 100_000, 0, 64)...,
	)
	data := buildContainer(1, 0, 0, 0, [][2]interface{}{
		{SegmentCode, code},
		{SegmentTask, tasks},
	})
	plane := memory.New()

	defs, err := LoadTasks(plane, data, 8)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, uint16(1), defs[0].ID)
	assert.Equal(t, uint8(0), defs[0].Priority)
	assert.Equal(t, uint32(10_000), defs[0].IntervalUS)
	assert.Equal(t, uint16(2), defs[1].ID)
	assert.Equal(t, uint32(100_000), defs[1].IntervalUS)
}

func TestLoadTasksHonoursCapacity(t *testing.T) {
	tasks := append(
		taskDefBytes(1, TaskTypeCyclic, 0, 10_000, 0, 64),
		taskDefBytes(2, TaskTypeCyclic, 0, 10_000, 0, 64)...,
	)
	data := buildContainer(1, 0, 0, 0, [][2]interface{}{
		{SegmentCode, []byte{0x21}},
		{SegmentTask, tasks},
	})
	plane := memory.New()

	defs, err := LoadTasks(plane, data, 1)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestLoadTasksRejectsMissingTaskSegment(t *testing.T) {
	data := buildContainer(1, 0, 0, 0, [][2]interface{}{
		{SegmentCode, []byte{0x21}},
	})
	plane := memory.New()

	_, err := LoadTasks(plane, data, 8)
	require.ErrorIs(t, err, ErrNoTaskSegment)
}

func TestLoadTasksRejectsMisalignedTaskSegment(t *testing.T) {
	data := buildContainer(1, 0, 0, 0, [][2]interface{}{
		{SegmentCode, []byte{0x21}},
		{SegmentTask, []byte{1, 2, 3}},
	})
	plane := memory.New()

	_, err := LoadTasks(plane, data, 8)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestUnknownSegmentTypesAreIgnored(t *testing.T) {
	code := []byte{0x21}
	data := buildContainer(1, 0, 0, 0, [][2]interface{}{
		{uint16(0xBEEF), []byte{0xAA, 0xBB, 0xCC}},
		{SegmentCode, code},
	})
	plane := memory.New()

	_, err := LoadProgram(plane, data)
	require.NoError(t, err)
	got, ok := plane.GetCode(0, uint32(len(code)))
	require.True(t, ok)
	assert.Equal(t, code, got)
}
