package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoverageRecordsDistinctOffsets(t *testing.T) {
	c := NewCoverage()
	c.Record(0)
	c.Record(4)
	c.Record(0)
	assert.Equal(t, 2, c.Count())
	assert.Equal(t, uint64(2), c.Covered()[0])
	assert.Equal(t, uint64(1), c.Covered()[4])
}

func TestInstructionStatsCountsByMnemonic(t *testing.T) {
	s := NewInstructionStats(0)
	s.Record(HALT)
	s.Record(HALT)
	s.Record(ADD)
	counts := s.CountsByMnemonic()
	assert.Equal(t, uint64(2), counts["HALT"])
	assert.Equal(t, uint64(1), counts["ADD"])
	assert.Equal(t, uint64(3), s.Total())
}

func TestInstructionStatsHotPCSnapshotIsIndependentCopy(t *testing.T) {
	s := NewInstructionStats(0)
	s.RecordPC(10)
	s.RecordPC(10)
	snap := s.HotPCSnapshot()
	assert.Equal(t, uint64(2), snap[10])

	s.RecordPC(10)
	assert.Equal(t, uint64(2), snap[10], "snapshot must not see later mutations")
}

func TestInstructionStatsHotPCBounded(t *testing.T) {
	s := NewInstructionStats(2)
	s.RecordPC(1)
	s.RecordPC(2)
	s.RecordPC(3) // beyond the cap, a new address, must be dropped
	s.RecordPC(1) // already tracked, must still increment
	assert.Len(t, s.HotPCSnapshot(), 2)
	assert.Equal(t, uint64(2), s.HotPCSnapshot()[1])
}
