package hal

import "sync/atomic"

// ManualHAL is a HAL whose clock is advanced explicitly rather than
// following the wall clock. It exists for deterministic tests of
// time-sensitive behaviour (e.g. the TON-style timer scenario in spec
// §8) that would otherwise be flaky against real time.
type ManualHAL struct {
	SimHAL
	millis int64
}

// NewManualHAL creates a ManualHAL starting at tick 0.
func NewManualHAL() *ManualHAL {
	return &ManualHAL{SimHAL: *NewSimHAL(nil)}
}

func (m *ManualHAL) Tick() uint32 {
	return uint32(atomic.LoadInt64(&m.millis))
}

// Advance moves the manual clock forward by ms milliseconds and
// returns the new tick value.
func (m *ManualHAL) Advance(ms uint32) uint32 {
	return uint32(atomic.AddInt64(&m.millis, int64(ms)))
}

// Sleep on a ManualHAL does not block; tests drive time via Advance
// instead of wall-clock sleeps.
func (m *ManualHAL) Sleep(ms uint32) {}
