package hal

import (
	"log"
	"sync"
	"time"
)

// SimHAL is a software-only HAL backed by the wall clock and in-memory
// GPIO/retain state. It is what `run`/`hil` use when no real hardware
// driver is wired in, and what tests exercise the Scheduler against.
type SimHAL struct {
	start time.Time

	mu     sync.Mutex
	gpio   map[int]uint8
	retain []byte
	logger *log.Logger
}

// NewSimHAL creates a SimHAL. If logger is nil, Log writes through the
// standard library's default logger.
func NewSimHAL(logger *log.Logger) *SimHAL {
	return &SimHAL{
		start:  time.Now(),
		gpio:   make(map[int]uint8),
		logger: logger,
	}
}

func (s *SimHAL) Tick() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}

func (s *SimHAL) Sleep(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (s *SimHAL) GPIORead(channel int) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gpio[channel], nil
}

func (s *SimHAL) GPIOWrite(channel int, value uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpio[channel] = value
	return nil
}

func (s *SimHAL) Log(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// PersistRetain keeps the bytes in process memory only: it survives a
// Scheduler shutdown/init pair within one run of the binary, but not a
// cold boot. A HAL backed by real storage would write to disk/NVRAM
// here instead.
func (s *SimHAL) PersistRetain(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retain = append([]byte{}, data...)
	return nil
}

func (s *SimHAL) LoadRetain() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte{}, s.retain...), nil
}

func (s *SimHAL) ADCRead(channel int) (uint16, error)         { return 0, ErrNotImplemented }
func (s *SimHAL) DACWrite(channel int, value uint16) error    { return ErrNotImplemented }
func (s *SimHAL) Socket(network, address string) (Conn, error) { return nil, ErrNotImplemented }
