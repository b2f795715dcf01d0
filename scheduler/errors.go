package scheduler

import "errors"

var (
	ErrNoFreeSlot         = errors.New("scheduler: no free task slot")
	ErrIntervalOutOfRange = errors.New("scheduler: interval out of configured range")
	ErrCodeTooLarge       = errors.New("scheduler: task code does not fit in the code bank")
	ErrUnknownSlot        = errors.New("scheduler: unknown slot")
	ErrBadTransition      = errors.New("scheduler: invalid lifecycle transition")
	ErrLockTimeout        = errors.New("scheduler: shared-memory lock timed out")
)
