package loader

import "errors"

// Error kinds a container load can fail with (spec §4.3, §7). Loader
// errors short-circuit the entire load; none of them ever leave the
// Memory Plane's Code bank partially written (LoadProgram validates the
// whole file before calling Plane.LoadCode).
var (
	ErrBadMagic      = errors.New("loader: bad magic")
	ErrBadVersion    = errors.New("loader: unsupported version")
	ErrCodeTooLarge  = errors.New("loader: code too large")
	ErrTruncated     = errors.New("loader: truncated file")
	ErrNoTaskSegment = errors.New("loader: no task segment")
)
