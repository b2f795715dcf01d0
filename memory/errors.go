package memory

import "errors"

// ErrOutOfBounds is the single error kind every checked accessor can
// raise (spec §7): bad bank, cross-bank access, permission violation, or
// an unmapped address all collapse to OUT_OF_BOUNDS. No partial writes
// ever occur — every accessor validates the full access window before
// touching the first byte.
var ErrOutOfBounds = errors.New("memory: out of bounds")
