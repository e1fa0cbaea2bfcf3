package errutil

import (
	"github.com/sqlblob/sqlblob/src/internal/errors"
)

// ErrBreak is an error used to break out of call back based iteration.  It
// should be swallowed by the iterating function, and treated as a successful
// early exit.
var ErrBreak = errors.New("break")
