package browser

import (
	"errors"
	"fmt"
)

// ErrSessionInvalid is returned by every call made after the browser went away.
var ErrSessionInvalid = errors.New("browser session is no longer valid")

// Error is a failed browser operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("browser %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsSessionInvalid reports whether err means the browser session is gone.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrSessionInvalid)
}
