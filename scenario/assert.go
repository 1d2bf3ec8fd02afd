package scenario

import (
	"errors"
	"fmt"
)

// ErrOutOfOrder is returned when a step runs before the state it needs.
var ErrOutOfOrder = errors.New("scenario: step out of order")

// AssertionError is a failed Then-step check.
type AssertionError struct {
	Step    string
	Message string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed in %q: %s", e.Step, e.Message)
}

func fail(step, format string, args ...any) error {
	return &AssertionError{Step: step, Message: fmt.Sprintf(format, args...)}
}

// IsAssertion reports whether err is an *AssertionError.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}
