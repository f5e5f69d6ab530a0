// Package errl wraps errors with a stack trace so that the place where a
// failure was first observed survives being passed up through handlers.
package errl

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errorf formats an error like fmt.Errorf, preserving %w wrapping, and
// records the caller's stack.
func Errorf(format string, args ...any) error {
	return errors.WithStack(fmt.Errorf(format, args...))
}

// Error records the caller's stack on err. A nil error stays nil.
func Error(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}
