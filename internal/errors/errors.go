package errors

import (
	"fmt"

	"github.com/go-errors/errors"
)

func New(err interface{}) error {
	if err == nil {
		return nil
	}

	return errors.Wrap(err, 1)
}

func Errorf(format string, a ...interface{}) error {
	return errors.Wrap(fmt.Errorf(format, a...), 1)
}

func Wrap(err interface{}) error {
	if err == nil {
		return nil
	}

	return errors.Wrap(err, 1)
}

func Wrapf(err interface{}, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}

	return errors.WrapPrefix(err, fmt.Sprintf(format, a...), 1)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Stack returns the stack trace recorded for err, or the plain message when
// err was not created by this package.
func Stack(err error) string {
	var stackErr *errors.Error
	if errors.As(err, &stackErr) {
		return stackErr.ErrorStack()
	}

	return err.Error()
}
