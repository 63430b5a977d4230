package cmd

import (
	"errors"
	"fmt"
)

// Process exit codes, following sysexits(3) where one fits.
const (
	ExitSuccess                    = 0
	ExitFailure                    = 1
	ExitInvalidArgument            = 64
	ExitExternalServiceUnavailable = 69
	ExitFileWriteError             = 73
	ExitConfigInvalid              = 78
	ExitSignalInt                  = 130
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
