package cli

import (
	"errors"
	"fmt"

	"github.com/root-talis/cassmig"
)

// Exit codes of the cassmig binary.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a migrator operation failed
	ExitCommandError = 2 // bad flags, configuration or locations
)

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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var migErr *cassmig.MigrationError
	if errors.As(err, &migErr) {
		return ExitFailure
	}

	// anything cobra rejects before a command runs
	return ExitCommandError
}
