package cli

import (
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/thebtf/lifecycle/pkg/persistence"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (validation, missing record, constraint)
	ExitCommandError = 2 // Command error (bad flags, configuration, storage unreachable)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Err     error  // Underlying error (optional)
	Message string // Error message
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Writer io.Writer
	Format string
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
	Status string    `json:"status"`          // "ok" or "error"
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`    // "E001", "E002", etc.
	Message string `json:"message"` // human-readable message
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Fail outputs err in the configured format and returns it wrapped with the
// matching exit code.
func (f *OutputFormatter) Fail(message string, err error) error {
	code := errorCode(err)
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: fmt.Sprintf("%s: %v", message, err)},
		})
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s: %v\n", code, message, err)
	}

	exit := ExitFailure
	if code == "E005" || code == "E000" {
		exit = ExitCommandError
	}
	return WrapExitError(exit, message, err)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, persistence.ErrValidation):
		return "E001"
	case errors.Is(err, persistence.ErrNotFound):
		return "E002"
	case errors.Is(err, persistence.ErrConstraintViolation):
		return "E003"
	case errors.Is(err, persistence.ErrIllegalState):
		return "E004"
	case errors.Is(err, persistence.ErrConnection):
		return "E005"
	default:
		return "E000"
	}
}
