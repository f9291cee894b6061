package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/ynab-sync/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Sync run failed or the remote API gave up
	ExitCommandError = 2 // Bad arguments, configuration or storage failure
)

// ExitError is an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the command already wrote the failure to its
	// output, so Execute only sets the exit code.
	Reported bool
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. An ExitError carries its
// own code; remote failures exit 1; other engine errors (storage,
// validation, configuration) exit 2; anything else exits 1.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var merr *model.Error
	if errors.As(err, &merr) {
		if merr.Code == model.ErrCodeRemote {
			return ExitFailure
		}
		return ExitCommandError
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // result payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code      string `json:"code"` // STORAGE, REMOTE, VALIDATION, CONFIGURATION or COMMAND
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// textRenderer is implemented by results with a human-readable layout.
type textRenderer interface {
	renderText(w io.Writer) error
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	return f.text(data)
}

// Failure outputs a result that carries a failure, such as a finished
// sync run with status failed.
func (f *OutputFormatter) Failure(data any, err error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Data: data, Error: newCLIError(err)})
	}
	if err := f.text(data); err != nil {
		return err
	}
	return f.Error(err)
}

// Error outputs err in the configured format.
func (f *OutputFormatter) Error(err error) error {
	cliErr := newCLIError(err)
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: cliErr})
	}
	_, werr := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
	return werr
}

func (f *OutputFormatter) text(data any) error {
	if r, ok := data.(textRenderer); ok {
		return r.renderText(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

func newCLIError(err error) *CLIError {
	out := &CLIError{Code: "COMMAND", Message: err.Error()}
	var merr *model.Error
	if errors.As(err, &merr) {
		out.Code = string(merr.Code)
		out.Retryable = merr.Retryable
	}
	return out
}
