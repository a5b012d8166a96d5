package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario failures, sync errors, engine errors
	ExitCommandError = 2 // Command error (bad config, missing files, store won't open)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// reported is set once the error went out inside a JSON Response.
	reported bool
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

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope every command writes with --format json.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError is the error body of a Response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Output writes command results as text or as a JSON Response.
type Output struct {
	Format string
	Writer io.Writer
}

// Print writes data. In text mode, text renders it; a nil text prints
// data with fmt.
func (o *Output) Print(data any, text func(w io.Writer)) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(Response{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(o.Writer, data)
		return err
	}
	text(o.Writer)
	return nil
}

// Report writes data as a failed result and returns err. In JSON mode
// data and err share one Response; in text mode it behaves like Print.
func (o *Output) Report(data any, text func(w io.Writer), err *ExitError) error {
	if o.Format != "json" {
		if perr := o.Print(data, text); perr != nil {
			return perr
		}
		return err
	}
	err.reported = true
	if werr := json.NewEncoder(o.Writer).Encode(Response{
		Status: "error",
		Data:   data,
		Error:  &ResponseError{Code: err.Code, Message: err.Error()},
	}); werr != nil {
		return werr
	}
	return err
}

// Fail writes err. Text mode leaves reporting to the caller of Execute,
// and an error already sent by Report is not written twice.
func (o *Output) Fail(err error) error {
	var exitErr *ExitError
	if o.Format != "json" || (errors.As(err, &exitErr) && exitErr.reported) {
		return nil
	}
	return json.NewEncoder(o.Writer).Encode(Response{
		Status: "error",
		Error:  &ResponseError{Code: GetExitCode(err), Message: err.Error()},
	})
}
