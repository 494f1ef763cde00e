package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario or validation failure
	ExitCommandError = 2 // Command error (bad paths, unreadable files, bad config)
)

// ExitError carries the process exit code for an error.
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
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Envelope is the JSON shape of every command's output.
type Envelope struct {
	Status string     `json:"status"` // "ok" or "error"
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Printer writes command results as a JSON envelope or as text.
type Printer struct {
	Format string
	Out    io.Writer
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *Printer {
	return &Printer{Format: opts.Format, Out: cmd.OutOrStdout()}
}

func (p *Printer) JSON() bool {
	return p.Format == "json"
}

// Result prints data. In text mode text renders it; a nil text prints data
// with fmt.
func (p *Printer) Result(data any, text func(w io.Writer)) error {
	if p.JSON() {
		return p.encode(Envelope{Status: "ok", Data: data})
	}
	if text == nil {
		fmt.Fprintln(p.Out, data)
		return nil
	}
	text(p.Out)
	return nil
}

// Fail prints data with an error envelope in JSON mode, or text in text
// mode, and returns an ExitError with exit.
func (p *Printer) Fail(exit int, code, message string, data any, text func(w io.Writer)) error {
	if p.JSON() {
		if err := p.encode(Envelope{Status: "error", Data: data, Error: &ErrorBody{Code: code, Message: message}}); err != nil {
			return err
		}
	} else if text != nil {
		text(p.Out)
	}
	return NewExitError(exit, message)
}

func (p *Printer) encode(v Envelope) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
