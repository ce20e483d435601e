// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failed exchange returns a *CommandError whose Kind is
// one of these, so callers can use errors.Is.
var (
	ErrTimeout      = errors.New("timeout")
	ErrProtocol     = errors.New("protocol error")
	ErrMalformed    = errors.New("malformed response")
	ErrExhausted    = errors.New("resource exhausted")
	ErrNotSupported = errors.New("not supported")
)

// CommandError describes a failed exchange.
type CommandError struct {
	// Command is the command line as sent, without terminator.
	Command string

	// Kind is one of the Err* sentinels.
	Kind error

	// Detail is a short human-readable reason.
	Detail string

	// Lines holds the parameter lines collected before the failure.
	Lines []string
}

func (e *CommandError) Error() string {
	var b strings.Builder
	if e.Command != "" {
		b.WriteString(e.Command)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Kind
}

func newError(command string, kind error, format string, args ...any) *CommandError {
	return &CommandError{
		Command: command,
		Kind:    kind,
		Detail:  fmt.Sprintf(format, args...),
	}
}

// IsCommandError reports whether err carries a *CommandError.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
