// Package codec converts process output and errors to and from the
// JSON-only envelope that crosses the endpoint boundary.
//
// Binary output travels as standard base64. Absent output is encoded as a
// nil pointer so the receiver can tell "no stream" from "empty stream".
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/lambci/cmda/types"
)

// EncodeBytes returns the base64 form of b, or nil when b is nil.
func EncodeBytes(b []byte) *string {
	if b == nil {
		return nil
	}
	s := base64.StdEncoding.EncodeToString(b)
	return &s
}

// DecodeBytes reverses EncodeBytes.
func DecodeBytes(s *string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(*s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 output: %w", err)
	}
	return b, nil
}

// EncodeError captures err as a ProcessError.
// Kind is the Go type of the outermost error, Stack lists the wrapped
// causes beneath it, and OSErrorCode carries the errno name when the
// failure came from the operating system.
func EncodeError(err error) *types.ProcessError {
	if err == nil {
		return nil
	}
	return &types.ProcessError{
		Kind:        KindOf(err),
		Message:     err.Error(),
		Stack:       strings.Join(causeChain(err), "\n"),
		OSErrorCode: OSErrorCode(err),
	}
}

// KindOf names the dynamic type of err without the pointer marker,
// e.g. "exec.Error" or "fs.PathError".
func KindOf(err error) string {
	if remote, ok := err.(*RemoteError); ok {
		return remote.Kind
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// OSErrorCode returns the symbolic errno (ENOENT, EACCES, ...) found in
// err's chain, or "" if none. A failed PATH lookup maps to ENOENT.
func OSErrorCode(err error) string {
	if errors.Is(err, exec.ErrNotFound) {
		return "ENOENT"
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errnoName(errno)
	}
	return ""
}

func causeChain(err error) []string {
	var lines []string
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		lines = append(lines, KindOf(cause)+": "+cause.Error())
	}
	return lines
}

// DecodeError rebuilds a ProcessError on the receiving side.
func DecodeError(pe *types.ProcessError) *RemoteError {
	if pe == nil {
		return nil
	}
	return &RemoteError{
		Kind:        pe.Kind,
		Message:     pe.Message,
		Trace:       pe.Trace(),
		OSErrorCode: pe.OSErrorCode,
	}
}

// FromErrorResponse rebuilds a function error envelope.
func FromErrorResponse(r *types.ErrorResponse) *RemoteError {
	if r == nil {
		return nil
	}
	return &RemoteError{
		Kind:    r.ErrorType,
		Message: r.ErrorMessage,
		Trace:   r.Lines(),
	}
}

// RemoteError is an error raised on the far side of the endpoint boundary.
// Kind and Message are preserved verbatim so comparisons made by callers
// behave the same locally and remotely.
type RemoteError struct {
	Kind        string
	Message     string
	Trace       []string
	OSErrorCode string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is matches another RemoteError by kind, and by message when the target
// sets one.
func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*RemoteError)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Detail renders kind, message and trace the way verbose output shows them.
func (e *RemoteError) Detail() string {
	var b strings.Builder
	if e.Kind != "" {
		b.WriteString(e.Kind)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.OSErrorCode != "" {
		fmt.Fprintf(&b, " (%s)", e.OSErrorCode)
	}
	for _, line := range e.Trace {
		b.WriteString("\n    ")
		b.WriteString(strings.TrimSpace(line))
	}
	return b.String()
}

// SignalName returns the symbolic name of sig, e.g. "SIGKILL".
func SignalName(sig syscall.Signal) string {
	return signalName(sig)
}

// SignalExitCode maps a signal name to the conventional shell exit status
// 128+n. Unknown names map to 1.
func SignalExitCode(name string) int {
	if n := signalNumber(name); n > 0 {
		return 128 + n
	}
	return 1
}
