// Package types defines the wire types exchanged between the cmda CLI and
// the cmda agent running inside the endpoint.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action names the operation requested from the agent.
type Action string

// Actions understood by the agent.
const (
	ActionInfo     Action = "info"
	ActionExec     Action = "exec"
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionInfo, ActionExec, ActionUpload, ActionDownload:
		return true
	default:
		return false
	}
}

// Envelope is the single request body sent per invocation.
// Options are decoded per action by the agent.
type Envelope struct {
	Action  Action          `json:"action"`
	Options json.RawMessage `json:"options,omitempty"`
}

// NewEnvelope builds an envelope, marshaling options to JSON.
// Nil options are omitted.
func NewEnvelope(action Action, options any) (*Envelope, error) {
	env := &Envelope{Action: action}
	if options == nil {
		return env, nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("marshal %s options: %w", action, err)
	}
	env.Options = raw
	return env, nil
}

// DecodeOptions unmarshals the envelope options into v.
// Missing options leave v untouched.
func (e *Envelope) DecodeOptions(v any) error {
	if len(e.Options) == 0 || string(e.Options) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Options, v); err != nil {
		return fmt.Errorf("invalid %s options: %w", e.Action, err)
	}
	return nil
}

// ExecOptions are the options of the exec action.
type ExecOptions struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

// UploadOptions are the options of the upload action.
// Bucket falls back to the agent's configured bucket when empty.
type UploadOptions struct {
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key"`
	Dest   string `json:"dest"`
}

// DownloadOptions are the options of the download action.
type DownloadOptions struct {
	Bucket string   `json:"bucket,omitempty"`
	Files  []string `json:"files"`
}

// InfoResult is the static identity reported by the agent.
type InfoResult struct {
	FunctionVersion string `json:"functionVersion"`
	FunctionName    string `json:"functionName"`
	Bucket          string `json:"bucket"`
}

// ExecResult is the outcome of a remote process.
//
// Status is nil when the process could not be started or was terminated by
// a signal. Stdout and Stderr carry base64 text; nil means no output stream
// existed, which is distinct from an empty one.
type ExecResult struct {
	Status *int          `json:"status"`
	Stdout *string       `json:"stdout,omitempty"`
	Stderr *string       `json:"stderr,omitempty"`
	Signal string        `json:"signal,omitempty"`
	Error  *ProcessError `json:"error,omitempty"`
}

// ProcessError describes a failure to run a process.
// The JSON keys match the error shape emitted by earlier agents so both
// generations can be decoded by the same client.
type ProcessError struct {
	Kind        string `json:"name"`
	Message     string `json:"message"`
	Stack       string `json:"stack,omitempty"`
	OSErrorCode string `json:"code,omitempty"`
}

// Trace returns the stack as ordered lines. Empty when unavailable.
func (e *ProcessError) Trace() []string {
	if e == nil || e.Stack == "" {
		return nil
	}
	return strings.Split(e.Stack, "\n")
}

// StagedObject identifies a write-once archive in the staging store.
type StagedObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// StackFrame is a frame reported by the Go Lambda runtime.
type StackFrame struct {
	Path  string `json:"path"`
	Line  int32  `json:"line"`
	Label string `json:"label"`
}

// ErrorResponse is the function error envelope.
// Node-style runtimes report Trace; the Go runtime reports StackTrace frames.
type ErrorResponse struct {
	ErrorType    string       `json:"errorType"`
	ErrorMessage string       `json:"errorMessage"`
	Trace        []string     `json:"trace,omitempty"`
	StackTrace   []StackFrame `json:"stackTrace,omitempty"`
}

// Lines flattens whichever trace representation is present.
func (r *ErrorResponse) Lines() []string {
	if len(r.Trace) > 0 {
		return r.Trace
	}
	lines := make([]string, 0, len(r.StackTrace))
	for _, f := range r.StackTrace {
		lines = append(lines, fmt.Sprintf("%s (%s:%d)", f.Label, f.Path, f.Line))
	}
	return lines
}

// UnknownTotal marks a Progress total that has not been reported yet.
const UnknownTotal int64 = -1

// Progress is a cumulative upload progress snapshot.
type Progress struct {
	Sent  int64
	Total int64
}

// TotalKnown reports whether Total has been established.
func (p Progress) TotalKnown() bool {
	return p.Total >= 0
}
