// Package agent implements the endpoint side of cmda: it receives action
// envelopes, runs commands and moves archives through the staging store.
//
// Invoke is the only entry point. It never lets a failure escape as a
// panic or an untyped error; every failure is returned as a function error
// envelope carrying a kind, a message and, for panics, a stack.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/aws/aws-lambda-go/lambda/messages"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/lambci/cmda/log"
	"github.com/lambci/cmda/staging"
	"github.com/lambci/cmda/types"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvBucket       = "CMDA_BUCKET"
	EnvFunctionName = "AWS_LAMBDA_FUNCTION_NAME"
)

// Config is the agent's static identity.
type Config struct {
	// Bucket is the default staging bucket. Requests may override it.
	Bucket       string
	FunctionName string
	Version      string
}

// ConfigFromEnv reads the agent configuration using getenv.
func ConfigFromEnv(getenv func(string) string) Config {
	return Config{
		Bucket:       getenv(EnvBucket),
		FunctionName: getenv(EnvFunctionName),
		Version:      types.Version,
	}
}

// Store is the staging store as seen by the agent.
type Store interface {
	CheckReachable(ctx context.Context, bucket string) error
	Upload(ctx context.Context, bucket string, body io.Reader, onProgress staging.ProgressFunc) (string, error)
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Runner runs a command to completion and describes the outcome.
type Runner func(ctx context.Context, name string, args []string) types.ExecResult

// Handler dispatches envelopes to actions.
type Handler struct {
	cfg    Config
	store  Store
	run    Runner
	logger *log.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(l *log.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(h *Handler) {
		if r != nil {
			h.run = r
		}
	}
}

// New creates a Handler.
func New(cfg Config, store Store, opts ...Option) *Handler {
	h := &Handler{
		cfg:    cfg,
		store:  store,
		run:    RunProcess,
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke handles one envelope. The error, when non-nil, is always a
// messages.InvokeResponse_Error so the runtime reports it verbatim.
func (h *Handler) Invoke(ctx context.Context, env types.Envelope) (result any, err error) {
	logger := h.logger.With("action", string(env.Action))
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With("request_id", lc.AwsRequestID)
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = panicResponse(r)
			logger.Error("action panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()

	result, err = h.dispatch(ctx, env, logger)
	if err != nil {
		resp := errorResponse(err)
		logger.Error("action failed", map[string]any{
			"kind":  resp.Type,
			"error": resp.Message,
		})
		return nil, resp
	}
	logger.Info("action completed", map[string]any{"duration_ms": time.Since(start).Milliseconds()})
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, env types.Envelope, logger *log.Logger) (any, error) {
	if !env.Action.Valid() {
		return nil, invalidf("Unknown action: %s", env.Action)
	}
	switch env.Action {
	case types.ActionInfo:
		return h.info(), nil
	case types.ActionExec:
		return h.exec(ctx, env, logger)
	case types.ActionUpload:
		return nil, h.upload(ctx, env, logger)
	default:
		return h.download(ctx, env, logger)
	}
}

func (h *Handler) info() types.InfoResult {
	return types.InfoResult{
		FunctionVersion: h.cfg.Version,
		FunctionName:    h.cfg.FunctionName,
		Bucket:          h.cfg.Bucket,
	}
}

func (h *Handler) bucketOr(requested string) string {
	if requested != "" {
		return requested
	}
	return h.cfg.Bucket
}

// validationError is a request rejected before any work was done.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

func decodeOptions(env types.Envelope, v any) error {
	if err := env.DecodeOptions(v); err != nil {
		return &validationError{msg: err.Error()}
	}
	return nil
}

// panicResponse converts a recovered value into an InternalError with the
// stack of the panicking goroutine.
func panicResponse(r any) messages.InvokeResponse_Error {
	msg := fmt.Sprint(r)
	if e, ok := r.(error); ok {
		msg = e.Error()
	}
	return messages.InvokeResponse_Error{
		Type:       types.ErrorKindInternal,
		Message:    msg,
		StackTrace: stackFrames(4),
	}
}

func stackFrames(skip int) []*messages.InvokeResponse_Error_StackFrame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []*messages.InvokeResponse_Error_StackFrame
	for {
		f, more := frames.Next()
		out = append(out, &messages.InvokeResponse_Error_StackFrame{
			Path:  f.File,
			Line:  int32(f.Line), //nolint:gosec // line numbers fit in int32
			Label: f.Function,
		})
		if !more {
			break
		}
	}
	return out
}

// errorResponse classifies err into the wire error envelope.
func errorResponse(err error) messages.InvokeResponse_Error {
	var ive messages.InvokeResponse_Error
	if errors.As(err, &ive) {
		return ive
	}
	kind, msg := classify(err)
	return messages.InvokeResponse_Error{Type: kind, Message: msg}
}
