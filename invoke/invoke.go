// Package invoke sends action envelopes to the remote endpoint and decodes
// its replies.
package invoke

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/lambci/cmda/codec"
	"github.com/lambci/cmda/log"
	"github.com/lambci/cmda/types"
)

// Timeout bounds a single invocation. It matches the longest run time the
// endpoint allows.
const Timeout = 15 * time.Minute

// Invoker performs one synchronous request/response exchange with the
// endpoint. Failures raised remotely are returned as *codec.RemoteError.
type Invoker interface {
	Invoke(ctx context.Context, action types.Action, options any, out any) error
}

// API is the subset of *lambda.Client used for invocations.
type API interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Lambda invokes a named function synchronously.
type Lambda struct {
	api      API
	function string
	logger   *log.Logger
	tailLogs bool
}

// Option customizes a Lambda invoker.
type Option func(*Lambda)

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(i *Lambda) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithLogTail requests the tail of the function's execution log with each
// invocation and logs it at debug level.
func WithLogTail(enabled bool) Option {
	return func(i *Lambda) { i.tailLogs = enabled }
}

// NewLambda builds an invoker for function from an explicit AWS
// configuration. The HTTP client allows requests to stay open for Timeout.
func NewLambda(awsCfg aws.Config, function string, opts ...Option) *Lambda {
	client := lambda.NewFromConfig(awsCfg, func(o *lambda.Options) {
		o.HTTPClient = awshttp.NewBuildableClient().WithTimeout(Timeout)
	})
	return NewLambdaWithAPI(client, function, opts...)
}

// NewLambdaWithAPI builds an invoker over an explicit API implementation.
func NewLambdaWithAPI(api API, function string, opts ...Option) *Lambda {
	i := &Lambda{api: api, function: function, logger: log.Nop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke sends {action, options} and decodes a successful reply into out.
// out may be nil when the reply is not needed.
func (i *Lambda) Invoke(ctx context.Context, action types.Action, options any, out any) error {
	if i.function == "" {
		return fmt.Errorf("function name cannot be empty")
	}
	env, err := types.NewEnvelope(action, options)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", action, err)
	}

	in := &lambda.InvokeInput{
		FunctionName:   aws.String(i.function),
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
		Payload:        payload,
	}
	if i.tailLogs {
		in.LogType = lambdatypes.LogTypeTail
	}

	i.logger.Debug("invoking function", map[string]any{
		"function": i.function,
		"action":   string(action),
		"bytes":    len(payload),
	})
	start := time.Now()
	resp, err := i.api.Invoke(ctx, in)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", i.function, err)
	}
	i.logger.Debug("function returned", map[string]any{
		"function":    i.function,
		"action":      string(action),
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	i.logTail(resp.LogResult)

	if fe := aws.ToString(resp.FunctionError); fe != "" {
		return decodeFunctionError(fe, resp.Payload)
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

func (i *Lambda) logTail(result *string) {
	if result == nil {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(*result)
	if err != nil {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		i.logger.Debug("function log", map[string]any{"line": line})
	}
}

// decodeFunctionError converts a function error payload into a RemoteError.
// The payload is the error envelope; when it carries nothing usable the
// FunctionError marker itself is reported.
func decodeFunctionError(functionError string, payload []byte) error {
	var resp types.ErrorResponse
	if len(payload) > 0 && json.Unmarshal(payload, &resp) == nil && resp.ErrorMessage != "" {
		return codec.FromErrorResponse(&resp)
	}
	return &codec.RemoteError{
		Kind:    functionError,
		Message: "Unknown error occurred calling Lambda: " + functionError,
	}
}
