package staging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// Sentinel errors for staging store failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the bucket or object does not exist (NoSuchKey, 404).
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied indicates valid credentials without permission (403).
	ErrAccessDenied = errors.New("access denied")

	// ErrAuth indicates missing, invalid or expired credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrThrottled indicates rate limiting (SlowDown, 429).
	ErrThrottled = errors.New("rate limited")

	// ErrNetwork indicates a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")

	// ErrUnclassified is the kind of errors matching none of the above.
	ErrUnclassified = errors.New("storage error")
)

// StorageError wraps an object store failure with its classification.
// The original error stays in the chain for errors.As inspection.
type StorageError struct {
	// Kind is the sentinel error for classification (e.g., ErrNotFound).
	Kind error
	// Op is the store operation that failed: upload, download or probe.
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *StorageError) Error() string {
	loc := "s3://" + e.Bucket
	if e.Key != "" {
		loc += "/" + e.Key
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, loc, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapError classifies err for op. Returns nil if err is nil.
func wrapError(err error, op, bucket, key string) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{
		Kind:   classifyError(err),
		Op:     op,
		Bucket: bucket,
		Key:    key,
		Err:    err,
	}
}

// classifyError determines the sentinel for err. Service error codes and
// HTTP status are consulted first, then transport errors, then message
// patterns for errors raised before a request was sent (credentials).
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind := classifyCode(apiErr.ErrorCode()); kind != nil {
			return kind
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if kind := classifyStatus(respErr.HTTPStatusCode()); kind != nil {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrTimeout
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return ErrNetwork
	}

	return classifyMessage(err.Error())
}

func classifyCode(code string) error {
	switch code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return ErrNotFound
	case "AccessDenied", "Forbidden", "AllAccessDisabled":
		return ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken", "TokenRefreshRequired":
		return ErrAuth
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
		return ErrThrottled
	case "RequestTimeout":
		return ErrTimeout
	default:
		return nil
	}
}

func classifyStatus(status int) error {
	switch status {
	case 401:
		return ErrAuth
	case 403:
		return ErrAccessDenied
	case 404:
		return ErrNotFound
	case 429, 503:
		return ErrThrottled
	default:
		return nil
	}
}

func classifyMessage(msg string) error {
	switch {
	case containsAny(msg, "failed to retrieve credentials", "failed to refresh cached credentials",
		"get credentials", "NoCredentialProviders", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"ExpiredToken", "StatusCode: 401", "Unauthorized"):
		return ErrAuth

	case containsAny(msg, "AccessDenied", "Forbidden", "StatusCode: 403"):
		return ErrAccessDenied

	case containsAny(msg, "NoSuchKey", "NoSuchBucket", "StatusCode: 404", "specified key does not exist",
		"specified bucket does not exist"):
		return ErrNotFound

	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return ErrTimeout

	case containsAny(msg, "SlowDown", "rate exceeded", "throttl", "StatusCode: 429", "TooManyRequests"):
		return ErrThrottled

	case containsAny(msg, "connection refused", "no route to host", "network is unreachable",
		"no such host", "dial tcp", "connection reset"):
		return ErrNetwork

	default:
		return ErrUnclassified
	}
}

// containsAny checks if s contains any of the substrings (case-insensitive).
// Status codes are only matched in the SDK's "StatusCode: N" form so that
// digits inside bucket keys or file names are never taken for a status.
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// IsCredentialError reports whether err stems from missing or rejected
// credentials.
func IsCredentialError(err error) bool {
	if errors.Is(err, ErrAuth) {
		return true
	}
	if err == nil {
		return false
	}
	return classifyError(err) == ErrAuth
}

// ReachabilityHint returns a user-facing suggestion when err looks like the
// store cannot be reached at all, or "" otherwise.
func ReachabilityHint(err error) string {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork) {
		return "the function may not have a network path to S3; " +
			"if it runs inside a VPC, add an S3 endpoint with `cmda vpc-endpoint`"
	}
	return ""
}
