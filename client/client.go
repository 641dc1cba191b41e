// Package client orchestrates remote commands and staged file transfers
// from the CLI side.
//
// Each operation is a short sequence of endpoint invocations and staging
// store transfers. Status lines go to the Status reporter; remote process
// output is replayed verbatim on Stdout and Stderr.
package client

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/lambci/cmda/invoke"
	"github.com/lambci/cmda/log"
	"github.com/lambci/cmda/metrics"
	"github.com/lambci/cmda/progress"
	"github.com/lambci/cmda/staging"
	"github.com/lambci/cmda/types"
)

// DefaultMaxRetries is the number of times an upload is started over after
// the endpoint reports a corrupted archive.
const DefaultMaxRetries = 3

var (
	// ErrMaxRetries is returned when every upload attempt hit a corrupted
	// archive.
	ErrMaxRetries = errors.New("Reached max number of retries, tarball was corrupted, please try again") //nolint:staticcheck // user-facing message

	// ErrNoBucket is returned when no staging bucket was given and the
	// endpoint does not report one.
	ErrNoBucket = errors.New("Could not determine S3 bucket to use. Please specify --bucket or use the CMDA_BUCKET env") //nolint:staticcheck // user-facing message
)

// Store is the staging store as seen by the client.
type Store interface {
	Upload(ctx context.Context, bucket string, body io.Reader, onProgress staging.ProgressFunc) (string, error)
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Client runs one CLI operation against a remote endpoint.
type Client struct {
	Invoker invoke.Invoker
	Store   Store
	Status  *progress.Reporter
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *log.Logger
	Metrics *metrics.Collector

	// MaxRetries bounds corruption retries for uploads.
	MaxRetries int
}

// New creates a Client writing to the process's standard streams with
// status output disabled. Callers replace fields as needed.
func New(inv invoke.Invoker, store Store) *Client {
	return &Client{
		Invoker:    inv,
		Store:      store,
		Status:     progress.Discard(),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Logger:     log.Nop(),
		MaxRetries: DefaultMaxRetries,
	}
}

func (c *Client) invoke(ctx context.Context, action types.Action, options, out any) error {
	c.Metrics.IncInvocation()
	if err := c.Invoker.Invoke(ctx, action, options, out); err != nil {
		c.Metrics.IncInvocationFailure()
		return err
	}
	return nil
}

func (c *Client) logger() *log.Logger {
	if c.Logger == nil {
		return log.Nop()
	}
	return c.Logger
}

func (c *Client) logMetrics() {
	if c.Metrics == nil {
		return
	}
	c.logger().Debug("operation metrics", c.Metrics.Snapshot().Fields())
}

// KV is one line of the info listing.
type KV struct {
	Key   string
	Value string
}

// Info returns the CLI version followed by the endpoint's identity.
func (c *Client) Info(ctx context.Context) ([]KV, error) {
	defer c.logMetrics()

	var info types.InfoResult
	if err := c.invoke(ctx, types.ActionInfo, nil, &info); err != nil {
		return nil, err
	}
	return []KV{
		{Key: "cliVersion", Value: types.Version},
		{Key: "functionVersion", Value: info.FunctionVersion},
		{Key: "functionName", Value: info.FunctionName},
		{Key: "bucket", Value: info.Bucket},
	}, nil
}

// ResolveBucket returns bucket, or asks the endpoint for its configured one.
func (c *Client) ResolveBucket(ctx context.Context, bucket string) (string, error) {
	if bucket != "" {
		return bucket, nil
	}
	c.Status.Line("Getting S3 bucket name from Lambda...")
	var info types.InfoResult
	if err := c.invoke(ctx, types.ActionInfo, nil, &info); err != nil {
		return "", err
	}
	if info.Bucket == "" {
		return "", ErrNoBucket
	}
	return info.Bucket, nil
}

// splitDest separates the transfer sources from the trailing destination.
func splitDest(args []string) ([]string, string, error) {
	if len(args) < 2 {
		return nil, "", errors.New("expected at least one source and a destination")
	}
	n := len(args) - 1
	return args[:n:n], args[n], nil
}
