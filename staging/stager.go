// Package staging moves archive streams to and from the S3 bucket that sits
// between the CLI and the endpoint.
//
// Every staged object is written once under a freshly generated key and is
// never modified or deleted here; bucket lifecycle rules collect them.
// This layer performs no retries of its own.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lambci/cmda/iox"
	"github.com/lambci/cmda/types"
)

// DefaultProbeTimeout bounds the reachability check, both for connecting
// and for the whole request.
const DefaultProbeTimeout = 2 * time.Second

// GetObjectAPI is the subset of *s3.Client used for downloads.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// HeadBucketAPI is the subset of *s3.Client used for the reachability probe.
type HeadBucketAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// UploadAPI is satisfied by *manager.Uploader.
type UploadAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Config holds S3 options for the staging store.
type Config struct {
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
	// ProbeTimeout overrides DefaultProbeTimeout.
	ProbeTimeout time.Duration
	// PartSize is the multipart chunk size; zero keeps the uploader default.
	PartSize int64
	// Concurrency is the number of parts uploaded in parallel; zero keeps the
	// uploader default.
	Concurrency int
}

// Stager uploads and downloads staged archives.
type Stager struct {
	getter       GetObjectAPI
	prober       HeadBucketAPI
	uploader     UploadAPI
	probeTimeout time.Duration
	newKey       func() string
}

// Option customizes a Stager.
type Option func(*Stager)

// WithKeyFunc replaces the key generator.
func WithKeyFunc(fn func() string) Option {
	return func(s *Stager) { s.newKey = fn }
}

// WithProbeTimeout replaces the reachability timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Stager) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// New builds a Stager from an explicit AWS configuration.
//
// Transfers use the configuration's HTTP client and retry policy. The
// reachability probe gets its own client with a short dial and request
// timeout and no retries, so a missing network path fails fast.
func New(awsCfg aws.Config, cfg Config) *Stager {
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	probeOpts := append(append([]func(*s3.Options){}, s3Opts...), func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
		o.HTTPClient = awshttp.NewBuildableClient().
			WithTimeout(probeTimeout).
			WithDialerOptions(func(d *net.Dialer) { d.Timeout = probeTimeout })
	})
	probe := s3.NewFromConfig(awsCfg, probeOpts...)

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})

	return NewWithAPIs(client, probe, uploader, WithProbeTimeout(probeTimeout))
}

// NewWithAPIs builds a Stager over explicit S3 API implementations.
// Tests use this with in-memory fakes.
func NewWithAPIs(getter GetObjectAPI, prober HeadBucketAPI, uploader UploadAPI, opts ...Option) *Stager {
	s := &Stager{
		getter:       getter,
		prober:       prober,
		uploader:     uploader,
		probeTimeout: DefaultProbeTimeout,
		newKey:       RandomKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewKey formats a staged object key as <unix-millis>_<n>.tgz.
func NewKey(now time.Time, n int) string {
	return fmt.Sprintf("%d_%d.tgz", now.UnixMilli(), n)
}

// RandomKey returns a key for the current time with a random suffix in
// [0, 1e6). Uniqueness is best effort.
func RandomKey() string {
	return NewKey(time.Now(), rand.IntN(1_000_000))
}

// ProgressFunc receives cumulative upload progress. Sent never decreases;
// Total stays types.UnknownTotal until the body has been fully consumed.
type ProgressFunc func(types.Progress)

// Upload streams body to bucket under a fresh key and returns the key.
// The body is read incrementally by the multipart uploader; it is never
// buffered whole. A failure reading body is returned as is, without
// StorageError classification.
func (s *Stager) Upload(ctx context.Context, bucket string, body io.Reader, onProgress ProgressFunc) (string, error) {
	if bucket == "" {
		return "", errors.New("bucket cannot be empty")
	}
	key := s.newKey()

	counter := &iox.CountingReader{
		R: body,
		OnRead: func(total int64, eof bool) {
			if onProgress == nil {
				return
			}
			p := types.Progress{Sent: total, Total: types.UnknownTotal}
			if eof {
				p.Total = total
			}
			onProgress(p)
		},
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        counter,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		if bodyErr := counter.Err(); bodyErr != nil {
			return "", bodyErr
		}
		return "", wrapError(err, "upload", bucket, key)
	}
	return key, nil
}

// Download opens a read stream for a staged object. The caller closes it.
func (s *Stager) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.getter.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapError(err, "download", bucket, key)
	}
	return out.Body, nil
}

// CheckReachable verifies the bucket answers within the probe timeout.
func (s *Stager) CheckReachable(ctx context.Context, bucket string) error {
	if bucket == "" {
		return errors.New("bucket cannot be empty")
	}
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	if _, err := s.prober.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return wrapError(err, "probe", bucket, "")
	}
	return nil
}
