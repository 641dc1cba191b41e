package client

import (
	"context"
	"errors"

	"github.com/lambci/cmda/archive"
	"github.com/lambci/cmda/codec"
	"github.com/lambci/cmda/iox"
	"github.com/lambci/cmda/types"
)

// IsCorruption reports whether err is the endpoint rejecting a staged
// archive as corrupted. Both the structured kind and the exact message
// raised by older agents qualify; nothing else does.
func IsCorruption(err error) bool {
	if errors.Is(err, &codec.RemoteError{Kind: types.ErrorKindArchiveCorrupted}) {
		return true
	}
	var remote *codec.RemoteError
	return errors.As(err, &remote) && remote.Message == types.LegacyCorruptMessage
}

// Upload copies local paths to a remote destination. args lists the local
// paths followed by the destination directory. bucket may be empty, in
// which case the endpoint's configured bucket is used.
//
// When the endpoint reports a corrupted archive the whole attempt is
// rebuilt from the local files and staged again under a fresh key, up to
// MaxRetries times. Any other failure is returned immediately.
func (c *Client) Upload(ctx context.Context, args []string, bucket string) error {
	defer c.logMetrics()

	files, dest, err := splitDest(args)
	if err != nil {
		return err
	}
	bucket, err = c.ResolveBucket(ctx, bucket)
	if err != nil {
		return err
	}
	c.Metrics.SetBucket(bucket)

	for attempt := 0; ; attempt++ {
		err := c.uploadOnce(ctx, files, dest, bucket)
		if err == nil {
			break
		}
		if !IsCorruption(err) {
			return err
		}
		if attempt >= c.MaxRetries {
			c.logger().Warn("staged archive corrupted, giving up", map[string]any{
				"attempts": attempt + 1,
				"error":    err.Error(),
			})
			return ErrMaxRetries
		}
		c.logger().Sugar().Warnf("staged archive corrupted, retrying upload (%d/%d): %v", attempt+1, c.MaxRetries, err)
		c.Metrics.IncCorruptionRetry()
		c.Status.Line("Corrupt tarball, trying again...")
	}

	c.Status.Done("All files uploaded")
	return nil
}

func (c *Client) uploadOnce(ctx context.Context, files []string, dest, bucket string) error {
	c.Metrics.IncUploadAttempt()
	c.Status.Line("Compressing local files...")

	body := archive.Build(ctx, files, archive.BuildOptions{Compress: true})
	defer iox.DiscardClose(body)

	var sent int64
	key, err := c.Store.Upload(ctx, bucket, body, func(p types.Progress) {
		sent = p.Sent
		c.Status.Progress(p)
	})
	c.Metrics.AddBytesStaged(sent)
	if err != nil {
		return err
	}
	c.logger().Debug("archive staged", map[string]any{"bucket": bucket, "key": key, "bytes": sent})

	c.Status.Line("Invoking Lambda to copy files remotely...")
	return c.invoke(ctx, types.ActionUpload, types.UploadOptions{Bucket: bucket, Key: key, Dest: dest}, nil)
}

// Download copies remote paths into a local destination directory. args
// lists the remote paths followed by the local destination. An empty bucket
// lets the endpoint use its configured one.
func (c *Client) Download(ctx context.Context, args []string, bucket string) error {
	defer c.logMetrics()

	files, dest, err := splitDest(args)
	if err != nil {
		return err
	}

	c.Status.Line("Invoking Lambda to package remote files...")
	var staged types.StagedObject
	if err := c.invoke(ctx, types.ActionDownload, types.DownloadOptions{Bucket: bucket, Files: files}, &staged); err != nil {
		return err
	}
	c.Metrics.SetBucket(staged.Bucket)

	c.Status.Line("Downloading from S3...")
	body, err := c.Store.Download(ctx, staged.Bucket, staged.Key)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(body)

	src := &iox.CountingReader{
		R: body,
		OnRead: func(_ int64, eof bool) {
			if eof {
				c.Status.Line("Unpacking locally...")
			}
		},
	}
	err = archive.Extract(ctx, src, dest, archive.ExtractOptions{
		Compressed: true,
		OnEntry: func(e archive.Entry) {
			c.Metrics.IncEntryExtracted()
			c.logger().Debug("extracted", map[string]any{"path": e.Path, "size": e.Size})
		},
	})
	c.Metrics.AddBytesFetched(src.Count())
	if err != nil {
		return err
	}

	c.Status.Done("All files downloaded and unpacked")
	return nil
}
