package agent

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"syscall"

	"github.com/lambci/cmda/archive"
	"github.com/lambci/cmda/codec"
	"github.com/lambci/cmda/iox"
	"github.com/lambci/cmda/log"
	"github.com/lambci/cmda/staging"
	"github.com/lambci/cmda/types"
)

func (h *Handler) exec(ctx context.Context, env types.Envelope, logger *log.Logger) (types.ExecResult, error) {
	var opts types.ExecOptions
	if err := decodeOptions(env, &opts); err != nil {
		return types.ExecResult{}, err
	}
	if opts.Cmd == "" {
		return types.ExecResult{}, invalidf("cmd cannot be empty")
	}

	res := h.run(ctx, opts.Cmd, opts.Args)
	fields := map[string]any{"cmd": opts.Cmd, "args": len(opts.Args)}
	switch {
	case res.Error != nil:
		fields["error"] = res.Error.Message
		fields["code"] = res.Error.OSErrorCode
	case res.Signal != "":
		fields["signal"] = res.Signal
	case res.Status != nil:
		fields["status"] = *res.Status
	}
	logger.Info("process finished", fields)
	return res, nil
}

// RunProcess runs name synchronously, capturing both output streams.
//
// A process that could not be started yields a nil status, nil streams and
// an encoded error. A process killed by a signal yields a nil status and
// the signal name. Process failures are never returned as Go errors.
func RunProcess(ctx context.Context, name string, args []string) types.ExecResult {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil && cmd.ProcessState == nil {
		return types.ExecResult{Error: codec.EncodeError(err)}
	}

	res := types.ExecResult{
		Stdout: codec.EncodeBytes(ran(stdout.Bytes())),
		Stderr: codec.EncodeBytes(ran(stderr.Bytes())),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		status := 0
		res.Status = &status
	case errors.As(err, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = codec.SignalName(ws.Signal())
		} else {
			status := exitErr.ExitCode()
			res.Status = &status
		}
	default:
		// The process ran but collecting its output failed.
		status := cmd.ProcessState.ExitCode()
		if status >= 0 {
			res.Status = &status
		}
		res.Error = codec.EncodeError(err)
	}
	return res
}

// ran marks a stream as present even when the process wrote nothing.
func ran(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (h *Handler) upload(ctx context.Context, env types.Envelope, logger *log.Logger) error {
	var opts types.UploadOptions
	if err := decodeOptions(env, &opts); err != nil {
		return err
	}
	bucket := h.bucketOr(opts.Bucket)
	switch {
	case bucket == "":
		return invalidf("bucket cannot be empty")
	case opts.Key == "":
		return invalidf("key cannot be empty")
	case opts.Dest == "":
		return invalidf("dest cannot be empty")
	}

	if err := h.store.CheckReachable(ctx, bucket); err != nil {
		return err
	}
	body, err := h.store.Download(ctx, bucket, opts.Key)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(body)

	var entries int
	err = archive.Extract(ctx, body, opts.Dest, archive.ExtractOptions{
		Compressed: true,
		OnEntry: func(e archive.Entry) {
			entries++
			logger.Info("entry", map[string]any{"path": e.Path, "size": e.Size})
		},
	})
	if err != nil {
		return err
	}
	logger.Info("archive unpacked", map[string]any{
		"bucket":  bucket,
		"key":     opts.Key,
		"dest":    opts.Dest,
		"entries": entries,
	})
	return nil
}

func (h *Handler) download(ctx context.Context, env types.Envelope, logger *log.Logger) (types.StagedObject, error) {
	var opts types.DownloadOptions
	if err := decodeOptions(env, &opts); err != nil {
		return types.StagedObject{}, err
	}
	bucket := h.bucketOr(opts.Bucket)
	switch {
	case bucket == "":
		return types.StagedObject{}, invalidf("bucket cannot be empty")
	case len(opts.Files) == 0:
		return types.StagedObject{}, invalidf("files cannot be empty")
	}

	if err := h.store.CheckReachable(ctx, bucket); err != nil {
		return types.StagedObject{}, err
	}

	body := archive.Build(ctx, opts.Files, archive.BuildOptions{Compress: true})
	defer iox.DiscardClose(body)

	var sent int64
	key, err := h.store.Upload(ctx, bucket, body, func(p types.Progress) { sent = p.Sent })
	if err != nil {
		return types.StagedObject{}, err
	}
	logger.Info("archive staged", map[string]any{
		"bucket": bucket,
		"key":    key,
		"files":  len(opts.Files),
		"bytes":  sent,
	})
	return types.StagedObject{Bucket: bucket, Key: key}, nil
}

// classify names the kind and message reported for err.
func classify(err error) (string, string) {
	var invalid *validationError
	if errors.As(err, &invalid) {
		return types.ErrorKindValidation, invalid.msg
	}
	if archive.IsCorrupt(err) {
		return types.ErrorKindArchiveCorrupted, err.Error()
	}

	// Local filesystem failures are reported as themselves even when they
	// surfaced through a store upload.
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return codec.KindOf(pathErr), pathErr.Error()
	}

	var storeErr *staging.StorageError
	if errors.As(err, &storeErr) {
		if hint := staging.ReachabilityHint(err); hint != "" {
			return types.ErrorKindStoreUnreachable, err.Error() + "; " + hint
		}
		return types.ErrorKindStorage, err.Error()
	}
	return codec.KindOf(err), err.Error()
}
