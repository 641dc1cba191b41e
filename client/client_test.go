package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/lambci/cmda/archive"
	"github.com/lambci/cmda/codec"
	"github.com/lambci/cmda/log"
	"github.com/lambci/cmda/metrics"
	"github.com/lambci/cmda/progress"
	"github.com/lambci/cmda/staging"
	"github.com/lambci/cmda/types"
)

// memoryS3 serves the S3 calls made by staging.Stager from memory.
type memoryS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	keys    []string
}

func newMemoryS3() *memoryS3 {
	return &memoryS3{objects: make(map[string][]byte)}
}

func (m *memoryS3) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 512)
	for {
		n, err := in.Body.Read(chunk)
		buf.Write(chunk[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = buf.Bytes()
	m.keys = append(m.keys, aws.ToString(in.Key))
	return &manager.UploadOutput{}, nil
}

func (m *memoryS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", aws.ToString(in.Key))
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memoryS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func newStager(store *memoryS3) *staging.Stager {
	n := 0
	return staging.NewWithAPIs(store, store, store, staging.WithKeyFunc(func() string {
		n++
		return fmt.Sprintf("1700000000000_%d.tgz", n)
	}))
}

// fakeEndpoint answers invocations with a handler, round-tripping results
// through JSON the way the real transport does.
type fakeEndpoint struct {
	mu     sync.Mutex
	calls  []types.Action
	handle func(env *types.Envelope) (any, error)
}

func (f *fakeEndpoint) Invoke(_ context.Context, action types.Action, options any, out any) error {
	env, err := types.NewEnvelope(action, options)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, action)
	f.mu.Unlock()

	res, err := f.handle(env)
	if err != nil {
		return err
	}
	if out == nil || res == nil {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeEndpoint) count(action types.Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.calls {
		if a == action {
			n++
		}
	}
	return n
}

type harness struct {
	client   *Client
	endpoint *fakeEndpoint
	s3       *memoryS3
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	status   *bytes.Buffer
}

func newHarness(handle func(env *types.Envelope) (any, error)) *harness {
	h := &harness{
		endpoint: &fakeEndpoint{handle: handle},
		s3:       newMemoryS3(),
		stdout:   &bytes.Buffer{},
		stderr:   &bytes.Buffer{},
		status:   &bytes.Buffer{},
	}
	c := New(h.endpoint, newStager(h.s3))
	c.Stdout = h.stdout
	c.Stderr = h.stderr
	c.Status = progress.New(h.status, false)
	c.Metrics = metrics.NewCollector("test", "cmda", "")
	h.client = c
	return h
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func ptr[T any](v T) *T { return &v }

// --- info ---

func TestInfo_PrependsCLIVersion(t *testing.T) {
	h := newHarness(func(env *types.Envelope) (any, error) {
		require.Equal(t, types.ActionInfo, env.Action)
		return types.InfoResult{FunctionVersion: "0.6.0", FunctionName: "cmda", Bucket: "staging"}, nil
	})

	kvs, err := h.client.Info(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []KV{
		{Key: "cliVersion", Value: types.Version},
		{Key: "functionVersion", Value: "0.6.0"},
		{Key: "functionName", Value: "cmda"},
		{Key: "bucket", Value: "staging"},
	}, kvs)
}

// --- exec ---

func TestExec_ReplaysOutputAndStatus(t *testing.T) {
	h := newHarness(func(env *types.Envelope) (any, error) {
		var opts types.ExecOptions
		require.NoError(t, env.DecodeOptions(&opts))
		assert.Equal(t, "ls", opts.Cmd)
		assert.Equal(t, []string{"-la", "/tmp"}, opts.Args)
		return types.ExecResult{
			Status: ptr(3),
			Stdout: codec.EncodeBytes([]byte("out\x00put\n")),
			Stderr: codec.EncodeBytes([]byte("warn\n")),
		}, nil
	})

	code, err := h.client.Exec(t.Context(), []string{"ls", "-la", "/tmp"})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "out\x00put\n", h.stdout.String())
	assert.Equal(t, "warn\n", h.stderr.String())
}

func TestExec_CommandNotFound(t *testing.T) {
	h := newHarness(func(*types.Envelope) (any, error) {
		return types.ExecResult{Error: &types.ProcessError{
			Kind:        "exec.Error",
			Message:     `exec: "nope": executable file not found in $PATH`,
			Stack:       "exec.Error: ...",
			OSErrorCode: "ENOENT",
		}}, nil
	})

	code, err := h.client.Exec(t.Context(), []string{"nope"})
	require.NoError(t, err)
	assert.Equal(t, ExitCommandNotFound, code)
	assert.Equal(t, "command not found: nope\n", h.stderr.String())
	assert.Empty(t, h.stdout.String())
}

func TestExec_ProcessErrorIsReraised(t *testing.T) {
	h := newHarness(func(*types.Envelope) (any, error) {
		return types.ExecResult{Error: &types.ProcessError{
			Kind:        "fs.PathError",
			Message:     "fork/exec /tmp/script: permission denied",
			Stack:       "syscall.Errno: permission denied",
			OSErrorCode: "EACCES",
		}}, nil
	})

	code, err := h.client.Exec(t.Context(), []string{"/tmp/script"})
	assert.Equal(t, 1, code)
	var remote *codec.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "fs.PathError", remote.Kind)
	assert.Equal(t, "EACCES", remote.OSErrorCode)
	assert.Equal(t, []string{"syscall.Errno: permission denied"}, remote.Trace)
}

func TestExec_Signal(t *testing.T) {
	h := newHarness(func(*types.Envelope) (any, error) {
		return types.ExecResult{Signal: "SIGKILL", Stdout: ptr(""), Stderr: ptr("")}, nil
	})

	code, err := h.client.Exec(t.Context(), []string{"sh", "-c", "kill -9 $$"})
	require.NoError(t, err)
	assert.Equal(t, 137, code)
}

func TestExec_RemoteFailure(t *testing.T) {
	boom := &codec.RemoteError{Kind: types.ErrorKindValidation, Message: "cmd cannot be empty"}
	h := newHarness(func(*types.Envelope) (any, error) { return nil, boom })

	_, err := h.client.Exec(t.Context(), []string{"x"})
	assert.ErrorIs(t, err, boom)

	_, err = h.client.Exec(t.Context(), nil)
	assert.Error(t, err)
	assert.Equal(t, 1, h.endpoint.count(types.ActionExec))
}

// --- upload ---

// agentUpload simulates the endpoint unpacking a staged archive.
func agentUpload(t *testing.T, s *memoryS3, env *types.Envelope) error {
	t.Helper()
	var opts types.UploadOptions
	require.NoError(t, env.DecodeOptions(&opts))
	out, err := s.GetObject(t.Context(), &s3.GetObjectInput{Bucket: &opts.Bucket, Key: &opts.Key})
	if err != nil {
		return err
	}
	return archive.Extract(t.Context(), out.Body, opts.Dest, archive.ExtractOptions{Compressed: true})
}

func TestUpload_EndToEnd(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	mustWrite(t, filepath.Join(local, "fileA.txt"), "A")
	mustWrite(t, filepath.Join(local, "dir", "fileB.txt"), "B")

	var h *harness
	h = newHarness(func(env *types.Envelope) (any, error) {
		require.Equal(t, types.ActionUpload, env.Action)
		return nil, agentUpload(t, h.s3, env)
	})

	args := []string{filepath.Join(local, "fileA.txt"), filepath.Join(local, "dir", "fileB.txt"), remote}
	require.NoError(t, h.client.Upload(t.Context(), args, "staging"))

	a, err := os.ReadFile(filepath.Join(remote, "fileA.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(a))
	b, err := os.ReadFile(filepath.Join(remote, "fileB.txt"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(b))

	assert.Len(t, args, 3, "caller's argument slice must not be modified")
	assert.Equal(t, 0, h.endpoint.count(types.ActionInfo), "explicit bucket skips info")

	status := h.status.String()
	assert.Contains(t, status, "Compressing local files...\n")
	assert.Contains(t, status, " of ???...\n")
	assert.Contains(t, status, "Invoking Lambda to copy files remotely...\n")
	assert.True(t, strings.HasSuffix(status, "All files uploaded\n"))

	snap := h.client.Metrics.Snapshot()
	assert.Equal(t, int64(1), snap.UploadAttempts)
	assert.Equal(t, "staging", snap.Bucket)
	assert.Positive(t, snap.BytesStaged)
}

func TestUpload_RetriesCorruptedArchive(t *testing.T) {
	local := t.TempDir()
	remote := t.TempDir()
	mustWrite(t, filepath.Join(local, "data.bin"), strings.Repeat("x", 4096))

	var h *harness
	failures := 2
	h = newHarness(func(env *types.Envelope) (any, error) {
		if failures > 0 {
			failures--
			return nil, &codec.RemoteError{Kind: types.ErrorKindArchiveCorrupted, Message: "archive corrupted: unexpected EOF"}
		}
		return nil, agentUpload(t, h.s3, env)
	})

	var logs bytes.Buffer
	h.client.Logger = log.NewLoggerWithWriter(&logs, "cmda", zapcore.WarnLevel)

	require.NoError(t, h.client.Upload(t.Context(), []string{filepath.Join(local, "data.bin"), remote}, "staging"))

	assert.Contains(t, logs.String(), "retrying upload (1/3)")
	assert.Contains(t, logs.String(), "retrying upload (2/3)")
	assert.Equal(t, 3, h.endpoint.count(types.ActionUpload))
	require.Len(t, h.s3.keys, 3, "archive is staged again on every attempt")
	assert.Len(t, map[string]bool{h.s3.keys[0]: true, h.s3.keys[1]: true, h.s3.keys[2]: true}, 3)
	for _, key := range h.s3.keys {
		dest := t.TempDir()
		body := bytes.NewReader(h.s3.objects["staging/"+key])
		require.NoError(t, archive.Extract(t.Context(), body, dest, archive.ExtractOptions{Compressed: true}),
			"every staged attempt is a complete archive")
	}
	assert.Contains(t, h.status.String(), "Corrupt tarball, trying again...\n")

	snap := h.client.Metrics.Snapshot()
	assert.Equal(t, int64(3), snap.UploadAttempts)
	assert.Equal(t, int64(2), snap.CorruptionRetries)
}

func TestUpload_GivesUpAfterMaxRetries(t *testing.T) {
	local := t.TempDir()
	mustWrite(t, filepath.Join(local, "f"), "f")

	h := newHarness(func(*types.Envelope) (any, error) {
		return nil, &codec.RemoteError{Kind: "Error", Message: types.LegacyCorruptMessage}
	})

	err := h.client.Upload(t.Context(), []string{filepath.Join(local, "f"), "/tmp"}, "staging")
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, "Reached max number of retries, tarball was corrupted, please try again", err.Error())
	assert.Equal(t, 4, h.endpoint.count(types.ActionUpload))
	assert.Len(t, h.s3.keys, 4)
}

func TestUpload_OtherErrorsAreNotRetried(t *testing.T) {
	local := t.TempDir()
	mustWrite(t, filepath.Join(local, "f"), "f")

	for _, remoteErr := range []error{
		&codec.RemoteError{Kind: "Error", Message: "zlib: unexpected end of file, sort of"},
		&codec.RemoteError{Kind: types.ErrorKindStorage, Message: "access denied"},
		errors.New("connection reset"),
	} {
		h := newHarness(func(*types.Envelope) (any, error) { return nil, remoteErr })

		err := h.client.Upload(t.Context(), []string{filepath.Join(local, "f"), "/tmp"}, "staging")
		assert.ErrorIs(t, err, remoteErr)
		assert.Equal(t, 1, h.endpoint.count(types.ActionUpload))
	}
}

func TestUpload_MissingLocalFile(t *testing.T) {
	h := newHarness(func(*types.Envelope) (any, error) { return nil, nil })

	err := h.client.Upload(t.Context(), []string{filepath.Join(t.TempDir(), "missing"), "/tmp"}, "staging")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, h.endpoint.count(types.ActionUpload))
}

func TestUpload_BucketFromEndpoint(t *testing.T) {
	local := t.TempDir()
	mustWrite(t, filepath.Join(local, "f"), "f")

	var h *harness
	h = newHarness(func(env *types.Envelope) (any, error) {
		switch env.Action {
		case types.ActionInfo:
			return types.InfoResult{Bucket: "from-endpoint"}, nil
		default:
			var opts types.UploadOptions
			require.NoError(t, env.DecodeOptions(&opts))
			assert.Equal(t, "from-endpoint", opts.Bucket)
			return nil, nil
		}
	})

	require.NoError(t, h.client.Upload(t.Context(), []string{filepath.Join(local, "f"), "/tmp"}, ""))
	assert.Contains(t, h.status.String(), "Getting S3 bucket name from Lambda...\n")
	assert.Contains(t, h.s3.objects, "from-endpoint/"+h.s3.keys[0])
}

func TestUpload_NoBucket(t *testing.T) {
	h := newHarness(func(*types.Envelope) (any, error) { return types.InfoResult{}, nil })

	err := h.client.Upload(t.Context(), []string{"f", "/tmp"}, "")
	assert.ErrorIs(t, err, ErrNoBucket)
}

func TestUpload_RequiresDestination(t *testing.T) {
	h := newHarness(func(*types.Envelope) (any, error) { return nil, nil })
	assert.Error(t, h.client.Upload(t.Context(), []string{"only-one"}, "b"))
}

// --- download ---

func TestDownload_EndToEnd(t *testing.T) {
	remote := t.TempDir()
	local := filepath.Join(t.TempDir(), "out")
	mustWrite(t, filepath.Join(remote, "logs", "a.log"), "alpha")
	mustWrite(t, filepath.Join(remote, "b.txt"), "beta")

	var h *harness
	h = newHarness(func(env *types.Envelope) (any, error) {
		require.Equal(t, types.ActionDownload, env.Action)
		var opts types.DownloadOptions
		require.NoError(t, env.DecodeOptions(&opts))
		assert.Empty(t, opts.Bucket)

		body := archive.Build(t.Context(), opts.Files, archive.BuildOptions{Compress: true})
		defer body.Close()
		key, err := newStager(h.s3).Upload(t.Context(), "agent-bucket", body, nil)
		if err != nil {
			return nil, err
		}
		return types.StagedObject{Bucket: "agent-bucket", Key: key}, nil
	})

	args := []string{filepath.Join(remote, "logs"), filepath.Join(remote, "b.txt"), local}
	require.NoError(t, h.client.Download(t.Context(), args, ""))

	a, err := os.ReadFile(filepath.Join(local, "logs", "a.log"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(a))
	b, err := os.ReadFile(filepath.Join(local, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(b))

	status := h.status.String()
	assert.Contains(t, status, "Invoking Lambda to package remote files...\n")
	assert.Contains(t, status, "Downloading from S3...\n")
	assert.True(t, strings.HasSuffix(status, "All files downloaded and unpacked\n"))

	snap := h.client.Metrics.Snapshot()
	assert.Equal(t, int64(3), snap.EntriesExtracted, "logs/, logs/a.log and b.txt")
	assert.Equal(t, "agent-bucket", snap.Bucket)
	assert.Positive(t, snap.BytesFetched)
}

func TestDownload_RemoteFailure(t *testing.T) {
	boom := &codec.RemoteError{Kind: types.ErrorKindValidation, Message: "files cannot be empty"}
	h := newHarness(func(*types.Envelope) (any, error) { return nil, boom })

	err := h.client.Download(t.Context(), []string{"x", t.TempDir()}, "")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.s3.keys)
}

func TestIsCorruption(t *testing.T) {
	assert.True(t, IsCorruption(&codec.RemoteError{Kind: types.ErrorKindArchiveCorrupted, Message: "x"}))
	assert.True(t, IsCorruption(fmt.Errorf("wrapped: %w", &codec.RemoteError{Kind: "Error", Message: "zlib: unexpected end of file"})))
	assert.False(t, IsCorruption(&codec.RemoteError{Kind: "Error", Message: "zlib: unexpected end of file!"}))
	assert.False(t, IsCorruption(errors.New("zlib: unexpected end of file")))
	assert.False(t, IsCorruption(nil))
}
