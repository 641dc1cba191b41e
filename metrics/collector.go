// Package metrics provides per-operation transfer metrics.
//
// The Collector accumulates counters during a single CLI operation (one exec,
// upload or download). It is a leaf package with no internal dependencies.
// The client logs the final Snapshot at debug level.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all transfer metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Endpoint invocations
	Invocations        int64
	InvocationFailures int64

	// Staging
	UploadAttempts    int64
	CorruptionRetries int64
	BytesStaged       int64
	BytesFetched      int64

	// Archive
	EntriesExtracted int64

	// Dimensions (informational, set at construction)
	Operation    string
	FunctionName string
	Bucket       string
}

// Fields returns the snapshot as structured log fields.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"operation":           s.Operation,
		"function":            s.FunctionName,
		"bucket":              s.Bucket,
		"invocations":         s.Invocations,
		"invocation_failures": s.InvocationFailures,
		"upload_attempts":     s.UploadAttempts,
		"corruption_retries":  s.CorruptionRetries,
		"bytes_staged":        s.BytesStaged,
		"bytes_fetched":       s.BytesFetched,
		"entries_extracted":   s.EntriesExtracted,
	}
}

// Collector accumulates metrics during a single operation.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	invocations        int64
	invocationFailures int64

	uploadAttempts    int64
	corruptionRetries int64
	bytesStaged       int64
	bytesFetched      int64

	entriesExtracted int64

	operation    string
	functionName string
	bucket       string
}

// NewCollector creates a Collector with dimension labels.
// bucket may be empty when it is resolved later via SetBucket.
func NewCollector(operation, functionName, bucket string) *Collector {
	return &Collector{
		operation:    operation,
		functionName: functionName,
		bucket:       bucket,
	}
}

// SetBucket records the staging bucket once it has been resolved.
func (c *Collector) SetBucket(bucket string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bucket = bucket
	c.mu.Unlock()
}

// --- Invocations ---

// IncInvocation records an endpoint invocation.
func (c *Collector) IncInvocation() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.invocations++
	c.mu.Unlock()
}

// IncInvocationFailure records an invocation that returned an error.
func (c *Collector) IncInvocationFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.invocationFailures++
	c.mu.Unlock()
}

// --- Staging ---
// An attempt covers build, stage and remote unpack. A corruption retry is
// counted when an attempt is abandoned and started over.

// IncUploadAttempt records the start of an upload attempt.
func (c *Collector) IncUploadAttempt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadAttempts++
	c.mu.Unlock()
}

// IncCorruptionRetry records an upload retried after a corrupted archive.
func (c *Collector) IncCorruptionRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.corruptionRetries++
	c.mu.Unlock()
}

// AddBytesStaged adds n bytes written to the staging store.
func (c *Collector) AddBytesStaged(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.bytesStaged += n
	c.mu.Unlock()
}

// AddBytesFetched adds n bytes read from the staging store.
func (c *Collector) AddBytesFetched(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.mu.Lock()
	c.bytesFetched += n
	c.mu.Unlock()
}

// --- Archive ---

// IncEntryExtracted records one archive entry unpacked locally.
func (c *Collector) IncEntryExtracted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entriesExtracted++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Invocations:        c.invocations,
		InvocationFailures: c.invocationFailures,

		UploadAttempts:    c.uploadAttempts,
		CorruptionRetries: c.corruptionRetries,
		BytesStaged:       c.bytesStaged,
		BytesFetched:      c.bytesFetched,

		EntriesExtracted: c.entriesExtracted,

		Operation:    c.operation,
		FunctionName: c.functionName,
		Bucket:       c.bucket,
	}
}
