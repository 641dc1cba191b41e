// Package iox provides I/O helpers for resource cleanup and byte accounting.
package iox

import (
	"io"
	"sync/atomic"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CountingReader counts bytes read through it and reports the running total.
// OnRead receives the cumulative count after every non-empty read and once
// more with eof=true when the underlying reader is exhausted.
type CountingReader struct {
	R      io.Reader
	OnRead func(total int64, eof bool)

	n   atomic.Int64
	err atomic.Pointer[error]
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	total := c.n.Load()
	if n > 0 {
		total = c.n.Add(int64(n))
	}
	if err != nil && err != io.EOF {
		c.err.CompareAndSwap(nil, &err)
	}
	if c.OnRead != nil && (n > 0 || err == io.EOF) {
		c.OnRead(total, err == io.EOF)
	}
	return n, err
}

// Err returns the first error other than io.EOF returned by R, or nil.
func (c *CountingReader) Err() error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Count returns the number of bytes read so far.
func (c *CountingReader) Count() int64 {
	return c.n.Load()
}
