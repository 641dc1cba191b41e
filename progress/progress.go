// Package progress renders the single status line shown while the CLI
// stages files.
//
// On an interactive terminal each line replaces the previous one in place.
// Elsewhere every distinct line is printed on its own row.
package progress

import (
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/lambci/cmda/types"
)

// clearLine erases the current terminal line and returns the cursor to
// column one.
const clearLine = "\x1b[2K\x1b[G"

// unknownSize is printed in place of a total that is not known yet.
const unknownSize = "???"

// Reporter writes status lines. A nil Reporter is valid and prints nothing.
type Reporter struct {
	mu        sync.Mutex
	w         io.Writer
	overwrite bool
	disabled  bool
	last      string
	open      bool
}

// New creates a Reporter on w. When overwrite is set each line replaces
// the previous one using terminal control sequences.
func New(w io.Writer, overwrite bool) *Reporter {
	return &Reporter{w: w, overwrite: overwrite}
}

// ForTerminal creates a Reporter on f, overwriting lines only when f is a
// terminal and NO_COLOR is unset. Quiet disables all output.
func ForTerminal(f *os.File, quiet bool) *Reporter {
	if quiet {
		return Discard()
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	return New(f, IsTerminal(f) && !noColor)
}

// Discard returns a Reporter that prints nothing.
func Discard() *Reporter {
	return &Reporter{w: io.Discard, disabled: true}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Line shows msg as the current status. Repeating the current line is a
// no-op.
func (r *Reporter) Line(msg string) {
	if r == nil || r.disabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open && msg == r.last {
		return
	}
	if r.overwrite {
		_, _ = io.WriteString(r.w, clearLine+msg)
	} else {
		_, _ = io.WriteString(r.w, msg+"\n")
	}
	r.last = msg
	r.open = true
}

// Done shows msg as the final status and terminates the line.
func (r *Reporter) Done(msg string) {
	if r == nil || r.disabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overwrite {
		_, _ = io.WriteString(r.w, clearLine+msg+"\n")
	} else {
		_, _ = io.WriteString(r.w, msg+"\n")
	}
	r.last = ""
	r.open = false
}

// Clear terminates a pending overwritable line without printing a status,
// so that subsequent output starts on a fresh row.
func (r *Reporter) Clear() {
	if r == nil || r.disabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open && r.overwrite {
		_, _ = io.WriteString(r.w, clearLine)
	}
	r.last = ""
	r.open = false
}

// Progress shows an upload progress line.
func (r *Reporter) Progress(p types.Progress) {
	r.Line(FormatProgress(p))
}

// FormatSize renders n bytes in SI units, e.g. "1.2 MB".
// Negative sizes are unknown and render as a placeholder.
func FormatSize(n int64) string {
	if n < 0 {
		return unknownSize
	}
	return humanize.Bytes(uint64(n))
}

// FormatProgress renders a progress snapshot as a status line.
func FormatProgress(p types.Progress) string {
	total := unknownSize
	if p.TotalKnown() {
		total = FormatSize(p.Total)
	}
	return "Uploaded " + FormatSize(p.Sent) + " of " + total + "..."
}
