package render

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Detailer is implemented by errors that carry a multi-line verbose form.
type Detailer interface {
	Detail() string
}

// ErrorPrinter writes CLI failures. By default only the message is
// printed; verbose mode adds the error's kind and trace when available.
type ErrorPrinter struct {
	w       io.Writer
	verbose bool

	title lipgloss.Style
	trace lipgloss.Style
	hint  lipgloss.Style
}

// NewErrorPrinter creates a printer on w. Colors are used only when w
// supports them and noColor is false.
func NewErrorPrinter(w io.Writer, verbose, noColor bool) *ErrorPrinter {
	renderer := lipgloss.NewRenderer(w)
	p := &ErrorPrinter{
		w:       w,
		verbose: verbose,
		title:   renderer.NewStyle(),
		trace:   renderer.NewStyle(),
		hint:    renderer.NewStyle(),
	}
	if !noColor {
		p.title = p.title.Foreground(lipgloss.Color("9")).Bold(true)
		p.trace = p.trace.Foreground(lipgloss.Color("8"))
		p.hint = p.hint.Foreground(lipgloss.Color("11"))
	}
	return p
}

// Print writes err.
func (p *ErrorPrinter) Print(err error) {
	if err == nil {
		return
	}
	var d Detailer
	if !p.verbose || !errors.As(err, &d) {
		fmt.Fprintln(p.w, err.Error())
		return
	}

	lines := strings.Split(d.Detail(), "\n")
	fmt.Fprintln(p.w, p.title.Render(lines[0]))
	for _, line := range lines[1:] {
		fmt.Fprintln(p.w, p.trace.Render(line))
	}
}

// Hint writes a follow-up suggestion after an error.
func (p *ErrorPrinter) Hint(lines ...string) {
	for _, line := range lines {
		if line == "" {
			fmt.Fprintln(p.w)
			continue
		}
		fmt.Fprintln(p.w, p.hint.Render(line))
	}
}
