package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format is an output format name.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatTable, FormatJSON, FormatYAML}

// ParseFormat validates a format name. Matching is case-insensitive.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// Structured reports whether the format is meant for machines.
func (f Format) Structured() bool {
	return f == FormatJSON || f == FormatYAML
}

// Formatter formats data for output.
type Formatter interface {
	Format(w io.Writer, data any) error
}

// NewFormatter creates a formatter for the given format. Unknown formats
// fall back to a table.
func NewFormatter(format Format, wide bool) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{Wide: wide}
	}
}

// Printer writes results and notices for one command invocation.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	format Format
	f      Formatter
}

// NewPrinter creates a printer writing results to out and notices to errOut.
// For tables, cells are cut to the terminal width when out is a terminal.
func NewPrinter(out, errOut io.Writer, format Format, wide bool) *Printer {
	f := NewFormatter(format, wide)
	if tf, ok := f.(*TableFormatter); ok && !wide {
		tf.MaxWidth = cellWidth(out)
	}
	return &Printer{out: out, errOut: errOut, format: format, f: f}
}

// Format returns the printer's format.
func (p *Printer) Format() Format {
	return p.format
}

// Print renders data in the configured format.
func (p *Printer) Print(data any) error {
	return p.f.Format(p.out, data)
}

// Notice writes a human-oriented line. Structured formats send it to
// errOut so stdout only carries the document.
func (p *Printer) Notice(format string, args ...any) {
	w := p.out
	if p.format.Structured() {
		w = p.errOut
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// Spinner returns a spinner on errOut, or a silent one for structured
// formats or when errOut is not a terminal.
func (p *Printer) Spinner(message string) *Spinner {
	if p.format.Structured() || !IsTerminal(p.errOut) {
		return NewSpinner(io.Discard, message)
	}
	return NewSpinner(p.errOut, message)
}

// Progress returns a progress bar on errOut, or a silent one under the
// same conditions as Spinner.
func (p *Printer) Progress(title string) *ProgressBar {
	if p.format.Structured() || !IsTerminal(p.errOut) {
		return NewProgressBar(io.Discard, title)
	}
	return NewProgressBar(p.errOut, title)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// cellWidth derives a cell limit from the terminal width. Zero means
// unlimited.
func cellWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return max(width/2, 20)
}
