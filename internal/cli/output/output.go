package output

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/muesli/termenv"
)

// Palette used for status prefixes.
const (
	Red    = "#FF5555"
	Green  = "#50FA7B"
	Yellow = "#F1FA8C"
	Cyan   = "#8BE9FD"
	Gray   = "#6272A4"
)

// Output handles CLI output formatting.
type Output struct {
	w        io.Writer
	errW     io.Writer
	jsonMode bool
	profile  termenv.Profile
}

// New creates an Output writing to w and errW. Colors follow the terminal
// behind w and are disabled by NO_COLOR or TERM=dumb.
func New(w, errW io.Writer, jsonMode bool) *Output {
	profile := termenv.NewOutput(w).EnvColorProfile()
	if os.Getenv("TERM") == "dumb" {
		profile = termenv.Ascii
	}
	return &Output{w: w, errW: errW, jsonMode: jsonMode, profile: profile}
}

// NewWriter creates an uncolored Output on w. Errors go to w as well.
func NewWriter(w io.Writer, jsonMode bool) *Output {
	return &Output{w: w, errW: w, jsonMode: jsonMode, profile: termenv.Ascii}
}

// JSONMode reports whether human-readable output is suppressed.
func (o *Output) JSONMode() bool {
	return o.jsonMode
}

func (o *Output) color(hex, text string) string {
	if o.profile == termenv.Ascii {
		return text
	}
	return termenv.String(text).Foreground(o.profile.Color(hex)).String()
}

func (o *Output) bold(text string) string {
	if o.profile == termenv.Ascii {
		return text
	}
	return termenv.String(text).Bold().String()
}

// Success prints a success message.
func (o *Output) Success(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.w, o.color(Green, "✓ ")+format+"\n", args...)
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.errW, o.color(Red, "✗ ")+format+"\n", args...)
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.w, o.color(Yellow, "! ")+format+"\n", args...)
}

// Info prints an info message.
func (o *Output) Info(format string, args ...any) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.w, o.color(Cyan, "→ ")+format+"\n", args...)
}

// Header prints a header.
func (o *Output) Header(text string) {
	if o.jsonMode {
		return
	}
	fmt.Fprintln(o.w, o.bold(text))
}

// KeyValue prints a key-value pair.
func (o *Output) KeyValue(key, value string) {
	if o.jsonMode {
		return
	}
	fmt.Fprintf(o.w, "  %s: %s\n", o.color(Gray, key), value)
}

// Divider prints a divider line.
func (o *Output) Divider() {
	if o.jsonMode {
		return
	}
	fmt.Fprintln(o.w, o.color(Gray, "─────────────────────────────────────────"))
}

// JSON prints data as indented JSON regardless of mode.
func (o *Output) JSON(data any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
