// Package output handles CLI presentation: JSON responses for tooling and
// plain text summaries for humans.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// TimestampedResponse is embedded in every JSON command response.
type TimestampedResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

// NewTimestamped returns a TimestampedResponse stamped with the current UTC time.
func NewTimestamped() TimestampedResponse {
	return TimestampedResponse{Timestamp: time.Now().UTC()}
}

// ErrorResponse is the JSON shape for command failures.
type ErrorResponse struct {
	TimestampedResponse
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// NewError builds an ErrorResponse from a message.
func NewError(msg string) ErrorResponse {
	return ErrorResponse{
		TimestampedResponse: NewTimestamped(),
		Error:               msg,
		Success:             false,
	}
}

// PrintJSON writes v as indented JSON to stdout.
func PrintJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintWarningf writes a warning line to stderr, prefixed distinctly from errors.
func PrintWarningf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}

// PrintErrorf writes an error line to stderr.
func PrintErrorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// Formatter writes human-readable output to a writer.
type Formatter struct {
	writer io.Writer
	tty    bool
}

// NewFormatter creates a Formatter for w. TTY detection is used by callers
// that want to suppress decorative output when piped.
func NewFormatter(w io.Writer) *Formatter {
	f := &Formatter{writer: w}
	if file, ok := w.(*os.File); ok {
		f.tty = isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
	}
	return f
}

// IsTTY reports whether the formatter's writer is a terminal.
func (f *Formatter) IsTTY() bool { return f.tty }

// Textln outputs formatted text with a newline.
func (f *Formatter) Textln(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format+"\n", args...)
}

// Line outputs a blank line.
func (f *Formatter) Line() {
	fmt.Fprintln(f.writer)
}

// Pluralize returns singular or plural form based on count.
func Pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

// CountStr returns "N item(s)" style strings.
func CountStr(count int, singular, plural string) string {
	return fmt.Sprintf("%d %s", count, Pluralize(count, singular, plural))
}
