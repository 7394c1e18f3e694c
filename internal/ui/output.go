// Package ui provides styled messages and table output for the pluginator CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const colorReset = "\033[0m"

// Theme is the ANSI palette used for message prefixes and status labels. An
// empty code prints the text unstyled.
type Theme struct {
	Success string
	Warning string
	Error   string
	Info    string
	Bold    string
}

// Themes selectable with the THEME setting.
var themes = map[string]Theme{
	"default": {
		Success: "\033[32m",
		Warning: "\033[33m",
		Error:   "\033[31m",
		Info:    "\033[36m",
		Bold:    "\033[1m",
	},
	"bright": {
		Success: "\033[92m",
		Warning: "\033[93m",
		Error:   "\033[91m",
		Info:    "\033[96m",
		Bold:    "\033[1m",
	},
	"mono": {},
}

// ThemeByName returns the named theme. Unknown names fall back to the
// default theme and report false.
func ThemeByName(name string) (Theme, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}

	t, ok := themes[name]
	if !ok {
		return themes["default"], false
	}

	return t, true
}

// Writer provides styled output methods that respect color settings.
type Writer struct {
	out    io.Writer
	errOut io.Writer
	theme  Theme
}

// NewWriter creates a Writer that writes to stdout/stderr with the named
// theme. Color is disabled when noColor is true or NO_COLOR is set.
func NewWriter(noColor bool, theme string) *Writer {
	t, _ := ThemeByName(theme)
	if noColor || os.Getenv("NO_COLOR") != "" {
		t = themes["mono"]
	}

	return &Writer{out: os.Stdout, errOut: os.Stderr, theme: t}
}

// NewWriterWithOutputs creates a Writer with custom output destinations and
// the default theme. Intended for testing.
func NewWriterWithOutputs(out, errOut io.Writer, noColor bool) *Writer {
	t := themes["default"]
	if noColor {
		t = themes["mono"]
	}

	return &Writer{out: out, errOut: errOut, theme: t}
}

// Success prints a success message with a checkmark prefix.
func (w *Writer) Success(msg string) {
	writeLine(w.out, w.styled(w.theme.Success, "✓"), msg)
}

// Warning prints a warning message to stderr.
func (w *Writer) Warning(msg string) {
	writeLine(w.errOut, w.styled(w.theme.Warning, "warning:"), msg)
}

// Error prints an error message to stderr.
func (w *Writer) Error(msg string) {
	writeLine(w.errOut, w.styled(w.theme.Error, "error:"), msg)
}

// Info prints an informational message.
func (w *Writer) Info(msg string) {
	writeLine(w.out, w.styled(w.theme.Info, "info:"), msg)
}

// Bold returns text in bold.
func (w *Writer) Bold(msg string) string {
	return w.styled(w.theme.Bold, msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Infof prints a formatted informational message.
func (w *Writer) Infof(format string, args ...any) {
	w.Info(fmt.Sprintf(format, args...))
}

func (w *Writer) styled(code, text string) string {
	if code == "" {
		return text
	}

	return code + text + colorReset
}

func writeLine(out io.Writer, prefix, msg string) {
	// Best effort: there is nowhere left to report a failing terminal.
	_, _ = fmt.Fprintf(out, "%s %s\n", prefix, msg)
}
