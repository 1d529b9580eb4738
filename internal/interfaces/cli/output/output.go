// Package output renders CLI status lines and tables.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Symbol names understood by every theme.
const (
	SymbolSuccess    = "success"
	SymbolError      = "error"
	SymbolWarning    = "warning"
	SymbolInfo       = "info"
	SymbolProcessing = "processing"
	SymbolFileSaved  = "file_saved"
	SymbolResults    = "results"
	SymbolBullet     = "bullet"
)

// Themes maps a theme name to its symbols.
var Themes = map[string]map[string]string{
	"default": {
		SymbolSuccess:    "✓",
		SymbolError:      "✗",
		SymbolWarning:    "⚠",
		SymbolInfo:       "ℹ",
		SymbolProcessing: "…",
		SymbolFileSaved:  "💾",
		SymbolResults:    "▸",
		SymbolBullet:     "•",
	},
	"ascii": {
		SymbolSuccess:    "[ok]",
		SymbolError:      "[err]",
		SymbolWarning:    "[warn]",
		SymbolInfo:       "[info]",
		SymbolProcessing: "[..]",
		SymbolFileSaved:  "[saved]",
		SymbolResults:    ">",
		SymbolBullet:     "*",
	},
	"minimal": {},
}

// Output writes themed messages. Status messages go to the error writer so
// rendered HTML on the main writer stays clean.
type Output struct {
	symbols      map[string]string
	writer       io.Writer
	errorWriter  io.Writer
	enableColors bool
	styles       styles
}

type styles struct {
	success lipgloss.Style
	error   lipgloss.Style
	warning lipgloss.Style
	info    lipgloss.Style
	muted   lipgloss.Style
	header  lipgloss.Style
}

func newStyles() styles {
	return styles{
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		info:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
	}
}

// New creates an Output for the named theme. Unknown names fall back to
// "default" with an error.
func New(theme string) (*Output, error) {
	var err error
	symbols, ok := Themes[theme]
	if !ok {
		err = fmt.Errorf("unknown theme %q", theme)
		symbols = Themes["default"]
	}
	return &Output{
		symbols:      symbols,
		writer:       os.Stdout,
		errorWriter:  os.Stderr,
		enableColors: true,
		styles:       newStyles(),
	}, err
}

func (o *Output) clone() *Output {
	c := *o
	return &c
}

// WithWriter sets the output writer.
func (o *Output) WithWriter(w io.Writer) *Output {
	c := o.clone()
	c.writer = w
	return c
}

// WithErrorWriter sets the status writer.
func (o *Output) WithErrorWriter(w io.Writer) *Output {
	c := o.clone()
	c.errorWriter = w
	return c
}

// WithColors enables or disables colored output.
func (o *Output) WithColors(enable bool) *Output {
	c := o.clone()
	c.enableColors = enable
	return c
}

// Writer returns the main writer.
func (o *Output) Writer() io.Writer { return o.writer }

// Symbol returns the theme symbol for name, or "".
func (o *Output) Symbol(name string) string { return o.symbols[name] }

func (o *Output) Success(format string, args ...any) {
	o.status(o.errorWriter, SymbolSuccess, o.styles.success, format, args...)
}

func (o *Output) Error(format string, args ...any) {
	o.status(o.errorWriter, SymbolError, o.styles.error, format, args...)
}

func (o *Output) Warning(format string, args ...any) {
	o.status(o.errorWriter, SymbolWarning, o.styles.warning, format, args...)
}

func (o *Output) Info(format string, args ...any) {
	o.status(o.errorWriter, SymbolInfo, o.styles.info, format, args...)
}

func (o *Output) Processing(format string, args ...any) {
	o.status(o.errorWriter, SymbolProcessing, o.styles.muted, format, args...)
}

func (o *Output) FileSaved(format string, args ...any) {
	o.status(o.errorWriter, SymbolFileSaved, o.styles.success, format, args...)
}

// Results writes to the main writer.
func (o *Output) Results(format string, args ...any) {
	o.status(o.writer, SymbolResults, o.styles.header, format, args...)
}

// Plain writes to the main writer without decoration.
func (o *Output) Plain(format string, args ...any) {
	fmt.Fprintf(o.writer, format, args...)
}

// Header writes a bold line to the main writer.
func (o *Output) Header(format string, args ...any) {
	fmt.Fprintln(o.writer, o.render(o.styles.header, fmt.Sprintf(format, args...)))
}

func (o *Output) status(w io.Writer, symbol string, style lipgloss.Style, format string, args ...any) {
	var b strings.Builder
	if s := o.symbols[symbol]; s != "" {
		b.WriteString(s)
		b.WriteString(" ")
	}
	b.WriteString(fmt.Sprintf(format, args...))
	line := o.render(style, strings.TrimSuffix(b.String(), "\n"))
	fmt.Fprintln(w, line)
}

func (o *Output) render(style lipgloss.Style, s string) string {
	if !o.enableColors {
		return s
	}
	return style.Render(s)
}

// Table writes rows as left-aligned columns under a bold header.
func (o *Output) Table(header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	fmt.Fprintln(o.writer, o.render(o.styles.header, line(header)))
	for _, row := range rows {
		fmt.Fprintln(o.writer, line(row))
	}
}
