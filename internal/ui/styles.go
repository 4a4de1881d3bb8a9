// Package ui renders CLI output: styled for interactive terminals, plain for
// pipes and CI.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette, 256-color terminal codes.
const (
	ColorGreen  = "42"  // success, clean state
	ColorCyan   = "45"  // branch and commit identifiers
	ColorYellow = "220" // warnings, pending changes
	ColorRed    = "196" // errors, conflicts
	ColorGray   = "245" // secondary text
	ColorWhite  = "255" // headers
)

// Styles holds the render styles for one output stream.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Branch  lipgloss.Style
	Commit  lipgloss.Style
	Dim     lipgloss.Style
	Label   lipgloss.Style
}

// DefaultStyles returns the colored styles for interactive terminals.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorRed)),
		Branch:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorCyan)),
		Commit:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns pass-through styles for plain output.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Branch:  lipgloss.NewStyle(),
		Commit:  lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
	}
}

// StylesFor picks styles for the given writer: colored only when it is an
// interactive terminal and NO_COLOR is unset.
func StylesFor(w io.Writer) Styles {
	if DetectNoColor() || !IsTTY(w) {
		return NoColorStyles()
	}
	return DefaultStyles()
}

// IsTTY reports whether the writer is an interactive terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}
