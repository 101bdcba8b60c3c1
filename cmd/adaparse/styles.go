package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	success = lipgloss.Color("#8BC34A")
	warning = lipgloss.Color("#FFC107")
	muted   = lipgloss.Color("#8a94a6")

	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(muted)
)

// printf writes a plain line to w.
func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}

// printField writes an aligned "label value" line.
func printField(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "  %s %v\n", labelStyle.Render(fmt.Sprintf("%-14s", label+":")), value)
}

// printDone writes a success headline.
func printDone(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf(format, args...)))
}

// printWarn writes a warning headline.
func printWarn(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf(format, args...)))
}
