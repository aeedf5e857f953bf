package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the mcpecho banner and a one-line summary to w.
// Callers pass stderr so the stdio transport keeps stdout clean.
func PrintBanner(w io.Writer, version, summary string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()

	lines := []struct {
		text  string
		color string
	}{
		{"                               _          ", "#38bdf8"},
		{"  _ __ ___   ___ _ __   ___  ___| |__   ___  ", "#22d3ee"},
		{" | '_ ` _ \\ / __| '_ \\ / _ \\/ __| '_ \\ / _ \\ ", "#2dd4bf"},
		{" | | | | | | (__| |_) |  __/ (__| | | | (_) |", "#34d399"},
		{" |_| |_| |_|\\___| .__/ \\___|\\___|_| |_|\\___/ ", "#4ade80"},
		{"                |_|                          ", "#a3e635"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, out.String(" "+version).Faint(), " ", summary)
	fmt.Fprintln(w)
}
