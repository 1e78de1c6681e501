package main

import (
	"fmt"
	"os"
)

// ANSI SGR codes for terminal output. All human-facing messages go to
// stderr so stdout stays clean for piped JSON (patch packs).
const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

func tint(code, s string) string {
	if noColor {
		return s
	}
	return code + s + ansiReset
}

func announce(code, glyph, format string, args ...any) {
	fmt.Fprintln(os.Stderr, tint(code, glyph+" "+fmt.Sprintf(format, args...)))
}

func successf(format string, args ...any) { announce(ansiGreen, "✓", format, args...) }
func failf(format string, args ...any)    { announce(ansiRed, "✗", format, args...) }
func warnf(format string, args ...any)    { announce(ansiYellow, "⚠", format, args...) }
func stepf(format string, args ...any)    { announce(ansiCyan, "→", format, args...) }

// field prints one labelled value of a status report.
func field(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", tint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
