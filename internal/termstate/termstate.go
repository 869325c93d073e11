// Package termstate drives the single-line status bar pinned to the bottom
// of the terminal during long builds.
package termstate

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

const (
	defaultRows = 25
	defaultCols = 80
)

func terminalSize() (rows int, cols int) {
	cols, rows, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil || rows <= 0 || cols <= 0 {
		return defaultRows, defaultCols
	}
	return rows, cols
}

// IsTerminal reports whether stderr is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// SetupScrollRegion reserves the bottom terminal row for the status bar by
// shrinking the scroll region by one line.
func SetupScrollRegion() {
	if !IsTerminal() {
		return
	}
	rows, _ := terminalSize()
	fmt.Fprintf(os.Stderr, "\n\x1b7\x1b[0;%dr\x1b8\x1b[1A", rows-1)
}

// DrawStatusBar paints the status line on the reserved bottom row without
// disturbing the cursor.
func DrawStatusBar(content string) {
	if !IsTerminal() {
		return
	}
	rows, _ := terminalSize()
	fmt.Fprintf(os.Stderr, "\x1b7\x1b[%d;0f\x1b[42m\x1b[0K\x1b[2K", rows)
	fmt.Fprintf(os.Stderr, "\x1b[30m%s", content)
	fmt.Fprint(os.Stderr, "\x1b8")
}

// Restore gives the bottom row back to the terminal and clears the status
// bar. Must run before the process exits, including on interrupt.
func Restore() {
	if !IsTerminal() {
		return
	}
	rows, _ := terminalSize()
	fmt.Fprintf(os.Stderr, "\x1b7\x1b[0;%dr\x1b[%d;0f\x1b[0K\x1b8", rows, rows)
}
