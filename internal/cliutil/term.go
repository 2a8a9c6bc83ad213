package cliutil

import (
	"io"
	"os"

	"golang.org/x/term"
)

// IsInteractive reports whether the writer is attached to a terminal.
func IsInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
