package main

import (
	"errors"
	"io"
)

// Sentinel errors the line editors translate their library-specific
// interrupt/eof signals into.
var (
	ErrInterrupt = errors.New("Interrupt")
	ErrEnd       = io.EOF
)

// LineEditor is the terminal input surface the repl runs against. An
// implementation supplies history, cursor movement and hidden entry as far
// as its backing library allows.
type LineEditor interface {
	// Line reads a single line of input from the user.
	Line(prompt string) (string, error)
	// LineHidden reads a line without echoing the typed characters,
	// for passwords and codes.
	LineHidden(prompt string) (string, error)

	// AddHistory records line in the editor's history. Only lines that
	// parsed as valid commands should be added.
	AddHistory(line string)

	// SetEntryCompleter installs a completion source for account names.
	SetEntryCompleter(func(string) []string)

	// Close releases the editor and restores the terminal state.
	Close() error
}
