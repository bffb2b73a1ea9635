// Package pinentry drives a gpg pinentry program for password prompts
package pinentry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrNotFound is returned when no pinentry program could be located.
var ErrNotFound = errors.New("pinentry program not found")

var knownPrograms = []string{
	"pinentry",
	"pinentry-gnome3",
	"pinentry-kde",
	"pinentry-x11",
	"pinentry-curses",
	"pinentry-tty",
}

var cachedProgram string

// Password asks a pinentry program for a password. The program named by
// $PINENTRY is used when set, otherwise the well known names are searched
// on the path. ErrNotFound is returned when nothing usable exists.
//
// A user cancelling the dialog is not an error, it comes back as an empty
// string with a nil error.
func Password(prompt string) (password string, err error) {
	program := lookupProgram()
	if len(program) == 0 {
		return "", ErrNotFound
	}

	cmd := exec.Command(program, "--ttyname", "/dev/tty")
	cmd.Stderr = os.Stderr

	var in io.WriteCloser
	var out io.ReadCloser
	if in, err = cmd.StdinPipe(); err != nil {
		return "", fmt.Errorf("failed to open pinentry stdin: %w", err)
	}
	if out, err = cmd.StdoutPipe(); err != nil {
		return "", fmt.Errorf("failed to open pinentry stdout: %w", err)
	}

	if err = cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start pinentry: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to communicate with pinentry: %v", r)
		}
	}()

	scanner := bufio.NewScanner(out)
	readLine := func() string {
		if !scanner.Scan() {
			if e := scanner.Err(); e != nil {
				panic(e)
			}
			panic("failed to scan line")
		}
		return scanner.Text()
	}

	if readLine() != "OK Pleased to meet you" {
		return "", errors.New("rogue pinentry program")
	}

	setup := []string{
		"SETTITLE maguard password entry\n",
		fmt.Sprintf("SETDESC %s\n", prompt),
		"OPTION lc-ctype UTF-8\n",
	}
	if term := os.Getenv("TERM"); len(term) != 0 {
		setup = append(setup, fmt.Sprintf("OPTION ttytype %s\n", term))
	}
	if display := os.Getenv("DISPLAY"); len(display) != 0 {
		setup = append(setup, fmt.Sprintf("OPTION display %s\n", display))
	}

	for _, s := range setup {
		mustWrite(in.Write([]byte(s)))

		if readLine() != "OK" {
			return "", fmt.Errorf("failed setting option (%s): %w", s, err)
		}
	}

	mustWrite(fmt.Fprintln(in, "GETPIN"))

	resp := readLine()
	switch {
	case strings.HasPrefix(resp, "D "):
		password = resp[2:]
		resp = readLine()
	case strings.HasPrefix(resp, "ERR") && strings.Contains(resp, "Operation cancelled"):
		return "", nil
	}
	if resp != "OK" {
		return "", fmt.Errorf("rogue pinentry program")
	}

	mustWrite(fmt.Fprintln(in, "BYE"))

	if err = cmd.Wait(); err != nil {
		return "", err
	}

	return password, nil
}

func lookupProgram() string {
	if program := os.Getenv("PINENTRY"); len(program) != 0 {
		return program
	}

	if len(cachedProgram) == 0 {
		for _, p := range knownPrograms {
			if _, err := exec.LookPath(p); err == nil {
				cachedProgram = p
				break
			}
		}
	}

	return cachedProgram
}

func mustWrite(_ int, err error) {
	if err != nil {
		panic(err)
	}
}
