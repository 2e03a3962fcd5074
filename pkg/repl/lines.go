// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// scannerLineReader reads lines from a non-interactive input, e.g., a pipe or a file.
type scannerLineReader struct {
	scanner *bufio.Scanner
	prompt  func()
}

// NewLineReader reads lines from in, printing prompt to out before each line.
func NewLineReader(in io.Reader, out io.Writer, prompt string) LineReader {
	return &scannerLineReader{
		scanner: bufio.NewScanner(in),
		prompt:  func() { _, _ = fmt.Fprint(out, prompt) },
	}
}

func (s *scannerLineReader) ReadLine() (string, error) {
	s.prompt()

	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	} else if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Terminal wraps stdin and stdout into a line editor with history, if stdin is a terminal.
type Terminal struct {
	*term.Terminal

	fd    int
	state *term.State
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// OpenTerminal switches stdin into raw mode. False is returned if stdin is no terminal.
func OpenTerminal(prompt string) (*Terminal, bool, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, false, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, false, err
	}

	return &Terminal{
		Terminal: term.NewTerminal(stdio{}, prompt),
		fd:       fd,
		state:    state,
	}, true, nil
}

// Close restores the terminal's previous state.
func (t *Terminal) Close() error {
	return term.Restore(t.fd, t.state)
}
