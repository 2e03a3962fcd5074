// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package repl implements the interactive Proton client shell.
//
// A line holds one or more commands separated by semicolons. Each command may be prefixed with a repeat count,
// e.g., "connect 0; 3 send_event; commit 7".
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/proton-go/pkg/proton"
)

// Session is an established connection, e.g., a *proton.Connection.
type Session interface {
	SendEvent() (uint32, error)
	SendStateCommit(commitID uint32) (uint32, error)
	ReadAction() (uint32, error)
	Close() error
}

// Connector creates Sessions and owns the event id sequence.
type Connector interface {
	Connect(ctx context.Context, delay time.Duration) (Session, error)
	ResetEventID()
}

// LineReader is satisfied by *term.Terminal and by NewLineReader's result.
type LineReader interface {
	ReadLine() (string, error)
}

// Repl executes commands against a Connector and prints one result line per command to out.
type Repl struct {
	connector Connector
	delay     time.Duration
	out       io.Writer

	session Session
}

// New Repl. The connect command waits delay unless it is given its own delay.
func New(connector Connector, delay time.Duration, out io.Writer) *Repl {
	return &Repl{
		connector: connector,
		delay:     delay,
		out:       out,
	}
}

func (r *Repl) printf(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format+"\n", a...)
}

// Connected checks for an established Session.
func (r *Repl) Connected() bool {
	return r.session != nil
}

// PrintHelp lists all commands.
func (r *Repl) PrintHelp() {
	r.printf("Available commands:")
	r.printf("  connect [delay]  - Connect to the server, optionally after delay seconds")
	r.printf("  send_event       - Send an event")
	r.printf("  commit <id>      - Send a state commit with given ID")
	r.printf("  read_action      - Read an action from server")
	r.printf("  close            - Close the connection")
	r.printf("  sleep <secs>     - Sleep for specified seconds")
	r.printf("  reset            - Close the connection and restart event IDs at 1")
	r.printf("  help             - Show this help message")
	r.printf("  exit             - Exit the REPL")
	r.printf("")
	r.printf("Commands can be chained with semicolons and prefixed with a repeat count:")
	r.printf("  Example: connect 0; 3 send_event; sleep 2; read_action")
}

// Run reads lines until exit, EOF or ctx is done. An open Session is closed before returning.
func (r *Repl) Run(ctx context.Context, lines LineReader) error {
	defer r.closeSession()

	r.printf("Starting REPL client mode...")
	r.PrintHelp()

	for ctx.Err() == nil {
		line, err := lines.ReadLine()
		if errors.Is(err, io.EOF) {
			r.printf("Goodbye!")
			return nil
		} else if err != nil {
			return err
		}

		if !r.Execute(ctx, line) {
			return nil
		}
	}
	return nil
}

// Execute a line of chained commands. False is returned after the exit command.
func (r *Repl) Execute(ctx context.Context, line string) bool {
	for _, segment := range strings.Split(line, ";") {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}

		repeat := 1
		if n, err := strconv.Atoi(fields[0]); err == nil && len(fields) > 1 {
			if n < 1 {
				r.printf("Invalid repeat count %d", n)
				continue
			}
			repeat, fields = n, fields[1:]
		}

		for i := 0; i < repeat; i++ {
			if !r.command(ctx, fields[0], fields[1:]) {
				return false
			}
		}
	}
	return true
}

func (r *Repl) command(ctx context.Context, name string, args []string) bool {
	switch name {
	case "help":
		r.PrintHelp()

	case "connect":
		r.connect(ctx, args)

	case "send_event":
		r.withSession(func(s Session) {
			if ack, err := s.SendEvent(); err != nil {
				r.failed("Failed to send event", err)
			} else {
				r.printf("Event acknowledged with ID: %d", ack)
			}
		})

	case "commit":
		commitID, err := parseUint32(args)
		if err != nil {
			r.printf("Invalid commit ID. Usage: commit <number>")
			break
		}
		r.withSession(func(s Session) {
			if resp, err := s.SendStateCommit(commitID); err != nil {
				r.failed("Failed to commit state", err)
			} else {
				r.printf("State commit response: %d", resp)
			}
		})

	case "read_action":
		r.withSession(func(s Session) {
			if action, err := s.ReadAction(); err != nil {
				r.failed("Failed to read action", err)
			} else {
				r.printf("Received action: %d", action)
			}
		})

	case "close":
		if r.session == nil {
			r.printf("Not connected!")
		} else {
			r.closeSession()
			r.printf("Connection closed.")
		}

	case "sleep":
		r.sleep(ctx, args)

	case "reset":
		r.closeSession()
		r.connector.ResetEventID()
		r.printf("Client reset, the next event ID is 1.")

	case "exit":
		r.closeSession()
		r.printf("Goodbye!")
		return false

	default:
		r.printf("Unknown command. Type 'help' for available commands.")
	}

	return true
}

func (r *Repl) connect(ctx context.Context, args []string) {
	if r.session != nil {
		r.printf("Already connected! Close the current connection first.")
		return
	}

	delay := r.delay
	if len(args) > 0 {
		var err error
		if delay, err = parseSeconds(args); err != nil {
			r.printf("Invalid delay. Usage: connect [seconds]")
			return
		}
	}

	r.printf("Connecting to server...")
	session, err := r.connector.Connect(ctx, delay)
	if err != nil {
		r.printf("Failed to connect: %v", err)
		return
	}

	r.session = session
	r.printf("Connected successfully!")
}

func (r *Repl) sleep(ctx context.Context, args []string) {
	d, err := parseSeconds(args)
	if err != nil {
		r.printf("Invalid sleep duration. Usage: sleep <seconds>")
		return
	}

	r.printf("Sleeping for %v...", d)
	select {
	case <-time.After(d):
		r.printf("Awake!")
	case <-ctx.Done():
		r.printf("Sleep interrupted.")
	}
}

func (r *Repl) withSession(f func(Session)) {
	if r.session == nil {
		r.printf("Not connected! Use 'connect' first.")
		return
	}
	f(r.session)
}

// failed reports err and drops the Session. After a timeout a late response may still be in flight, so the
// Session cannot be used any further.
func (r *Repl) failed(what string, err error) {
	r.printf("%s: %v", what, err)

	r.closeSession()
	if errors.Is(err, proton.ErrTimeout) {
		r.printf("Connection closed after the timeout, use 'connect' to reconnect.")
	} else {
		r.printf("Connection lost, use 'connect' to reconnect.")
	}
}

func (r *Repl) closeSession() {
	if r.session == nil {
		return
	}

	if err := r.session.Close(); err != nil {
		log.WithError(err).Debug("Closing session errored")
	}
	r.session = nil
}

func parseUint32(args []string) (uint32, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one argument")
	}
	v, err := strconv.ParseUint(args[0], 10, 32)
	return uint32(v), err
}

// maxSeconds is the longest duration a time.Duration holds.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

func parseSeconds(args []string) (time.Duration, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one argument")
	}

	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, err
	} else if secs < 0 {
		return 0, fmt.Errorf("negative duration %v", secs)
	} else if secs > maxSeconds || math.IsNaN(secs) {
		return 0, fmt.Errorf("duration %v exceeds %v seconds", secs, maxSeconds)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
