// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"context"
	"errors"
	"net"

	"github.com/quic-go/quic-go"
)

// ErrorKind classifies an Error. The set is closed; every failure maps to exactly one kind.
type ErrorKind uint8

const (
	_ ErrorKind = iota

	// IoError is a local I/O failure, e.g., binding a socket or reading a certificate.
	IoError

	// ConnectionError is a failure of the QUIC connection or one of its streams.
	ConnectionError

	// InvalidStream is a protocol violation: an unknown or duplicate discriminator or a non-increasing event id.
	InvalidStream

	// Timeout is an exceeded deadline of a handshake or channel operation.
	Timeout
)

func (kind ErrorKind) String() string {
	switch kind {
	case IoError:
		return "IO error"
	case ConnectionError:
		return "Connection error"
	case InvalidStream:
		return "Invalid stream"
	case Timeout:
		return "Operation timed out"
	default:
		return "Unknown error"
	}
}

// Error is the only error type returned by this package's operations.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

// Sentinels to be used with errors.Is. They match every Error of the same kind.
var (
	ErrIo            = &Error{Kind: IoError}
	ErrConnection    = &Error{Kind: ConnectionError}
	ErrInvalidStream = &Error{Kind: InvalidStream}
	ErrTimeout       = &Error{Kind: Timeout}
)

func NewIoError(msg string, cause error) *Error {
	return &Error{Kind: IoError, Msg: msg, Cause: cause}
}

func NewConnectionError(msg string, cause error) *Error {
	return &Error{Kind: ConnectionError, Msg: msg, Cause: cause}
}

func NewInvalidStream(msg string) *Error {
	return &Error{Kind: InvalidStream, Msg: msg}
}

func NewTimeout(msg string, cause error) *Error {
	return &Error{Kind: Timeout, Msg: msg, Cause: cause}
}

func (err *Error) Error() string {
	s := err.Kind.String()
	if err.Msg != "" {
		s += ": " + err.Msg
	}
	if err.Cause != nil {
		s += ": " + err.Cause.Error()
	}
	return s
}

func (err *Error) Unwrap() error {
	return err.Cause
}

// Is reports whether target is the sentinel of this Error's kind.
func (err *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Cause == nil && t.Kind == err.Kind
}

// Kind of an arbitrary error; zero if err is no Error.
func Kind(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}

// classifyStreamError maps a failed stream read or write. Exceeded deadlines become Timeouts, everything
// else is a ConnectionError. QUIC's idle and handshake timeouts also report as net.Error timeouts, but they
// describe the connection going away and are treated accordingly.
func classifyStreamError(msg string, err error) error {
	if err == nil {
		return nil
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	var (
		idleErr      *quic.IdleTimeoutError
		handshakeErr *quic.HandshakeTimeoutError
		netErr       net.Error
	)
	switch {
	case errors.As(err, &idleErr), errors.As(err, &handshakeErr):
		return NewConnectionError(msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeout(msg, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewTimeout(msg, err)
	default:
		return NewConnectionError(msg, err)
	}
}

// classifyDialError maps failures while establishing the QUIC connection. Only an exceeded caller deadline is a
// Timeout; the transport's own handshake timeout is a ConnectionError.
func classifyDialError(msg string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeout(msg, err)
	}
	return NewConnectionError(msg, err)
}

// transportClosed checks if a stream failed because the whole connection went away, either closed by a peer or
// timed out.
func transportClosed(err error) bool {
	var (
		appErr   *quic.ApplicationError
		idleErr  *quic.IdleTimeoutError
		resetErr *quic.StatelessResetError
	)
	return errors.As(err, &appErr) || errors.As(err, &idleErr) || errors.As(err, &resetErr)
}
