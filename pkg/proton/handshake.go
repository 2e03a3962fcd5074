// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dtn7/proton-go/pkg/proton/internal/wire"
)

// bind reads the stream's discriminator and stores it as the channel for its Role. Nothing but the
// discriminator is consumed. Unknown and duplicate Roles are rejected without binding anything.
func (cs *channelSet) bind(stream Stream, handshakeTimeout, streamTimeout time.Duration) (Role, error) {
	if err := stream.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return 0, classifyStreamError("setting read deadline", err)
	}

	b, err := wire.ReadRole(stream)
	if err != nil {
		return 0, classifyStreamError("reading stream discriminator", err)
	}

	role := Role(b)
	switch {
	case !role.Valid():
		return role, NewInvalidStream(fmt.Sprintf("unknown stream discriminator 0x%02x", b))
	case cs.get(role) != nil:
		return role, NewInvalidStream(fmt.Sprintf("duplicate %v stream", role))
	}

	if err := stream.SetReadDeadline(time.Time{}); err != nil {
		return role, classifyStreamError("resetting read deadline", err)
	}

	cs.set(newChannel(role, stream, streamTimeout))
	return role, nil
}

// streamAcceptor is implemented by quic.Connection.
type streamAcceptor interface {
	AcceptStream(ctx context.Context) (quic.Stream, error)
}

// acceptChannels performs the listener's side of the handshake: exactly three streams are accepted one after
// another, each within handshakeTimeout. The returned close code describes a failure.
func acceptChannels(ctx context.Context, conn streamAcceptor, handshakeTimeout, streamTimeout time.Duration) (
	cs *channelSet, code quic.ApplicationErrorCode, reason string, err error) {

	cs = new(channelSet)

	for established := 0; established < len(roles); established++ {
		acceptCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		stream, acceptErr := conn.AcceptStream(acceptCtx)
		cancel()

		if acceptErr != nil {
			if errors.Is(acceptErr, context.DeadlineExceeded) {
				return nil, CodeStreamSetupTimeout, ReasonStreamSetupTimeout,
					NewTimeout("waiting for stream establishment", acceptErr)
			}
			return nil, CodeStreamAcceptError, ReasonStreamAcceptError,
				NewConnectionError("accepting stream", acceptErr)
		}

		if _, bindErr := cs.bind(stream, handshakeTimeout, streamTimeout); bindErr != nil {
			stream.CancelRead(streamSetupFailed)
			stream.CancelWrite(streamSetupFailed)
			return nil, CodeStreamSetupError, ReasonStreamSetupError, bindErr
		}
	}

	return cs, CodeCompleted, ReasonCompleted, nil
}

// streamSetupFailed resets a stream whose discriminator was rejected.
const streamSetupFailed quic.StreamErrorCode = 1

// streamOpener is implemented by quic.Connection.
type streamOpener interface {
	OpenStreamSync(ctx context.Context) (quic.Stream, error)
}

// openChannels performs the dialer's side of the handshake: one fresh stream per Role in the order Event,
// StateCommit, Action, each announced by its discriminator.
func openChannels(ctx context.Context, conn streamOpener, streamTimeout time.Duration) (*channelSet, error) {
	cs := new(channelSet)

	for _, role := range roles {
		openCtx, cancel := context.WithTimeout(ctx, streamTimeout)
		stream, err := conn.OpenStreamSync(openCtx)
		cancel()
		if err != nil {
			return nil, classifyStreamError(fmt.Sprintf("opening %v stream", role), err)
		}

		if err := stream.SetWriteDeadline(time.Now().Add(streamTimeout)); err != nil {
			return nil, classifyStreamError("setting write deadline", err)
		}
		if err := wire.WriteRole(stream, byte(role)); err != nil {
			return nil, classifyStreamError(fmt.Sprintf("announcing %v stream", role), err)
		}

		cs.set(newChannel(role, stream, streamTimeout))
	}

	return cs, nil
}
