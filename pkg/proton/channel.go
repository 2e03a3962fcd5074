// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"io"
	"sync"
	"time"

	"github.com/dtn7/proton-go/pkg/proton/internal/wire"
)

// Stream is the part of a quic.Stream a channel needs. A net.Conn satisfies it as well.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// channel is a Stream bound to a Role. Every read and write gets its own deadline.
type channel struct {
	role    Role
	stream  Stream
	timeout time.Duration

	// mutex serializes request/response exchanges on the dialer's side.
	mutex sync.Mutex
}

func newChannel(role Role, stream Stream, timeout time.Duration) *channel {
	return &channel{
		role:    role,
		stream:  stream,
		timeout: timeout,
	}
}

func (ch *channel) read(what string) (uint32, error) {
	if err := ch.stream.SetReadDeadline(time.Now().Add(ch.timeout)); err != nil {
		return 0, classifyStreamError("setting read deadline", err)
	}

	v, err := wire.ReadUint32(ch.stream)
	if err != nil {
		return 0, classifyStreamError("reading "+what, err)
	}
	return v, nil
}

func (ch *channel) write(what string, v uint32) error {
	if err := ch.stream.SetWriteDeadline(time.Now().Add(ch.timeout)); err != nil {
		return classifyStreamError("setting write deadline", err)
	}

	return classifyStreamError("writing "+what, wire.WriteUint32(ch.stream, v))
}

// exchange sends a request and waits for its response.
func (ch *channel) exchange(what string, request uint32) (uint32, error) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if err := ch.write(what, request); err != nil {
		return 0, err
	}
	return ch.read(what + " response")
}

// abort unblocks pending reads and writes.
func (ch *channel) abort() {
	now := time.Now()
	_ = ch.stream.SetReadDeadline(now)
	_ = ch.stream.SetWriteDeadline(now)
}

// channelSet holds one channel per Role.
type channelSet struct {
	channels [len(roles)]*channel
}

func (cs *channelSet) get(role Role) *channel {
	if !role.Valid() {
		return nil
	}
	return cs.channels[role-RoleEvent]
}

func (cs *channelSet) set(ch *channel) {
	cs.channels[ch.role-RoleEvent] = ch
}

// complete checks if all three Roles are bound.
func (cs *channelSet) complete() bool {
	for _, ch := range cs.channels {
		if ch == nil {
			return false
		}
	}
	return true
}

func (cs *channelSet) abort() {
	for _, ch := range cs.channels {
		if ch != nil {
			ch.abort()
		}
	}
}

func (cs *channelSet) close() {
	for _, ch := range cs.channels {
		if ch != nil {
			_ = ch.stream.Close()
		}
	}
}
