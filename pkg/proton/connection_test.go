// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
)

type fakeTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	mutex  sync.Mutex
	codes  []quic.ApplicationErrorCode
	reason string
}

func newFakeTransport() *fakeTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeTransport{ctx: ctx, cancel: cancel}
}

func (ft *fakeTransport) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
}

func (ft *fakeTransport) Context() context.Context {
	return ft.ctx
}

func (ft *fakeTransport) CloseWithError(code quic.ApplicationErrorCode, reason string) error {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()

	ft.codes = append(ft.codes, code)
	ft.reason = reason
	ft.cancel()
	return nil
}

func (ft *fakeTransport) closeCodes() []quic.ApplicationErrorCode {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()

	return append([]quic.ApplicationErrorCode(nil), ft.codes...)
}

// newPipeConnection builds a Connection over net.Pipe. The returned map holds the listener's ends.
func newPipeConnection(t *testing.T, timeout time.Duration) (*Connection, *fakeTransport, map[Role]net.Conn) {
	cs := new(channelSet)
	peers := make(map[Role]net.Conn)

	for _, role := range roles {
		c, s := net.Pipe()
		t.Cleanup(func() {
			_ = c.Close()
			_ = s.Close()
		})

		cs.set(newChannel(role, c, timeout))
		peers[role] = s
	}

	ft := newFakeTransport()
	return &Connection{client: new(Client), conn: ft, channels: cs}, ft, peers
}

func TestConnectionPartialResponseTimeout(t *testing.T) {
	conn, ft, peers := newPipeConnection(t, 50*time.Millisecond)

	// The listener answers with half a value and stalls.
	go func() {
		event := peers[RoleEvent]
		if _, err := io.ReadFull(event, make([]byte, 4)); err != nil {
			return
		}
		_, _ = event.Write([]byte{0x01, 0x00})
	}()

	if _, err := conn.SendEvent(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected a timeout, got %v", err)
	}

	if codes := ft.closeCodes(); len(codes) != 1 || codes[0] != CodeStreamTimeout {
		t.Fatalf("Expected a single close with code %d, got %v", CodeStreamTimeout, codes)
	}
	select {
	case <-conn.Closed():
	default:
		t.Fatal("Connection is not reported as closed")
	}

	// The rest of the stalled response must never be read as the next acknowledgment.
	go func() { _, _ = peers[RoleEvent].Write([]byte{0x00, 0x00}) }()

	if v, err := conn.SendEvent(); !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected a connection error, got value %d and %v", v, err)
	}
	if _, err := conn.SendStateCommit(7); !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected a connection error on another channel, got %v", err)
	}
	if _, err := conn.ReadAction(); !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected a connection error on another channel, got %v", err)
	}

	if id := conn.client.LastEventID(); id != 1 {
		t.Fatalf("Operations on a closed connection used up event ids, last id is %d", id)
	}

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if codes := ft.closeCodes(); len(codes) != 1 {
		t.Fatalf("Close after a failure closed the transport again: %v", codes)
	}
}

func TestConnectionBrokenStream(t *testing.T) {
	conn, ft, peers := newPipeConnection(t, time.Second)

	_ = peers[RoleStateCommit].Close()

	if _, err := conn.SendStateCommit(1); !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected a connection error, got %v", err)
	}
	if codes := ft.closeCodes(); len(codes) != 1 || codes[0] != CodeStreamError {
		t.Fatalf("Expected a single close with code %d, got %v", CodeStreamError, codes)
	}
}

func TestConnectionClosedKeepsEventID(t *testing.T) {
	conn, ft, _ := newPipeConnection(t, time.Second)

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if codes := ft.closeCodes(); len(codes) != 1 || codes[0] != CodeCompleted {
		t.Fatalf("Expected a single close with code %d, got %v", CodeCompleted, codes)
	}

	for i := 0; i < 3; i++ {
		if _, err := conn.SendEvent(); !errors.Is(err, ErrConnection) {
			t.Fatalf("Expected a connection error, got %v", err)
		}
	}
	if id := conn.client.LastEventID(); id != 0 {
		t.Fatalf("Closed connection used up event ids, last id is %d", id)
	}
}
