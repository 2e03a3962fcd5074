// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/dtn7/proton-go/pkg/proton/internal/wire"
)

// newPipeSession binds all three roles over net.Pipe and returns the listener's session together with the
// dialer's channels.
func newPipeSession(t *testing.T, streamTimeout time.Duration) (*session, map[Role]*channel) {
	cs := new(channelSet)
	dialer := make(map[Role]*channel)

	for _, role := range roles {
		c, s := net.Pipe()
		t.Cleanup(func() {
			_ = c.Close()
			_ = s.Close()
		})

		go func(role Role) { _ = wire.WriteRole(c, byte(role)) }(role)

		if bound, err := cs.bind(s, time.Second, streamTimeout); err != nil {
			t.Fatal(err)
		} else if bound != role {
			t.Fatalf("Bound %v, expected %v", bound, role)
		}

		dialer[role] = newChannel(role, c, time.Second)
	}

	if !cs.complete() {
		t.Fatal("Channel set is incomplete")
	}

	return newSession("pipe", cs, nil), dialer
}

func runSession(sess *session, closed <-chan struct{}) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- sess.run(closed) }()
	return errCh
}

func awaitSession(t *testing.T, errCh <-chan error) error {
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Session did not finish")
		return nil
	}
}

func TestSessionRoundTrip(t *testing.T) {
	sess, dialer := newPipeSession(t, time.Second)
	closed := make(chan struct{})
	errCh := runSession(sess, closed)

	for id := uint32(1); id <= 7; id++ {
		if ack, err := dialer[RoleEvent].exchange("event", id); err != nil {
			t.Fatal(err)
		} else if ack != id {
			t.Fatalf("Event %d acknowledged with %d", id, ack)
		}
	}

	if resp, err := dialer[RoleStateCommit].exchange("state commit", 7); err != nil {
		t.Fatal(err)
	} else if resp != 9 {
		t.Fatalf("State commit 7 answered with %d", resp)
	}

	for expected := uint32(0); expected < 3; expected++ {
		if action, err := dialer[RoleAction].exchange("action", ActionProbe); err != nil {
			t.Fatal(err)
		} else if action != expected {
			t.Fatalf("Expected action %d, got %d", expected, action)
		}
	}

	close(closed)
	if err := awaitSession(t, errCh); err != nil {
		t.Fatalf("Closed transport resulted in %v", err)
	}
}

func TestSessionStateCommitTransform(t *testing.T) {
	sess, dialer := newPipeSession(t, time.Second)
	closed := make(chan struct{})
	errCh := runSession(sess, closed)

	for _, commit := range []uint32{0, 1, 2, 41, 1 << 16, 1<<31 - 1, math.MaxUint32 - 2} {
		if resp, err := dialer[RoleStateCommit].exchange("state commit", commit); err != nil {
			t.Fatal(err)
		} else if resp != commit+2 {
			t.Fatalf("State commit %d answered with %d", commit, resp)
		}
	}

	close(closed)
	_ = awaitSession(t, errCh)
}

func TestSessionActionIgnoresRequest(t *testing.T) {
	sess, dialer := newPipeSession(t, time.Second)
	closed := make(chan struct{})
	errCh := runSession(sess, closed)

	for i, request := range []uint32{99, 0, 99, math.MaxUint32, 7} {
		if action, err := dialer[RoleAction].exchange("action", request); err != nil {
			t.Fatal(err)
		} else if action != uint32(i) {
			t.Fatalf("Request %d: expected action %d, got %d", request, i, action)
		}
	}

	close(closed)
	_ = awaitSession(t, errCh)
}

func TestSessionEventMonotonicity(t *testing.T) {
	tests := []struct {
		name string
		ids  []uint32
	}{
		{"repeated", []uint32{1, 2, 5, 5}},
		{"decreasing", []uint32{3, 10, 4}},
		{"zero", []uint32{0}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sess, dialer := newPipeSession(t, time.Second)
			errCh := runSession(sess, make(chan struct{}))

			last := len(test.ids) - 1
			for _, id := range test.ids[:last] {
				if ack, err := dialer[RoleEvent].exchange("event", id); err != nil {
					t.Fatal(err)
				} else if ack != id {
					t.Fatalf("Event %d acknowledged with %d", id, ack)
				}
			}

			if err := dialer[RoleEvent].write("event", test.ids[last]); err != nil {
				t.Fatal(err)
			}

			if err := awaitSession(t, errCh); !errors.Is(err, ErrInvalidStream) {
				t.Fatalf("Expected an invalid stream, got %v", err)
			}
		})
	}
}

func TestSessionOperationTimeout(t *testing.T) {
	sess, _ := newPipeSession(t, 50*time.Millisecond)
	errCh := runSession(sess, make(chan struct{}))

	err := awaitSession(t, errCh)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected a timeout, got %v", err)
	}

	if code, _ := closeCode(err); code != CodeStreamTimeout {
		t.Fatalf("Timeout closes with code %d", code)
	}
}

func TestSessionBrokenStream(t *testing.T) {
	sess, dialer := newPipeSession(t, time.Second)
	errCh := runSession(sess, make(chan struct{}))

	_ = dialer[RoleStateCommit].stream.Close()

	err := awaitSession(t, errCh)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Expected a connection error, got %v", err)
	}

	if code, _ := closeCode(err); code != CodeStreamError {
		t.Fatalf("Broken stream closes with code %d", code)
	}
}

func TestSessionUnboundRole(t *testing.T) {
	cs := new(channelSet)

	c, s := net.Pipe()
	defer func() {
		_ = c.Close()
		_ = s.Close()
	}()

	go func() { _ = wire.WriteRole(c, byte(RoleEvent)) }()
	if _, err := cs.bind(s, time.Second, time.Second); err != nil {
		t.Fatal(err)
	}

	errCh := runSession(newSession("pipe", cs, nil), make(chan struct{}))
	if err := awaitSession(t, errCh); err != nil {
		t.Fatalf("Unbound roles resulted in %v", err)
	}
}

func TestCloseCode(t *testing.T) {
	tests := []struct {
		err  error
		code uint64
	}{
		{nil, 0},
		{NewTimeout("reading event", nil), 4},
		{NewInvalidStream("event 1 does not follow event 2"), 5},
		{NewConnectionError("reading event", nil), 5},
	}

	for _, test := range tests {
		if code, _ := closeCode(test.err); uint64(code) != test.code {
			t.Fatalf("%v closes with %d, expected %d", test.err, code, test.code)
		}
	}
}
