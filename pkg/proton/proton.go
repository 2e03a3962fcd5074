// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated during the TLS handshake.
const ALPN = "proton"

const (
	// MaxBidirectionalStreams is the number of streams a peer may open, one per Role.
	MaxBidirectionalStreams = 3

	// MaxConnections the Server serves at the same time.
	MaxConnections = 1

	// MaxConnectRetries and ConnectRetryDelay are carried in the ClientConfig for a retry wrapper. Neither
	// Client.Connect nor any channel operation retries on its own.
	MaxConnectRetries = 5
	ConnectRetryDelay = 2 * time.Second

	// IdleTimeout of the QUIC connection.
	IdleTimeout = 5 * time.Second

	// KeepAlivePeriod must stay below IdleTimeout.
	KeepAlivePeriod = 1 * time.Second

	// StartupDelay gives a previous connection on the same address the chance to time out on the server.
	StartupDelay = 2 * IdleTimeout

	// HandshakeTimeout bounds the acceptance and classification of each of the three streams.
	HandshakeTimeout = 5 * time.Second

	// StreamTimeout bounds every single read or write on an established channel.
	StreamTimeout = 5 * time.Minute

	// ActionProbe is the request value a Client sends on the Action channel.
	ActionProbe uint32 = 42
)

// Role of a stream, announced by its discriminator byte.
type Role byte

const (
	RoleEvent       Role = 1
	RoleStateCommit Role = 2
	RoleAction      Role = 3
)

// roles in the order a Client opens them.
var roles = [...]Role{RoleEvent, RoleStateCommit, RoleAction}

// Valid checks if this Role is one of the three known ones.
func (r Role) Valid() bool {
	return r >= RoleEvent && r <= RoleAction
}

func (r Role) String() string {
	switch r {
	case RoleEvent:
		return "event"
	case RoleStateCommit:
		return "state-commit"
	case RoleAction:
		return "action"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(r))
	}
}

// Application error codes used when the Server closes a connection.
const (
	CodeCompleted          quic.ApplicationErrorCode = 0
	CodeStreamSetupError   quic.ApplicationErrorCode = 1
	CodeStreamAcceptError  quic.ApplicationErrorCode = 2
	CodeStreamSetupTimeout quic.ApplicationErrorCode = 3
	CodeStreamTimeout      quic.ApplicationErrorCode = 4
	CodeStreamError        quic.ApplicationErrorCode = 5

	// CodeRejected is sent to a connection arriving while another one is served. Earlier servers used
	// CodeCompleted for this; ServerConfig.RejectCode allows switching back.
	CodeRejected quic.ApplicationErrorCode = 6
)

// Human-readable close reasons.
const (
	ReasonCompleted          = "Streams completed"
	ReasonStreamSetupError   = "Stream setup error"
	ReasonStreamAcceptError  = "Stream accept error"
	ReasonStreamSetupTimeout = "Stream setup timeout"
	ReasonStreamTimeout      = "Stream operation timeout"
	ReasonStreamError        = "Stream error"
	ReasonRejected           = "Another client is already connected"
	ReasonClientClosed       = "Client closed connection"
	ReasonShutdown           = "Server shutting down"
)
