// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
)

// ServerConfig configures a Server. Start from DefaultServerConfig.
type ServerConfig struct {
	// ListenAddress is the UDP address to listen on, e.g., "127.0.0.1:4433".
	ListenAddress string

	// StartupDelay is waited before the first connection is accepted.
	StartupDelay time.Duration

	// HandshakeTimeout bounds each stream's acceptance and discriminator.
	HandshakeTimeout time.Duration
	// StreamTimeout bounds each read and write on an established channel.
	StreamTimeout time.Duration

	IdleTimeout time.Duration
	KeepAlive   time.Duration

	// RejectCode is sent to connections refused by the admission control.
	RejectCode quic.ApplicationErrorCode

	// SerialAccept makes the accept loop wait for each connection's handler. The QUIC listener keeps
	// completing handshakes in the background, so further clients queue up instead of being rejected.
	SerialAccept bool

	// CertFile and KeyFile hold a PEM certificate and key. If both are empty, a self-signed certificate is
	// generated.
	CertFile string
	KeyFile  string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddress:    "127.0.0.1:4433",
		StartupDelay:     StartupDelay,
		HandshakeTimeout: HandshakeTimeout,
		StreamTimeout:    StreamTimeout,
		IdleTimeout:      IdleTimeout,
		KeepAlive:        KeepAlivePeriod,
		RejectCode:       CodeRejected,
	}
}

// Validate checks for inconsistent values and reports all of them at once.
func (conf ServerConfig) Validate() error {
	var errs error

	if conf.ListenAddress == "" {
		errs = multierror.Append(errs, fmt.Errorf("listen address is empty"))
	}
	if conf.StartupDelay < 0 {
		errs = multierror.Append(errs, fmt.Errorf("startup delay %v is negative", conf.StartupDelay))
	}
	errs = validateTimeouts(errs, conf.HandshakeTimeout, conf.StreamTimeout, conf.IdleTimeout, conf.KeepAlive)
	if (conf.CertFile == "") != (conf.KeyFile == "") {
		errs = multierror.Append(errs, fmt.Errorf("certificate and key file must be configured together"))
	}

	return errs
}

// ClientConfig configures a Client. Start from DefaultClientConfig.
type ClientConfig struct {
	// BindAddress is the local UDP address, reused for every connection.
	BindAddress string

	// ServerName is verified against the server's certificate.
	ServerName string

	// StartupDelay is Connect's delay before dialing.
	StartupDelay time.Duration

	StreamTimeout time.Duration
	IdleTimeout   time.Duration
	KeepAlive     time.Duration

	// CAFile replaces the system's trust anchors, if set.
	CAFile string

	// InsecureSkipVerify accepts any server certificate. It must be enabled explicitly.
	InsecureSkipVerify bool

	// MaxConnectRetries and ConnectRetryDelay are meant for a retry wrapper around Connect. The Client itself
	// does not retry.
	MaxConnectRetries int
	ConnectRetryDelay time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BindAddress:       "0.0.0.0:0",
		ServerName:        "localhost",
		StartupDelay:      StartupDelay,
		StreamTimeout:     StreamTimeout,
		IdleTimeout:       IdleTimeout,
		KeepAlive:         KeepAlivePeriod,
		MaxConnectRetries: MaxConnectRetries,
		ConnectRetryDelay: ConnectRetryDelay,
	}
}

// Validate checks for inconsistent values and reports all of them at once.
func (conf ClientConfig) Validate() error {
	var errs error

	if conf.BindAddress == "" {
		errs = multierror.Append(errs, fmt.Errorf("bind address is empty"))
	}
	if conf.StartupDelay < 0 {
		errs = multierror.Append(errs, fmt.Errorf("startup delay %v is negative", conf.StartupDelay))
	}
	errs = validateTimeouts(errs, HandshakeTimeout, conf.StreamTimeout, conf.IdleTimeout, conf.KeepAlive)
	if conf.MaxConnectRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("max connect retries %d is negative", conf.MaxConnectRetries))
	}
	if conf.InsecureSkipVerify && conf.CAFile != "" {
		errs = multierror.Append(errs, fmt.Errorf("a CA file is pointless while skipping verification"))
	}

	return errs
}

func validateTimeouts(errs error, handshake, stream, idle, keepAlive time.Duration) error {
	if handshake <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("handshake timeout %v must be positive", handshake))
	}
	if stream <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("stream timeout %v must be positive", stream))
	}
	if idle <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("idle timeout %v must be positive", idle))
	}
	if keepAlive <= 0 || keepAlive >= idle {
		errs = multierror.Append(errs, fmt.Errorf("keep-alive %v must be positive and below the idle timeout %v", keepAlive, idle))
	}
	return errs
}
