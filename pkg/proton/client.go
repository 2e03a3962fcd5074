// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/proton-go/pkg/proton/internal/tlsconf"
)

// Client dials Proton servers from a single local UDP socket. Its event id counter outlives every Connection,
// so reconnecting continues the sequence.
type Client struct {
	conf     ClientConfig
	tlsConf  *tls.Config
	quicConf *quic.Config
	pconn    net.PacketConn

	eventMutex  sync.Mutex
	lastEventID uint32
}

// NewClient validates conf and binds the local socket. Failing to bind is an IoError.
func NewClient(conf ClientConfig) (*Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}

	tlsConf, err := tlsconf.DialerConfig(ALPN, tlsconf.DialerOptions{
		ServerName:         conf.ServerName,
		CAFile:             conf.CAFile,
		InsecureSkipVerify: conf.InsecureSkipVerify,
	})
	if err != nil {
		return nil, NewIoError("configuring TLS", err)
	}

	bindAddr, err := net.ResolveUDPAddr("udp", conf.BindAddress)
	if err != nil {
		return nil, NewIoError("resolving bind address", err)
	}
	pconn, err := net.ListenUDP("udp", bindAddr)
	if err != nil {
		return nil, NewIoError("binding "+conf.BindAddress, err)
	}

	return &Client{
		conf:     conf,
		tlsConf:  tlsConf,
		quicConf: tlsconf.QUICConfig(conf.IdleTimeout, conf.KeepAlive, MaxBidirectionalStreams),
		pconn:    pconn,
	}, nil
}

// Config this Client was created with.
func (client *Client) Config() ClientConfig {
	return client.conf
}

// LocalAddr of the Client's socket.
func (client *Client) LocalAddr() net.Addr {
	return client.pconn.LocalAddr()
}

// LastEventID is the id of the most recent event sent, zero if none was sent yet.
func (client *Client) LastEventID() uint32 {
	client.eventMutex.Lock()
	defer client.eventMutex.Unlock()

	return client.lastEventID
}

// ResetEventID restarts the event sequence; the next event will have id 1. A server only accepts this on a
// new connection.
func (client *Client) ResetEventID() {
	client.eventMutex.Lock()
	defer client.eventMutex.Unlock()

	client.lastEventID = 0
}

func (client *Client) nextEventID() uint32 {
	client.eventMutex.Lock()
	defer client.eventMutex.Unlock()

	client.lastEventID++
	return client.lastEventID
}

// Connect to serverAddr after the configured StartupDelay.
func (client *Client) Connect(ctx context.Context, serverAddr string) (*Connection, error) {
	return client.ConnectAfter(ctx, serverAddr, client.conf.StartupDelay)
}

// ConnectAfter waits delay, dials serverAddr and opens the three channels. A zero delay connects immediately.
func (client *Client) ConnectAfter(ctx context.Context, serverAddr string, delay time.Duration) (*Connection, error) {
	logger := log.WithField("server", serverAddr)

	if delay > 0 {
		logger.WithField("delay", delay).Info("Waiting for startup delay")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, classifyDialError("waiting for startup delay", ctx.Err())
		}
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, NewConnectionError("resolving server address", err)
	}

	conn, err := quic.Dial(ctx, client.pconn, remoteAddr, client.tlsConf, client.quicConf)
	if err != nil {
		return nil, classifyDialError("dialing "+serverAddr, err)
	}
	logger.Info("Connected to server")

	channels, err := openChannels(ctx, conn, client.conf.StreamTimeout)
	if err != nil {
		logger.WithError(err).Warn("Establishing streams failed")
		_ = conn.CloseWithError(CodeStreamSetupError, ReasonStreamSetupError)
		return nil, err
	}
	logger.Info("All streams established")

	return &Connection{
		client:   client,
		conn:     conn,
		channels: channels,
	}, nil
}

// Close the Client's socket. Connections must be closed before.
func (client *Client) Close() error {
	return client.pconn.Close()
}

// transport is the part of a quic.Connection a Connection needs after the handshake.
type transport interface {
	RemoteAddr() net.Addr
	Context() context.Context
	CloseWithError(quic.ApplicationErrorCode, string) error
}

// Connection is an established Proton connection on the dialer's side. The channel operations may be called
// concurrently; operations on the same channel are serialized.
//
// The first failed operation closes the Connection. A timed out read may have consumed parts of a response, so
// none of the channels is used again.
type Connection struct {
	client   *Client
	conn     transport
	channels *channelSet

	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *Connection) log() *log.Entry {
	return log.WithField("server", c.conn.RemoteAddr().String())
}

// RemoteAddr of the server.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) usable() error {
	if c.closed.Load() {
		return NewConnectionError("connection is closed", nil)
	}
	return nil
}

func (c *Connection) exchange(role Role, what string, request uint32) (uint32, error) {
	if err := c.usable(); err != nil {
		return 0, err
	}

	v, err := c.channels.get(role).exchange(what, request)
	if err != nil {
		c.fail(err)
	}
	return v, err
}

// fail closes the Connection with the close code matching err.
func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		code, reason := closeCode(err)
		c.log().WithFields(log.Fields{
			"code":  code,
			"error": err,
		}).Warn("Closing connection after failed operation")
		_ = c.conn.CloseWithError(code, reason)
	})
}

// SendEvent sends the Client's next event id and returns the server's acknowledgment. A closed Connection does not
// use up an event id.
func (c *Connection) SendEvent() (uint32, error) {
	if err := c.usable(); err != nil {
		return 0, err
	}
	eventID := c.client.nextEventID()

	ack, err := c.exchange(RoleEvent, "event", eventID)
	if err != nil {
		c.log().WithField("event", eventID).WithError(err).Warn("Failed to send event")
		return 0, err
	}

	c.log().WithFields(log.Fields{
		"event": eventID,
		"ack":   ack,
	}).Debug("Event acknowledged")
	return ack, nil
}

// SendStateCommit sends commitID and returns the server's response.
func (c *Connection) SendStateCommit(commitID uint32) (uint32, error) {
	response, err := c.exchange(RoleStateCommit, "state commit", commitID)
	if err != nil {
		c.log().WithField("commit", commitID).WithError(err).Warn("Failed to send state commit")
		return 0, err
	}

	c.log().WithFields(log.Fields{
		"commit":   commitID,
		"response": response,
	}).Debug("State commit completed")
	return response, nil
}

// ReadAction requests the next action from the server.
func (c *Connection) ReadAction() (uint32, error) {
	action, err := c.exchange(RoleAction, "action request", ActionProbe)
	if err != nil {
		c.log().WithError(err).Warn("Failed to read action")
		return 0, err
	}

	c.log().WithField("action", action).Debug("Received action")
	return action, nil
}

// Closed is done as soon as the connection is gone, closed by either side or timed out.
func (c *Connection) Closed() <-chan struct{} {
	return c.conn.Context().Done()
}

// Close the connection with code 0. Closing an already closed Connection does nothing.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.log().Info("Closing connection")
		_ = c.conn.CloseWithError(CodeCompleted, ReasonClientClosed)
	})
	return nil
}
