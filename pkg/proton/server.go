// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/proton-go/pkg/proton/internal/tlsconf"
)

// Outcome of a single incoming connection, as reported by Server.Outcomes.
type Outcome struct {
	Peer     string
	Rejected bool
	Code     quic.ApplicationErrorCode
	Reason   string
	Err      error
}

func (o Outcome) String() string {
	return fmt.Sprintf("Outcome{Peer: %s, Rejected: %t, Code: %d, Reason: %q, Err: %v}",
		o.Peer, o.Rejected, o.Code, o.Reason, o.Err)
}

// Server accepts Proton connections and serves one of them at a time.
type Server struct {
	conf     ServerConfig
	listener *quic.Listener

	admission *AdmissionControl
	registry  *prometheus.Registry
	metrics   *Metrics

	outcomes chan Outcome

	handlers  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewServer validates conf and starts listening. Failures to set up TLS or the UDP socket are IoErrors.
func NewServer(conf ServerConfig) (*Server, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	tlsConf, err := tlsconf.ListenerConfig(ALPN, conf.CertFile, conf.KeyFile)
	if err != nil {
		return nil, NewIoError("configuring TLS", err)
	}

	listener, err := quic.ListenAddr(conf.ListenAddress, tlsConf,
		tlsconf.QUICConfig(conf.IdleTimeout, conf.KeepAlive, MaxBidirectionalStreams))
	if err != nil {
		return nil, NewIoError("listening on "+conf.ListenAddress, err)
	}

	registry := prometheus.NewRegistry()

	return &Server{
		conf:      conf,
		listener:  listener,
		admission: NewAdmissionControl(),
		registry:  registry,
		metrics:   NewMetrics(registry),
		outcomes:  make(chan Outcome, 32),
	}, nil
}

func (srv *Server) log() *log.Entry {
	return log.WithField("address", srv.listener.Addr().String())
}

// Addr the Server listens on.
func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// Admission exposes the Server's admission slot, e.g., for status reports.
func (srv *Server) Admission() *AdmissionControl {
	return srv.admission
}

// Registry holding the Server's metrics.
func (srv *Server) Registry() *prometheus.Registry {
	return srv.registry
}

// Outcomes reports each handled connection. Outcomes are dropped while nobody reads this channel and its buffer
// is full.
func (srv *Server) Outcomes() <-chan Outcome {
	return srv.outcomes
}

// Run the accept loop until ctx is done or the Server is closed. Handlers still running are awaited.
func (srv *Server) Run(ctx context.Context) error {
	defer srv.handlers.Wait()

	if srv.conf.StartupDelay > 0 {
		srv.log().WithField("delay", srv.conf.StartupDelay).Info("Waiting for startup delay")

		select {
		case <-time.After(srv.conf.StartupDelay):
		case <-ctx.Done():
			return nil
		}
	}

	srv.log().Info("Listening for Proton connections")

	for {
		conn, err := srv.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || err.Error() == "quic: Server closed" {
				srv.log().Info("Shutting down accept loop")
				return nil
			}

			srv.log().WithError(err).Error("Accepting QUIC connection errored")
			return NewConnectionError("accepting connection", err)
		}

		srv.log().WithField("peer", conn.RemoteAddr()).Info("Accepted new connection")

		done := make(chan struct{})
		srv.handlers.Add(1)
		go func() {
			defer srv.handlers.Done()
			defer close(done)

			srv.report(srv.handleConnection(ctx, conn))
		}()

		if srv.conf.SerialAccept {
			<-done
			srv.log().Debug("Connection cleanup complete, ready for new connections")
		}
	}
}

// handleConnection admits or rejects conn, serves it and closes it with the matching code.
func (srv *Server) handleConnection(ctx context.Context, conn quic.Connection) Outcome {
	outcome := Outcome{Peer: conn.RemoteAddr().String()}
	logger := log.WithField("peer", outcome.Peer)

	lease, err := srv.admission.TryAcquire(outcome.Peer)
	if err != nil {
		logger.Warn("Rejecting connection: another client is already connected")

		outcome.Rejected = true
		outcome.Code, outcome.Reason, outcome.Err = srv.conf.RejectCode, ReasonRejected, err
		_ = conn.CloseWithError(outcome.Code, outcome.Reason)

		srv.metrics.rejected()
		return outcome
	}

	srv.metrics.admitted()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.CloseWithError(CodeCompleted, ReasonShutdown)
		case <-stop:
		}
	}()

	outcome.Code, outcome.Reason, outcome.Err = srv.serve(ctx, conn, lease)
	close(stop)

	// The lease is released at this point, a new client may connect as soon as it sees this close.
	_ = conn.CloseWithError(outcome.Code, outcome.Reason)
	srv.metrics.closed(outcome.Code)

	entry := logger.WithFields(log.Fields{
		"code":   outcome.Code,
		"reason": outcome.Reason,
	})
	if outcome.Err != nil {
		entry.WithError(outcome.Err).Error("Connection closed after failure")
	} else {
		entry.Info("Connection closed")
	}

	return outcome
}

// serve performs the handshake and runs the session while holding the lease.
func (srv *Server) serve(ctx context.Context, conn quic.Connection, lease *Lease) (
	code quic.ApplicationErrorCode, reason string, err error) {

	defer srv.metrics.released()
	defer lease.Release()

	channels, code, reason, err := acceptChannels(ctx, conn, srv.conf.HandshakeTimeout, srv.conf.StreamTimeout)
	if err != nil {
		log.WithFields(log.Fields{
			"peer":  lease.Peer(),
			"code":  code,
			"error": err,
		}).Warn("Stream handshake failed")
		return
	}
	defer channels.close()

	log.WithField("peer", lease.Peer()).Info("All streams established")

	err = newSession(lease.Peer(), channels, srv.metrics).run(conn.Context().Done())
	code, reason = closeCode(err)
	return
}

// closeCode for a session's result.
func closeCode(err error) (quic.ApplicationErrorCode, string) {
	switch {
	case err == nil:
		return CodeCompleted, ReasonCompleted
	case errors.Is(err, ErrTimeout):
		return CodeStreamTimeout, ReasonStreamTimeout
	default:
		return CodeStreamError, ReasonStreamError
	}
}

func (srv *Server) report(outcome Outcome) {
	select {
	case srv.outcomes <- outcome:
	default:
		srv.log().WithField("outcome", outcome).Debug("Dropping outcome, nobody is listening")
	}
}

// Close the listener. Running connections are closed by the QUIC stack. Calling Close again does nothing.
func (srv *Server) Close() error {
	srv.closeOnce.Do(func() {
		srv.log().Info("Shutting ourselves down")
		srv.closeErr = srv.listener.Close()
	})
	return srv.closeErr
}
