// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tlsconf builds the TLS and QUIC configurations used by Proton's listener and dialer.
package tlsconf

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// GenerateSelfSigned creates a PEM encoded certificate and key pair for the given hosts.
// The certificate is its own CA, so its PEM can be handed to a dialer as trust anchor.
func GenerateSelfSigned(hosts ...string) (certPEM, keyPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("generating private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, fmt.Errorf("generating serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "proton"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("generating certificate: %w", err)
	}

	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	return
}

// ListenerConfig loads the certificate from certFile and keyFile. If both are empty, an ephemeral self-signed
// certificate for localhost is generated instead.
func ListenerConfig(alpn, certFile, keyFile string) (*tls.Config, error) {
	var (
		certPEM, keyPEM []byte
		err             error
	)

	switch {
	case certFile == "" && keyFile == "":
		log.Debug("No certificate configured, generating a self-signed one")
		if certPEM, keyPEM, err = GenerateSelfSigned("localhost", "127.0.0.1", "::1"); err != nil {
			return nil, err
		}

	case certFile == "" || keyFile == "":
		return nil, fmt.Errorf("both a certificate and a key file are required")

	default:
		if certPEM, err = os.ReadFile(certFile); err != nil {
			return nil, err
		}
		if keyPEM, err = os.ReadFile(keyFile); err != nil {
			return nil, err
		}
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("combining certificate and key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// DialerOptions controls how the dialer verifies the listener's certificate.
type DialerOptions struct {
	// ServerName is checked against the presented certificate.
	ServerName string

	// CAFile is a PEM bundle used instead of the system roots, if set.
	CAFile string

	// InsecureSkipVerify disables all certificate checks. Only meant for local testing.
	InsecureSkipVerify bool
}

// DialerConfig creates the dialer's TLS config. Verification is enabled unless explicitly switched off.
func DialerConfig(alpn string, opts DialerOptions) (*tls.Config, error) {
	conf := &tls.Config{
		ServerName: opts.ServerName,
		NextProtos: []string{alpn},
		MinVersion: tls.VersionTLS13,
	}

	if opts.InsecureSkipVerify {
		log.WithField("server-name", opts.ServerName).Warn("Server certificate verification is disabled")
		conf.InsecureSkipVerify = true
		return conf, nil
	}

	if opts.CAFile != "" {
		caPEM, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, err
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificate found in %s", opts.CAFile)
		}
		conf.RootCAs = pool
	}

	return conf, nil
}

// QUICConfig for both sides of a Proton connection. Unidirectional streams are not allowed at all.
func QUICConfig(idleTimeout, keepAlive time.Duration, bidiStreams int64) *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout:  idleTimeout,
		MaxIdleTimeout:        idleTimeout,
		KeepAlivePeriod:       keepAlive,
		EnableDatagrams:       false,
		MaxIncomingStreams:    bidiStreams,
		MaxIncomingUniStreams: -1,
	}
}
