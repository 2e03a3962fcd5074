// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/proton-go/pkg/proton"
)

// tomlConfig describes the TOML-configuration. Every block is optional.
type tomlConfig struct {
	Logging logConf
	Server  serverConf
	Monitor monitorConf
	Client  clientConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// serverConf describes the Server-configuration block. Unset values keep their defaults.
type serverConf struct {
	Listen           string
	StartupDelay     *duration `toml:"startup-delay"`
	HandshakeTimeout *duration `toml:"handshake-timeout"`
	StreamTimeout    *duration `toml:"stream-timeout"`
	IdleTimeout      *duration `toml:"idle-timeout"`
	KeepAlive        *duration `toml:"keep-alive"`
	RejectCode       *uint64   `toml:"reject-code"`
	SerialAccept     bool      `toml:"serial-accept"`
	CertFile         string    `toml:"cert-file"`
	KeyFile          string    `toml:"key-file"`
}

// monitorConf describes the Monitor-configuration block. An empty listen address disables the monitor.
type monitorConf struct {
	Listen string
}

// clientConf describes the Client-configuration block.
type clientConf struct {
	Bind               string
	Server             string
	ServerName         string    `toml:"server-name"`
	StartupDelay       *duration `toml:"startup-delay"`
	StreamTimeout      *duration `toml:"stream-timeout"`
	IdleTimeout        *duration `toml:"idle-timeout"`
	KeepAlive          *duration `toml:"keep-alive"`
	InsecureSkipVerify bool      `toml:"insecure-skip-verify"`
	CAFile             string    `toml:"ca-file"`
	MaxConnectRetries  *int      `toml:"max-connect-retries"`
	ConnectRetryDelay  *duration `toml:"connect-retry-delay"`
}

// duration is a time.Duration, written as a string like "10s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

func setDuration(dst *time.Duration, d *duration) {
	if d != nil {
		*dst = d.Duration
	}
}

// defaultServerAddress is dialed if neither the configuration nor the command line names a server.
const defaultServerAddress = "127.0.0.1:4433"

// loadConfig parses filename. An empty filename results in the defaults.
func loadConfig(filename string) (conf tomlConfig, err error) {
	if filename == "" {
		return
	}

	md, err := toml.DecodeFile(filename, &conf)
	if err != nil {
		return
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.WithFields(log.Fields{
			"file": filename,
			"keys": undecoded,
		}).Warn("Configuration contains unknown keys")
	}
	return
}

// apply the Logging-configuration block to logrus.
func (conf logConf) apply() {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.WithField("format", conf.Format).Warn("Unknown logging format")
	}
}

// serverConfig overlays the Server-configuration block onto proton.DefaultServerConfig.
func (conf tomlConfig) serverConfig() (proton.ServerConfig, error) {
	sc := proton.DefaultServerConfig()
	c := conf.Server

	if c.Listen != "" {
		sc.ListenAddress = c.Listen
	}
	setDuration(&sc.StartupDelay, c.StartupDelay)
	setDuration(&sc.HandshakeTimeout, c.HandshakeTimeout)
	setDuration(&sc.StreamTimeout, c.StreamTimeout)
	setDuration(&sc.IdleTimeout, c.IdleTimeout)
	setDuration(&sc.KeepAlive, c.KeepAlive)

	if c.RejectCode != nil {
		code, err := parseRejectCode(*c.RejectCode)
		if err != nil {
			return sc, err
		}
		sc.RejectCode = code
	}

	sc.SerialAccept = c.SerialAccept
	sc.CertFile, sc.KeyFile = c.CertFile, c.KeyFile

	return sc, nil
}

// parseRejectCode restricts code to QUIC's variable-length integer range.
func parseRejectCode(code uint64) (quic.ApplicationErrorCode, error) {
	if code > 1<<62-1 {
		return 0, fmt.Errorf("server.reject-code %d exceeds the QUIC error code range", code)
	}
	return quic.ApplicationErrorCode(code), nil
}

// clientConfig overlays the Client-configuration block onto proton.DefaultClientConfig. The returned address is
// the server to dial.
func (conf tomlConfig) clientConfig() (proton.ClientConfig, string) {
	cc := proton.DefaultClientConfig()
	c := conf.Client

	if c.Bind != "" {
		cc.BindAddress = c.Bind
	}
	if c.ServerName != "" {
		cc.ServerName = c.ServerName
	}
	setDuration(&cc.StartupDelay, c.StartupDelay)
	setDuration(&cc.StreamTimeout, c.StreamTimeout)
	setDuration(&cc.IdleTimeout, c.IdleTimeout)
	setDuration(&cc.KeepAlive, c.KeepAlive)
	setDuration(&cc.ConnectRetryDelay, c.ConnectRetryDelay)

	if c.MaxConnectRetries != nil {
		cc.MaxConnectRetries = *c.MaxConnectRetries
	}

	cc.InsecureSkipVerify = c.InsecureSkipVerify
	cc.CAFile = c.CAFile

	serverAddr := c.Server
	if serverAddr == "" {
		serverAddr = defaultServerAddress
	}

	return cc, serverAddr
}
