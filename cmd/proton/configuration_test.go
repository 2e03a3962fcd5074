// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/proton-go/pkg/proton"
)

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "proton.toml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o600))
	return filename
}

func TestLoadConfigEmpty(t *testing.T) {
	conf, err := loadConfig("")
	require.NoError(t, err)

	sc, err := conf.serverConfig()
	require.NoError(t, err)
	assert.Equal(t, proton.DefaultServerConfig(), sc)

	cc, serverAddr := conf.clientConfig()
	assert.Equal(t, proton.DefaultClientConfig(), cc)
	assert.Equal(t, defaultServerAddress, serverAddr)
}

func TestLoadConfigFull(t *testing.T) {
	filename := writeConfig(t, `
[logging]
level = "debug"
report-caller = false
format = "text"

[server]
listen = "0.0.0.0:9000"
startup-delay = "0s"
handshake-timeout = "3s"
stream-timeout = "1m"
reject-code = 0
serial-accept = true
cert-file = "cert.pem"
key-file = "key.pem"

[monitor]
listen = "127.0.0.1:9100"

[client]
bind = "127.0.0.1:0"
server = "192.0.2.1:9000"
server-name = "proton.example"
startup-delay = "500ms"
stream-timeout = "30s"
ca-file = "ca.pem"
max-connect-retries = 2
connect-retry-delay = "1s"
`)

	conf, err := loadConfig(filename)
	require.NoError(t, err)

	sc, err := conf.serverConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", sc.ListenAddress)
	assert.Equal(t, time.Duration(0), sc.StartupDelay)
	assert.Equal(t, 3*time.Second, sc.HandshakeTimeout)
	assert.Equal(t, time.Minute, sc.StreamTimeout)
	assert.Equal(t, proton.CodeCompleted, sc.RejectCode)
	assert.True(t, sc.SerialAccept)
	assert.Equal(t, "cert.pem", sc.CertFile)
	assert.Equal(t, "key.pem", sc.KeyFile)
	assert.NoError(t, sc.Validate())

	assert.Equal(t, "127.0.0.1:9100", conf.Monitor.Listen)

	cc, serverAddr := conf.clientConfig()
	assert.Equal(t, "192.0.2.1:9000", serverAddr)
	assert.Equal(t, "127.0.0.1:0", cc.BindAddress)
	assert.Equal(t, "proton.example", cc.ServerName)
	assert.Equal(t, 500*time.Millisecond, cc.StartupDelay)
	assert.Equal(t, 30*time.Second, cc.StreamTimeout)
	assert.Equal(t, "ca.pem", cc.CAFile)
	assert.Equal(t, 2, cc.MaxConnectRetries)
	assert.Equal(t, time.Second, cc.ConnectRetryDelay)
	assert.False(t, cc.InsecureSkipVerify)
	assert.NoError(t, cc.Validate())
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[server\nlisten = 1"},
		{"duration", "[server]\nstartup-delay = \"ten seconds\""},
		{"type", "[client]\nmax-connect-retries = \"two\""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, test.content))
			assert.Error(t, err)
		})
	}
}

func TestRejectCodeRange(t *testing.T) {
	code, err := parseRejectCode(6)
	require.NoError(t, err)
	assert.Equal(t, proton.CodeRejected, code)

	_, err = parseRejectCode(1 << 62)
	assert.Error(t, err)
}

func TestRunScript(t *testing.T) {
	sc := proton.DefaultServerConfig()
	sc.ListenAddress = "127.0.0.1:0"
	sc.StartupDelay = 0

	srv, err := proton.NewServer(sc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
		assert.NoError(t, <-runErr)
	})

	cc := proton.DefaultClientConfig()
	cc.BindAddress = "127.0.0.1:0"
	cc.StartupDelay = 0
	cc.InsecureSkipVerify = true

	client, err := proton.NewClient(cc)
	require.NoError(t, err)
	defer client.Close()

	scriptCtx, scriptCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scriptCancel()

	out := new(bytes.Buffer)
	require.NoError(t, runScript(scriptCtx, client, srv.Addr().String(), 3, out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"round 0: event 1, commit 0 -> 2, action 0",
		"round 1: event 2, commit 1 -> 3, action 1",
		"round 2: event 3, commit 2 -> 4, action 2",
	}, lines)
}
