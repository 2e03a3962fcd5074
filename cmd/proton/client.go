// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/proton-go/pkg/proton"
	"github.com/dtn7/proton-go/pkg/repl"
)

// clientFlags are shared by the client and client_repl commands.
type clientFlags struct {
	bind       string
	insecure   bool
	connectNow bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.bind, "bind", "b", "", "local UDP address")
	flags.BoolVar(&f.insecure, "insecure", false, "skip the server certificate verification")
	flags.BoolVar(&f.connectNow, "connect-now", false, "skip the startup delay")
}

// clientConfig merges the configuration file, the flags and the optional address argument.
func (f *clientFlags) clientConfig(c *cli, cmd *cobra.Command, args []string) (proton.ClientConfig, string) {
	conf, serverAddr := c.conf.clientConfig()

	if len(args) > 0 {
		serverAddr = args[0]
	}
	if cmd.Flags().Changed("bind") {
		conf.BindAddress = f.bind
	}
	if f.insecure {
		conf.InsecureSkipVerify = true
		conf.CAFile = ""
	}
	if f.connectNow {
		conf.StartupDelay = 0
	}

	return conf, serverAddr
}

func clientCmd(c *cli) *cobra.Command {
	var (
		flags  clientFlags
		rounds uint32
	)

	cmd := &cobra.Command{
		Use:   "client [addr]",
		Short: "Connect, exchange some rounds on all channels and disconnect",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, serverAddr := flags.clientConfig(c, cmd, args)

			client, err := proton.NewClient(conf)
			if err != nil {
				return err
			}
			defer client.Close()

			return runScript(cmd.Context(), client, serverAddr, rounds, cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	cmd.Flags().Uint32VarP(&rounds, "rounds", "n", 3, "number of event, commit and action rounds")

	return cmd
}

// runScript sends an event, the commit i and an action request for each round i.
func runScript(ctx context.Context, client *proton.Client, serverAddr string, rounds uint32, out io.Writer) error {
	conn, err := client.Connect(ctx, serverAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	for i := uint32(0); i < rounds; i++ {
		ack, err := conn.SendEvent()
		if err != nil {
			return err
		}

		commit, err := conn.SendStateCommit(i)
		if err != nil {
			return err
		}

		action, err := conn.ReadAction()
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(out, "round %d: event %d, commit %d -> %d, action %d\n", i, ack, i, commit, action)
	}

	return nil
}

// connector adapts a *proton.Client to the REPL.
type connector struct {
	client     *proton.Client
	serverAddr string
}

func (c connector) Connect(ctx context.Context, delay time.Duration) (repl.Session, error) {
	conn, err := c.client.ConnectAfter(ctx, c.serverAddr, delay)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c connector) ResetEventID() {
	c.client.ResetEventID()
}

func replCmd(c *cli) *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "client_repl [addr]",
		Short: "Interactive client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, serverAddr := flags.clientConfig(c, cmd, args)

			client, err := proton.NewClient(conf)
			if err != nil {
				return err
			}
			defer client.Close()

			return runRepl(cmd.Context(), connector{client: client, serverAddr: serverAddr}, conf.StartupDelay)
		},
	}

	flags.register(cmd)

	return cmd
}

// runRepl uses a line editor on a terminal and plain line reading otherwise.
func runRepl(ctx context.Context, conn repl.Connector, delay time.Duration) error {
	const prompt = "> "

	terminal, ok, err := repl.OpenTerminal(prompt)
	if err != nil {
		return err
	} else if !ok {
		return repl.New(conn, delay, os.Stdout).Run(ctx, repl.NewLineReader(os.Stdin, os.Stdout, prompt))
	}
	defer terminal.Close()

	// The terminal is in raw mode; its writer translates line endings and keeps the prompt intact.
	log.SetOutput(terminal)
	defer log.SetOutput(os.Stderr)

	return repl.New(conn, delay, terminal).Run(ctx, terminal)
}
