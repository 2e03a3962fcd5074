// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Command proton runs a Proton server, a scripted client or an interactive client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cli holds the state shared by all subcommands.
type cli struct {
	configFile string
	conf       tomlConfig
}

func (c *cli) load(_ *cobra.Command, _ []string) (err error) {
	if c.conf, err = loadConfig(c.configFile); err != nil {
		return
	}

	c.conf.Logging.apply()
	return
}

func rootCmd() *cobra.Command {
	c := new(cli)

	cmd := &cobra.Command{
		Use:   "proton",
		Short: "Proton protocol over QUIC",
		Long: `Proton multiplexes three request/response channels, Event, StateCommit and
Action, over a single QUIC connection. The server admits one client at a time.`,
		PersistentPreRunE: c.load,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	cmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "TOML configuration file")

	cmd.AddCommand(
		serverCmd(c),
		clientCmd(c),
		replCmd(c),
	)

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("proton failed")
		stop()
		os.Exit(1)
	}
}
