// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dtn7/proton-go/pkg/monitor"
	"github.com/dtn7/proton-go/pkg/proton"
)

func serverCmd(c *cli) *cobra.Command {
	var (
		listen        string
		monitorListen string
		startupDelay  time.Duration
		rejectCode    uint64
		serialAccept  bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the Proton server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := c.conf.serverConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				conf.ListenAddress = listen
			}
			if flags.Changed("startup-delay") {
				conf.StartupDelay = startupDelay
			}
			if flags.Changed("reject-code") {
				if conf.RejectCode, err = parseRejectCode(rejectCode); err != nil {
					return err
				}
			}
			if flags.Changed("serial-accept") {
				conf.SerialAccept = serialAccept
			}

			if !flags.Changed("monitor") {
				monitorListen = c.conf.Monitor.Listen
			}

			return runServer(cmd.Context(), conf, monitorListen)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&listen, "listen", "l", "", "UDP address to listen on")
	flags.StringVarP(&monitorListen, "monitor", "m", "", "HTTP address for /status and /metrics, disabled if empty")
	flags.DurationVar(&startupDelay, "startup-delay", 0, "delay before accepting connections")
	flags.Uint64Var(&rejectCode, "reject-code", uint64(proton.CodeRejected), "close code for rejected connections")
	flags.BoolVar(&serialAccept, "serial-accept", false, "accept the next connection only after the current one ended")

	return cmd
}

// runServer serves until ctx is done. Errors of the server and the monitor are reported together.
func runServer(ctx context.Context, conf proton.ServerConfig, monitorListen string) error {
	srv, err := proton.NewServer(conf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitorErr := make(chan error, 1)
	if monitorListen != "" {
		m := monitor.NewMonitor(mux.NewRouter(), srv.Admission(), srv.Registry())
		go func() {
			err := monitor.ListenAndServe(ctx, monitorListen, m)
			if err != nil {
				log.WithError(err).Error("Monitor failed")
			}
			monitorErr <- err
		}()
	} else {
		monitorErr <- nil
	}

	go logOutcomes(ctx, srv.Outcomes())

	var errs error
	if err := srv.Run(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}

	log.Info("Shutting down..")
	cancel()

	if err := srv.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := <-monitorErr; err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs
}

func logOutcomes(ctx context.Context, outcomes <-chan proton.Outcome) {
	for {
		select {
		case outcome := <-outcomes:
			log.WithFields(log.Fields{
				"peer":     outcome.Peer,
				"rejected": outcome.Rejected,
				"code":     outcome.Code,
			}).Debug("Connection finished")

		case <-ctx.Done():
			return
		}
	}
}
