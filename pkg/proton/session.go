// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// session serves the three channels of one established connection.
type session struct {
	peer     string
	channels *channelSet
	metrics  *Metrics

	// lastEventID is only touched by the eventLoop, actionCounter only by the actionLoop.
	lastEventID   uint32
	actionCounter uint32
}

func newSession(peer string, channels *channelSet, metrics *Metrics) *session {
	return &session{
		peer:     peer,
		channels: channels,
		metrics:  metrics,
	}
}

func (sess *session) log() *log.Entry {
	return log.WithField("peer", sess.peer)
}

func (sess *session) loop(role Role) func(*channel) error {
	switch role {
	case RoleEvent:
		return sess.eventLoop
	case RoleStateCommit:
		return sess.stateCommitLoop
	default:
		return sess.actionLoop
	}
}

type loopResult struct {
	role Role
	err  error
}

// run starts one goroutine per channel and waits for the first of them to finish or for closed. The remaining
// loops are cancelled and awaited before returning.
//
// A closed transport is no error, even if a loop noticed it first. An unbound Role's loop finishes right away
// with a nil error.
func (sess *session) run(closed <-chan struct{}) error {
	results := make(chan loopResult, len(roles))

	var wg sync.WaitGroup
	for _, role := range roles {
		wg.Add(1)
		go func(role Role, ch *channel) {
			defer wg.Done()

			if ch == nil {
				results <- loopResult{role: role}
				return
			}
			results <- loopResult{role: role, err: sess.loop(role)(ch)}
		}(role, sess.channels.get(role))
	}

	var outcome error
	select {
	case <-closed:
		sess.log().Info("Peer closed connection")

	case res := <-results:
		select {
		case <-closed:
			res.err = nil
		default:
			if res.err != nil && transportClosed(res.err) {
				res.err = nil
			}
		}

		if res.err != nil {
			sess.log().WithFields(log.Fields{
				"channel": res.role,
				"error":   res.err,
			}).Warn("Channel failed, tearing down session")
		} else {
			sess.log().WithField("channel", res.role).Info("Channel finished")
		}
		outcome = res.err
	}

	sess.channels.abort()
	wg.Wait()

	return outcome
}
