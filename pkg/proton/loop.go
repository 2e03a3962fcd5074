// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// eventLoop acknowledges strictly increasing event ids by echoing them.
func (sess *session) eventLoop(ch *channel) error {
	for {
		eventID, err := ch.read("event")
		if err != nil {
			return err
		}

		if eventID <= sess.lastEventID {
			return NewInvalidStream(fmt.Sprintf("event %d does not follow event %d", eventID, sess.lastEventID))
		}
		sess.lastEventID = eventID

		if err := ch.write("event acknowledgment", eventID); err != nil {
			return err
		}

		sess.log().WithField("event", eventID).Debug("Event acknowledged")
		sess.metrics.message(RoleEvent)
	}
}

// stateCommitLoop answers each commit id with id + 2.
func (sess *session) stateCommitLoop(ch *channel) error {
	for {
		commitID, err := ch.read("state commit")
		if err != nil {
			return err
		}

		if err := ch.write("state commit response", commitID+2); err != nil {
			return err
		}

		sess.log().WithFields(log.Fields{
			"commit":   commitID,
			"response": commitID + 2,
		}).Debug("State commit answered")
		sess.metrics.message(RoleStateCommit)
	}
}

// actionLoop answers every request with the next value of the action counter, starting at 0. The request's
// value is ignored.
func (sess *session) actionLoop(ch *channel) error {
	for {
		requestID, err := ch.read("action request")
		if err != nil {
			return err
		}

		action := sess.actionCounter
		if err := ch.write("action", action); err != nil {
			return err
		}
		sess.actionCounter++

		sess.log().WithFields(log.Fields{
			"request": requestID,
			"action":  action,
		}).Debug("Action sent")
		sess.metrics.message(RoleAction)
	}
}
