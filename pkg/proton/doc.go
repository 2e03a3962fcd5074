// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package proton implements Proton, a small request/response protocol multiplexed over a single QUIC connection.


Channels
A Proton connection carries exactly three channels, each on its own bidirectional stream:
Event, StateCommit and Action. The dialer opens the streams one after another and announces each stream's role
with a single discriminator byte (1, 2 or 3). Everything after the discriminator is a sequence of four byte
little-endian unsigned integers, strictly alternating between request and response.

The listener's side of each channel is a loop:

	Event:       reads an id which must be greater than the previous one and echoes it back.
	StateCommit: reads a commit id and answers with id + 2.
	Action:      ignores the request's value and answers with a counter starting at 0.

Each read and write is bounded by a deadline. A failing channel ends the whole session; the other two channels
are cancelled.


Admission
The Server serves a single connection at a time. While a session holds the AdmissionControl's lease, every further
connection is closed right away with the rejection code.

ServerConfig.SerialAccept makes the accept loop wait for the current connection's handler instead. The QUIC
listener keeps completing handshakes in the background, so in serial mode further clients are queued until the
session ends rather than rejected.

On the dialer's side, the first failed channel operation closes the whole Connection with the matching close code.


Close codes
The listener closes every connection with an application error code:

	0  streams completed
	1  stream setup error
	2  stream accept error
	3  stream setup timeout
	4  stream operation timeout
	5  other stream error
	6  rejected, another client is already connected (configurable)
*/
package proton
