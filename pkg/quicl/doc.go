// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package quicl moves envelopes between a consumer and remote peers over QUIC.


Roles
There are two endpoint roles.
The Listener binds a UDP socket, waits for incoming connections and runs one Session per accepted connection.
The Dialer connects to a single server and runs a Session for as long as the connection lasts,
reconnecting whenever it ends.
Both roles report to the same kind of event bridge and there is no difference between their sessions.

Handshake failures never surface as sessions. A peer failing TLS or address validation is dropped
by the QUIC library and the listener keeps accepting.


Streams
Every stream carries exactly one serialised envelope and is finished once the envelope has been written.

A bidirectional stream is a request. The receiver reads the request until the stream is finished,
answers a Ping with a Pong on the same stream and finishes its side. Any other request is answered
by finishing the stream without data.

A unidirectional stream is a one-way message. The consumer's outbound queue is drained into
unidirectional streams, one per envelope, in queue order.

Payloads larger than the configured read limit (64 KiB by default) are rejected and the stream is
cancelled with StreamTooLarge. A payload which does not decode is cancelled with StreamMalformed.
Neither affects other streams on the same connection.


Liveness
Each session sends a Ping request once per keep-alive interval and expects a Pong.
A failed request or any other reply ends the session.


Session lifetime
A session consists of four activities: accepting bidirectional streams, accepting unidirectional
streams, the keep-alive loop and the outbound writer. The first activity to end decides the session's
fate. The remaining activities are cancelled, the connection is closed with an application error code
derived from the outcome, and once every stream handler has returned a Destroyed event is emitted.
No event of a connection follows its Destroyed event.
*/
package quicl
