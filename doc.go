// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package binder implements an asynchronous framed session engine for
// binary bind-oriented protocols.
//
// Peers exchange length-prefixed frames over a reliable byte stream. Every
// frame begins with a fixed header carrying the frame length, a command ID, a
// command status, and a sequence number that correlates a response with its
// request. A session is established by a bind handshake, kept alive by
// periodic probes, and ended by an unbind handshake. The width of the header
// fields and the command IDs of the control PDUs are parameters of a
// [Protocol]; the pinex and smpp packages provide two instances.
//
// # Sessions
//
// The core type defined by this package is the [Session]. A session reads
// frames from a [net.Conn], decodes them with the protocol's [Codec], and
// reports them to its [Handlers]. Requests are sent with [Session.Send],
// which assigns a sequence number, and responses with [Session.Reply]:
//
//	seq, err := s.Send(req)
//	if err != nil {
//	   log.Printf("Send failed: %v", err)
//	}
//
// Sending never blocks. Frames are serialized into an outbound queue that is
// handed to the transport in a single write whenever no other write is in
// flight. When the queue grows beyond the send threshold, the owner can use
// [Session.PauseReceiving] to stop consuming inbound work until the
// OnSendBufferAvailable handler reports that the queue has drained, then call
// [Session.ResumeReceiving].
//
// Keep-alive probes and unbind requests are answered by the session itself
// and are not reported to the owner.
//
// # Loops
//
// Every session runs its callbacks on a [loop.Loop]. All the handlers, timers,
// and I/O completions sharing a loop run one at a time, so an owner that
// touches its state only from handlers needs no further locking. The
// OnClose handler is always delivered on a later turn of the loop than the
// event that closed the session, so a handler may safely discard the session.
//
// # Connectors and Acceptors
//
// A [Connector] dials a server, retrying until a connection succeeds, and
// performs the client side of the bind handshake. An [Acceptor] accepts
// connections from a listener and performs the server side of the handshake,
// including authentication. Both deliver bound sessions to an OnBind
// callback, which installs the owner's handlers.
//
// # Metrics
//
// Sessions maintain a collection of metrics while running. Use [Metrics] to
// obtain an [expvar.Map] containing the metrics, which are shared by all
// sessions in the process:
//
//   - frames_received: counter of frames received
//   - frames_sent: counter of frames sent
//   - frames_dropped: counter of frames decoded but not delivered
//   - decode_errors: counter of frames whose body could not be decoded
//   - sessions_active: gauge of sessions started and not yet closed
//   - sessions_closed: counter of sessions closed
//   - keepalive_probes: counter of keep-alive probes sent
//   - binds_accepted: counter of bind requests accepted by acceptors
//   - binds_rejected: counter of bind requests rejected by acceptors
//   - binds_completed: counter of binds completed by connectors
//   - connect_retries: counter of failed connection attempts
//
// The exchange package adds requests_timed_out and responses_unmatched to the
// same map.
package binder
