// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package binder

import "expvar"

// engineMetrics record session activity counters.
type engineMetrics struct {
	frameRecv      expvar.Int
	frameSent      expvar.Int
	frameDropped   expvar.Int // frames decoded but not delivered to a handler
	decodeErr      expvar.Int
	sessionActive  expvar.Int // gauge
	sessionClosed  expvar.Int
	probeSent      expvar.Int // keep-alive probes sent
	bindAccepted   expvar.Int // by an acceptor
	bindRejected   expvar.Int // by an acceptor
	bindCompleted  expvar.Int // by a connector
	connectRetries expvar.Int

	emap *expvar.Map
}

var rootMetrics = newEngineMetrics()

func newEngineMetrics() *engineMetrics {
	m := &engineMetrics{emap: new(expvar.Map)}
	m.emap.Set("frames_received", &m.frameRecv)
	m.emap.Set("frames_sent", &m.frameSent)
	m.emap.Set("frames_dropped", &m.frameDropped)
	m.emap.Set("decode_errors", &m.decodeErr)
	m.emap.Set("sessions_active", &m.sessionActive)
	m.emap.Set("sessions_closed", &m.sessionClosed)
	m.emap.Set("keepalive_probes", &m.probeSent)
	m.emap.Set("binds_accepted", &m.bindAccepted)
	m.emap.Set("binds_rejected", &m.bindRejected)
	m.emap.Set("binds_completed", &m.bindCompleted)
	m.emap.Set("connect_retries", &m.connectRetries)
	return m
}

// Metrics returns the metrics map shared by all sessions, connectors, and
// acceptors. It is safe for the caller to add additional metrics to the map.
func Metrics() *expvar.Map { return rootMetrics.emap }
