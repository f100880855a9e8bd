// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package binder

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/creachadair/binder/buffer"
	"github.com/creachadair/binder/loop"
	"github.com/creachadair/mds/value"
	"github.com/creachadair/taskgroup"
)

var (
	// ErrSessionClosed is reported when sending on a closed session.
	ErrSessionClosed = errors.New("binder: session is closed")

	// ErrSessionUnbinding is reported when sending on a session that is
	// unbinding.
	ErrSessionUnbinding = errors.New("binder: session is unbinding")

	// ErrNotRequest is reported by Session.Send for a response PDU.
	ErrNotRequest = errors.New("binder: PDU is not a request")

	// ErrNotResponse is reported by Session.Reply for a request PDU.
	ErrNotResponse = errors.New("binder: PDU is not a response")

	// ErrInactive is reported when a session closes because nothing was read
	// from the transport for too long.
	ErrInactive = errors.New("binder: inactivity timeout")

	// ErrKeepAlive is reported when a session closes because its keep-alive
	// probes went unanswered.
	ErrKeepAlive = errors.New("binder: keep-alive probes unanswered")

	// ErrUnbindResponse is reported when an open session closes because the
	// peer acknowledged an unbind that was not requested.
	ErrUnbindResponse = errors.New("binder: unexpected unbind response")

	// ErrFrameLength is wrapped by the DecodeError reported for a frame header
	// that declares an impossible length.
	ErrFrameLength = errors.New("binder: invalid frame length")

	// ErrUnbindTimeout is reported when a session closes because an unbind
	// did not complete within the unbind timeout.
	ErrUnbindTimeout = errors.New("binder: unbind timed out")
)

// A DecodeError reports a frame whose body could not be decoded, or whose
// header declared an impossible length.
type DecodeError struct {
	CommandID uint32 // from the frame header
	Sequence  uint32 // from the frame header
	Body      []byte // a copy of the undecodable body; nil for a bad length
	Err       error  // the error reported by the codec, or ErrFrameLength
}

// Error satisfies the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode command %#x (seq %d, %d bytes): %v", e.CommandID, e.Sequence, len(e.Body), e.Err)
}

// Unwrap supports error wrapping.
func (e *DecodeError) Unwrap() error { return e.Err }

// Handlers are the callbacks a session uses to report activity to its owner.
// Any handler may be nil, but an owner that does not set OnClose cannot learn
// when the session ends except by calling Wait.
//
// Handlers run on the session's loop, never concurrently with each other or
// with other callbacks on the same loop. A handler may call any method of the
// session, including Close.
type Handlers struct {
	// OnRequest is called for each request PDU received while the session is
	// open. Control requests are handled by the session and not reported.
	OnRequest func(s *Session, req PDU, seq uint32)

	// OnResponse is called for each response PDU received while the session
	// is open.
	OnResponse func(s *Session, rsp PDU, seq, status uint32)

	// OnClose is called once, after the session has closed. The error is nil
	// if the session was not open when it closed (for example, after an
	// unbind) or if the owner closed it.
	OnClose func(s *Session, err error)

	// OnSendBufferAvailable is called when an outbound queue that had grown
	// beyond the send threshold has been handed to the transport, so that the
	// queue is available again.
	OnSendBufferAvailable func(s *Session)

	// OnDecodeError is called when a frame body cannot be decoded. The session
	// closes after the handler returns.
	OnDecodeError func(s *Session, err *DecodeError)
}

// A FrameLogger logs a frame exchanged with the remote peer.
type FrameLogger func(FrameInfo)

// A FrameInfo combines a frame header and a flag indicating whether the frame
// was sent or received.
type FrameInfo struct {
	Header      // the header of the frame being logged
	Sent   bool // whether the frame was sent (true) or received (false)
}

func (f FrameInfo) String() string {
	return fmt.Sprintf("%s %v", value.Cond(f.Sent, "send", "recv"), f.Header)
}

// State is the binding state of a session.
type State int

// Session states. A session begins open and only moves forward.
const (
	Open State = iota
	Unbinding
	Closed
)

var stateNames = [...]string{Open: "open", Unbinding: "unbinding", Closed: "closed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

type recvState int

const (
	receiving recvState = iota
	pendingPause
	paused
)

// A Session manages one framed connection with a remote peer.
//
// Inbound bytes are reassembled into frames, decoded, and reported to the
// handlers. Outbound PDUs are serialized directly into a pending queue, which
// is handed to the transport in one write whenever no other write is in
// flight. Keep-alive probes and unbind handshakes are handled by the session
// itself.
//
// All callbacks run on the loop given to NewSession. The methods of a Session
// are safe for concurrent use by multiple goroutines.
type Session struct {
	lp     *loop.Loop
	conn   net.Conn
	proto  *Protocol
	opts   Options
	readc  chan []byte   // read requests for the reader
	writec chan []byte   // write requests for the writer
	done   chan struct{} // closed when the session has retired

	μ sync.Mutex

	tasks    *taskgroup.Group // nil until started
	state    State
	recv     recvState
	reading  bool           // a read is in flight
	draining bool           // close once the outbound queue is flushed
	drainErr error          // reported to OnClose when draining completes
	seq      uint32         // last sequence number issued
	inflight []byte         // being written
	pending  []byte         // waiting to be written
	rbuf     *buffer.Buffer // receive buffer
	idle     int            // inactivity timer firings since the last read
	probes   int            // enquire-link timer firings since the last read
	itimer   *loop.Timer    // inactivity timer
	etimer   *loop.Timer    // enquire-link timer, once bound
	utimer   *loop.Timer    // unbind timer, once unbinding
	h        Handlers
	flog     FrameLogger
}

// NewSession constructs a new unstarted session on conn, speaking proto, with
// callbacks scheduled on lp. It panics if proto is not valid. The session owns
// conn and will close it when the session closes.
func NewSession(lp *loop.Loop, conn net.Conn, proto *Protocol, opts Options) *Session {
	if err := proto.Validate(); err != nil {
		panic(err)
	}
	opts = opts.withDefaults(proto)
	return &Session{
		lp:     lp,
		conn:   conn,
		proto:  proto,
		opts:   opts,
		readc:  make(chan []byte, 1),
		writec: make(chan []byte, 1),
		done:   make(chan struct{}),
		state:  Open,
		recv:   receiving,
		rbuf:   buffer.New(opts.BufferSize),
	}
}

// Start starts the service routines of s and begins receiving, unless the
// owner called PauseReceiving beforehand. It panics if s has already been
// started. Start does not block.
func (s *Session) Start() *Session {
	s.μ.Lock()
	if s.tasks != nil {
		s.μ.Unlock()
		panic("session is already started")
	}
	s.tasks = taskgroup.New(nil)
	s.tasks.Go(s.readLoop)
	s.tasks.Go(s.writeLoop)
	if s.state != Closed {
		rootMetrics.sessionActive.Add(1)
		s.armInactivityLocked()
	}
	// A pause requested before Start takes effect at once.
	if s.recv == pendingPause {
		s.recv = paused
	}
	run := s.recv == receiving && s.state != Closed
	s.μ.Unlock()

	if run {
		s.lp.Post(s.receive)
	}
	return s
}

// Handle replaces the handlers of s with h, and returns s to permit chaining.
// Handlers set after s has closed have no effect.
func (s *Session) Handle(h Handlers) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.state != Closed {
		s.h = h
	}
	return s
}

// LogFrames registers a callback to be invoked for each frame sent or
// received by s. If log == nil, frame logging is disabled. LogFrames returns
// s to permit chaining.
func (s *Session) LogFrames(log FrameLogger) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.flog = log
	return s
}

// Protocol returns the protocol spoken by s.
func (s *Session) Protocol() *Protocol { return s.proto }

// State reports the current binding state of s.
func (s *Session) State() State {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.state
}

// IsOpen reports whether s is open, meaning it can send and will deliver
// inbound PDUs to its handlers.
func (s *Session) IsOpen() bool { return s.State() == Open }

// RemoteEndpoint reports the address and port of the remote peer. If the
// transport does not have a host:port address, the address string is returned
// with port 0.
func (s *Session) RemoteEndpoint() (string, int) {
	addr := s.conn.RemoteAddr()
	if addr == nil {
		return "", 0
	} else if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

// AboveThreshold reports whether the outbound queue of s holds more than the
// send threshold.
func (s *Session) AboveThreshold() bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	return len(s.pending) > s.opts.SendThreshold
}

// Send sends a request PDU to the remote peer, and returns the sequence
// number assigned to it. Send reports ErrSessionClosed or ErrSessionUnbinding
// if s is not open, and ErrNotRequest if req is a response; in those cases
// nothing is sent.
func (s *Session) Send(req PDU) (uint32, error) {
	if s.proto.IsResponse(req) {
		return 0, ErrNotRequest
	}
	s.μ.Lock()
	if err := s.sendableLocked(); err != nil {
		s.μ.Unlock()
		return 0, err
	}
	seq := s.nextSequenceLocked()
	h, err := s.enqueueLocked(req.CommandID(), s.proto.StatusOK, seq, req)
	if err != nil {
		s.μ.Unlock()
		return 0, err
	}
	s.flushLocked()
	flog := s.flog
	s.μ.Unlock()

	s.logSent(flog, h)
	return seq, nil
}

// Reply sends a response PDU with the given sequence number and status to
// the remote peer. Reply reports ErrSessionClosed or ErrSessionUnbinding if s
// is not open, and ErrNotResponse if rsp is a request; in those cases nothing
// is sent.
func (s *Session) Reply(rsp PDU, seq, status uint32) error {
	if !s.proto.IsResponse(rsp) {
		return ErrNotResponse
	}
	s.μ.Lock()
	if err := s.sendableLocked(); err != nil {
		s.μ.Unlock()
		return err
	}
	h, err := s.enqueueLocked(rsp.CommandID(), status, seq, rsp)
	if err != nil {
		s.μ.Unlock()
		return err
	}
	s.flushLocked()
	flog := s.flog
	s.μ.Unlock()

	s.logSent(flog, h)
	return nil
}

// PauseReceiving stops the delivery of inbound PDUs. The frame being
// delivered when PauseReceiving is called completes, but no further frames
// are decoded and no further reads are issued until ResumeReceiving.
func (s *Session) PauseReceiving() {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.recv == receiving {
		s.recv = pendingPause
	}
}

// ResumeReceiving resumes the delivery of inbound PDUs after PauseReceiving.
// Frames already buffered are delivered before any new reads are issued.
func (s *Session) ResumeReceiving() {
	s.μ.Lock()
	prev := s.recv
	s.recv = receiving
	live := s.state != Closed && s.tasks != nil
	s.μ.Unlock()

	if prev == paused && live {
		s.lp.Post(s.receive)
	}
}

// Unbind begins an orderly shutdown of s: it sends an unbind request and
// stops sending keep-alive probes. The session closes when the peer
// acknowledges, or with ErrUnbindTimeout if the peer does not acknowledge
// within the unbind timeout. Unbind has no effect unless s is open.
func (s *Session) Unbind() { s.unbind(true) }

// UnbindNow moves s into the unbinding state without notifying the peer.
// Unbind has no effect unless s is open.
func (s *Session) UnbindNow() { s.unbind(false) }

func (s *Session) unbind(notify bool) {
	s.μ.Lock()
	if s.state != Open {
		s.μ.Unlock()
		return
	}
	s.beginUnbindLocked()
	var h Header
	if notify {
		h = s.sendControlLocked(s.proto.Control.Unbind, s.nextSequenceLocked(), s.proto.StatusOK)
	}
	flog := s.flog
	s.μ.Unlock()

	if notify {
		s.logSent(flog, h)
	}
}

// Close closes s immediately, discarding any unsent data. The OnClose handler
// is invoked with a nil error on a later turn of the loop. Close is safe to
// call more than once and always reports nil.
func (s *Session) Close() error { s.close(nil); return nil }

// Wait blocks until s has closed and its OnClose handler has returned. Wait
// must not be called from a handler running on the session's loop.
func (s *Session) Wait() {
	<-s.done
	s.μ.Lock()
	tasks := s.tasks
	s.μ.Unlock()
	if tasks != nil {
		tasks.Wait()
	}
}

// beginUnbindLocked moves s into the unbinding state, stops keep-alive
// probes, and starts the unbind timer if it is not already running.
func (s *Session) beginUnbindLocked() {
	s.state = Unbinding
	s.etimer.Stop()
	if d := s.opts.UnbindTimeout; d > 0 && s.utimer == nil {
		s.utimer = s.lp.AfterFunc(d, s.unbindExpired)
	}
}

func (s *Session) unbindExpired() {
	s.μ.Lock()
	if s.state != Unbinding {
		s.μ.Unlock()
		return
	}
	if s.drainErr == nil {
		s.drainErr = ErrUnbindTimeout
	}
	s.draining = true
	s.μ.Unlock()
	s.close(nil)
}

// startEnquireLink starts the enquire-link timer for a newly-bound session.
func (s *Session) startEnquireLink() {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.state == Open && s.etimer == nil {
		s.armEnquireLocked()
	}
}

// closeWhenFlushed stops reading and sending on s, and closes it once
// everything already queued has been written. If s is open, reason is
// reported to OnClose.
func (s *Session) closeWhenFlushed(reason error) {
	s.μ.Lock()
	if s.state == Closed {
		s.μ.Unlock()
		return
	}
	if s.state == Open && !s.draining {
		s.drainErr = reason
	}
	s.beginUnbindLocked()
	s.draining = true
	idle := len(s.inflight) == 0 && len(s.pending) == 0
	s.μ.Unlock()

	if idle {
		s.close(nil)
	}
}

func (s *Session) close(reason error) {
	s.μ.Lock()
	if s.state == Closed {
		s.μ.Unlock()
		return
	}
	err := reason
	if s.draining {
		err = s.drainErr
	} else if s.state != Open {
		err = nil
	}
	s.state = Closed
	s.itimer.Stop()
	s.etimer.Stop()
	s.utimer.Stop()
	s.conn.Close()
	close(s.readc)
	close(s.writec)
	onClose := s.h.OnClose
	wasStarted := s.tasks != nil
	s.μ.Unlock()

	rootMetrics.sessionClosed.Add(1)
	if wasStarted {
		rootMetrics.sessionActive.Add(-1)
	}

	// Deliver the close notification on a later turn, so that the caller of
	// close is never re-entered by the owner's handler.
	deliver := func() {
		if onClose != nil {
			onClose(s, err)
		}
		s.retire()
	}
	if !s.lp.Post(deliver) {
		deliver()
	}
}

// retire releases the resources of a closed session.
func (s *Session) retire() {
	s.μ.Lock()
	s.h = Handlers{}
	s.flog = nil
	s.rbuf.Clear()
	s.inflight, s.pending = nil, nil
	s.μ.Unlock()
	close(s.done)
}

func (s *Session) sendableLocked() error {
	switch s.state {
	case Closed:
		return ErrSessionClosed
	case Unbinding:
		return ErrSessionUnbinding
	}
	return nil
}

func (s *Session) nextSequenceLocked() uint32 {
	s.seq++
	if s.seq == 0 || s.seq > s.proto.MaxSequence {
		s.seq = 1
	}
	return s.seq
}

// enqueueLocked serializes a frame onto the pending queue. If pdu == nil the
// frame has an empty body. On error the queue is unchanged.
func (s *Session) enqueueLocked(id, status, seq uint32, pdu PDU) (Header, error) {
	start := len(s.pending)
	hsize := s.proto.Header.Size()
	buf := append(s.pending, make([]byte, hsize)...)
	if pdu != nil {
		var err error
		buf, err = s.proto.Codec.Encode(buf, pdu)
		if err != nil {
			s.pending = buf[:start]
			return Header{}, fmt.Errorf("encode command %#x: %w", id, err)
		}
	}
	h := Header{Length: uint32(len(buf) - start), CommandID: id, Status: status, Sequence: seq}
	s.proto.Header.Put(buf[start:], h)
	s.pending = buf
	return h, nil
}

// sendControlLocked queues a control frame. Unlike Send and Reply, control
// frames may be sent while the session is unbinding.
func (s *Session) sendControlLocked(id, seq, status uint32) Header {
	h, _ := s.enqueueLocked(id, status, seq, nil) // an empty body cannot fail
	s.flushLocked()
	return h
}

func (s *Session) sendControl(id, seq, status uint32) {
	s.μ.Lock()
	if s.state == Closed {
		s.μ.Unlock()
		return
	}
	h := s.sendControlLocked(id, seq, status)
	flog := s.flog
	s.μ.Unlock()
	s.logSent(flog, h)
}

func (s *Session) logSent(flog FrameLogger, h Header) {
	rootMetrics.frameSent.Add(1)
	if flog != nil {
		flog(FrameInfo{Header: h, Sent: true})
	}
}

// flushLocked hands the pending queue to the writer if no write is in flight.
func (s *Session) flushLocked() {
	if len(s.inflight) != 0 || len(s.pending) == 0 || s.state == Closed {
		return
	}
	s.inflight, s.pending = s.pending, s.inflight[:0]
	if len(s.inflight) > s.opts.SendThreshold && s.h.OnSendBufferAvailable != nil {
		s.lp.Post(s.sendBufferAvailable)
	}
	s.writec <- s.inflight
}

func (s *Session) sendBufferAvailable() {
	s.μ.Lock()
	cb := s.h.OnSendBufferAvailable
	live := s.state != Closed
	s.μ.Unlock()
	if live && cb != nil {
		cb(s)
	}
}

func (s *Session) writeLoop() error {
	for buf := range s.writec {
		_, err := s.conn.Write(buf)
		if !s.lp.Post(func() { s.writeDone(err) }) {
			s.close(net.ErrClosed)
		}
	}
	return nil
}

func (s *Session) writeDone(err error) {
	s.μ.Lock()
	if s.state == Closed {
		s.μ.Unlock()
		return
	} else if err != nil {
		s.μ.Unlock()
		s.close(err)
		return
	}
	s.inflight = s.inflight[:0]
	s.flushLocked()
	finished := s.draining && len(s.inflight) == 0
	s.μ.Unlock()

	if finished {
		s.close(nil)
	}
}

func (s *Session) readLoop() error {
	for buf := range s.readc {
		n, err := s.conn.Read(buf)
		if !s.lp.Post(func() { s.readDone(n, err) }) {
			s.close(net.ErrClosed)
		}
	}
	return nil
}

func (s *Session) readDone(n int, err error) {
	s.μ.Lock()
	s.reading = false
	if s.state == Closed {
		s.μ.Unlock()
		return
	}
	s.rbuf.Commit(n)
	if n > 0 {
		s.idle = 0
		if s.state == Open {
			s.probes = 0
		}
	}
	s.μ.Unlock()

	if err != nil {
		s.close(err)
		return
	}
	s.receive()
}

// receive delivers every complete frame in the receive buffer, then either
// issues the next read or completes a pending pause. It runs on the loop.
func (s *Session) receive() {
	hsize := s.proto.Header.Size()
	for {
		s.μ.Lock()
		if s.state == Closed || s.draining || s.recv != receiving {
			s.μ.Unlock()
			break
		}
		data := s.rbuf.Data()
		if len(data) < hsize {
			s.μ.Unlock()
			break
		}
		h, _ := s.proto.Header.Decode(data) // length checked above
		if int64(h.Length) < int64(hsize) || int64(h.Length) > int64(s.rbuf.Cap()) {
			s.μ.Unlock()
			s.decodeFailed(h, nil, fmt.Errorf("%w: %d bytes", ErrFrameLength, h.Length))
			return
		}
		if len(data) < int(h.Length) {
			s.μ.Unlock()
			break
		}
		flog := s.flog
		s.μ.Unlock()

		rootMetrics.frameRecv.Add(1)
		if flog != nil {
			flog(FrameInfo{Header: h})
		}
		s.dispatch(h, data[hsize:h.Length])

		s.μ.Lock()
		s.rbuf.Consume(int(h.Length))
		s.μ.Unlock()
	}

	s.μ.Lock()
	overflow := false
	switch {
	case s.state == Closed || s.draining || s.reading:
		// Nothing further to do.
	case s.recv == pendingPause:
		s.recv = paused
	case s.recv == receiving:
		n := min(s.opts.ReadChunk, s.rbuf.Available())
		if n == 0 {
			overflow = true // a full buffer holds no complete frame
			break
		}
		buf, _ := s.rbuf.Reserve(n)
		s.reading = true
		s.readc <- buf
	}
	s.μ.Unlock()

	if overflow {
		s.close(fmt.Errorf("receive: %w", buffer.ErrOverflow))
	}
}

// dispatch decodes and delivers one frame. It runs on the loop without the
// lock held.
func (s *Session) dispatch(h Header, body []byte) {
	ctl := s.proto.Control
	if s.proto.Header.IsResponse(h.CommandID) {
		switch h.CommandID {
		case ctl.EnquireLinkResp:
			return
		case ctl.UnbindResp:
			s.close(ErrUnbindResponse)
			return
		}
		rsp, err := s.proto.Codec.Decode(h.CommandID, body)
		if err != nil {
			s.decodeFailed(h, body, err)
			return
		}
		s.μ.Lock()
		cb := s.h.OnResponse
		if s.state != Open {
			cb = nil
		}
		s.μ.Unlock()
		if cb == nil {
			rootMetrics.frameDropped.Add(1)
			return
		}
		cb(s, rsp, h.Sequence, h.Status)
		return
	}

	switch h.CommandID {
	case ctl.EnquireLink:
		s.sendControl(ctl.EnquireLinkResp, h.Sequence, s.proto.StatusOK)
		return
	case ctl.Unbind:
		s.μ.Lock()
		if s.state == Open {
			s.beginUnbindLocked()
		}
		s.μ.Unlock()
		s.sendControl(ctl.UnbindResp, h.Sequence, s.proto.StatusOK)
		return
	}
	req, err := s.proto.Codec.Decode(h.CommandID, body)
	if err != nil {
		if ctl.GenericNack != 0 && errors.Is(err, ErrUnknownCommand) {
			s.sendControl(ctl.GenericNack, h.Sequence, s.proto.StatusInvalidCommand)
		}
		s.decodeFailed(h, body, err)
		return
	}
	s.μ.Lock()
	cb := s.h.OnRequest
	if s.state != Open {
		cb = nil
	}
	s.μ.Unlock()
	if cb == nil {
		rootMetrics.frameDropped.Add(1)
		return
	}
	cb(s, req, h.Sequence)
}

func (s *Session) decodeFailed(h Header, body []byte, err error) {
	rootMetrics.decodeErr.Add(1)
	derr := &DecodeError{
		CommandID: h.CommandID,
		Sequence:  h.Sequence,
		Body:      bytes.Clone(body),
		Err:       err,
	}
	s.μ.Lock()
	cb := s.h.OnDecodeError
	s.μ.Unlock()
	if cb != nil {
		cb(s, derr)
	}
	s.closeWhenFlushed(derr)
}

func (s *Session) armInactivityLocked() {
	if d := s.opts.KeepAlive.InactivityInterval; d > 0 {
		s.itimer = s.lp.AfterFunc(d, s.inactivityFired)
	}
}

func (s *Session) inactivityFired() {
	s.μ.Lock()
	if s.state == Closed {
		s.μ.Unlock()
		return
	}
	s.idle++
	if s.idle >= s.opts.KeepAlive.InactivityMisses {
		s.μ.Unlock()
		s.close(ErrInactive)
		return
	}
	s.armInactivityLocked()
	s.μ.Unlock()
}

func (s *Session) armEnquireLocked() {
	if d := s.opts.KeepAlive.EnquireInterval; d > 0 {
		s.etimer = s.lp.AfterFunc(d, s.enquireFired)
	}
}

func (s *Session) enquireFired() {
	s.μ.Lock()
	if s.state != Open {
		s.μ.Unlock()
		return
	}
	if limit := s.opts.KeepAlive.EnquireMisses; limit > 0 && s.probes >= limit {
		s.μ.Unlock()
		s.close(ErrKeepAlive)
		return
	}
	probe := s.probes >= 1
	var h Header
	if probe {
		h = s.sendControlLocked(s.proto.Control.EnquireLink, s.nextSequenceLocked(), s.proto.StatusOK)
	}
	s.probes++
	s.armEnquireLocked()
	flog := s.flog
	s.μ.Unlock()

	if probe {
		rootMetrics.probeSent.Add(1)
		s.logSent(flog, h)
	}
}
