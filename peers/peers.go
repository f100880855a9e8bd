// Package peers provides support code for managing and testing sessions.
package peers

import (
	"net"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/loop"
)

// Local is a pair of in-memory connected sessions sharing a loop, suitable
// for testing. The sessions are not bound: they exchange requests and
// responses directly, without a bind handshake.
type Local struct {
	Loop *loop.Loop
	A    *binder.Session
	B    *binder.Session
}

// NewLocal creates a pair of unstarted sessions speaking proto, connected by
// a synchronous in-memory pipe. Install handlers, then call Start.
func NewLocal(proto *binder.Protocol, opts binder.Options) *Local {
	lp := loop.New()
	a, b := net.Pipe()
	return &Local{
		Loop: lp,
		A:    binder.NewSession(lp, a, proto, opts),
		B:    binder.NewSession(lp, b, proto, opts),
	}
}

// Start starts both sessions and returns p to permit chaining.
func (p *Local) Start() *Local {
	p.A.Start()
	p.B.Start()
	return p
}

// Stop closes both sessions, blocks until both have exited, and then stops
// the loop. Stop must not be called from a handler.
func (p *Local) Stop() {
	p.A.Close()
	p.B.Close()
	p.A.Wait()
	p.B.Wait()
	p.Loop.Stop()
}

// Listen opens a TCP listener on an ephemeral port of the loopback interface.
func Listen() (net.Listener, error) { return net.Listen("tcp", "127.0.0.1:0") }
