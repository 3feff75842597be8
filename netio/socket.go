// Package netio implements the L1 transport primitives: Socket, Acceptor,
// and Connector. Grounded on the teacher's own p2p/network.go (a Dialer/
// Listener pair wrapping *net.Dialer and net.Listener) and server.go's
// connectInboundPeer/connectOutboundPeer, generalized so that every
// completion is posted to the socket's own strand instead of running
// inline on whichever goroutine net.Conn happened to block on — matching
// spec.md §4.4's "handler posted to the socket's strand" contract.
package netio

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/wire"
)

// Socket wraps one TCP connection. All completion handlers run on strand.
type Socket struct {
	strand *strand.Strand
	pool   *strand.Pool

	conn   net.Conn
	remote wire.Authority

	stopped atomic.Bool
}

// New creates an unconnected socket bound to s, draining blocking I/O on
// pool-managed goroutines.
func New(s *strand.Strand, pool *strand.Pool) *Socket {
	return &Socket{strand: s, pool: pool}
}

// Remote returns the authority of the connected peer. Valid only after a
// successful Connect or Accept.
func (sock *Socket) Remote() wire.Authority { return sock.remote }

// Connect tries each endpoint in order, resolving h(success) on the
// strand on the first success, h(connect_failed) on exhaustion, or
// h(channel_stopped) if Stop races the attempt (spec.md §4.4).
func (sock *Socket) Connect(ctx context.Context, endpoints []string, timeout time.Duration, h func(code errs.Code)) {
	sock.pool.Go(func() {
		dialer := &net.Dialer{Timeout: timeout}
		for _, ep := range endpoints {
			if sock.stopped.Load() {
				sock.strand.Post(func() { h(errs.ChannelStopped) })
				return
			}
			conn, err := dialer.DialContext(ctx, "tcp", ep)
			if err == nil {
				if sock.stopped.Load() {
					conn.Close()
					sock.strand.Post(func() { h(errs.ChannelStopped) })
					return
				}
				sock.conn = conn
				sock.remote = authorityOf(conn.RemoteAddr())
				sock.strand.Post(func() { h(errs.Success) })
				return
			}
		}
		code := errs.ConnectFailed
		if sock.stopped.Load() {
			code = errs.ChannelStopped
		}
		sock.strand.Post(func() { h(code) })
	})
}

// Accept waits for one inbound connection from acceptor. Concurrent Accept
// calls on one Socket are not permitted (spec.md §4.4).
func (sock *Socket) Accept(acceptor *Acceptor, h func(code errs.Code)) {
	sock.pool.Go(func() {
		conn, err := acceptor.accept()
		if err != nil {
			code := errs.AcceptFailed
			if sock.stopped.Load() {
				code = errs.ChannelStopped
			} else {
				code = errs.Classify(err)
			}
			sock.strand.Post(func() { h(code) })
			return
		}
		if sock.stopped.Load() {
			conn.Close()
			sock.strand.Post(func() { h(errs.ChannelStopped) })
			return
		}
		sock.conn = conn
		sock.remote = authorityOf(conn.RemoteAddr())
		sock.strand.Post(func() { h(errs.Success) })
	})
}

// Read reads exactly len(buf) bytes, looping internally over partial I/O.
// h(code, n) is posted with n == len(buf) iff code == errs.Success
// (spec.md §4.4).
func (sock *Socket) Read(buf []byte, h func(code errs.Code, n int)) {
	conn := sock.conn
	sock.pool.Go(func() {
		n, err := io.ReadFull(conn, buf)
		if err != nil {
			code := errs.Classify(err)
			if sock.stopped.Load() {
				code = errs.ChannelStopped
			}
			sock.strand.Post(func() { h(code, n) })
			return
		}
		sock.strand.Post(func() { h(errs.Success, n) })
	})
}

// Write writes all of bytes, looping internally over partial I/O.
func (sock *Socket) Write(payload []byte, h func(code errs.Code)) {
	conn := sock.conn
	sock.pool.Go(func() {
		_, err := conn.Write(payload)
		if err != nil {
			code := errs.Classify(err)
			if sock.stopped.Load() {
				code = errs.ChannelStopped
			}
			sock.strand.Post(func() { h(code) })
			return
		}
		sock.strand.Post(func() { h(errs.Success) })
	})
}

// Stop cancels outstanding operations (best effort, by closing the
// underlying fd) and marks the socket stopped. Idempotent.
func (sock *Socket) Stop() {
	if !sock.stopped.CompareAndSwap(false, true) {
		return
	}
	if sock.conn != nil {
		sock.conn.Close()
	}
}

func authorityOf(addr net.Addr) wire.Authority {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return wire.Authority{}
	}
	return wire.NewAuthority(tcp.IP, uint16(tcp.Port))
}
