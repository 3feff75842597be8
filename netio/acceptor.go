package netio

import "net"

// Acceptor listens for inbound connections, producing sockets (spec.md
// §2: "Acceptor: Listens; produces sockets for inbound connections.").
type Acceptor struct {
	listener net.Listener
}

// Listen opens a TCP listener on addr ("host:port" or ":port").
func Listen(addr string) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{listener: ln}, nil
}

func (a *Acceptor) accept() (net.Conn, error) {
	return a.listener.Accept()
}

// Addr returns the listener's bound address.
func (a *Acceptor) Addr() net.Addr { return a.listener.Addr() }

// Close stops the listener; any outstanding Accept fails.
func (a *Acceptor) Close() error { return a.listener.Close() }
