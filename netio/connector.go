package netio

import (
	"context"
	"time"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/wire"
)

// Connector resolves and dials one target, producing a Socket (spec.md
// §2). It carries its own cancellation so that OutboundSession's
// batch-connect (§4.8) can race several Connectors and cancel the
// losers on first success.
type Connector struct {
	sock   *Socket
	cancel context.CancelFunc
}

// NewConnector creates a connector whose socket is bound to s.
func NewConnector(s *strand.Strand, pool *strand.Pool) *Connector {
	return &Connector{sock: New(s, pool)}
}

// Connect dials target, posting h on the owning strand.
func (c *Connector) Connect(target wire.Authority, timeout time.Duration, h func(code errs.Code)) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.sock.Connect(ctx, []string{target.String()}, timeout, h)
}

// Cancel aborts an in-flight Connect; its handler still fires, with
// errs.ChannelStopped (or errs.Success if the dial had already completed).
func (c *Connector) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
	c.sock.Stop()
}

// Socket returns the underlying socket, valid for reads/writes once
// Connect has completed successfully.
func (c *Connector) Socket() *Socket { return c.sock }
