package session

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/protocol"
	"github.com/nyxnet/btcp2p/wire"
)

// InboundConfig bundles the tunables InboundSession needs from
// config.Settings, plus the hook closures the p2p orchestrator supplies
// (it is p2p, not session, that knows the configured protocol variants
// and therefore builds these closures).
type InboundConfig struct {
	Enabled         bool
	Port            uint16
	MaxConnections  int
	ConnectTimeout  time.Duration
	AcceptRateLimit rate.Limit // accepts/sec; 0 disables limiting
	AcceptRateBurst int
	Whitelist       func(wire.Authority) bool // nil accepts everything
	Blacklist       func(wire.Authority) bool // nil blocks nothing

	NewChannel      func(sock *netio.Socket) *channel.Channel
	AttachHandshake func(ch *channel.Channel, nonce wire.Nonce, onComplete protocol.OnComplete)
	AttachProtocols func(ch *channel.Channel)
}

// InboundSession implements spec.md §4.8's InboundSession: opens an
// acceptor on the configured port and runs an accept loop admitting
// connections under whitelist/blacklist and the inbound_connections cap.
//
// Grounded on the teacher's own Acceptor-driven inbound path
// (server.go's listenLoop), generalized to post through Base's shared
// start_channel and bounded with a token-bucket accept limiter
// (SPEC_FULL.md §4.10) rather than the teacher's unlimited accept loop.
type InboundSession struct {
	*Base
	cfg      InboundConfig
	pool     *strand.Pool
	acceptor *netio.Acceptor
	limiter  *rate.Limiter
}

// NewInboundSession constructs the session. store is the p2p Store this
// session registers channels with.
func NewInboundSession(s *strand.Strand, pool *strand.Pool, store Store, cfg InboundConfig, log xlog.Logger) *InboundSession {
	is := &InboundSession{cfg: cfg, pool: pool}
	is.Base = NewBase("inbound", s, store, Hooks{
		Outbound:        false,
		Notify:          true,
		Inbound:         true,
		AttachHandshake: cfg.AttachHandshake,
		AttachProtocols: cfg.AttachProtocols,
	}, log)
	if cfg.AcceptRateLimit > 0 {
		is.limiter = rate.NewLimiter(cfg.AcceptRateLimit, cfg.AcceptRateBurst)
	}
	return is
}

// Start opens the listener and begins accepting. Returns errs.Bypassed
// without opening anything if inbound is disabled (spec.md §4.8).
func (is *InboundSession) Start(h func(code errs.Code)) {
	is.strand.Post(func() {
		if code := is.markStarted(); code != errs.Success {
			h(code)
			return
		}
		if !is.cfg.Enabled {
			h(errs.Bypassed)
			return
		}
		acc, err := netio.Listen(":" + strconv.Itoa(int(is.cfg.Port)))
		if err != nil {
			h(errs.ListenFailed)
			return
		}
		is.acceptor = acc
		is.SubscribeStop(func(errs.Code, errs.Code) bool {
			acc.Close()
			return false
		})
		is.acceptNext()
		h(errs.Success)
	})
}

// acceptNext must run on is.strand. The rate limiter's Wait blocks for up
// to ConnectTimeout, so it runs on the pool instead of the strand
// (spec.md: "callbacks must be non-blocking; any blocking work is itself
// scheduled onto a dedicated pool thread") — blocking the strand here
// would delay Stop and every other queued callback behind it, mirroring
// how netio.Socket schedules its own blocking I/O off-strand.
func (is *InboundSession) acceptNext() {
	if is.stopped {
		return
	}
	if is.limiter != nil {
		is.pool.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), is.cfg.ConnectTimeout)
			_ = is.limiter.Wait(ctx)
			cancel()
			is.strand.Post(func() { is.acceptAfterLimit() })
		})
		return
	}
	is.acceptAfterLimit()
}

func (is *InboundSession) acceptAfterLimit() {
	if is.stopped {
		return
	}
	sock := netio.New(strand.New(is.pool), is.pool)
	sock.Accept(is.acceptor, func(code errs.Code) {
		is.strand.Post(func() { is.onAccept(sock, code) })
	})
}

func (is *InboundSession) onAccept(sock *netio.Socket, code errs.Code) {
	if is.stopped {
		return
	}
	if code != errs.Success {
		is.Retry.Start(is.cfg.ConnectTimeout, func(c errs.Code) {
			if c == errs.Success {
				is.acceptNext()
			}
		})
		return
	}

	remote := sock.Remote()
	admitted := true
	if is.cfg.Blacklist != nil && is.cfg.Blacklist(remote) {
		admitted = false
	}
	if is.cfg.Whitelist != nil && !is.cfg.Whitelist(remote) {
		admitted = false
	}
	if is.cfg.MaxConnections > 0 {
		if inbound, _ := is.store.Counts(); inbound >= is.cfg.MaxConnections {
			admitted = false
		}
	}
	if !admitted {
		sock.Stop()
		is.acceptNext()
		return
	}

	ch := is.cfg.NewChannel(sock)
	ch.Start()
	is.StartChannel(ch, func(errs.Code) {}, func(errs.Code) {})
	is.acceptNext()
}
