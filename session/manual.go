package session

import (
	"time"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/timer"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/protocol"
	"github.com/nyxnet/btcp2p/wire"
)

// ManualConfig bundles ManualSession's tunables from config.Settings.
type ManualConfig struct {
	ConnectTimeout time.Duration

	NewChannel      func(sock *netio.Socket, auth wire.Authority) *channel.Channel
	AttachHandshake func(ch *channel.Channel, nonce wire.Nonce, onComplete protocol.OnComplete)
	AttachProtocols func(ch *channel.Channel)
}

// ManualSession implements spec.md §4.8's ManualSession plus
// SPEC_FULL.md §10's supplemented two-entry-point distinction from the
// original: Connect is the one-shot spec.md-described call (h fires
// once with the terminal code of the first completed attempt), Pin adds
// an endpoint to an indefinitely-redialed table with no completion
// handler, matching the original's separate RPC-style connect().
type ManualSession struct {
	*Base
	pool   *strand.Pool
	cfg    ManualConfig
	table  map[wire.Authority]struct{}
	active map[wire.Authority]*netio.Connector
}

// NewManualSession constructs the session.
func NewManualSession(s *strand.Strand, pool *strand.Pool, store Store, cfg ManualConfig, log xlog.Logger) *ManualSession {
	ms := &ManualSession{
		pool:   pool,
		cfg:    cfg,
		table:  make(map[wire.Authority]struct{}),
		active: make(map[wire.Authority]*netio.Connector),
	}
	ms.Base = NewBase("manual", s, store, Hooks{
		Outbound:        true,
		Notify:          true,
		Inbound:         false,
		AttachHandshake: cfg.AttachHandshake,
		AttachProtocols: cfg.AttachProtocols,
	}, log)
	ms.SubscribeStop(func(errs.Code, errs.Code) bool {
		for _, c := range ms.active {
			c.Cancel()
		}
		return false
	})
	return ms
}

// Start transitions the session to started. Dialing only happens once
// Connect/Pin is called (spec.md §4.9's run() drives the initial set).
func (ms *ManualSession) Start(h func(code errs.Code)) {
	ms.strand.Post(func() {
		if code := ms.markStarted(); code != errs.Success {
			h(code)
			return
		}
		h(errs.Success)
	})
}

// Pin adds endpoint to the indefinitely-redialed table and begins
// dialing it with no completion handler (SPEC_FULL.md §10).
func (ms *ManualSession) Pin(endpoint wire.Authority) {
	ms.strand.Post(func() {
		if _, exists := ms.table[endpoint]; exists {
			return
		}
		ms.table[endpoint] = struct{}{}
		ms.dial(endpoint, func(errs.Code) {})
	})
}

// Connect implements spec.md §4.8's manual connect: dials endpoint,
// retrying indefinitely on failure and re-dialing on any later channel
// stop, but invokes h exactly once, with the code of the first completed
// attempt (success, or errs.ServiceStopped if the session stops first).
func (ms *ManualSession) Connect(endpoint wire.Authority, h func(code errs.Code)) {
	ms.strand.Post(func() {
		fired := false
		once := func(code errs.Code) {
			if fired {
				return
			}
			fired = true
			if h != nil {
				h(code)
			}
		}
		ms.dial(endpoint, once)
	})
}

// dial must run on the session strand.
func (ms *ManualSession) dial(endpoint wire.Authority, once func(code errs.Code)) {
	if ms.stopped {
		once(errs.ServiceStopped)
		return
	}
	connector := netio.NewConnector(ms.strand, ms.pool)
	ms.active[endpoint] = connector
	connector.Connect(endpoint, ms.cfg.ConnectTimeout, func(code errs.Code) {
		ms.strand.Post(func() { ms.onConnected(endpoint, connector, code, once) })
	})
}

func (ms *ManualSession) onConnected(endpoint wire.Authority, connector *netio.Connector, code errs.Code, once func(code errs.Code)) {
	delete(ms.active, endpoint)
	if ms.stopped {
		once(errs.ServiceStopped)
		return
	}
	if code != errs.Success {
		ms.retryDial(endpoint, once)
		return
	}

	ch := ms.cfg.NewChannel(connector.Socket(), endpoint)
	ch.Start()
	started := false
	ms.StartChannel(ch, func(code errs.Code) {
		if code != errs.Success {
			ms.retryDial(endpoint, once)
			return
		}
		started = true
		once(errs.Success)
	}, func(errs.Code) {
		// A channel that never started is already being redialed by
		// retryDial above.
		if !started {
			return
		}
		// spec.md §4.8: "on channel stop re-dials the same endpoint."
		// once has already fired by now, so further redials are
		// effectively Pin-like (no-op handler).
		ms.dial(endpoint, func(errs.Code) {})
	})
}

func (ms *ManualSession) retryDial(endpoint wire.Authority, once func(code errs.Code)) {
	if ms.stopped {
		once(errs.ServiceStopped)
		return
	}
	t := timer.New(ms.strand)
	t.Start(ms.cfg.ConnectTimeout, func(code errs.Code) {
		if code == errs.Success {
			ms.dial(endpoint, once)
		}
	})
}
