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

// AddressCounter is the pool's count-and-save side, kept as an interface
// so session does not need to import address.
type AddressCounter interface {
	Count() int
	Save(items []wire.AddressItem)
}

// SeedConfig bundles SeedSession's tunables from config.Settings.
// Window is named "seed_window" in SPEC_FULL.md §10's supplemented
// feature list; config.Load fills it from channel_handshake when the
// file omits it, and NewSeedSession falls back to ConnectTimeout when it
// is still zero.
type SeedConfig struct {
	Seeds          []wire.Authority
	Threshold      int // seed only if the pool holds fewer than this many entries
	ConnectTimeout time.Duration
	Window         time.Duration

	NewChannel      func(sock *netio.Socket, auth wire.Authority) *channel.Channel
	AttachHandshake func(ch *channel.Channel, nonce wire.Nonce, onComplete protocol.OnComplete)
}

// SeedSession implements spec.md §4.8's SeedSession: if the pool is
// thin, dial each configured seed, perform a short handshake, issue
// getaddr, collect addr replies for Window, save them, then stop the
// channel. Seed channels never enter the p2p registry — they are
// throwaway bootstrap connections, not persistent peers, so this
// session does not call store.StoreChannel/AttachProtocols the way the
// other three variants do. It still pends a nonce and checks
// IsSelfConnect around its own handshake, the same as every other
// outbound-direction variant: a seed dial can land back on our own
// listener just as easily as a regular outbound one can, and spec.md
// §4.7's self-connect detection makes no exception for seeds.
type SeedSession struct {
	*Base
	pool   *strand.Pool
	pooled AddressCounter
	cfg    SeedConfig
}

// NewSeedSession constructs the session.
func NewSeedSession(s *strand.Strand, pool *strand.Pool, store Store, pooled AddressCounter, cfg SeedConfig, log xlog.Logger) *SeedSession {
	if cfg.Window <= 0 {
		cfg.Window = cfg.ConnectTimeout
	}
	ss := &SeedSession{pool: pool, pooled: pooled, cfg: cfg}
	ss.Base = NewBase("seed", s, store, Hooks{}, log)
	return ss
}

// Start seeds only if the pool has fewer than Threshold entries, and
// returns errs.Success if at least one seed contributed any address,
// else errs.SeedingUnsuccessful (spec.md §4.8).
func (ss *SeedSession) Start(h func(code errs.Code)) {
	ss.strand.Post(func() {
		if code := ss.markStarted(); code != errs.Success {
			h(code)
			return
		}
		if ss.pooled.Count() >= ss.cfg.Threshold {
			h(errs.Success)
			return
		}
		ss.seedAll(h)
	})
}

func (ss *SeedSession) seedAll(h func(code errs.Code)) {
	if len(ss.cfg.Seeds) == 0 {
		h(errs.SeedingUnsuccessful)
		return
	}
	remaining := len(ss.cfg.Seeds)
	anySucceeded := false
	finish := func(got bool) {
		if got {
			anySucceeded = true
		}
		remaining--
		if remaining == 0 {
			if anySucceeded {
				h(errs.Success)
			} else {
				h(errs.SeedingUnsuccessful)
			}
		}
	}
	for _, seed := range ss.cfg.Seeds {
		ss.seedOne(seed, func(got bool) {
			ss.strand.Post(func() { finish(got) })
		})
	}
}

func (ss *SeedSession) seedOne(seed wire.Authority, done func(got bool)) {
	nonce := wire.NewNonce()
	ss.store.Pend(nonce, func(code errs.Code) {
		ss.strand.Post(func() {
			if code != errs.Success {
				done(false)
				return
			}
			ss.dial(seed, nonce, done)
		})
	})
}

func (ss *SeedSession) dial(seed wire.Authority, nonce wire.Nonce, done func(got bool)) {
	connector := netio.NewConnector(ss.strand, ss.pool)
	connector.Connect(seed, ss.cfg.ConnectTimeout, func(code errs.Code) {
		ss.strand.Post(func() {
			if ss.stopped || code != errs.Success {
				ss.store.Unpend(nonce)
				done(false)
				return
			}
			ch := ss.cfg.NewChannel(connector.Socket(), seed)
			ch.Start()
			ch.Strand().Post(func() {
				ss.cfg.AttachHandshake(ch, nonce, func(c protocol.Completion) {
					ss.onHandshake(ch, nonce, c, done)
				})
				ch.Resume()
			})
		})
	})
}

// onHandshake runs on ch.Strand() (the handshake protocol's own
// completion callback runs there). It unpends the nonce and checks
// IsSelfConnect exactly as session.go's onHandshakeComplete does for the
// other outbound variants, then either rejects a self-dial or proceeds
// to collect addr replies for Window on the same strand to avoid racing
// the channel's reader loop, and hands the finished, immutable result
// back to the session strand.
func (ss *SeedSession) onHandshake(ch *channel.Channel, nonce wire.Nonce, c protocol.Completion, done func(got bool)) {
	if c.Code != errs.Success {
		ss.store.Unpend(nonce)
		done(false)
		return
	}
	ss.store.IsSelfConnect(wire.Nonce(c.PeerNonce), func(self bool) {
		ch.Strand().Post(func() {
			ss.store.Unpend(nonce)
			if self {
				// spec.md §4.7: echoing our own in-flight nonce means
				// this seed dial landed back on ourselves.
				ch.Stop(errs.ChannelConflict)
				done(false)
				return
			}
			ss.collectAddresses(ch, done)
		})
	})
}

func (ss *SeedSession) collectAddresses(ch *channel.Channel, done func(got bool)) {
	var collected []wire.AddressItem
	channel.Subscribe(ch, wire.IDAddr, func(code errs.Code, msg wire.Addr) bool {
		if code != errs.Success {
			return false
		}
		collected = append(collected, msg.Items...)
		return true
	})
	ch.Send(wire.IDGetAddr, wire.GetAddr{}.Encode(), nil)

	t := timer.New(ch.Strand())
	t.Start(ss.cfg.Window, func(code errs.Code) {
		if code != errs.Success {
			return
		}
		got := append([]wire.AddressItem(nil), collected...)
		ch.Stop(errs.Success)
		ss.strand.Post(func() {
			if len(got) > 0 {
				ss.pooled.Save(got)
			}
			done(len(got) > 0)
		})
	})
}
