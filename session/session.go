// Package session implements the L3 Session family of spec.md §4.8: a
// shared base that owns a set of pending (pre-handshake) channels and one
// retry/backoff timer, plus one concrete struct per variant
// (Inbound/Outbound/Manual/Seed).
//
// Grounded on the design notes of spec.md §9: "virtual inheritance across
// sessions becomes a single Session trait with a small set of hook
// methods and one concrete struct per variant." Go has no virtual
// inheritance, so Hooks is a plain struct of closures supplied by each
// variant's constructor, and Base.StartChannel implements the
// start_channel procedure common to every variant exactly once.
package session

import (
	"github.com/google/uuid"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/event"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/timer"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/protocol"
	"github.com/nyxnet/btcp2p/wire"
)

// Store is the subset of the p2p orchestrator (spec.md §4.9) that a
// session needs. Defined here, on the consumer side, so that session
// does not import p2p — p2p imports session and implements Store itself.
// Every method posts its own completion to the session's strand.
type Store interface {
	Pend(nonce wire.Nonce, h func(code errs.Code))
	Unpend(nonce wire.Nonce)
	IsSelfConnect(peerNonce wire.Nonce, h func(self bool))
	StoreChannel(ch *channel.Channel, notify bool, inbound bool, h func(code errs.Code))
	UnstoreChannel(ch *channel.Channel, inbound bool)
	// Counts reports the registry's current admission-control counters
	// (spec.md §3's inbound_count/outbound_count), read synchronously —
	// safe because the registry only ever mutates them on the p2p
	// strand and a session only needs an approximate, racy snapshot to
	// decide whether to keep accepting/dialing.
	Counts() (inbound, outbound int)
	// IsConnected reports whether auth is already a stored channel,
	// for the outbound batch's "skip already-connected" rule.
	IsConnected(auth wire.Authority) bool
}

// Hooks customize Base for one concrete variant.
type Hooks struct {
	// Outbound is true for sessions that dial through StartChannel
	// (Outbound/Manual): they propose a handshake nonce and participate in
	// self-connect detection. Inbound sessions leave this false, and so
	// does SeedSession, which pends and checks its own nonce directly.
	Outbound bool
	// Notify controls whether a successful store broadcasts
	// channel_connect (spec.md §4.9's store operation).
	Notify bool
	// Inbound tags the channel's direction for the registry's counters.
	Inbound bool
	// AttachHandshake runs on ch.Strand(): attach the version protocol
	// (and whatever pairs with it) and arrange for onComplete to be
	// called exactly once with the handshake's terminal code.
	AttachHandshake func(ch *channel.Channel, nonce wire.Nonce, onComplete protocol.OnComplete)
	// AttachProtocols runs on the session strand after a successful
	// handshake and self-connect check, just before the store: ping,
	// address, reject, alert.
	AttachProtocols func(ch *channel.Channel)
}

// Base holds what every session variant needs (spec.md §3 Session /
// §4.8): the set of pending channels, one retry timer, and the common
// start_channel/stop procedures.
type Base struct {
	Name    string
	strand  *strand.Strand
	store   Store
	hooks   Hooks
	log     xlog.Logger
	Retry   *timer.Timer
	started bool
	stopped bool
	pending map[uuid.UUID]*channel.Channel

	stopSub *event.Subscriber[errs.Code]
}

// NewBase constructs the shared session state. Each variant embeds Base
// and calls NewBase from its own constructor.
func NewBase(name string, s *strand.Strand, store Store, hooks Hooks, log xlog.Logger) *Base {
	return &Base{
		Name:    name,
		strand:  s,
		store:   store,
		hooks:   hooks,
		log:     log,
		Retry:   timer.New(s),
		pending: make(map[uuid.UUID]*channel.Channel),
		stopSub: event.New[errs.Code](s),
	}
}

// Strand returns the session's owning strand.
func (b *Base) Strand() *strand.Strand { return b.strand }

// Started reports whether Start has already run and Stop has not.
func (b *Base) Started() bool { return b.started && !b.stopped }

// Stopped reports whether Stop has already run.
func (b *Base) Stopped() bool { return b.stopped }

// markStarted transitions from stopped to started; returns
// errs.OperationFailed if already started, per spec.md §4.8.
func (b *Base) markStarted() errs.Code {
	if b.started {
		return errs.OperationFailed
	}
	b.started = true
	return errs.Success
}

// SubscribeStop registers h to learn when the session stops.
func (b *Base) SubscribeStop(h event.Handler[errs.Code]) error {
	return b.stopSub.Subscribe(h)
}

// Stop cancels the retry timer, stops every pending channel with
// errs.ServiceStopped, clears the pending set, and notifies
// stop-subscribers (spec.md §4.8).
func (b *Base) Stop() {
	b.strand.Post(func() { b.stop() })
}

func (b *Base) stop() {
	if b.stopped {
		return
	}
	b.stopped = true
	b.Retry.Stop()
	for _, ch := range b.pending {
		ch.Stop(errs.ServiceStopped)
	}
	b.pending = make(map[uuid.UUID]*channel.Channel)
	b.stopSub.Stop(errs.ServiceStopped, errs.ServiceStopped)
}

// StartChannel implements spec.md §4.8's start_channel: pend a fresh
// handshake nonce (outbound sessions only), run the handshake on the
// channel's strand, then post back to the session strand to register or
// reject the channel with the p2p store. onStarted/onStopped are each
// invoked exactly once, on the session strand.
func (b *Base) StartChannel(ch *channel.Channel, onStarted func(code errs.Code), onStopped func(code errs.Code)) {
	b.strand.Post(func() {
		if b.stopped {
			onStarted(errs.ServiceStopped)
			onStopped(errs.ServiceStopped)
			return
		}

		nonce := wire.NewNonce()
		begin := func() {
			b.pending[ch.ID()] = ch
			ch.Strand().Post(func() {
				b.hooks.AttachHandshake(ch, nonce, func(c protocol.Completion) {
					b.strand.Post(func() { b.onHandshakeComplete(ch, nonce, c, onStarted, onStopped) })
				})
				ch.Resume()
			})
		}

		if !b.hooks.Outbound {
			begin()
			return
		}
		b.store.Pend(nonce, func(code errs.Code) {
			b.strand.Post(func() {
				if code != errs.Success {
					onStarted(code)
					onStopped(code)
					return
				}
				begin()
			})
		})
	})
}

func (b *Base) onHandshakeComplete(ch *channel.Channel, nonce wire.Nonce, c protocol.Completion, onStarted, onStopped func(code errs.Code)) {
	delete(b.pending, ch.ID())

	if c.Code != errs.Success {
		if b.hooks.Outbound {
			b.store.Unpend(nonce)
		}
		onStarted(c.Code)
		onStopped(c.Code)
		return
	}

	finish := func(selfConnect bool) {
		if b.hooks.Outbound {
			b.store.Unpend(nonce)
		}
		if selfConnect {
			// spec.md §4.7: "detected at session.unpend time", stops
			// the channel with channel_conflict and never enters the
			// registry (testable property 5).
			ch.Stop(errs.ChannelConflict)
			onStarted(errs.ChannelConflict)
			onStopped(errs.ChannelConflict)
			return
		}
		// The version protocol already resumed the channel to run the
		// handshake (protocol/version.go's complete()), so a peer's ping/
		// addr/reject can arrive and find no subscriber registered yet —
		// AttachProtocols runs below, not before. Re-pause around the gap
		// so the channel's own deferred buffer (channel.go's deliver/
		// flushDeferred) catches anything the peer sends in this window,
		// matching the original's "paused while still on the channel
		// strand to prevent acceptance until after protocol attachment".
		ch.Pause()
		b.hooks.AttachProtocols(ch)
		ch.Resume()
		b.store.StoreChannel(ch, b.hooks.Notify, b.hooks.Inbound, func(code errs.Code) {
			b.strand.Post(func() { b.onStored(ch, code, onStarted, onStopped) })
		})
	}

	if b.hooks.Outbound {
		b.store.IsSelfConnect(wire.Nonce(c.PeerNonce), func(self bool) {
			b.strand.Post(func() { finish(self) })
		})
		return
	}
	finish(false)
}

func (b *Base) onStored(ch *channel.Channel, code errs.Code, onStarted, onStopped func(code errs.Code)) {
	if code != errs.Success {
		ch.Stop(code)
		onStarted(code)
		onStopped(code)
		return
	}
	ch.SubscribeStop(func(_ errs.Code, args channel.StopArgs) bool {
		b.strand.Post(func() {
			b.store.UnstoreChannel(ch, b.hooks.Inbound)
			onStopped(args.Code)
		})
		return false
	})
	onStarted(errs.Success)
}
