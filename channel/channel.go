// Package channel implements the L2 Channel: the message-level peer
// session described in spec.md §3/§4.6 — reader loop, FIFO send queue,
// typed message pub/sub keyed by wire.Identifier, handshake gating via
// pause/resume, and the heartbeat/inactivity timers.
//
// Grounded on the teacher's p2p.Messenger (messenger.go): a per-peer
// actor with one read loop dispatching decoded messages to protocol
// handlers and one write path draining a queue — generalized from a
// dedicated goroutine to a strand, and from protocol-offset dispatch to
// typed-identifier pub/sub (internal/event.Subscriber).
package channel

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/event"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/timer"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/wire"
)

// DefaultMaxPayload is the default maximum frame payload size (spec.md
// §4.6: "default 32 MB").
const DefaultMaxPayload = 32 * 1024 * 1024

// HeartbeatMode selects how the channel drives its own outbound keepalive.
type HeartbeatMode int

const (
	// HeartbeatNone disables channel-driven heartbeat; a protocol may
	// still send pings of its own accord.
	HeartbeatNone HeartbeatMode = iota
	// HeartbeatSilent sends an empty-payload ping each interval and
	// expects no pong (ping_31402, spec.md §4.7).
	HeartbeatSilent
	// HeartbeatNonced sends a nonce'd ping each interval and requires a
	// matching pong within the next interval, or stops the channel
	// (ping_60001, spec.md §4.6/§4.7).
	HeartbeatNonced
)

// Config bundles the channel's tunables, sourced from config.Settings.
type Config struct {
	MaxPayload         uint32
	HeartbeatInterval  time.Duration
	InactivityInterval time.Duration
	SendQueueCapacity  int
	ProtocolMaximum    uint32

	// OnBytesIn/OnBytesOut, if set, are called with the framed size of
	// every successfully read/written message (header+payload), for a
	// caller wiring byte-count metrics (SPEC_FULL.md §1's ambient metrics
	// stack). Never called with any other code.
	OnBytesIn  func(n int)
	OnBytesOut func(n int)
}

// StopArgs is delivered to the stop subscriber exactly once per channel.
type StopArgs struct {
	Channel *Channel
	Code    errs.Code
}

type queuedSend struct {
	payload []byte
	done    func(code errs.Code)
}

// Channel is the central per-peer actor (spec.md §3/§4.6).
type Channel struct {
	id        uuid.UUID
	strand    *strand.Strand
	pool      *strand.Pool
	socket    *netio.Socket
	codec     wire.Codec
	cfg       Config
	log       xlog.Logger
	inbound   bool
	authority wire.Authority

	// strand-confined state — only ever touched from a callback posted
	// to s.strand, per the invariant documented in spec.md §3.
	paused          bool
	running         bool
	stopped         bool
	protocolVersion uint32

	sendQueue []queuedSend
	writing   bool

	subscribers map[wire.Identifier]*event.Subscriber[any]
	unknownSub  *event.Subscriber[wire.RawMessage]
	stopSub     *event.Subscriber[StopArgs]

	// deferred holds messages decoded while paused, other than the
	// handshake's own version/verack exchange, for delivery once Resume
	// flips paused back off (spec.md §4.6: "while paused, received
	// messages cannot be observed").
	deferred []deferredDelivery

	heartbeat   *timer.Timer
	inactivity  *timer.Timer
	heartMode   HeartbeatMode
	pendingPong bool
	pingNonce   wire.Nonce
}

// New constructs a channel over an already-connected socket. The channel
// starts paused (spec.md §4.6): the owning session must attach the
// version protocol and call Resume once the handshake completes.
func New(pool *strand.Pool, socket *netio.Socket, codec wire.Codec, cfg Config, inbound bool, log xlog.Logger) *Channel {
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if cfg.SendQueueCapacity == 0 {
		cfg.SendQueueCapacity = 1000
	}
	s := strand.New(pool)
	ch := &Channel{
		id:              uuid.Must(uuid.NewV7()),
		strand:          s,
		pool:            pool,
		socket:          socket,
		codec:           codec,
		cfg:             cfg,
		log:             log,
		inbound:         inbound,
		authority:       socket.Remote(),
		paused:          true,
		protocolVersion: cfg.ProtocolMaximum,
		subscribers:     make(map[wire.Identifier]*event.Subscriber[any]),
		unknownSub:      event.New[wire.RawMessage](s),
		stopSub:         event.New[StopArgs](s),
	}
	ch.heartbeat = timer.New(s)
	ch.inactivity = timer.New(s)
	return ch
}

// ID returns the channel's unique id (a time-ordered UUIDv7, stable total
// order across process restarts — see SPEC_FULL.md §4.10).
func (ch *Channel) ID() uuid.UUID { return ch.id }

// Authority returns the resolved peer address.
func (ch *Channel) Authority() wire.Authority { return ch.authority }

// Inbound reports whether the channel originated from an accept (true)
// or a dial (false).
func (ch *Channel) Inbound() bool { return ch.inbound }

// Strand exposes the owning strand so sessions/protocols can post
// callbacks that must run exclusively with channel state mutation.
func (ch *Channel) Strand() *strand.Strand { return ch.strand }

// ProtocolVersion returns the negotiated version (initially the
// configured maximum, per spec.md §3).
func (ch *Channel) ProtocolVersion() uint32 {
	return ch.protocolVersion
}

// SetProtocolVersion is called by the version protocol once negotiated.
// Must run on the channel's strand.
func (ch *Channel) SetProtocolVersion(v uint32) {
	strand.MustBeOnStrand(ch.strand, "SetProtocolVersion")
	ch.protocolVersion = v
}

// Start begins the reader loop. Idempotent beyond the first call.
func (ch *Channel) Start() {
	ch.strand.Post(func() {
		if ch.running || ch.stopped {
			return
		}
		ch.running = true
		ch.armInactivity()
		ch.scheduleRead()
	})
}

// Pause stops delivery of decoded messages to subscribers other than the
// handshake's own version/verack exchange. Messages already scheduled for
// delivery are allowed to complete (spec.md §4.6).
func (ch *Channel) Pause() {
	ch.strand.Post(func() { ch.paused = true })
}

// Resume re-enables delivery of decoded messages to subscribers, called by
// the handshake protocol once version/service negotiation completes. The
// reader loop itself never stops for pause — Start alone owns the sole
// read chain (spec.md §3 invariant (1): at most one reader outstanding on
// the socket). Resume only flips the paused flag and flushes whatever
// arrived while paused; it must never call scheduleRead, since Start's
// chain is already running and a second call would race it on the same
// socket.
func (ch *Channel) Resume() {
	ch.strand.Post(func() {
		if ch.stopped {
			return
		}
		ch.paused = false
		ch.flushDeferred()
	})
}

// StartHeartbeat arms the channel's own keepalive, per mode.
func (ch *Channel) StartHeartbeat(mode HeartbeatMode) {
	ch.strand.Post(func() {
		ch.heartMode = mode
		if mode == HeartbeatNone || ch.cfg.HeartbeatInterval <= 0 {
			return
		}
		ch.pendingPong = false
		ch.armHeartbeat()
	})
}

func (ch *Channel) armHeartbeat() {
	ch.heartbeat.Start(ch.cfg.HeartbeatInterval, func(code errs.Code) {
		if code != errs.Success || ch.stopped {
			return
		}
		ch.onHeartbeatTick()
	})
}

func (ch *Channel) onHeartbeatTick() {
	switch ch.heartMode {
	case HeartbeatSilent:
		ch.sendRaw(wire.IDPing, nil, nil)
		ch.armHeartbeat()
	case HeartbeatNonced:
		if ch.pendingPong {
			ch.stop(errs.ChannelTimeout)
			return
		}
		ch.pingNonce = wire.NewNonce()
		ch.pendingPong = true
		ch.sendRaw(wire.IDPing, wire.Ping{Nonce: ch.pingNonce}.Encode(), nil)
		ch.armHeartbeat()
	}
}

// observePong is called by the base reader loop whenever a pong is
// decoded; it is how the channel clears its own pendingPong bookkeeping
// independent of whatever protocol-level subscribers also see the pong.
func (ch *Channel) observePong(p wire.Pong) {
	if ch.heartMode != HeartbeatNonced || !ch.pendingPong {
		return
	}
	if p.Nonce != ch.pingNonce {
		ch.stop(errs.BadStream)
		return
	}
	ch.pendingPong = false
}

func (ch *Channel) armInactivity() {
	if ch.cfg.InactivityInterval <= 0 {
		return
	}
	ch.inactivity.Start(ch.cfg.InactivityInterval, func(code errs.Code) {
		if code != errs.Success || ch.stopped {
			return
		}
		ch.stop(errs.ChannelDropped)
	})
}

func (ch *Channel) resetInactivity() {
	if ch.cfg.InactivityInterval <= 0 {
		return
	}
	ch.armInactivity()
}

// scheduleRead issues the next header read if running and not stopped —
// invariant (1) of spec.md §3: at most one reader outstanding on the
// socket at any instant. Start is the only caller that begins this chain;
// every subsequent link is chained from handlePayload/unknown-message
// handling below, so exactly one call to socket.Read is ever outstanding.
//
// Reading proceeds regardless of the paused flag: the handshake protocol
// rides this same reader loop to observe the peer's version/verack while
// the channel is still paused (spec.md §4.8 step 4, "call channel.resume
// to begin reading", would otherwise deadlock the handshake against
// itself). paused instead gates delivery via deliver/deliverUnknown below,
// which defer anything but the version/verack exchange until Resume.
func (ch *Channel) scheduleRead() {
	if ch.stopped || !ch.running {
		return
	}
	buf := make([]byte, wire.HeaderSize)
	ch.socket.Read(buf, func(code errs.Code, n int) {
		if ch.stopped {
			return
		}
		if code != errs.Success {
			ch.stop(code)
			return
		}
		ch.handleHeader(buf)
	})
}

func (ch *Channel) handleHeader(buf []byte) {
	hdr, err := ch.codec.ReadHeader(bytes.NewReader(buf))
	if err != nil {
		ch.stop(errs.InvalidHeading)
		return
	}
	if !ch.codec.VerifyMagic(hdr) {
		ch.stop(errs.InvalidMagic)
		return
	}
	if hdr.Length > ch.cfg.MaxPayload {
		// spec.md §10 (testable property 10): do not read the body.
		ch.stop(errs.OversizedPayload)
		return
	}
	payloadBuf := make([]byte, hdr.Length)
	ch.socket.Read(payloadBuf, func(code errs.Code, n int) {
		if ch.stopped {
			return
		}
		if code != errs.Success {
			ch.stop(code)
			return
		}
		if ch.cfg.OnBytesIn != nil {
			ch.cfg.OnBytesIn(wire.HeaderSize + len(payloadBuf))
		}
		ch.handlePayload(hdr, payloadBuf)
	})
}

func (ch *Channel) handlePayload(hdr wire.Header, payload []byte) {
	if !ch.codec.Verify(hdr, payload) {
		ch.stop(errs.InvalidChecksum)
		return
	}
	ch.resetInactivity()

	id, known := ch.codec.Classify(hdr.Command)
	if !known {
		ch.deliverUnknown(wire.RawMessage{Command: hdr.Command, Payload: payload})
		ch.scheduleRead()
		return
	}
	decoded, err := ch.codec.Decode(id, payload)
	if err != nil {
		ch.stop(errs.InvalidMessage)
		return
	}
	if pong, ok := decoded.(wire.Pong); ok {
		ch.observePong(pong)
	}
	ch.deliver(id, decoded)
	ch.scheduleRead()
}

// deferredDelivery is a message decoded while paused, held back for
// flushDeferred to hand to subscribers once Resume runs.
type deferredDelivery struct {
	unknown bool
	id      wire.Identifier
	decoded any
	raw     wire.RawMessage
}

// isHandshakeIdentifier reports whether id is part of the version/verack
// exchange itself, the one case that must reach subscribers even while
// paused — Resume is what the handshake calls once it observes these, so
// gating them too would deadlock every handshake.
func isHandshakeIdentifier(id wire.Identifier) bool {
	return id == wire.IDVersion || id == wire.IDVerAck
}

// deliver notifies id's subscriber, unless the channel is still paused
// and id isn't part of the handshake exchange, in which case delivery is
// deferred until Resume (spec.md §4.6: "while paused, received messages
// cannot be observed").
func (ch *Channel) deliver(id wire.Identifier, decoded any) {
	if ch.paused && !isHandshakeIdentifier(id) {
		ch.deferred = append(ch.deferred, deferredDelivery{id: id, decoded: decoded})
		return
	}
	if sub, ok := ch.subscribers[id]; ok {
		sub.Notify(decoded)
	}
}

// deliverUnknown is deliver's counterpart for commands the codec does not
// classify.
func (ch *Channel) deliverUnknown(raw wire.RawMessage) {
	if ch.paused {
		ch.deferred = append(ch.deferred, deferredDelivery{unknown: true, raw: raw})
		return
	}
	ch.unknownSub.Notify(raw)
}

// flushDeferred hands every message that arrived while paused to its
// subscriber, in arrival order, then drops the backlog.
func (ch *Channel) flushDeferred() {
	pending := ch.deferred
	ch.deferred = nil
	for _, d := range pending {
		if d.unknown {
			ch.unknownSub.Notify(d.raw)
			continue
		}
		if sub, ok := ch.subscribers[d.id]; ok {
			sub.Notify(d.decoded)
		}
	}
}

// subscribeAny registers h for notifications of identifier id. Exported
// indirectly via the package-level generic Subscribe helper (Go methods
// cannot carry their own type parameters).
func (ch *Channel) subscribeAny(id wire.Identifier, h event.Handler[any]) error {
	subscribe := func() error {
		sub, ok := ch.subscribers[id]
		if !ok {
			sub = event.New[any](ch.strand)
			ch.subscribers[id] = sub
		}
		return sub.Subscribe(h)
	}
	// On the strand already (e.g. inside a message handler), posting and
	// waiting would block the drain that has to run the posted callback.
	if ch.strand.RunningInThisStrand() {
		return subscribe()
	}
	done := make(chan error, 1)
	ch.strand.Post(func() { done <- subscribe() })
	return <-done
}

// SubscribeUnknown registers h for commands the codec does not classify
// (spec.md §4.6's "emit unknown_message to a generic subscriber").
func (ch *Channel) SubscribeUnknown(h event.Handler[wire.RawMessage]) error {
	return ch.unknownSub.Subscribe(h)
}

// SubscribeStop registers h to learn of channel death. It is the single
// place external watchers learn about channel termination (spec.md
// §4.6).
func (ch *Channel) SubscribeStop(h event.Handler[StopArgs]) error {
	return ch.stopSub.Subscribe(h)
}

// Subscribe registers h for message identifier id, with T the concrete
// decoded Go type (wire.Version, wire.Ping, wire.Addr, ...). A package
// function rather than a method because Go methods cannot have their own
// type parameters.
func Subscribe[T any](ch *Channel, id wire.Identifier, h func(code errs.Code, msg T) bool) error {
	return ch.subscribeAny(id, func(code errs.Code, msg any) bool {
		t, ok := msg.(T)
		if !ok {
			return true
		}
		return h(code, t)
	})
}

// Send appends (identifier, payload) to the FIFO send queue. Sending
// non-version messages before Resume is a programming error (spec.md
// §4.6) and is not itself guarded here — the handshake protocol is the
// only caller permitted to send before Resume.
func (ch *Channel) Send(id wire.Identifier, payload []byte, done func(code errs.Code)) {
	ch.strand.Post(func() { ch.sendRaw(id, payload, done) })
}

func (ch *Channel) sendRaw(id wire.Identifier, payload []byte, done func(code errs.Code)) {
	if ch.stopped {
		if done != nil {
			done(errs.ChannelStopped)
		}
		return
	}
	if len(ch.sendQueue) >= ch.cfg.SendQueueCapacity {
		if done != nil {
			done(errs.Oversubscribed)
		}
		return
	}
	framed, err := ch.codec.Encode(id, payload)
	if err != nil {
		if done != nil {
			done(errs.InvalidMessage)
		}
		return
	}
	ch.sendQueue = append(ch.sendQueue, queuedSend{payload: framed, done: done})
	if !ch.writing {
		ch.writeNext()
	}
}

func (ch *Channel) writeNext() {
	if ch.stopped || len(ch.sendQueue) == 0 {
		ch.writing = false
		return
	}
	ch.writing = true
	item := ch.sendQueue[0]
	ch.socket.Write(item.payload, func(code errs.Code) {
		if ch.stopped {
			return
		}
		ch.sendQueue = ch.sendQueue[1:]
		if code == errs.Success && ch.cfg.OnBytesOut != nil {
			ch.cfg.OnBytesOut(len(item.payload))
		}
		if item.done != nil {
			item.done(code)
		}
		if code != errs.Success {
			ch.stop(code)
			return
		}
		ch.writeNext()
	})
}

// Stop is idempotent (spec.md §4.6). After it runs, no further
// notifications are delivered and every queued send handler has already
// completed, or is completed now, with ec.
func (ch *Channel) Stop(ec errs.Code) {
	ch.strand.Post(func() { ch.stop(ec) })
}

func (ch *Channel) stop(ec errs.Code) {
	if ch.stopped {
		return
	}
	ch.stopped = true
	ch.heartbeat.Stop()
	ch.inactivity.Stop()
	ch.socket.Stop()

	for _, item := range ch.sendQueue {
		if item.done != nil {
			item.done(ec)
		}
	}
	ch.sendQueue = nil

	for id, sub := range ch.subscribers {
		sub.Stop(ec, nil)
		delete(ch.subscribers, id)
	}
	ch.unknownSub.Stop(ec, wire.RawMessage{})
	ch.stopSub.Stop(ec, StopArgs{Channel: ch, Code: ec})

	ch.log.Debug("channel stopped", "id", ch.id, "authority", ch.authority.String(), "code", ec)
}

func (ch *Channel) String() string {
	return fmt.Sprintf("channel[%s %s]", ch.id, ch.authority)
}
