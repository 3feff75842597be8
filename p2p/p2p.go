// Package p2p implements spec.md §4.9's P2P orchestrator: the top-level
// object a process constructs, owning the thread pool, the address pool,
// the channel registry (authorities + in-flight nonces + per-direction
// counters), the four Session variants, and the error-mapped stop
// subscriber.
//
// Grounded on the teacher's own p2p.Server (server.go): one object owning
// a dial/listen loop, a peer set, and Start/Stop — generalized from a
// single loop choosing between dialing and listening to four independent
// Session variants coordinated through the session.Store contract, so
// that adding a fifth variant never touches this file's registry logic.
package p2p

import (
	"fmt"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/time/rate"

	"github.com/nyxnet/btcp2p/address"
	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/config"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/event"
	"github.com/nyxnet/btcp2p/internal/metrics"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/protocol"
	"github.com/nyxnet/btcp2p/session"
	"github.com/nyxnet/btcp2p/wire"
)

// ChannelEvent is broadcast on store/unstore (spec.md §4.9: "broadcast
// channel_connect"/"broadcast channel_stop").
type ChannelEvent struct {
	Channel *channel.Channel
	Inbound bool
	Code    errs.Code // meaningful for stop events; errs.Success for connect
}

// Orchestrator is the L4 object spec.md §4.9 describes. Every public
// method posts its work to the orchestrator's own strand, per §5's
// "reached only via the p2p strand, serializing mutation".
type Orchestrator struct {
	strand  *strand.Strand
	pool    *strand.Pool
	log     xlog.Logger
	metrics *metrics.Registry
	cfg     *config.Settings
	codec   wire.Codec
	local   wire.Authority

	addresses *address.Pool
	persister *address.FilePersister

	// authorities is read off-strand by OutboundSession's skip predicate
	// (session.Store.IsConnected) — mapset's default Set is internally
	// mutex-guarded, so that read never needs to hop through o.strand.
	authorities mapset.Set[wire.Authority]
	nonces      mapset.Set[wire.Nonce]
	inboundCnt  atomic.Int32
	outboundCnt atomic.Int32

	connectSub *event.Subscriber[ChannelEvent]
	stopSub    *event.Subscriber[ChannelEvent]
	closeSub   *event.Subscriber[errs.Code]

	blacklist map[wire.Authority]struct{}
	whitelist map[wire.Authority]struct{}
	manual    []wire.Authority

	inbound      *session.InboundSession
	outboundSess *session.OutboundSession
	manualSess   *session.ManualSession
	seedSess     *session.SeedSession

	persistDone chan struct{}
	closed      atomic.Bool
}

// addressPersistInterval is how often the address pool is flushed to disk
// while running (spec.md §3 AddressPool: "persisted periodically"); the
// spec names no settings key for it, so it is a fixed interval rather
// than a config field.
const addressPersistInterval = 10 * time.Minute

// New constructs an Orchestrator from settings, ready for Start. reg may
// be nil to disable metrics.
func New(cfg *config.Settings, log xlog.Logger, reg *metrics.Registry) (*Orchestrator, error) {
	local := wire.Authority{}
	if cfg.Local != "" {
		var err error
		local, err = wire.ParseAuthority(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("p2p: invalid local authority %q: %w", cfg.Local, err)
		}
	}
	manual, err := parseAuthorities(cfg.Peers)
	if err != nil {
		return nil, err
	}
	seeds, err := parseAuthorities(cfg.Seeds)
	if err != nil {
		return nil, err
	}
	blacklist, err := parseAuthoritySet(cfg.Blacklists)
	if err != nil {
		return nil, err
	}
	whitelist, err := parseAuthoritySet(cfg.Whitelists)
	if err != nil {
		return nil, err
	}

	poolSize := 0 // runtime.GOMAXPROCS(0) via strand.NewPool's own default
	pool := strand.NewPool(poolSize)
	o := &Orchestrator{
		strand:      strand.New(pool),
		pool:        pool,
		log:         log,
		metrics:     reg,
		cfg:         cfg,
		codec:       wire.NewBitcoinCodec(cfg.Identifier),
		local:       local,
		addresses:   address.New(cfg.HostPoolCapacity),
		persister:   &address.FilePersister{Path: cfg.AddressPoolPath},
		authorities: mapset.NewSet[wire.Authority](),
		nonces:      mapset.NewSet[wire.Nonce](),
		blacklist:   blacklist,
		whitelist:   whitelist,
		manual:      manual,
	}
	o.connectSub = event.New[ChannelEvent](o.strand)
	o.stopSub = event.New[ChannelEvent](o.strand)
	o.closeSub = event.New[errs.Code](o.strand)

	if items, loadErr := o.persister.Load(); loadErr != nil {
		log.Warn("address pool load failed", "path", cfg.AddressPoolPath, "err", loadErr)
	} else if len(items) > 0 {
		o.addresses.Save(items)
	}

	o.persistDone = make(chan struct{})
	go o.persistLoop()

	o.inbound = session.NewInboundSession(o.strand, pool, o, session.InboundConfig{
		Enabled:         cfg.InboundEnabled,
		Port:            cfg.InboundPort,
		MaxConnections:  cfg.InboundConnections,
		ConnectTimeout:  cfg.ConnectTimeout.Duration(),
		AcceptRateLimit: rate.Limit(cfg.AcceptRateLimit),
		AcceptRateBurst: cfg.AcceptRateBurst,
		Whitelist:       o.isWhitelisted,
		Blacklist:       o.isBlacklisted,
		NewChannel:      o.newInboundChannel,
		AttachHandshake: o.attachHandshake,
		AttachProtocols: o.attachProtocols,
	}, log)

	o.outboundSess = session.NewOutboundSession(o.strand, pool, o, o.addresses, session.OutboundConfig{
		Connections:     cfg.OutboundConnections,
		BatchSize:       cfg.ConnectBatchSize,
		ConnectTimeout:  cfg.ConnectTimeout.Duration(),
		PoolCapacity:    cfg.HostPoolCapacity,
		Blacklist:       o.isBlacklisted,
		NewChannel:      o.newOutboundChannel,
		AttachHandshake: o.attachHandshake,
		AttachProtocols: o.attachProtocols,
	}, log)

	o.manualSess = session.NewManualSession(o.strand, pool, o, session.ManualConfig{
		ConnectTimeout:  cfg.ConnectTimeout.Duration(),
		NewChannel:      o.newOutboundChannel,
		AttachHandshake: o.attachHandshake,
		AttachProtocols: o.attachProtocols,
	}, log)

	o.seedSess = session.NewSeedSession(o.strand, pool, o, o.addresses, session.SeedConfig{
		Seeds:           seeds,
		Threshold:       cfg.SeedThreshold,
		ConnectTimeout:  cfg.ConnectTimeout.Duration(),
		Window:          cfg.SeedWindow.Duration(),
		NewChannel:      o.newOutboundChannel,
		AttachHandshake: o.attachHandshake,
	}, log)

	return o, nil
}

// Strand returns the orchestrator's owning strand, mainly for tests.
func (o *Orchestrator) Strand() *strand.Strand { return o.strand }

// SubscribeConnect registers h to learn of every channel_connect.
func (o *Orchestrator) SubscribeConnect(h event.Handler[ChannelEvent]) error {
	return o.connectSub.Subscribe(h)
}

// SubscribeChannelStop registers h to learn of every channel_stop.
func (o *Orchestrator) SubscribeChannelStop(h event.Handler[ChannelEvent]) error {
	return o.stopSub.Subscribe(h)
}

// Start implements spec.md §4.9's start: creates and starts inbound,
// seed, outbound, and manual sessions in that order; first failure
// short-circuits.
func (o *Orchestrator) Start(h func(code errs.Code)) {
	o.strand.Post(func() {
		o.inbound.Start(func(code errs.Code) {
			if code != errs.Success && code != errs.Bypassed {
				h(code)
				return
			}
			o.seedSess.Start(func(code errs.Code) {
				// seeding_unsuccessful is logged, not fatal to startup.
				if code != errs.Success {
					o.log.Warn("seeding unsuccessful", "code", code)
					if o.metrics != nil {
						o.metrics.SeedingFailures.Inc()
					}
				}
				o.outboundSess.Start(func(code errs.Code) {
					if code != errs.Success {
						h(code)
						return
					}
					o.manualSess.Start(func(code errs.Code) {
						h(code)
					})
				})
			})
		})
	})
}

// Run implements spec.md §4.9's run: begins dialing the manual peers
// configured at startup. Succeeds immediately; retries are internal to
// ManualSession.
func (o *Orchestrator) Run(h func(code errs.Code)) {
	o.strand.Post(func() {
		for _, peer := range o.manual {
			o.manualSess.Pin(peer)
		}
		h(errs.Success)
	})
}

// Connect implements spec.md §4.9's connect: delegate to the manual
// session.
func (o *Orchestrator) Connect(authority wire.Authority, h func(code errs.Code)) {
	o.strand.Post(func() {
		o.manualSess.Connect(authority, h)
	})
}

// Pend implements session.Store: reserves nonce for an in-flight outbound
// handshake, failing channel_conflict on collision (spec.md §4.8 step 2).
func (o *Orchestrator) Pend(nonce wire.Nonce, h func(code errs.Code)) {
	o.strand.Post(func() {
		if o.nonces.Contains(nonce) {
			h(errs.ChannelConflict)
			return
		}
		o.nonces.Add(nonce)
		h(errs.Success)
	})
}

// Unpend implements session.Store.
func (o *Orchestrator) Unpend(nonce wire.Nonce) {
	o.strand.Post(func() { o.nonces.Remove(nonce) })
}

// IsSelfConnect implements session.Store: a peer echoing one of our own
// in-flight outbound nonces means we dialed ourselves (spec.md §3's Nonce
// note, §4.7's self-connect detection).
func (o *Orchestrator) IsSelfConnect(peerNonce wire.Nonce, h func(self bool)) {
	o.strand.Post(func() { h(o.nonces.Contains(peerNonce)) })
}

// StoreChannel implements spec.md §4.9's store: if authority already
// present, fails address_in_use; else inserts, increments the direction
// counter, and if notify, broadcasts channel_connect.
func (o *Orchestrator) StoreChannel(ch *channel.Channel, notify bool, inbound bool, h func(code errs.Code)) {
	o.strand.Post(func() {
		auth := ch.Authority()
		if o.authorities.Contains(auth) {
			h(errs.AddressInUse)
			return
		}
		o.authorities.Add(auth)
		if inbound {
			o.inboundCnt.Add(1)
		} else {
			o.outboundCnt.Add(1)
		}
		if o.metrics != nil {
			if inbound {
				o.metrics.InboundConnects.Inc()
				o.metrics.ConnectedInbound.Inc()
			} else {
				o.metrics.OutboundConnects.Inc()
				o.metrics.ConnectedOutbound.Inc()
			}
		}
		if notify {
			o.connectSub.Notify(ChannelEvent{Channel: ch, Inbound: inbound, Code: errs.Success})
		}
		h(errs.Success)
	})
}

// UnstoreChannel implements spec.md §4.9's unstore: remove and decrement,
// broadcast channel_stop. Underflow (unstoring an authority never stored)
// is a programming error and is logged rather than panicking, since a
// stray duplicate stop must never take the whole orchestrator down.
func (o *Orchestrator) UnstoreChannel(ch *channel.Channel, inbound bool) {
	o.strand.Post(func() {
		auth := ch.Authority()
		if !o.authorities.Contains(auth) {
			o.log.Warn("unstore of unknown authority", "authority", auth.String())
			return
		}
		o.authorities.Remove(auth)
		if inbound {
			o.inboundCnt.Add(-1)
		} else {
			o.outboundCnt.Add(-1)
		}
		if o.metrics != nil {
			if inbound {
				o.metrics.ConnectedInbound.Dec()
			} else {
				o.metrics.ConnectedOutbound.Dec()
			}
		}
		o.stopSub.Notify(ChannelEvent{Channel: ch, Inbound: inbound, Code: errs.ChannelStopped})
	})
}

// Counts implements session.Store. Safe to call off the orchestrator's
// strand: atomic.Int32 loads never race.
func (o *Orchestrator) Counts() (inbound, outbound int) {
	return int(o.inboundCnt.Load()), int(o.outboundCnt.Load())
}

// IsConnected implements session.Store, reading the mutex-guarded mapset
// directly rather than hopping through o.strand (spec.md §5: sessions
// only need an approximate, racy snapshot to decide admission).
func (o *Orchestrator) IsConnected(auth wire.Authority) bool {
	return o.authorities.Contains(auth)
}

// Take delegates to the address pool.
func (o *Orchestrator) Take(skip func(wire.Authority) bool) (wire.AddressItem, bool) {
	return o.addresses.Take(skip)
}

// Fetch delegates to the address pool.
func (o *Orchestrator) Fetch(n int) []wire.AddressItem { return o.addresses.Fetch(n) }

// Save delegates to the address pool.
func (o *Orchestrator) Save(items []wire.AddressItem) { o.addresses.Save(items) }

// Restore delegates to the address pool.
func (o *Orchestrator) Restore(item wire.AddressItem) { o.addresses.Restore(item) }

// AddressCount delegates to the address pool.
func (o *Orchestrator) AddressCount() int { return o.addresses.Count() }

// Close implements spec.md §4.9's close: stop all sessions, stop the
// pool, join.
func (o *Orchestrator) Close() {
	if !o.closed.CompareAndSwap(false, true) {
		return
	}
	done := make(chan struct{})
	o.strand.Post(func() {
		defer close(done)
		o.inbound.Stop()
		o.seedSess.Stop()
		o.outboundSess.Stop()
		o.manualSess.Stop()
		if err := o.persister.Save(o.addresses.Snapshot()); err != nil {
			o.log.Warn("address pool save failed", "path", o.cfg.AddressPoolPath, "err", err)
		}
		o.closeSub.Stop(errs.ServiceStopped, errs.ServiceStopped)
	})
	<-done
	close(o.persistDone)
	o.pool.Stop()
}

func (o *Orchestrator) persistLoop() {
	ticker := time.NewTicker(addressPersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := o.persister.Save(o.addresses.Snapshot()); err != nil {
				o.log.Warn("periodic address pool save failed", "path", o.cfg.AddressPoolPath, "err", err)
			}
		case <-o.persistDone:
			return
		}
	}
}

func (o *Orchestrator) isBlacklisted(auth wire.Authority) bool {
	if len(o.blacklist) == 0 {
		return false
	}
	_, blocked := o.blacklist[auth]
	return blocked
}

func (o *Orchestrator) isWhitelisted(auth wire.Authority) bool {
	if len(o.whitelist) == 0 {
		return true
	}
	_, allowed := o.whitelist[auth]
	return allowed
}

func (o *Orchestrator) newInboundChannel(sock *netio.Socket) *channel.Channel {
	return channel.New(o.pool, sock, o.codec, o.channelConfig(), true, o.log)
}

func (o *Orchestrator) newOutboundChannel(sock *netio.Socket, _ wire.Authority) *channel.Channel {
	return channel.New(o.pool, sock, o.codec, o.channelConfig(), false, o.log)
}

func (o *Orchestrator) channelConfig() channel.Config {
	cfg := channel.Config{
		ProtocolMaximum:    o.cfg.ProtocolMaximum,
		HeartbeatInterval:  o.cfg.ChannelHeartbeat.Duration(),
		InactivityInterval: o.cfg.ChannelInactivity.Duration(),
	}
	if o.metrics != nil {
		cfg.OnBytesIn = func(n int) { o.metrics.BytesIn.Add(float64(n)) }
		cfg.OnBytesOut = func(n int) { o.metrics.BytesOut.Add(float64(n)) }
	}
	return cfg
}

func (o *Orchestrator) attachHandshake(ch *channel.Channel, nonce wire.Nonce, onComplete protocol.OnComplete) {
	protocol.NewVersion(ch, protocol.VersionConfig{
		Variant:            protocol.Variant(o.cfg.ProtocolMaximum),
		ProtocolVersion:    int32(o.cfg.ProtocolMaximum),
		Services:           o.cfg.Services,
		UserAgent:          o.cfg.UserAgent,
		Nonce:              nonce,
		Timeout:            o.cfg.ChannelHandshake.Duration(),
		RequireNodeNetwork: o.cfg.ProtocolMaximum >= uint32(protocol.Variant70001),
		MinimumVersion:     int32(o.cfg.ProtocolMinimum),
		Local:              o.local,
	}, onComplete).Start()
}

func (o *Orchestrator) attachProtocols(ch *channel.Channel) {
	if o.cfg.ProtocolMaximum >= 60001 {
		protocol.NewPingNonced(ch).Start()
	} else {
		protocol.NewPingLegacy(ch).Start()
	}
	protocol.NewAddressIn(ch, o.addresses, o.selfAuthorities()).Start()
	protocol.NewAddressOut(ch, o.addresses).Start()
	if o.cfg.EnableReject {
		protocol.NewReject(ch, o.log).Start()
	}
	if o.cfg.EnableAlert {
		protocol.NewAlert(ch).Start()
	}
	if o.metrics != nil {
		ch.SubscribeStop(func(_ errs.Code, args channel.StopArgs) bool {
			if args.Code == errs.ProtocolViolation {
				o.metrics.ProtocolViolations.Inc()
			}
			return false
		})
	}
}

func (o *Orchestrator) selfAuthorities() []wire.Authority {
	if !o.local.Valid() {
		return nil
	}
	return []wire.Authority{o.local}
}

func parseAuthorities(raw []string) ([]wire.Authority, error) {
	out := make([]wire.Authority, 0, len(raw))
	for _, s := range raw {
		a, err := wire.ParseAuthority(s)
		if err != nil {
			return nil, fmt.Errorf("p2p: invalid authority %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func parseAuthoritySet(raw []string) (map[wire.Authority]struct{}, error) {
	list, err := parseAuthorities(raw)
	if err != nil {
		return nil, err
	}
	set := make(map[wire.Authority]struct{}, len(list))
	for _, a := range list {
		set[a] = struct{}{}
	}
	return set, nil
}
