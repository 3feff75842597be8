package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/timer"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/protocol"
	"github.com/nyxnet/btcp2p/wire"
)

// AddressSource is the pool's take side, kept as an interface so session
// does not need to import address.
type AddressSource interface {
	Take(skip func(wire.Authority) bool) (wire.AddressItem, bool)
	Restore(item wire.AddressItem)
}

// OutboundConfig bundles OutboundSession's tunables from config.Settings.
type OutboundConfig struct {
	Connections    int // logical dialing slots (outbound_connections)
	BatchSize      int // connect_batch_size
	ConnectTimeout time.Duration
	PoolCapacity   int // host_pool_capacity; 0 means skip dialing entirely
	Blacklist      func(wire.Authority) bool

	NewChannel      func(sock *netio.Socket, auth wire.Authority) *channel.Channel
	AttachHandshake func(ch *channel.Channel, nonce wire.Nonce, onComplete protocol.OnComplete)
	AttachProtocols func(ch *channel.Channel)
}

// candidate is one address drawn from the pool for a batch-connect round.
type candidate struct {
	auth      wire.Authority
	item      wire.AddressItem
	connector *netio.Connector
}

// OutboundSession implements spec.md §4.8's OutboundSession: one slot per
// configured outbound_connections, each running the batch-connect
// procedure: race BatchSize connectors drawn from the address pool,
// proceed with the first success, cancel the rest, and re-batch after
// ConnectTimeout on total failure or after any channel stop.
//
// Grounded on the teacher's own dial_test.go / Server's dialTask pool
// (bounded concurrent outbound dialing slots), generalized from a single
// dialer-per-slot to a racing batch built on errgroup.WithContext
// (SPEC_FULL.md §4.10) instead of a hand rolled WaitGroup + channel
// fan-in.
type OutboundSession struct {
	*Base
	cfg  OutboundConfig
	pool *strand.Pool
	src  AddressSource
}

// NewOutboundSession constructs the session.
func NewOutboundSession(s *strand.Strand, pool *strand.Pool, store Store, src AddressSource, cfg OutboundConfig, log xlog.Logger) *OutboundSession {
	os := &OutboundSession{cfg: cfg, pool: pool, src: src}
	os.Base = NewBase("outbound", s, store, Hooks{
		Outbound:        true,
		Notify:          true,
		Inbound:         false,
		AttachHandshake: cfg.AttachHandshake,
		AttachProtocols: cfg.AttachProtocols,
	}, log)
	return os
}

// Start spawns Connections dialing slots. If Connections == 0 or
// PoolCapacity == 0, succeeds without acting (spec.md §4.8).
func (os *OutboundSession) Start(h func(code errs.Code)) {
	os.strand.Post(func() {
		if code := os.markStarted(); code != errs.Success {
			h(code)
			return
		}
		if os.cfg.Connections == 0 || os.cfg.PoolCapacity == 0 {
			h(errs.Success)
			return
		}
		for i := 0; i < os.cfg.Connections; i++ {
			os.runSlot()
		}
		h(errs.Success)
	})
}

// runSlot starts one round of batch-connect. Must be called on the
// session strand.
func (os *OutboundSession) runSlot() {
	if os.stopped {
		return
	}
	os.pool.Go(os.batchConnect)
}

// batchConnect draws up to BatchSize candidates from the pool and races
// a connector against each, per spec.md §9's open question resolution:
// the "first success wins, others cancelled" bookkeeping is local to
// this call and is reinitialized fresh every re-batch.
func (os *OutboundSession) batchConnect() {
	size := os.cfg.BatchSize
	if size <= 0 {
		size = 1
	}
	candidates := make([]*candidate, 0, size)
	os.strand.Post(func() {
		for len(candidates) < size {
			item, ok := os.src.Take(os.skip)
			if !ok {
				break
			}
			candidates = append(candidates, &candidate{auth: item.Authority(), item: item})
		}
		os.runBatch(candidates)
	})
}

func (os *OutboundSession) skip(auth wire.Authority) bool {
	if os.cfg.Blacklist != nil && os.cfg.Blacklist(auth) {
		return true
	}
	return os.store.IsConnected(auth)
}

// runBatch must run on the session strand: it fans the dial out to the
// pool and reassembles the winner back on the strand.
func (os *OutboundSession) runBatch(candidates []*candidate) {
	if os.stopped {
		return
	}
	if len(candidates) == 0 {
		os.rebatchAfterTimeout()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	winners := make(chan *candidate, len(candidates))
	var winOnce sync.Once

	for _, c := range candidates {
		c := c
		c.connector = netio.NewConnector(os.strand, os.pool)
		g.Go(func() error {
			done := make(chan errs.Code, 1)
			c.connector.Connect(c.auth, os.cfg.ConnectTimeout, func(code errs.Code) { done <- code })
			select {
			case code := <-done:
				if code == errs.Success {
					// Cancel every other candidate's connector the instant
					// a winner exists, rather than waiting for the whole
					// batch to finish dialing on its own — otherwise this
					// is a sequential scan wearing a race's clothing.
					winOnce.Do(func() {
						winners <- c
						cancel()
						for _, other := range candidates {
							if other != c {
								other.connector.Cancel()
							}
						}
					})
				} else {
					os.strand.Post(func() { os.src.Restore(c.item) })
				}
			case <-gctx.Done():
			}
			return nil
		})
	}

	os.pool.Go(func() {
		g.Wait()
		close(winners)
		cancel()

		var winner *candidate
		for c := range winners {
			if winner == nil {
				winner = c
			}
		}

		os.strand.Post(func() {
			if winner == nil {
				os.rebatchAfterTimeout()
				return
			}
			os.onDialed(winner)
		})
	})
}

func (os *OutboundSession) onDialed(c *candidate) {
	if os.stopped {
		c.connector.Cancel()
		return
	}
	ch := os.cfg.NewChannel(c.connector.Socket(), c.auth)
	ch.Start()
	started := false
	os.StartChannel(ch, func(code errs.Code) {
		if code != errs.Success {
			os.rebatchAfterTimeout()
			return
		}
		started = true
	}, func(errs.Code) {
		// A channel that never started re-batches only after the timeout
		// armed above.
		if !started {
			return
		}
		// spec.md §4.8: "on channel stop, the slot re-batches
		// immediately."
		os.runSlot()
	})
}

// rebatchAfterTimeout arms a fresh one-shot timer for this slot's next
// round. spec.md §3 gives each session a single retry timer, but
// OutboundSession runs Connections independent dialing slots
// concurrently (spec.md §4.8) — sharing Base.Retry across them would
// let one slot's re-arm cancel a sibling slot's pending backoff, so
// each re-batch round gets its own ephemeral timer instead.
func (os *OutboundSession) rebatchAfterTimeout() {
	if os.stopped {
		return
	}
	t := timer.New(os.strand)
	t.Start(os.cfg.ConnectTimeout, func(code errs.Code) {
		if code == errs.Success {
			os.runSlot()
		}
	})
}
