package protocol

import (
	"math/rand"
	"time"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/wire"
)

const maxAddrItemsPerMessage = 1000

// AddressSaver is the address pool's ingestion side, kept as an interface
// here so protocol does not need to import the address package.
type AddressSaver interface {
	Save(items []wire.AddressItem)
}

// AddressFetcher is the address pool's read side.
type AddressFetcher interface {
	Fetch(n int) []wire.AddressItem
}

// AddressIn implements address_in_31402 (spec.md §4.7): ingest addr
// gossip, filtering at most 1000 items per message, dropping
// non-routable addresses and addresses that name ourselves, and forward
// survivors to the address pool.
//
// The self-filter checks both the sender's own claimed authority and a
// configured set of our own listen authorities, per SPEC_FULL.md §10's
// supplemented self/private filtering detail.
type AddressIn struct {
	base
	saver           AddressSaver
	selfAuthorities map[wire.Authority]struct{}
}

// NewAddressIn constructs the ingestion protocol. selfAuthorities are our
// own listen addresses, never accepted as gossip about other peers.
func NewAddressIn(ch *channel.Channel, saver AddressSaver, selfAuthorities []wire.Authority) *AddressIn {
	self := make(map[wire.Authority]struct{}, len(selfAuthorities))
	for _, a := range selfAuthorities {
		self[a] = struct{}{}
	}
	return &AddressIn{base: base{ch: ch}, saver: saver, selfAuthorities: self}
}

func (p *AddressIn) Start() {
	channel.Subscribe(p.ch, wire.IDAddr, func(code errs.Code, msg wire.Addr) bool {
		if code != errs.Success {
			return false
		}
		p.onAddr(msg)
		return true
	})
}

func (p *AddressIn) onAddr(msg wire.Addr) {
	items := msg.Items
	if len(items) > maxAddrItemsPerMessage {
		items = items[:maxAddrItemsPerMessage]
	}
	sender := p.ch.Authority()
	kept := make([]wire.AddressItem, 0, len(items))
	for _, it := range items {
		auth := it.Authority()
		if !auth.Valid() || !auth.IsRoutable() {
			continue
		}
		if auth == sender {
			continue
		}
		if _, isSelf := p.selfAuthorities[auth]; isSelf {
			continue
		}
		kept = append(kept, it)
	}
	if len(kept) > 0 {
		p.saver.Save(kept)
	}
}

// AddressOut implements address_out_31402 (spec.md §4.7): reply to
// getaddr once per channel with up to 1000 randomized pool entries.
type AddressOut struct {
	base
	fetcher AddressFetcher
	rng     *rand.Rand
}

func NewAddressOut(ch *channel.Channel, fetcher AddressFetcher) *AddressOut {
	return &AddressOut{base: base{ch: ch}, fetcher: fetcher, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *AddressOut) Start() {
	channel.Subscribe(p.ch, wire.IDGetAddr, func(code errs.Code, _ wire.GetAddr) bool {
		if code != errs.Success {
			return false
		}
		p.onGetAddr()
		return false // once per channel
	})
}

func (p *AddressOut) onGetAddr() {
	items := p.fetcher.Fetch(maxAddrItemsPerMessage)
	p.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	p.ch.Send(wire.IDAddr, wire.Addr{Items: items}.Encode(), nil)
}
