// Package address implements the L4 address pool of spec.md §3: a
// bounded, persisted mapping from wire.Authority to wire.AddressItem with
// insertion-ordered FIFO eviction on overflow.
//
// Grounded on SPEC_FULL.md §4.10's domain-stack wiring: the bounded
// FIFO-eviction backing store is hashicorp/golang-lru/v2/simplelru.LRU
// used in FIFO mode — Peek never promotes an entry's recency, only Add
// does, so eviction order tracks insertion order exactly the way a hand
// rolled container/list + map would, without writing that list by hand.
package address

import (
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/nyxnet/btcp2p/wire"
)

// DefaultCapacity matches spec.md §6's host_pool_capacity default when a
// caller passes capacity <= 0.
const DefaultCapacity = 1000

// Pool is the bounded, FIFO-eviction set of known peer authorities
// (spec.md §3 AddressPool).
type Pool struct {
	mu    sync.Mutex
	store *lru.LRU[wire.Authority, wire.AddressItem]
	rng   *rand.Rand
}

// New creates a pool bounded to capacity entries.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	store, _ := lru.NewLRU[wire.Authority, wire.AddressItem](capacity, nil)
	return &Pool{store: store, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Count returns the number of entries currently held.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Len()
}

// Save merges items into the pool, deduplicating by authority and
// evicting the oldest entry on overflow (spec.md §3's "merge, dedup,
// evict"). A later Save of an already-known authority refreshes its
// record and its position at the front of the eviction order, matching
// ordinary LRU.Add semantics.
func (p *Pool) Save(items []wire.AddressItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range items {
		auth := it.Authority()
		if !auth.Valid() {
			continue
		}
		p.store.Add(auth, it)
	}
}

// Restore puts a single item back into the pool, used on connect failure
// so a dialed-and-dropped candidate is not lost (spec.md §3).
func (p *Pool) Restore(item wire.AddressItem) {
	p.Save([]wire.AddressItem{item})
}

// Take removes and returns one entry, per spec.md §3's policy: random
// among the freshest quarter of entries by insertion order. skip, if
// non-nil, is consulted to reject candidates (e.g. blacklisted or
// already-connected authorities per spec.md §4.8) without removing them;
// Take tries up to the size of the freshest quarter before giving up.
func (p *Pool) Take(skip func(wire.Authority) bool) (wire.AddressItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := p.store.Keys() // oldest to newest insertion order
	if len(keys) == 0 {
		return wire.AddressItem{}, false
	}
	quarter := len(keys) / 4
	if quarter == 0 {
		quarter = 1
	}
	freshest := keys[len(keys)-quarter:]

	candidates := append([]wire.Authority(nil), freshest...)
	p.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	for _, auth := range candidates {
		if skip != nil && skip(auth) {
			continue
		}
		item, ok := p.store.Peek(auth)
		if !ok {
			continue
		}
		p.store.Remove(auth)
		return item, true
	}
	return wire.AddressItem{}, false
}

// Fetch samples up to n distinct entries without removing them, per
// spec.md §3. Order of the result is unspecified.
func (p *Pool) Fetch(n int) []wire.AddressItem {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := p.store.Keys()
	if n > len(keys) {
		n = len(keys)
	}
	shuffled := append([]wire.Authority(nil), keys...)
	p.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	items := make([]wire.AddressItem, 0, n)
	for _, auth := range shuffled[:n] {
		if item, ok := p.store.Peek(auth); ok {
			items = append(items, item)
		}
	}
	return items
}

// Snapshot returns every entry currently held, for periodic persistence.
func (p *Pool) Snapshot() []wire.AddressItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := p.store.Keys()
	items := make([]wire.AddressItem, 0, len(keys))
	for _, auth := range keys {
		if item, ok := p.store.Peek(auth); ok {
			items = append(items, item)
		}
	}
	return items
}

// Contains reports whether auth is currently held, without affecting
// eviction order.
func (p *Pool) Contains(auth wire.Authority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.store.Peek(auth)
	return ok
}
