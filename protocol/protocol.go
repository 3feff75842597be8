// Package protocol implements the L3 protocol state machines: the only
// objects that produce or consume messages on a channel after handshake
// (spec.md §4.7). Each protocol attaches to a channel's strand by
// subscribing to message identifiers and arming timers, and stops either
// when the channel stops or by calling channel.Stop itself on fatal
// detection.
//
// Grounded on the teacher's p2p/protocols sub-state-machines style (e.g.
// the discovery and dial protocols layered over p2p.Peer), generalized
// from protocol-offset framed RLPx subprotocols to identifier-keyed
// Bitcoin messages.
package protocol

import (
	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
)

// Completion is delivered once by the version handshake protocol,
// carrying enough of the peer's version message for the owning session
// to negotiate and for the orchestrator to run its self-connect check
// (spec.md §4.7's self-connect note: "detected at session.unpend time").
type Completion struct {
	Code            errs.Code
	PeerNonce       uint64
	PeerServices    uint64
	PeerVersion     int32
	PeerStartHeight int32
	PeerUserAgent   string
}

// OnComplete is invoked exactly once with the handshake's terminal code.
type OnComplete func(Completion)

// Protocol is the shared contract every state machine satisfies.
type Protocol interface {
	// Start attaches the protocol: subscribes to relevant identifiers and
	// arms whatever timers it owns. May be called on ch.Strand() or from
	// any other goroutine.
	Start()
}

// base holds what nearly every protocol needs.
type base struct {
	ch *channel.Channel
}
