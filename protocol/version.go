package protocol

import (
	"time"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/timer"
	"github.com/nyxnet/btcp2p/wire"
)

// Variant selects which of version_31402/70001/70002 a Version protocol
// instance behaves as (spec.md §4.7's three rows share one state machine
// differing only in validation and reject behavior).
type Variant int

const (
	Variant31402 Variant = 31402
	Variant70001 Variant = 70001
	Variant70002 Variant = 70002
)

// NodeNetwork is the standard "full node" service bit.
const NodeNetwork uint64 = 1

// VersionConfig configures the outgoing version message and the
// negotiation rules for a Variant.
type VersionConfig struct {
	Variant            Variant
	ProtocolVersion    int32
	Services           uint64
	UserAgent          string
	StartHeight        func() int32
	Nonce              wire.Nonce
	Timeout            time.Duration
	RequireNodeNetwork bool  // 70001+: require NodeNetwork in peer services
	MinimumVersion     int32 // 70002: reject peers below this
	Local              wire.Authority
}

// Version implements version_31402/70001/70002 (spec.md §4.7): send
// version, await peer version, send verack, await peer verack, then
// complete. A single handshake-wide deadline timer covers the whole
// exchange; expiry fails with channel_timeout.
type Version struct {
	base
	cfg        VersionConfig
	onComplete OnComplete
	deadline   *timer.Timer
	completed  bool
}

// NewVersion constructs the handshake protocol for ch.
func NewVersion(ch *channel.Channel, cfg VersionConfig, onComplete OnComplete) *Version {
	return &Version{base: base{ch: ch}, cfg: cfg, onComplete: onComplete, deadline: timer.New(ch.Strand())}
}

func (p *Version) Start() {
	if p.cfg.Timeout > 0 {
		p.deadline.Start(p.cfg.Timeout, func(code errs.Code) {
			if code != errs.Success {
				return
			}
			p.fail(errs.ChannelTimeout)
		})
	}

	channel.Subscribe(p.ch, wire.IDVersion, func(code errs.Code, msg wire.Version) bool {
		if code != errs.Success {
			return false
		}
		p.onPeerVersion(msg)
		return false // one-shot
	})

	p.sendVersion()
}

func (p *Version) sendVersion() {
	startHeight := int32(0)
	if p.cfg.StartHeight != nil {
		startHeight = p.cfg.StartHeight()
	}
	peer := p.ch.Authority()
	v := wire.Version{
		ProtocolVersion:  int32(p.cfg.Variant),
		Services:         p.cfg.Services,
		Timestamp:        time.Now().Unix(),
		ReceiverServices: 0,
		ReceiverIP:       peer.Bytes(),
		ReceiverPort:     peer.Port(),
		SenderServices:   p.cfg.Services,
		SenderIP:         p.cfg.Local.Bytes(),
		SenderPort:       p.cfg.Local.Port(),
		Nonce:            p.cfg.Nonce,
		UserAgent:        p.cfg.UserAgent,
		StartHeight:      startHeight,
		Relay:            p.cfg.Variant >= Variant70001,
	}
	p.ch.Send(wire.IDVersion, v.Encode(), nil)
}

func (p *Version) onPeerVersion(msg wire.Version) {
	if p.cfg.Variant >= Variant70001 && p.cfg.RequireNodeNetwork {
		if msg.Services&NodeNetwork == 0 {
			p.fail(errs.ProtocolViolation)
			return
		}
	}
	if p.cfg.Variant >= Variant70002 && p.cfg.MinimumVersion > 0 && msg.ProtocolVersion < p.cfg.MinimumVersion {
		reject := wire.Reject{
			Message: string(wire.IDVersion),
			Code:    0x01, // REJECT_OBSOLETE
			Reason:  "version too old",
		}
		p.ch.Send(wire.IDReject, reject.Encode(), nil)
		p.fail(errs.ProtocolViolation)
		return
	}

	channel.Subscribe(p.ch, wire.IDVerAck, func(code errs.Code, _ wire.VerAck) bool {
		if code != errs.Success {
			return false
		}
		p.complete(msg)
		return false // one-shot
	})

	p.ch.Send(wire.IDVerAck, wire.VerAck{}.Encode(), nil)
}

func (p *Version) complete(peer wire.Version) {
	if p.completed {
		return
	}
	p.completed = true
	p.deadline.Stop()

	negotiated := p.cfg.ProtocolVersion
	if peer.ProtocolVersion < negotiated {
		negotiated = peer.ProtocolVersion
	}
	p.ch.SetProtocolVersion(uint32(negotiated))
	p.ch.Resume()

	p.onComplete(Completion{
		Code:            errs.Success,
		PeerNonce:       uint64(peer.Nonce),
		PeerServices:    peer.Services,
		PeerVersion:     peer.ProtocolVersion,
		PeerStartHeight: peer.StartHeight,
		PeerUserAgent:   peer.UserAgent,
	})
}

func (p *Version) fail(code errs.Code) {
	if p.completed {
		return
	}
	p.completed = true
	p.deadline.Stop()
	p.onComplete(Completion{Code: code})
	p.ch.Stop(code)
}
