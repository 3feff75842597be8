package protocol

import (
	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/wire"
)

// PingLegacy implements ping_31402 (spec.md §4.7): a silent keepalive with
// no nonce and no expected reply. It only arms the channel's own
// heartbeat in silent mode; the channel does the actual sending.
type PingLegacy struct{ base }

func NewPingLegacy(ch *channel.Channel) *PingLegacy {
	return &PingLegacy{base{ch: ch}}
}

func (p *PingLegacy) Start() {
	p.ch.StartHeartbeat(channel.HeartbeatSilent)
}

// PingNonced implements ping_60001 (spec.md §4.6/§4.7): nonce'd ping/pong
// heartbeat, plus answering the peer's own pings with a matching pong —
// the channel only tracks bookkeeping for pings *we* send, so replying to
// pings the peer sends us is this protocol's job.
type PingNonced struct{ base }

func NewPingNonced(ch *channel.Channel) *PingNonced {
	return &PingNonced{base{ch: ch}}
}

func (p *PingNonced) Start() {
	p.ch.StartHeartbeat(channel.HeartbeatNonced)
	channel.Subscribe(p.ch, wire.IDPing, func(code errs.Code, msg wire.Ping) bool {
		if code != errs.Success {
			return false
		}
		p.ch.Send(wire.IDPong, wire.Pong{Nonce: msg.Nonce}.Encode(), nil)
		return true
	})
}
