package protocol

import (
	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/wire"
)

// Reject implements reject_70002 (spec.md §4.7): "log only". It does not
// react to a peer's reject and forwards nothing; the channel delivers the
// decoded message to every IDReject subscriber, so a caller outside core
// scope can subscribe alongside it (SPEC_FULL.md §10).
type Reject struct {
	base
	log xlog.Logger
}

func NewReject(ch *channel.Channel, log xlog.Logger) *Reject {
	return &Reject{base: base{ch: ch}, log: log}
}

func (p *Reject) Start() {
	channel.Subscribe(p.ch, wire.IDReject, func(code errs.Code, msg wire.Reject) bool {
		if code != errs.Success {
			return false
		}
		p.log.Debug("peer reject", "authority", p.ch.Authority().String(),
			"message", msg.Message, "code", msg.Code, "reason", msg.Reason)
		return true
	})
}
