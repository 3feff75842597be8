package protocol

import (
	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/wire"
)

// Alert implements alert_311 (spec.md §4.7): deprecated, parse and
// discard. Subscribing at all is what keeps the frame from falling
// through to the channel's unknown-message path, matching the original
// protocol's behavior of still understanding the message even though it
// no longer acts on it.
type Alert struct{ base }

func NewAlert(ch *channel.Channel) *Alert {
	return &Alert{base{ch: ch}}
}

func (p *Alert) Start() {
	channel.Subscribe(p.ch, wire.IDAlert, func(code errs.Code, _ wire.Alert) bool {
		return code == errs.Success
	})
}
