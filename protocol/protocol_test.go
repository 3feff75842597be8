package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/wire"
)

func newLinkedChannels(t *testing.T) (*channel.Channel, *channel.Channel) {
	t.Helper()
	acc, err := netio.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { acc.Close() })

	pool := strand.NewPool(8)
	serverSock := netio.New(strand.New(pool), pool)
	clientSock := netio.New(strand.New(pool), pool)

	serverDone := make(chan errs.Code, 1)
	serverSock.Accept(acc, func(code errs.Code) { serverDone <- code })
	clientDone := make(chan errs.Code, 1)
	clientSock.Connect(context.Background(), []string{acc.Addr().String()}, time.Second, func(code errs.Code) {
		clientDone <- code
	})
	require.Equal(t, errs.Success, <-clientDone)
	require.Equal(t, errs.Success, <-serverDone)

	codec := wire.NewBitcoinCodec(0xd9b4bef9)
	log := xlog.New()
	cfg := channel.Config{ProtocolMaximum: 70002}
	server := channel.New(pool, serverSock, codec, cfg, true, log)
	client := channel.New(pool, clientSock, codec, cfg, false, log)
	server.Start()
	client.Start()
	return server, client
}

func TestVersionHandshakeNegotiatesAndResumes(t *testing.T) {
	server, client := newLinkedChannels(t)

	serverDone := make(chan Completion, 1)
	clientDone := make(chan Completion, 1)

	NewVersion(server, VersionConfig{
		Variant: Variant70002, ProtocolVersion: 70002, Services: NodeNetwork,
		UserAgent: "/btcp2p:test/", Nonce: wire.Nonce(1), Timeout: time.Second,
	}, func(c Completion) { serverDone <- c }).Start()

	NewVersion(client, VersionConfig{
		Variant: Variant70001, ProtocolVersion: 70001, Services: NodeNetwork,
		UserAgent: "/btcp2p:test/", Nonce: wire.Nonce(2), Timeout: time.Second,
	}, func(c Completion) { clientDone <- c }).Start()

	sc := <-serverDone
	cc := <-clientDone
	require.Equal(t, errs.Success, sc.Code)
	require.Equal(t, errs.Success, cc.Code)
	assert.EqualValues(t, 2, sc.PeerNonce)
	assert.EqualValues(t, 1, cc.PeerNonce)
	assert.EqualValues(t, 70001, client.ProtocolVersion())
	assert.EqualValues(t, 70001, server.ProtocolVersion())

	server.Stop(errs.ServiceStopped)
	client.Stop(errs.ServiceStopped)
}

func TestVersionTimeoutFiresChannelTimeout(t *testing.T) {
	server, client := newLinkedChannels(t)
	_ = client

	done := make(chan Completion, 1)
	NewVersion(server, VersionConfig{
		Variant: Variant31402, ProtocolVersion: 31402, Nonce: wire.Nonce(1),
		Timeout: 50 * time.Millisecond,
	}, func(c Completion) { done <- c }).Start()

	c := <-done
	assert.Equal(t, errs.ChannelTimeout, c.Code)

	client.Stop(errs.ServiceStopped)
}

func TestPingNoncedRespondsToPeerPing(t *testing.T) {
	server, client := newLinkedChannels(t)
	server.Resume()
	client.Resume()

	NewPingNonced(server).Start()

	pongCh := make(chan wire.Pong, 1)
	require.NoError(t, channel.Subscribe(client, wire.IDPong, func(code errs.Code, msg wire.Pong) bool {
		pongCh <- msg
		return true
	}))

	client.Send(wire.IDPing, wire.Ping{Nonce: 99}.Encode(), nil)

	select {
	case pong := <-pongCh:
		assert.EqualValues(t, 99, pong.Nonce)
	case <-time.After(time.Second):
		t.Fatal("no pong received")
	}

	server.Stop(errs.ServiceStopped)
	client.Stop(errs.ServiceStopped)
}

type fakeSaver struct{ saved []wire.AddressItem }

func (f *fakeSaver) Save(items []wire.AddressItem) { f.saved = append(f.saved, items...) }

func TestAddressInDropsPrivateAndSelf(t *testing.T) {
	server, client := newLinkedChannels(t)
	server.Resume()
	client.Resume()

	selfAuth, _ := wire.ParseAuthority("9.9.9.9:8333")
	saver := &fakeSaver{}
	NewAddressIn(server, saver, []wire.Authority{selfAuth}).Start()

	routable, _ := wire.ParseAuthority("8.8.8.8:8333")
	private, _ := wire.ParseAuthority("192.168.1.5:8333")

	msg := wire.Addr{Items: []wire.AddressItem{
		wire.AddressItemFromAuthority(routable, 1, 100),
		wire.AddressItemFromAuthority(private, 1, 100),
		wire.AddressItemFromAuthority(selfAuth, 1, 100),
	}}

	settled := make(chan struct{})
	client.Send(wire.IDAddr, msg.Encode(), func(errs.Code) { close(settled) })
	<-settled

	require.Eventually(t, func() bool { return len(saver.saved) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, routable, saver.saved[0].Authority())

	server.Stop(errs.ServiceStopped)
	client.Stop(errs.ServiceStopped)
}

type fakeFetcher struct{ items []wire.AddressItem }

func (f *fakeFetcher) Fetch(n int) []wire.AddressItem {
	if n > len(f.items) {
		n = len(f.items)
	}
	return append([]wire.AddressItem(nil), f.items[:n]...)
}

func TestAddressOutRepliesOnceToGetAddr(t *testing.T) {
	server, client := newLinkedChannels(t)
	server.Resume()
	client.Resume()

	a1, _ := wire.ParseAuthority("8.8.8.8:8333")
	fetcher := &fakeFetcher{items: []wire.AddressItem{wire.AddressItemFromAuthority(a1, 1, 1)}}
	NewAddressOut(server, fetcher).Start()

	got := make(chan wire.Addr, 2)
	require.NoError(t, channel.Subscribe(client, wire.IDAddr, func(code errs.Code, msg wire.Addr) bool {
		got <- msg
		return true
	}))

	client.Send(wire.IDGetAddr, wire.GetAddr{}.Encode(), nil)
	client.Send(wire.IDGetAddr, wire.GetAddr{}.Encode(), nil)

	first := <-got
	require.Len(t, first.Items, 1)
	select {
	case <-got:
		t.Fatal("address_out replied more than once")
	case <-time.After(200 * time.Millisecond):
	}

	server.Stop(errs.ServiceStopped)
	client.Stop(errs.ServiceStopped)
}
