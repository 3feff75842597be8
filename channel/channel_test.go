package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/wire"
)

func newLinkedChannels(t *testing.T) (*Channel, *Channel) {
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
	cfg := Config{ProtocolMaximum: 70002}
	server := New(pool, serverSock, codec, cfg, true, log)
	client := New(pool, clientSock, codec, cfg, false, log)
	return server, client
}

func TestSendAfterResumeIsDelivered(t *testing.T) {
	server, client := newLinkedChannels(t)
	server.Start()
	client.Start()

	got := make(chan wire.VerAck, 1)
	require.NoError(t, Subscribe(server, wire.IDVerAck, func(code errs.Code, msg wire.VerAck) bool {
		got <- msg
		return true
	}))

	server.Resume()
	client.Resume()

	sendDone := make(chan errs.Code, 1)
	client.Send(wire.IDVerAck, wire.VerAck{}.Encode(), func(code errs.Code) { sendDone <- code })

	assert.Equal(t, errs.Success, <-sendDone)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("verack never delivered")
	}

	server.Stop(errs.ServiceStopped)
	client.Stop(errs.ServiceStopped)
}

func TestUnknownCommandGoesToUnknownSubscriber(t *testing.T) {
	server, client := newLinkedChannels(t)
	server.Start()
	client.Start()
	server.Resume()
	client.Resume()

	got := make(chan wire.RawMessage, 1)
	require.NoError(t, server.SubscribeUnknown(func(code errs.Code, msg wire.RawMessage) bool {
		got <- msg
		return true
	}))

	var cmd [12]byte
	copy(cmd[:], "mempool")
	framed, err := wire.NewBitcoinCodec(0xd9b4bef9).Encode(wire.Identifier(cmd[:7]), []byte{1, 2, 3})
	require.NoError(t, err)

	sendDone := make(chan errs.Code, 1)
	client.strand.Post(func() {
		client.socket.Write(framed, func(code errs.Code) { sendDone <- code })
	})
	require.Equal(t, errs.Success, <-sendDone)

	select {
	case msg := <-got:
		assert.Equal(t, "mempool", msg.CommandString())
		assert.Equal(t, []byte{1, 2, 3}, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("unknown message never delivered")
	}

	server.Stop(errs.ServiceStopped)
	client.Stop(errs.ServiceStopped)
}

func TestStopNotifiesStopSubscriberOnce(t *testing.T) {
	server, client := newLinkedChannels(t)
	server.Start()
	client.Start()
	server.Resume()
	client.Resume()

	notified := make(chan StopArgs, 2)
	require.NoError(t, server.SubscribeStop(func(code errs.Code, args StopArgs) bool {
		notified <- args
		return true
	}))

	server.Stop(errs.ChannelDropped)
	server.Stop(errs.ChannelDropped) // idempotent

	args := <-notified
	assert.Equal(t, errs.ChannelDropped, args.Code)
	select {
	case <-notified:
		t.Fatal("stop subscriber notified twice")
	case <-time.After(100 * time.Millisecond):
	}

	client.Stop(errs.ServiceStopped)
}

func TestOversizedPayloadStopsBeforeReadingBody(t *testing.T) {
	server, client := newLinkedChannels(t)
	server.cfg.MaxPayload = 16
	server.Start()
	client.Start()
	server.Resume()
	client.Resume()

	stopped := make(chan StopArgs, 1)
	require.NoError(t, server.SubscribeStop(func(code errs.Code, args StopArgs) bool {
		stopped <- args
		return true
	}))

	big := make([]byte, 1024)
	framed, err := wire.NewBitcoinCodec(0xd9b4bef9).Encode(wire.IDAddr, big)
	require.NoError(t, err)

	client.strand.Post(func() {
		client.socket.Write(framed, func(errs.Code) {})
	})

	select {
	case args := <-stopped:
		assert.Equal(t, errs.OversizedPayload, args.Code)
	case <-time.After(time.Second):
		t.Fatal("channel never stopped on oversized payload")
	}

	client.Stop(errs.ServiceStopped)
}

func TestSendQueueOversubscribedOnOverflow(t *testing.T) {
	server, client := newLinkedChannels(t)
	client.cfg.SendQueueCapacity = 1
	server.Start()
	client.Start()
	server.Resume()
	client.Resume()

	results := make(chan errs.Code, 3)
	client.strand.Post(func() {
		client.sendRaw(wire.IDGetAddr, nil, func(code errs.Code) { results <- code })
		client.sendRaw(wire.IDGetAddr, nil, func(code errs.Code) { results <- code })
		client.sendRaw(wire.IDGetAddr, nil, func(code errs.Code) { results <- code })
	})

	var codes []errs.Code
	for i := 0; i < 3; i++ {
		codes = append(codes, <-results)
	}
	assert.Contains(t, codes, errs.Oversubscribed)

	server.Stop(errs.ServiceStopped)
	client.Stop(errs.ServiceStopped)
}
