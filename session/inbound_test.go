package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/protocol"
	"github.com/nyxnet/btcp2p/wire"
)

func TestInboundSessionBypassedWhenDisabled(t *testing.T) {
	pool := strand.NewPool(8)
	t.Cleanup(pool.Stop)
	s := strand.New(pool)
	store := newFakeStore()

	is := NewInboundSession(s, pool, store, InboundConfig{Enabled: false}, xlog.New())

	done := make(chan errs.Code, 1)
	is.Start(func(code errs.Code) { done <- code })
	require.Equal(t, errs.Bypassed, <-done)
}

func TestInboundSessionAcceptsAndHandshakes(t *testing.T) {
	pool := strand.NewPool(8)
	t.Cleanup(pool.Stop)
	s := strand.New(pool)
	store := newFakeStore()
	log := xlog.New()

	is := NewInboundSession(s, pool, store, InboundConfig{
		Enabled:        true,
		Port:           0,
		ConnectTimeout: time.Second,
		NewChannel: func(sock *netio.Socket) *channel.Channel {
			return newTestChannel(pool, sock, true, log)
		},
		AttachHandshake: attachHandshake,
		AttachProtocols: noopAttachProtocols,
	}, log)

	startDone := make(chan errs.Code, 1)
	is.Start(func(code errs.Code) { startDone <- code })
	require.Equal(t, errs.Success, <-startDone)
	addr := is.acceptor.Addr().String()

	clientSock := netio.New(strand.New(pool), pool)
	clientDone := make(chan errs.Code, 1)
	clientSock.Connect(context.Background(), []string{addr}, time.Second, func(code errs.Code) { clientDone <- code })
	require.Equal(t, errs.Success, <-clientDone)

	clientCh := newTestChannel(pool, clientSock, false, log)
	clientCh.Start()
	completed := make(chan struct{})
	clientCh.Strand().Post(func() {
		attachHandshake(clientCh, wire.NewNonce(), func(protocol.Completion) { close(completed) })
		clientCh.Resume()
	})
	<-completed

	require.Eventually(t, func() bool {
		in, out := store.Counts()
		return in == 1 && out == 0
	}, time.Second, 10*time.Millisecond)
}

// TestInboundSessionStopNotDelayedByRateLimiter guards against
// acceptNext's rate-limiter wait blocking is.strand: with a limiter that
// cannot hand out a token for the whole ConnectTimeout, Stop must still
// complete almost immediately, because the wait itself runs on the pool
// and is.strand is free to process the stop callback right away.
func TestInboundSessionStopNotDelayedByRateLimiter(t *testing.T) {
	pool := strand.NewPool(8)
	t.Cleanup(pool.Stop)
	s := strand.New(pool)
	store := newFakeStore()
	log := xlog.New()

	const connectTimeout = 5 * time.Second
	is := NewInboundSession(s, pool, store, InboundConfig{
		Enabled:         true,
		Port:            0,
		ConnectTimeout:  connectTimeout,
		AcceptRateLimit: rate.Limit(0.001),
		AcceptRateBurst: 1,
		NewChannel: func(sock *netio.Socket) *channel.Channel {
			return newTestChannel(pool, sock, true, log)
		},
		AttachHandshake: attachHandshake,
		AttachProtocols: noopAttachProtocols,
	}, log)
	// Drain the limiter's initial burst token so the very first acceptNext
	// call after Start genuinely has to wait, instead of sailing through
	// on the full starting bucket.
	is.limiter.Allow()

	startDone := make(chan errs.Code, 1)
	is.Start(func(code errs.Code) { startDone <- code })
	require.Equal(t, errs.Success, <-startDone)

	stopped := make(chan struct{})
	is.SubscribeStop(func(errs.Code, errs.Code) bool {
		close(stopped)
		return false
	})

	start := time.Now()
	is.Stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("session stop was delayed behind the accept rate limiter wait")
	}
	require.Less(t, time.Since(start), connectTimeout/2)
}
