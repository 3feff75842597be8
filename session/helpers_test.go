package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nyxnet/btcp2p/channel"
	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
	"github.com/nyxnet/btcp2p/internal/xlog"
	"github.com/nyxnet/btcp2p/netio"
	"github.com/nyxnet/btcp2p/protocol"
	"github.com/nyxnet/btcp2p/wire"
)

// fakeStore is an in-memory session.Store double. Unlike the real p2p
// orchestrator, which posts each completion to its strand, it invokes h
// directly: callers already wrap h's body in their own strand.Post.
type fakeStore struct {
	mu       sync.Mutex
	pending  map[wire.Nonce]bool
	selfSet  map[wire.Nonce]bool
	stored   []*channel.Channel
	inbound  int
	outbound int

	pendCode  errs.Code // forced return for the next Pend call, if non-zero
	storeCode errs.Code
}

func newFakeStore() *fakeStore {
	return &fakeStore{pending: make(map[wire.Nonce]bool), selfSet: make(map[wire.Nonce]bool)}
}

func (s *fakeStore) Pend(nonce wire.Nonce, h func(code errs.Code)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendCode != 0 && s.pendCode != errs.Success {
		h(s.pendCode)
		return
	}
	if s.pending[nonce] {
		h(errs.ChannelConflict)
		return
	}
	s.pending[nonce] = true
	h(errs.Success)
}

func (s *fakeStore) Unpend(nonce wire.Nonce) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, nonce)
}

func (s *fakeStore) IsSelfConnect(peerNonce wire.Nonce, h func(self bool)) {
	s.mu.Lock()
	self := s.selfSet[peerNonce]
	s.mu.Unlock()
	h(self)
}

func (s *fakeStore) StoreChannel(ch *channel.Channel, notify bool, inbound bool, h func(code errs.Code)) {
	s.mu.Lock()
	if s.storeCode != 0 && s.storeCode != errs.Success {
		code := s.storeCode
		s.mu.Unlock()
		h(code)
		return
	}
	s.stored = append(s.stored, ch)
	if inbound {
		s.inbound++
	} else {
		s.outbound++
	}
	s.mu.Unlock()
	h(errs.Success)
}

func (s *fakeStore) UnstoreChannel(ch *channel.Channel, inbound bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.stored {
		if c == ch {
			s.stored = append(s.stored[:i], s.stored[i+1:]...)
			break
		}
	}
	if inbound {
		s.inbound--
	} else {
		s.outbound--
	}
}

func (s *fakeStore) Counts() (inbound, outbound int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inbound, s.outbound
}

func (s *fakeStore) IsConnected(auth wire.Authority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.stored {
		if c.Authority() == auth {
			return true
		}
	}
	return false
}

var testLocal = wire.NewAuthority(net.ParseIP("127.0.0.1"), 0)

func attachHandshake(ch *channel.Channel, nonce wire.Nonce, onComplete protocol.OnComplete) {
	protocol.NewVersion(ch, protocol.VersionConfig{
		Variant:         protocol.Variant70002,
		ProtocolVersion: 70002,
		Nonce:           nonce,
		Timeout:         2 * time.Second,
		Local:           testLocal,
	}, onComplete).Start()
}

func noopAttachProtocols(*channel.Channel) {}

// connectedSockets returns two already-connected sockets over loopback,
// bound to independent strands on the same pool.
func connectedSockets(t *testing.T, pool *strand.Pool) (server, client *netio.Socket, acceptor *netio.Acceptor) {
	t.Helper()
	acc, err := netio.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { acc.Close() })

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
	return serverSock, clientSock, acc
}

func newTestChannel(pool *strand.Pool, sock *netio.Socket, inbound bool, log xlog.Logger) *channel.Channel {
	codec := wire.NewBitcoinCodec(0xd9b4bef9)
	cfg := channel.Config{ProtocolMaximum: 70002, HeartbeatInterval: 0, InactivityInterval: 0}
	return channel.New(pool, sock, codec, cfg, inbound, log)
}
