package netio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
)

func newTestPair(t *testing.T) (*Acceptor, *strand.Pool) {
	t.Helper()
	acc, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { acc.Close() })
	return acc, strand.NewPool(4)
}

func TestConnectAndAcceptSucceed(t *testing.T) {
	acc, pool := newTestPair(t)
	s := strand.New(pool)

	serverDone := make(chan errs.Code, 1)
	server := New(s, pool)
	server.Accept(acc, func(code errs.Code) { serverDone <- code })

	clientDone := make(chan errs.Code, 1)
	client := New(s, pool)
	client.Connect(context.Background(), []string{acc.Addr().String()}, time.Second, func(code errs.Code) {
		clientDone <- code
	})

	assert.Equal(t, errs.Success, <-clientDone)
	assert.Equal(t, errs.Success, <-serverDone)

	client.Stop()
	server.Stop()
}

func TestConnectExhaustsAllEndpoints(t *testing.T) {
	pool := strand.NewPool(2)
	s := strand.New(pool)
	sock := New(s, pool)

	done := make(chan errs.Code, 1)
	sock.Connect(context.Background(), []string{"127.0.0.1:1", "127.0.0.1:2"}, 200*time.Millisecond, func(code errs.Code) {
		done <- code
	})

	code := <-done
	assert.NotEqual(t, errs.Success, code)
}

func TestReadWriteRoundTrip(t *testing.T) {
	acc, pool := newTestPair(t)
	s := strand.New(pool)

	serverSock := New(s, pool)
	serverReady := make(chan struct{})
	go func() {
		serverSock.Accept(acc, func(code errs.Code) { close(serverReady) })
	}()

	clientSock := New(s, pool)
	clientDone := make(chan errs.Code, 1)
	clientSock.Connect(context.Background(), []string{acc.Addr().String()}, time.Second, func(code errs.Code) {
		clientDone <- code
	})
	require.Equal(t, errs.Success, <-clientDone)
	<-serverReady

	payload := []byte("hello channel")
	writeDone := make(chan errs.Code, 1)
	clientSock.Write(payload, func(code errs.Code) { writeDone <- code })
	require.Equal(t, errs.Success, <-writeDone)

	buf := make([]byte, len(payload))
	readDone := make(chan int, 1)
	serverSock.Read(buf, func(code errs.Code, n int) {
		assert.Equal(t, errs.Success, code)
		readDone <- n
	})
	n := <-readDone
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)

	clientSock.Stop()
	serverSock.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	pool := strand.NewPool(2)
	s := strand.New(pool)
	sock := New(s, pool)
	sock.Stop()
	sock.Stop() // must not panic
}
