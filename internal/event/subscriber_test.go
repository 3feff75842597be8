package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
)

func TestNotifyDeliversInOrderPerHandler(t *testing.T) {
	pool := strand.NewPool(4)
	defer pool.Stop()
	s := strand.New(pool)
	sub := New[int](s)

	var mu sync.Mutex
	var seen []int
	require := func(cond bool) {
		if !cond {
			t.Fatal("handler received unexpected ordering")
		}
	}
	_ = require

	done := make(chan struct{})
	count := 0
	sub.Subscribe(func(code errs.Code, args int) bool {
		mu.Lock()
		seen = append(seen, args)
		count++
		if count == 5 {
			close(done)
		}
		mu.Unlock()
		return true
	})

	for i := 0; i < 5; i++ {
		sub.Notify(i)
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestHandlerReturningFalseUnsubscribes(t *testing.T) {
	pool := strand.NewPool(4)
	defer pool.Stop()
	s := strand.New(pool)
	sub := New[int](s)

	var calls int32
	var mu sync.Mutex
	first := make(chan struct{})
	sub.Subscribe(func(code errs.Code, args int) bool {
		mu.Lock()
		calls++
		mu.Unlock()
		close(first)
		return false
	})

	sub.Notify(1)
	<-first
	time.Sleep(10 * time.Millisecond) // let unsubscribe land
	sub.Notify(2)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, calls)
}

func TestSubscribeAfterStopFails(t *testing.T) {
	pool := strand.NewPool(2)
	defer pool.Stop()
	s := strand.New(pool)
	sub := New[string](s)

	sub.Stop(errs.ChannelStopped, "bye")
	err := sub.Subscribe(func(code errs.Code, args string) bool { return true })
	assert.Error(t, err)
	assert.True(t, errs.Is(err, errs.SubscriberStopped))
}

func TestStopDeliversFinalNotificationOnce(t *testing.T) {
	pool := strand.NewPool(2)
	defer pool.Stop()
	s := strand.New(pool)
	sub := New[string](s)

	var mu sync.Mutex
	var codes []errs.Code
	done := make(chan struct{})
	sub.Subscribe(func(code errs.Code, args string) bool {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
		close(done)
		return true
	})

	sub.Stop(errs.ChannelDropped, "dead")
	<-done
	sub.Stop(errs.ChannelTimeout, "dead again") // second stop is a no-op

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []errs.Code{errs.ChannelDropped}, codes)
}
