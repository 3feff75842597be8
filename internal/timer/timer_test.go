package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nyxnet/btcp2p/internal/errs"
	"github.com/nyxnet/btcp2p/internal/strand"
)

func TestTimerFiresSuccessOnExpiry(t *testing.T) {
	pool := strand.NewPool(2)
	defer pool.Stop()
	s := strand.New(pool)
	tm := New(s)

	done := make(chan errs.Code, 1)
	tm.Start(5*time.Millisecond, func(code errs.Code) { done <- code })

	select {
	case code := <-done:
		assert.Equal(t, errs.Success, code)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestReArmCancelsPrevious(t *testing.T) {
	pool := strand.NewPool(2)
	defer pool.Stop()
	s := strand.New(pool)
	tm := New(s)

	var mu sync.Mutex
	var codes []errs.Code
	done := make(chan struct{})

	tm.Start(50*time.Millisecond, func(code errs.Code) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
	})
	tm.Start(5*time.Millisecond, func(code errs.Code) {
		mu.Lock()
		codes = append(codes, code)
		mu.Unlock()
		close(done)
	})

	<-done
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []errs.Code{errs.OperationCanceled, errs.Success}, codes)
}

func TestStopCancelsPending(t *testing.T) {
	pool := strand.NewPool(2)
	defer pool.Stop()
	s := strand.New(pool)
	tm := New(s)

	done := make(chan errs.Code, 1)
	tm.Start(50*time.Millisecond, func(code errs.Code) { done <- code })
	tm.Stop()

	select {
	case code := <-done:
		assert.Equal(t, errs.OperationCanceled, code)
	case <-time.After(time.Second):
		t.Fatal("stop never delivered cancellation")
	}
}
