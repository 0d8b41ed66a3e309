package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPost_RunsInOrderOnOneGoroutine(t *testing.T) {
	s := New(nil)
	defer s.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := range 5 {
		s.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 4 {
				close(done)
			}
		})
	}
	<-done
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestPost_FromInsideATask(t *testing.T) {
	s := New(nil)
	defer s.Close()

	done := make(chan struct{})
	s.Post(func() {
		s.Post(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nested task never ran")
	}
}

func TestAfter_FiresOnVirtualTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	defer s.Close()

	var fired atomic.Bool
	s.After(200*time.Millisecond, func() { fired.Store(true) })
	assert.Equal(t, 1, s.Pending())

	clock.Advance(199 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, fired.Load())

	clock.Advance(time.Millisecond)
	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestAfter_Cancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	defer s.Close()

	var fired atomic.Bool
	cancel := s.After(time.Second, func() { fired.Store(true) })
	cancel()
	assert.Equal(t, 0, s.Pending())

	clock.Advance(2 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestClose_RejectsNewWork(t *testing.T) {
	s := New(nil)
	s.Close()
	s.Close()

	assert.False(t, s.Post(func() {}))
	s.After(time.Millisecond, func() { t.Error("ran after close") })()
}
