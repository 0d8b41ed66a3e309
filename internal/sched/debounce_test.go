package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches []map[string]int
}

func (r *flushRecorder) record(batch map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *flushRecorder) snapshot() []map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]int(nil), r.batches...)
}

func TestDebouncer_CollapsesByKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var rec flushRecorder
	d := NewDebouncer(clock, 50*time.Millisecond, 0, rec.record)
	defer d.Stop()

	d.Add("a", 1)
	d.Add("b", 1)
	d.Add("a", 2)
	assert.Equal(t, 2, d.Len())

	clock.Advance(50 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, rec.snapshot()[0])
	assert.Equal(t, 0, d.Len())
}

func TestDebouncer_WindowRestartsOnAdd(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var rec flushRecorder
	d := NewDebouncer(clock, 50*time.Millisecond, 0, rec.record)
	defer d.Stop()

	d.Add("a", 1)
	clock.Advance(40 * time.Millisecond)
	d.Add("a", 2)
	clock.Advance(40 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	clock.Advance(10 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, map[string]int{"a": 2}, rec.snapshot()[0])
}

func TestDebouncer_MaxBatchFlushesImmediately(t *testing.T) {
	var rec flushRecorder
	d := NewDebouncer(clockwork.NewFakeClock(), time.Hour, 2, rec.record)
	defer d.Stop()

	d.Add("a", 1)
	d.Add("b", 2)
	require.Len(t, rec.snapshot(), 1)
	assert.Len(t, rec.snapshot()[0], 2)
}

func TestDebouncer_StopFlushesAndIgnoresLater(t *testing.T) {
	var rec flushRecorder
	d := NewDebouncer(clockwork.NewFakeClock(), time.Hour, 0, rec.record)

	d.Add("a", 1)
	d.Stop()
	d.Add("b", 2)
	d.Stop()

	require.Len(t, rec.snapshot(), 1)
	assert.Equal(t, map[string]int{"a": 1}, rec.snapshot()[0])
}

func TestDebouncer_FlushNow(t *testing.T) {
	var rec flushRecorder
	d := NewDebouncer(clockwork.NewFakeClock(), time.Hour, 0, rec.record)
	defer d.Stop()

	d.Flush()
	assert.Empty(t, rec.snapshot(), "nothing pending, nothing delivered")

	d.Add("a", 1)
	d.Flush()
	assert.Len(t, rec.snapshot(), 1)
}

func TestDebouncer_StopWaitsForRunningFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	entered := make(chan struct{})
	release := make(chan struct{})
	var rec flushRecorder
	d := NewDebouncer(clock, 50*time.Millisecond, 0, func(batch map[string]int) {
		if _, first := batch["a"]; first {
			close(entered)
			<-release
		}
		rec.record(batch)
	})

	d.Add("a", 1)
	clock.Advance(50 * time.Millisecond)
	<-entered
	d.Add("b", 2)

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a flush was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
	assert.Equal(t, []map[string]int{{"a": 1}, {"b": 2}}, rec.snapshot(), "batches reach the callback in order")
}
