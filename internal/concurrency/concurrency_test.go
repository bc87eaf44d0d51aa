package concurrency_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/internal/concurrency"
)

func TestExecutor_RunsAllTasks(t *testing.T) {
	e := concurrency.NewExecutor(4, nil)
	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, e.Submit(func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(100), count.Load())
	e.Close()
	assert.Equal(t, int64(100), e.Stats()["completed_tasks"])
}

func TestExecutor_CloseDrainsAndRejects(t *testing.T) {
	e := concurrency.NewExecutor(1, nil)
	var ran atomic.Int32
	block := make(chan struct{})
	require.NoError(t, e.Submit(func() { <-block }))
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Submit(func() { ran.Add(1) }))
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	e.Close()
	assert.Equal(t, int32(10), ran.Load(), "queued tasks must run before Close returns")
	assert.ErrorIs(t, e.Submit(func() {}), concurrency.ErrExecutorClosed)
	e.Close()
}

func TestExecutor_RecoversPanics(t *testing.T) {
	var panics atomic.Int32
	e := concurrency.NewExecutor(1, func(any) { panics.Add(1) })
	defer e.Close()
	done := make(chan struct{})
	require.NoError(t, e.Submit(func() { panic("boom") }))
	require.NoError(t, e.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	assert.Equal(t, int32(1), panics.Load())
}

func TestSerial_PreservesOrder(t *testing.T) {
	e := concurrency.NewExecutor(8, nil)
	defer e.Close()
	s := concurrency.NewSerial(e, nil)

	const n = 500
	var mu sync.Mutex
	got := make([]int, 0, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		s.Do(func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	wg.Wait()
	for i := range got {
		if got[i] != i {
			t.Fatalf("out of order at %d: %d", i, got[i])
		}
	}
}

func TestSerial_FallsBackAfterExecutorClose(t *testing.T) {
	e := concurrency.NewExecutor(1, nil)
	e.Close()
	s := concurrency.NewSerial(e, nil)
	done := make(chan struct{})
	s.Do(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task was dropped after executor close")
	}
}
