package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorSerialPerKey(t *testing.T) {
	e := NewExecutor(32)
	defer e.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		err := e.Submit("conv-a", func(context.Context) {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	wg.Wait()

	require.Len(t, order, 10)
	for i, got := range order {
		assert.Equal(t, i, got, "tasks of one key must run in submission order")
	}
}

func TestExecutorKeysRunIndependently(t *testing.T) {
	e := NewExecutor(8)
	defer e.Close()

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	fastDone := make(chan struct{})

	require.NoError(t, e.Submit("slow", func(context.Context) {
		close(slowStarted)
		<-release
	}))
	<-slowStarted

	require.NoError(t, e.Submit("fast", func(context.Context) {
		close(fastDone)
	}))

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("a busy key must not block other keys")
	}
	close(release)
}

func TestExecutorQueueFull(t *testing.T) {
	e := NewExecutor(1)
	defer e.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, e.Submit("k", func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	// worker is busy; one slot in the queue
	require.NoError(t, e.Submit("k", func(context.Context) {}))
	err := e.Submit("k", func(context.Context) {})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestExecutorClosedRejectsWork(t *testing.T) {
	e := NewExecutor(8)
	e.Close()
	err := e.Submit("k", func(context.Context) {})
	assert.ErrorIs(t, err, ErrExecutorStopped)
}

func TestExecutorCloseCancelsTaskContext(t *testing.T) {
	e := NewExecutor(8)

	cancelled := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, e.Submit("k", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	go e.Close()
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("close must cancel in-flight task contexts")
	}
}
