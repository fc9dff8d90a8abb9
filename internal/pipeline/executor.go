package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutorStopped is returned when a task is submitted after shutdown.
var ErrExecutorStopped = errors.New("executor stopped")

// ErrQueueFull is returned when a conversation's queue cannot take more work.
var ErrQueueFull = errors.New("conversation queue full")

const defaultQueueSize = 64

// Executor runs tasks serially per key and concurrently across keys. Each
// key gets its own goroutine and queue on first use, so messages of one
// conversation are processed in arrival order while conversations never wait
// on each other.
type Executor struct {
	queueSize int

	mu     sync.Mutex
	queues map[string]chan func(context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewExecutor creates a running executor.
func NewExecutor(queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		queueSize: queueSize,
		queues:    map[string]chan func(context.Context){},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit enqueues a task under a key. Tasks with the same key run in
// submission order. A full queue rejects the task instead of blocking the
// caller.
func (e *Executor) Submit(key string, task func(context.Context)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorStopped
	}
	queue, ok := e.queues[key]
	if !ok {
		queue = make(chan func(context.Context), e.queueSize)
		e.queues[key] = queue
		e.wg.Add(1)
		go e.run(queue)
	}
	e.mu.Unlock()

	select {
	case queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (e *Executor) run(queue chan func(context.Context)) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case task := <-queue:
			task(e.ctx)
		}
	}
}

// Close stops accepting work, cancels in-flight tasks, and waits for the
// workers to exit.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}
