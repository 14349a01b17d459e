// This file provides a lock-free multi-producer single-consumer queue.
//
// Producers append with a CAS on the tail node and never block. A single
// internal goroutine drains the list and forwards the items to a channel, so
// the consumer can select on Recv() together with other channels. Ordering
// between concurrent producers is the order in which their CAS succeeded.
// The queue is unbounded.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	closed atomic.Bool
	done   sync.WaitGroup

	// wakes the drain goroutine when it ran out of items
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a queue and starts its drain goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{out: make(chan *T)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.done.Add(1)
	go q.drain()

	return q
}

// Push appends value. Returns false if value is nil or the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}

	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// may fail if another producer already moved the tail forward
				q.tail.CompareAndSwap(tail, n)

				// signal under the lock, the drain goroutine checks and waits while holding it
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// another producer linked a node but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// spin briefly under contention, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

func (q *LockFreeMPSC[T]) drain() {
	defer q.done.Done()
	defer close(q.out)

	for {
		drained := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			drained = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !drained && q.closed.Load() {
			return
		}

		if !drained {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the queued items are delivered on.
// The channel is closed after Close once all items were delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close rejects further pushes. Already queued items are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
