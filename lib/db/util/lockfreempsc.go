// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue.
//
// The watch dispatcher uses one queue per subscription: committing writers
// push change sets (multi-producer, though in practice one writer at a time)
// and the subscriber's delivery goroutine is the single consumer. Because the
// queue is unbounded, a slow subscriber can never block a commit.
//
// Guarantees:
//
//   - Lock-free writes: atomic operations only, no mutex on the push path
//   - Unbounded size: limited only by available memory
//   - Small footprint: two pointers of overhead per queued item
//   - Thread-safe writes: any number of goroutines may Push() concurrently
//   - Single consumer: exactly one goroutine may consume (via the Recv() channel)
//   - No strict FIFO across producers: concurrent pushes are ordered by which
//     producer completes first, not by which started first
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Implementation uses a linked list of nodes with atomic operations
// for concurrent push operations without locks.
type LockFreeMPSC[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its consumer goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	// sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan *T),
	}

	q.cond = sync.NewCond(&q.mu)

	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {

	if value == nil {
		return false
	}

	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}

	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				/*
				 Successfully appended, now try to update tail.
				 Note: this CAS may fail if another producer helps update the
				 tail, but that's okay - tail will still be updated eventually.
				*/
				q.tail.CompareAndSwap(tailNode, newNode)

				// Signal the consumer that new data is available
				q.cond.Signal()

				return true
			}
		} else {
			// help update the tail pointer if another producer has already
			// appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		/*
		 Exponential backoff under contention:
		  - at low contention (<10 retries) spin, avoiding scheduler overhead
		  - at higher contention yield so other goroutines make progress
		  - backoff grows exponentially, spreading out simultaneous retries
		*/
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume continuously moves items from the linked list to the output channel
// and frees consumed nodes
func (q *LockFreeMPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()

			if next == nil {
				break // no more items available
			}

			hasItems = true

			// capture value before updating pointers
			value := next.value

			// move head pointer (frees the old head)
			q.head.Store(next)

			q.out <- value

			// help the go gc - safe to clear after sending
			next.value = nil
		}

		// exit if closed and fully drained
		if !hasItems && q.closed.Load() {
			return
		}

		// if no items were processed, wait for a signal
		if !hasItems {
			q.mu.Lock()
			// double-check after acquiring the lock
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// This allows the queue to be used with the '<-' operator in select statements.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close closes the queue, preventing further writes.
// Any items already in the queue are still delivered to the consumer.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	// wake up the consumer if it's waiting
	q.cond.Signal()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of queued items.
// This is O(n) and should only be used for debugging.
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	current := q.head.Load()

	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}

	return count
}
