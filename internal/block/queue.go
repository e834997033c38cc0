// Package block implements the columnar Block type and the bounded
// producer/consumer queues (avail/filled) the pipeline and inserter workers
// exchange them through, grounded on
// original_source/extra_plugins/output/clickhouse/src/{syncqueue.h,block.h}.
// The original's condition-variable SyncQueue<T> becomes a buffered Go
// channel: Put is the equivalent of push+notify, Get a blocking receive,
// TryGet a non-blocking receive via select/default.
package block

// Queue is a bounded FIFO of *Block handles shared between the pipeline
// coordinator and the inserter workers. Unlike the original's unbounded
// std::queue, a Go channel queue is naturally capacity-bounded, which is
// exactly the avail/filled accounting spec.md §5 describes: the total
// number of Blocks in flight (avail + filled + held by a worker) never
// exceeds the configured pool size.
type Queue struct {
	ch chan *Block
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *Block, capacity)}
}

// Put enqueues b, blocking while the queue is full. Queue has no
// non-blocking put; Chan() is receive-only. On a Pool's Filled queue the
// stop sentinels from Pool.PutStop take up capacity like Blocks do, so a
// Put there can block until a worker takes an item.
func (q *Queue) Put(b *Block) {
	q.ch <- b
}

// Get blocks until a Block is available.
func (q *Queue) Get() *Block {
	return <-q.ch
}

// TryGet returns immediately, with ok false if the queue was empty.
func (q *Queue) TryGet() (b *Block, ok bool) {
	select {
	case b = <-q.ch:
		return b, true
	default:
		return nil, false
	}
}

// Len reports the number of Blocks currently queued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Chan exposes the underlying channel for use in a select alongside a
// context's Done channel, e.g. in the inserter worker's stop path.
func (q *Queue) Chan() <-chan *Block {
	return q.ch
}
