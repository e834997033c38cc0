package block

// Pool owns a fixed set of same-shaped Blocks and the avail/filled queues
// they circulate through: the pipeline coordinator takes a Block from Avail,
// fills it, and hands it to Filled; an inserter worker takes it from Filled,
// inserts it, clears it, and returns it to Avail. Grounded on
// original_source/.../inserter.cpp's run() loop and block.h/syncqueue.h.
type Pool struct {
	Avail  *Queue
	Filled *Queue

	columns  []Column
	capacity int
}

// NewPool allocates n Blocks of the given shape and capacity, all initially
// available.
func NewPool(n int, columns []Column, capacity int) *Pool {
	p := &Pool{
		Avail:    NewQueue(n),
		Filled:   NewQueue(n),
		columns:  columns,
		capacity: capacity,
	}
	for i := 0; i < n; i++ {
		p.Avail.Put(NewBlock(columns, capacity))
	}
	return p
}

// stopSentinel, when pushed onto Filled, tells a worker to stop draining and
// exit, mirroring the original's nullptr stop signal in SyncQueue<Block*>.
// A *Block typed nil is indistinguishable from "no block" in Go, so the
// pool instead exposes an explicit PutStop/IsStop pair built on a
// zero-capacity sentinel Block value.
var stopSentinel = &Block{}

// PutStop enqueues one stop signal per worker that should observe it.
func (p *Pool) PutStop() {
	p.Filled.Put(stopSentinel)
}

// IsStop reports whether b is the stop sentinel rather than a real,
// fillable Block.
func IsStop(b *Block) bool {
	return b == stopSentinel
}

// AvailLen reports how many Blocks currently sit in the avail queue, so a
// Pool can be sampled directly as a stats.QueueLengths.
func (p *Pool) AvailLen() int {
	return p.Avail.Len()
}

// FilledLen reports how many Blocks currently sit in the filled queue.
func (p *Pool) FilledLen() int {
	return p.Filled.Len()
}
