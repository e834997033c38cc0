package inserter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/flowcol/flowcol/internal/block"
)

// retryBackoff is the fixed delay between reconnect attempts, grounded on
// inserter.cpp's std::this_thread::sleep_for(std::chrono::seconds(1)).
const retryBackoff = time.Second

// ErrStopTimeoutExceeded is the error a worker reports when it gives up
// retrying a failing insert after StopTimeout has elapsed since a stop was
// requested; the in-flight Block's rows are dropped rather than retried
// indefinitely.
var ErrStopTimeoutExceeded = errors.New("inserter: stop timeout exceeded while retrying")

// StopTimeout bounds how long a worker keeps retrying a failing insert
// after a stop has been requested before giving up and dropping the
// in-flight Block, grounded on inserter.cpp's STOP_TIMEOUT_SECS.
const StopTimeout = 10 * time.Second

// NewClientFunc constructs a fresh Client for one worker. Workers each hold
// their own connection (worker.h's Worker base class owns one thread and,
// via Inserter, one clickhouse::Client).
type NewClientFunc func(workerID int) Client

// Worker drains Blocks from a shared filled queue and inserts them into one
// table, retrying across endpoints on failure and returning Blocks to the
// shared avail queue on success. Grounded on inserter.cpp's run()/insert()
// and worker.h's start/request_stop/check_error/join.
type Worker struct {
	id      int
	log     logr.Logger
	table   string
	columns []ColumnInfo
	newClient NewClientFunc

	pool *block.Pool

	stopRequested   atomic.Bool
	stopRequestedAt atomic.Int64 // unix nanos, read once stopRequested flips

	errMu sync.Mutex
	err   error

	done chan struct{}
}

// NewWorker constructs a Worker; callers must call Start to begin draining.
func NewWorker(id int, log logr.Logger, table string, columns []ColumnInfo, newClient NewClientFunc, pool *block.Pool) *Worker {
	return &Worker{
		id:        id,
		log:       log.WithValues("worker", id),
		table:     table,
		columns:   columns,
		newClient: newClient,
		pool:      pool,
		done:      make(chan struct{}),
	}
}

// Start runs the worker loop in its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// RequestStop asks the worker to stop retrying and drain no further once
// StopTimeout has elapsed, mirroring Worker::request_stop.
func (w *Worker) RequestStop() {
	if w.stopRequested.CompareAndSwap(false, true) {
		w.stopRequestedAt.Store(time.Now().UnixNano())
	}
}

// Join blocks until the worker's goroutine has exited.
func (w *Worker) Join() {
	<-w.done
}

// CheckError returns the error that stopped the worker's run loop, if any,
// mirroring Worker::check_error.
func (w *Worker) CheckError() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *Worker) secsSinceStopRequested() float64 {
	at := w.stopRequestedAt.Load()
	if at == 0 {
		return 0
	}
	return time.Since(time.Unix(0, at)).Seconds()
}

func (w *Worker) stopDeadlineExceeded() bool {
	return w.stopRequested.Load() && w.secsSinceStopRequested() > StopTimeout.Seconds()
}

func (w *Worker) setErr(err error) {
	w.errMu.Lock()
	w.err = err
	w.errMu.Unlock()
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	client := w.newClient(w.id)
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		w.setErr(err)
		return
	}
	if err := EnsureSchema(ctx, client, w.table, w.columns); err != nil {
		w.setErr(err)
		return
	}
	w.log.Info("connected", "endpoint", client.CurrentEndpoint())

	for {
		b, ok := w.pool.Filled.TryGet()
		if !ok {
			select {
			case b = <-w.pool.Filled.Chan():
			case <-ctx.Done():
				return
			}
		}
		if block.IsStop(b) {
			return
		}

		if w.stopDeadlineExceeded() {
			w.setErr(ErrStopTimeoutExceeded)
			return
		}

		if err := w.insert(ctx, client, b); err != nil {
			// Do not clear or return the block: its rows count as dropped.
			w.setErr(err)
			return
		}

		b.Clear()
		w.pool.Avail.Put(b)
	}
}

// insert retries an insert, reconnecting to the next endpoint on each
// failure, until it succeeds or the stop deadline passes. Grounded on
// Inserter::insert.
func (w *Worker) insert(ctx context.Context, client Client, b *block.Block) error {
	needsReconnect := false
	for {
		if w.stopDeadlineExceeded() {
			return ErrStopTimeoutExceeded
		}

		if needsReconnect {
			if err := client.ResetEndpoint(ctx); err != nil {
				w.log.Error(err, "reconnect failed, retrying", "delay", retryBackoff)
				if !w.sleep(ctx) {
					return w.giveUpErr(ctx)
				}
				continue
			}
			if err := EnsureSchema(ctx, client, w.table, w.columns); err != nil {
				var schemaErr *SchemaError
				if errors.As(err, &schemaErr) {
					// A schema mismatch is never transient: retrying against
					// the same misconfigured table would just fail again.
					return err
				}
				w.log.Error(err, "reconnect failed, retrying", "delay", retryBackoff)
				if !w.sleep(ctx) {
					return w.giveUpErr(ctx)
				}
				continue
			}
			w.log.Info("reconnected after error", "endpoint", client.CurrentEndpoint())
		}

		w.log.V(1).Info("inserting", "rows", b.Rows())
		err := client.Insert(ctx, w.table, b)
		if err == nil {
			return nil
		}

		w.log.Error(err, "insert failed, retrying", "delay", retryBackoff)
		needsReconnect = true

		if w.stopDeadlineExceeded() {
			return ErrStopTimeoutExceeded
		}
		if !w.sleep(ctx) {
			return w.giveUpErr(ctx)
		}
	}
}

// giveUpErr reports why insert stopped retrying when sleep was interrupted:
// the stop deadline if one has passed, otherwise the context's own error.
func (w *Worker) giveUpErr(ctx context.Context) error {
	if w.stopDeadlineExceeded() {
		return ErrStopTimeoutExceeded
	}
	return ctx.Err()
}

func (w *Worker) sleep(ctx context.Context) bool {
	t := time.NewTimer(retryBackoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
