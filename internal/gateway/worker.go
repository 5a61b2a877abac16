package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/TacticalMetaphysics/eidetic/internal/metrics"
)

// reqKind distinguishes worker request types.
type reqKind int

const (
	reqInsert reqKind = iota + 1
	reqDump
	reqCount
	reqBarrier
)

// request is one unit of work for the gateway worker.
type request struct {
	id    string
	kind  reqKind
	table string
	rows  [][]any
	reply chan reply
}

type reply struct {
	rows  [][]any
	count int64
	err   error
}

// requestQueue is a thread-safe FIFO for worker requests.
//
// Unbounded so flushes never block the simulation past enqueueing.
// A one-slot signal channel wakes the worker without busy waiting.
type requestQueue struct {
	mu     sync.Mutex
	reqs   []request
	closed bool
	signal chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		reqs:   make([]request, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a request. Returns false if the queue is closed.
func (q *requestQueue) Enqueue(r request) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.reqs = append(q.reqs, r)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes the oldest request. ok=false when empty.
func (q *requestQueue) Dequeue() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.reqs) == 0 {
		return request{}, false
	}
	r := q.reqs[0]
	q.reqs = q.reqs[1:]
	return r, true
}

// Close stops accepting new requests. Queued requests still drain.
func (q *requestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *requestQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.reqs) == 0
}

// Worker owns the live gateway connection. Every other component
// submits requests through the queue, so gateway I/O never blocks a
// caller past enqueueing; the worker blocks on its queue until an
// explicit shutdown, which guarantees a final flush.
//
// Insert errors are deferred: they surface on the next Commit or
// Shutdown, which callers must treat as fallible. A failed batch never
// corrupts the in-memory caches upstream; they stay authoritative
// until the caller retries or reloads.
type Worker struct {
	store *Store
	queue *requestQueue
	done  chan struct{}
	mets  metrics.Collector

	mu      sync.Mutex
	pending error
}

// NewWorker starts the worker goroutine over an opened store.
func NewWorker(store *Store, mets metrics.Collector) *Worker {
	if mets == nil {
		mets = metrics.Noop{}
	}
	w := &Worker{
		store: store,
		queue: newRequestQueue(),
		done:  make(chan struct{}),
		mets:  mets,
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	slog.Info("gateway worker starting")
	defer close(w.done)
	for {
		req, ok := w.queue.Dequeue()
		if !ok {
			if w.queue.drained() {
				slog.Info("gateway worker stopping: queue closed")
				return
			}
			<-w.queue.signal
			continue
		}
		w.serve(req)
	}
}

func (w *Worker) serve(req request) {
	ctx := context.Background()
	switch req.kind {
	case reqInsert:
		err := w.store.InsertMany(ctx, req.table, req.rows)
		if err != nil {
			w.mets.GatewayError()
			slog.Error("gateway insert failed",
				"request", req.id, "table", req.table, "rows", len(req.rows), "error", err)
			w.mu.Lock()
			if w.pending == nil {
				w.pending = err
			}
			w.mu.Unlock()
			return
		}
		slog.Debug("gateway insert", "request", req.id, "table", req.table, "rows", len(req.rows))
	case reqDump:
		rows, err := w.store.Dump(ctx, req.table)
		req.reply <- reply{rows: rows, err: err}
	case reqCount:
		n, err := w.store.Count(ctx, req.table)
		req.reply <- reply{count: n, err: err}
	case reqBarrier:
		w.mu.Lock()
		err := w.pending
		w.pending = nil
		w.mu.Unlock()
		req.reply <- reply{err: err}
	}
}

// ErrShutdown means a request arrived after the worker closed.
var ErrShutdown = errors.New("gateway worker shut down")

// EnqueueInsert queues an append-only batch. Never blocks on I/O; any
// failure surfaces at the next Commit or Shutdown.
func (w *Worker) EnqueueInsert(table string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	ok := w.queue.Enqueue(request{
		id:    uuid.NewString(),
		kind:  reqInsert,
		table: table,
		rows:  rows,
	})
	if !ok {
		return ErrShutdown
	}
	return nil
}

// Commit waits for every queued insert to land and returns the first
// deferred error, clearing it.
func (w *Worker) Commit(ctx context.Context) error {
	ch := make(chan reply, 1)
	if !w.queue.Enqueue(request{id: uuid.NewString(), kind: reqBarrier, reply: ch}) {
		return ErrShutdown
	}
	select {
	case r := <-ch:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dump reads a full table through the worker, preserving serialization
// with in-flight inserts.
func (w *Worker) Dump(ctx context.Context, table string) ([][]any, error) {
	ch := make(chan reply, 1)
	if !w.queue.Enqueue(request{id: uuid.NewString(), kind: reqDump, table: table, reply: ch}) {
		return nil, ErrShutdown
	}
	select {
	case r := <-ch:
		return r.rows, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Count reads a table's row count through the worker.
func (w *Worker) Count(ctx context.Context, table string) (int64, error) {
	ch := make(chan reply, 1)
	if !w.queue.Enqueue(request{id: uuid.NewString(), kind: reqCount, table: table, reply: ch}) {
		return 0, ErrShutdown
	}
	select {
	case r := <-ch:
		return r.count, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown drains the queue (the guaranteed final flush), stops the
// worker, and closes the store. Returns any deferred insert error.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.queue.Close()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.mu.Lock()
	err := w.pending
	w.pending = nil
	w.mu.Unlock()
	if cerr := w.store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close store: %w", cerr)
	}
	return err
}
