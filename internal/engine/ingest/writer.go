// Package ingest buffers scanner output and feeds it to the graph store's
// batch operations from a single goroutine.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/engine/graph"
	"resgraph/internal/shared/observability"
	"resgraph/internal/shared/util"
)

// Store is the batch write surface the writer flushes into.
type Store interface {
	InsertNodesBatch(ctx context.Context, nodes []graph.Node) (int, error)
	InsertEdgesBatch(ctx context.Context, edges []graph.Edge) (int, error)
}

// Config controls the flush thresholds for the BatchWriter.
type Config struct {
	// BatchSize is the number of buffered rows that trigger an automatic
	// flush. Defaults to 500 when zero or negative.
	BatchSize int
	// FlushInterval is the maximum time rows wait before a flush.
	// Defaults to 1s when zero or negative.
	FlushInterval time.Duration
	// RowsPerSecond caps the flush rate. Zero means unlimited.
	RowsPerSecond float64
	// Burst is the rate limiter bucket size; defaults to BatchSize.
	Burst  int
	Logger *slog.Logger
}

func (c Config) batchSize() int {
	if c.BatchSize <= 0 {
		return 500
	}
	return c.BatchSize
}

func (c Config) flushInterval() time.Duration {
	if c.FlushInterval <= 0 {
		return time.Second
	}
	return c.FlushInterval
}

// Totals counts rows the writer has landed in the store.
type Totals struct {
	NodesSubmitted int
	EdgesSubmitted int
	NodesWritten   int
	EdgesWritten   int
	Flushes        int
}

type item struct {
	node *graph.Node
	edge *graph.Edge
}

// BatchWriter accumulates nodes and edges from concurrent producers and
// writes them with the batch operations, nodes before edges, whenever the
// buffer reaches BatchSize, FlushInterval elapses, Flush is called, or the
// writer is closed. An edge is only written if both endpoints exist by the
// time its flush runs.
type BatchWriter struct {
	store   Store
	cfg     Config
	limiter *util.Limiter
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ch      chan item
	flushCh chan chan error // manual flush request + result
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	statsMu sync.Mutex
	totals  Totals
	bgErr   error
}

// New creates a BatchWriter and starts its goroutine. Callers must call
// Close to drain remaining work.
func New(store Store, cfg Config) *BatchWriter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.batchSize()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &BatchWriter{
		store:   store,
		cfg:     cfg,
		limiter: util.NewLimiter(cfg.RowsPerSecond, burst),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		ch:      make(chan item, cfg.batchSize()*2),
		flushCh: make(chan chan error),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// AddNode enqueues n, blocking while the buffer is full.
func (w *BatchWriter) AddNode(ctx context.Context, n graph.Node) error {
	n = n.Clone()
	return w.enqueue(ctx, item{node: &n})
}

// AddEdge enqueues e, blocking while the buffer is full.
func (w *BatchWriter) AddEdge(ctx context.Context, e graph.Edge) error {
	e = e.Clone()
	return w.enqueue(ctx, item{edge: &e})
}

func (w *BatchWriter) enqueue(ctx context.Context, it item) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return gerrors.New(gerrors.CodeClosed, "batch writer is closed")
	}
	select {
	case w.ch <- it:
	case <-ctx.Done():
		return ctx.Err()
	}
	observability.IngestQueueDepth.Set(float64(len(w.ch)))

	w.statsMu.Lock()
	if it.node != nil {
		w.totals.NodesSubmitted++
	} else {
		w.totals.EdgesSubmitted++
	}
	w.statsMu.Unlock()
	return nil
}

// Flush writes everything enqueued so far and waits for it to land. It
// also reports any error from an earlier background flush. Flush after
// Close is a no-op.
func (w *BatchWriter) Flush() error {
	result := make(chan error, 1)
	select {
	case w.flushCh <- result:
	case <-w.done:
		return nil
	}
	return <-result
}

// Close flushes remaining rows and stops the goroutine. Further adds
// fail with CLOSED. Close is idempotent.
func (w *BatchWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.cancel()
	return w.takeErr()
}

func (w *BatchWriter) Totals() Totals {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.totals
}

func (w *BatchWriter) run() {
	defer w.wg.Done()

	batch := make([]item, 0, w.cfg.batchSize())
	ticker := time.NewTicker(w.cfg.flushInterval())
	defer ticker.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := w.writeBatch(batch)
		batch = batch[:0]
		return err
	}
	background := func() {
		if err := flush(); err != nil {
			w.logger.Error("ingest flush failed", "error", err)
			w.keepErr(err)
		}
	}

	for {
		select {
		case it := <-w.ch:
			batch = append(batch, it)
			if len(batch) >= w.cfg.batchSize() {
				drainPending(&batch, w.ch)
				background()
				ticker.Reset(w.cfg.flushInterval())
			}

		case result := <-w.flushCh:
			// Items sent before the flush request may still be queued.
			drainPending(&batch, w.ch)
			err := flush()
			result <- errors.Join(w.takeErr(), err)

		case <-ticker.C:
			drainPending(&batch, w.ch)
			background()

		case <-w.done:
			drainPending(&batch, w.ch)
			background()
			return
		}
	}
}

// writeBatch writes the nodes of items, then the edges.
func (w *BatchWriter) writeBatch(items []item) error {
	start := time.Now()
	defer func() {
		observability.IngestFlushLatencySeconds.Observe(time.Since(start).Seconds())
		observability.IngestQueueDepth.Set(float64(len(w.ch)))
	}()

	var (
		nodes []graph.Node
		edges []graph.Edge
	)
	for _, it := range items {
		if it.node != nil {
			nodes = append(nodes, *it.node)
		} else {
			edges = append(edges, *it.edge)
		}
	}

	if err := w.limiter.Wait(w.ctx, len(items)); err != nil {
		return err
	}

	var nodesWritten, edgesWritten int
	var err error
	if len(nodes) > 0 {
		nodesWritten, err = w.store.InsertNodesBatch(w.ctx, nodes)
	}
	if err == nil && len(edges) > 0 {
		edgesWritten, err = w.store.InsertEdgesBatch(w.ctx, edges)
	}

	w.statsMu.Lock()
	w.totals.NodesWritten += nodesWritten
	w.totals.EdgesWritten += edgesWritten
	w.totals.Flushes++
	w.statsMu.Unlock()

	w.logger.Debug("ingest flush",
		"nodes", len(nodes),
		"edges", len(edges),
		"nodes_written", nodesWritten,
		"edges_written", edgesWritten,
		"duration", time.Since(start),
	)
	return err
}

func (w *BatchWriter) keepErr(err error) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	if w.bgErr == nil {
		w.bgErr = err
	}
}

func (w *BatchWriter) takeErr() error {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	err := w.bgErr
	w.bgErr = nil
	return err
}

// drainPending non-blockingly moves all queued items from ch into batch.
func drainPending(batch *[]item, ch <-chan item) {
	for {
		select {
		case it := <-ch:
			*batch = append(*batch, it)
		default:
			return
		}
	}
}
