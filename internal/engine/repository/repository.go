// Package repository implements node, edge and metadata CRUD on top of the
// connection manager, including batch upserts with commit-and-yield
// backpressure.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"resgraph/internal/core/config"
	"resgraph/internal/data/conn"
	"resgraph/internal/data/schema"
	"resgraph/internal/shared/observability"
)

type Config struct {
	// BatchThreshold is the number of rows a batch insert writes between
	// commit-and-yield checkpoints.
	BatchThreshold int
	// IterChunkSize is the page size used by ForEachNode/ForEachEdge.
	IterChunkSize int
}

// BatchHook runs under the writer handle after a batch insert's final
// commit. The metrics engine uses it to rebuild degree statistics.
type BatchHook interface {
	AfterBatch(ctx context.Context, s *conn.WriteSession) error
}

type Repository struct {
	conn   *conn.Manager
	logger *slog.Logger
	hook   BatchHook

	threshold atomic.Int64
	chunkSize int

	generation   atomic.Uint64
	batchCommits atomic.Int64
	rowsWritten  atomic.Int64
	rowsSkipped  atomic.Int64
}

func New(m *conn.Manager, cfg Config, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = config.DefaultBatchThreshold
	}
	if cfg.IterChunkSize <= 0 {
		cfg.IterChunkSize = config.DefaultIterChunkSize
	}
	r := &Repository{
		conn:      m,
		logger:    logger,
		chunkSize: cfg.IterChunkSize,
	}
	r.threshold.Store(int64(cfg.BatchThreshold))
	return r
}

// SetBatchHook installs the post-batch hook. Call before concurrent use.
func (r *Repository) SetBatchHook(h BatchHook) {
	r.hook = h
}

func (r *Repository) SetBatchThreshold(n int) {
	if n > 0 {
		r.threshold.Store(int64(n))
	}
}

func (r *Repository) BatchThreshold() int {
	return int(r.threshold.Load())
}

// Generation increases with every committed write. Readers use it to
// invalidate cached results.
func (r *Repository) Generation() uint64 {
	return r.generation.Load()
}

func (r *Repository) bump() {
	r.generation.Add(1)
}

// Touch advances the generation after a derived table changed outside the
// repository, such as a metrics rebuild.
func (r *Repository) Touch() {
	r.bump()
}

// Clear deletes every row from every table, derived ones included.
func (r *Repository) Clear(ctx context.Context) error {
	err := r.conn.WithWriteTx(ctx, func(tx *sql.Tx) error {
		for _, table := range schema.Tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return r.writeErr("clear", err)
	}
	r.bump()
	observability.GraphNodes.Set(0)
	observability.GraphEdges.Set(0)
	r.logger.Info("graph cleared", "path", r.conn.Path())
	return nil
}

// writeErr maps driver lock contention onto LOCK_TIMEOUT and leaves other
// failures wrapped but unchanged.
func (r *Repository) writeErr(op string, err error) error {
	return conn.WrapErr(op, err)
}

// Stats is a point-in-time summary of the repository.
type Stats struct {
	Nodes        int
	Edges        int
	MetadataKeys int
	Generation   uint64
	Commits      int64
	BatchCommits int64
	RowsWritten  int64
	RowsSkipped  int64
}

func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	err = q.QueryRowContext(ctx, `SELECT
  (SELECT COUNT(*) FROM nodes),
  (SELECT COUNT(*) FROM edges),
  (SELECT COUNT(*) FROM metadata)`).Scan(&s.Nodes, &s.Edges, &s.MetadataKeys)
	if err != nil {
		return Stats{}, conn.WrapErr("read stats", err)
	}
	s.Generation = r.Generation()
	s.Commits = r.conn.Commits()
	s.BatchCommits = r.batchCommits.Load()
	s.RowsWritten = r.rowsWritten.Load()
	s.RowsSkipped = r.rowsSkipped.Load()
	return s, nil
}
