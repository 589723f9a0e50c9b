// Package metrics maintains the materialized per-node degree table.
//
// The table is rebuilt in full from the edge set at the end of every batch
// write; it is never patched incrementally, so reads may lag single
// inserts until the next rebuild.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"resgraph/internal/data/conn"
	"resgraph/internal/engine/graph"
	"resgraph/internal/shared/observability"
)

const rebuildSQL = `INSERT INTO node_metrics(node_id, in_degree, out_degree, total_degree, is_leaf, is_root)
SELECT n.id,
  COALESCE(i.c, 0),
  COALESCE(o.c, 0),
  COALESCE(i.c, 0) + COALESCE(o.c, 0),
  COALESCE(o.c, 0) = 0,
  COALESCE(i.c, 0) = 0
FROM nodes n
LEFT JOIN (SELECT target_id AS id, COUNT(*) AS c FROM edges GROUP BY target_id) i ON i.id = n.id
LEFT JOIN (SELECT source_id AS id, COUNT(*) AS c FROM edges GROUP BY source_id) o ON o.id = n.id
ORDER BY n.rowid`

const metricsColumns = `node_id, in_degree, out_degree, total_degree, is_leaf, is_root`

type Engine struct {
	conn    *conn.Manager
	logger  *slog.Logger
	enabled atomic.Bool

	onRebuild func()
}

func New(m *conn.Manager, enabled bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{conn: m, logger: logger}
	e.enabled.Store(enabled)
	return e
}

// OnRebuild registers fn to run after every successful rebuild. Call
// before concurrent use.
func (e *Engine) OnRebuild(fn func()) {
	e.onRebuild = fn
}

func (e *Engine) Enabled() bool { return e.enabled.Load() }

// SetEnabled toggles the post-batch rebuild. Disabling also stops Degree
// from trusting the materialized table.
func (e *Engine) SetEnabled(v bool) { e.enabled.Store(v) }

// Rebuild recomputes the metrics table under the writer handle. It runs
// regardless of the enabled flag.
func (e *Engine) Rebuild(ctx context.Context) error {
	return e.conn.WithWriter(ctx, func(s *conn.WriteSession) error {
		return e.rebuild(ctx, s)
	})
}

// AfterBatch implements repository.BatchHook.
func (e *Engine) AfterBatch(ctx context.Context, s *conn.WriteSession) error {
	if !e.enabled.Load() {
		return nil
	}
	return e.rebuild(ctx, s)
}

func (e *Engine) rebuild(ctx context.Context, s *conn.WriteSession) error {
	ctx, span := observability.Tracer.Start(ctx, "metrics.Rebuild")
	defer span.End()
	start := time.Now()

	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM node_metrics`); err != nil {
		return fmt.Errorf("reset node metrics: %w", err)
	}
	res, err := tx.ExecContext(ctx, rebuildSQL)
	if err != nil {
		return fmt.Errorf("rebuild node metrics: %w", err)
	}
	var nodes, edges int
	if err := tx.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM nodes), (SELECT COUNT(*) FROM edges)`).Scan(&nodes, &edges); err != nil {
		return fmt.Errorf("count graph: %w", err)
	}
	if err := s.Commit(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	observability.MetricsRebuildSeconds.Observe(elapsed.Seconds())
	observability.GraphNodes.Set(float64(nodes))
	observability.GraphEdges.Set(float64(edges))
	rows, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int("nodes", nodes), attribute.Int("edges", edges))
	e.logger.Debug("metrics rebuilt", "rows", rows, "duration", elapsed)

	if e.onRebuild != nil {
		e.onRebuild()
	}
	return nil
}

// Degree returns the in/out degree of id. The materialized row is used
// when metrics are enabled and the node has one; otherwise edges are
// counted directly.
func (e *Engine) Degree(ctx context.Context, id string) (graph.Degree, error) {
	if e.enabled.Load() {
		m, err := e.Metrics(ctx, id)
		if err != nil {
			return graph.Degree{}, err
		}
		if m != nil {
			return m.Degree(), nil
		}
	}
	return e.countDegree(ctx, id)
}

func (e *Engine) countDegree(ctx context.Context, id string) (graph.Degree, error) {
	q, err := e.conn.Reader(ctx)
	if err != nil {
		return graph.Degree{}, err
	}
	var d graph.Degree
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE target_id = ?`, id).Scan(&d.In); err != nil {
		return graph.Degree{}, conn.WrapErr("count in-degree", err)
	}
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE source_id = ?`, id).Scan(&d.Out); err != nil {
		return graph.Degree{}, conn.WrapErr("count out-degree", err)
	}
	return d, nil
}

// Metrics returns the materialized row for id, or nil when there is none.
func (e *Engine) Metrics(ctx context.Context, id string) (*graph.NodeMetrics, error) {
	q, err := e.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	m, err := scanMetrics(q.QueryRowContext(ctx, `SELECT `+metricsColumns+` FROM node_metrics WHERE node_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, conn.WrapErr(fmt.Sprintf("read metrics %q", id), err)
	}
	return &m, nil
}

// topPrealloc caps the result capacity reserved before any row is read.
const topPrealloc = 256

// TopByDegree returns up to n rows ordered by total degree, highest
// first. Tie order is unspecified.
func (e *Engine) TopByDegree(ctx context.Context, n int) ([]graph.NodeMetrics, error) {
	if n <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { observability.QueryDuration.WithLabelValues("top_by_degree").Observe(time.Since(start).Seconds()) }()

	q, err := e.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+metricsColumns+` FROM node_metrics ORDER BY total_degree DESC LIMIT ?`, n)
	if err != nil {
		return nil, conn.WrapErr("top by degree", err)
	}
	defer rows.Close()

	out := make([]graph.NodeMetrics, 0, min(n, topPrealloc))
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, conn.WrapErr("top by degree", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, conn.WrapErr("top by degree", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetrics(row scanner) (graph.NodeMetrics, error) {
	var m graph.NodeMetrics
	err := row.Scan(&m.NodeID, &m.InDegree, &m.OutDegree, &m.TotalDegree, &m.IsLeaf, &m.IsRoot)
	return m, err
}
