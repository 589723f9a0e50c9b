package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
	"resgraph/internal/engine/graph"
	"resgraph/internal/shared/observability"
)

const EdgeColumns = `source_id, target_id, relation, attributes, weight`

// Duplicate triples are ignored; OR IGNORE does not cover foreign keys,
// so missing endpoints still fail.
const insertEdgeSQL = `INSERT OR IGNORE INTO edges(source_id, target_id, relation, attributes, weight)
VALUES (?, ?, ?, ?, ?)`

func ScanEdge(row RowScanner) (graph.Edge, error) {
	var (
		e     graph.Edge
		attrs string
	)
	if err := row.Scan(&e.SourceID, &e.TargetID, &e.Relation, &attrs, &e.Weight); err != nil {
		return graph.Edge{}, err
	}
	decoded, err := graph.DecodeAttributes(attrs)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("edge %s: %w", e.Key(), err)
	}
	e.Attributes = decoded
	return e, nil
}

func CollectEdges(rows *sql.Rows) ([]graph.Edge, error) {
	defer rows.Close()
	edges := make([]graph.Edge, 0)
	for rows.Next() {
		e, err := ScanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

type edgeRow struct {
	source, target, relation string
	attrs                    string
	weight                   float64
}

func prepareEdge(e graph.Edge) (edgeRow, error) {
	row := edgeRow{
		source:   e.SourceID,
		target:   e.TargetID,
		relation: e.Relation,
		weight:   e.EffectiveWeight(),
	}
	if isBlank(row.source) || isBlank(row.target) || isBlank(row.relation) {
		return edgeRow{}, gerrors.AddContext(
			gerrors.New(gerrors.CodeValidationError, "edge source, target and relation must not be blank"),
			gerrors.CtxEdge, e.Key().String())
	}
	attrs, err := graph.EncodeAttributes(e.Attributes)
	if err != nil {
		return edgeRow{}, gerrors.AddContext(
			gerrors.Wrap(err, gerrors.CodeValidationError, "invalid edge attributes"),
			gerrors.CtxEdge, e.Key().String())
	}
	row.attrs = attrs
	return row, nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

// InsertEdge writes one edge. A duplicate triple is a silent no-op; a
// missing endpoint fails with INTEGRITY.
func (r *Repository) InsertEdge(ctx context.Context, e graph.Edge) error {
	row, err := prepareEdge(e)
	if err != nil {
		return err
	}
	var affected int64
	err = r.conn.WithWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertEdgeSQL, row.source, row.target, row.relation, row.attrs, row.weight)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		if conn.ClassifyConstraint(err) == conn.ForeignKeyViolation {
			return gerrors.AddContext(
				gerrors.Wrap(err, gerrors.CodeIntegrity, "edge endpoint does not exist"),
				gerrors.CtxEdge, e.Key().String())
		}
		return r.writeErr("insert edge", err)
	}
	if affected > 0 {
		r.bump()
	}
	return nil
}

// InsertEdgesBatch writes edges, skipping duplicates, invalid rows and
// rows whose endpoints do not exist. It returns the number of new edges
// and rebuilds metrics when done.
func (r *Repository) InsertEdgesBatch(ctx context.Context, edges []graph.Edge) (int, error) {
	ctx, span := observability.Tracer.Start(ctx, "repository.InsertEdgesBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(edges)))

	return r.runBatch(ctx, "edge", len(edges), func(ctx context.Context, b *batchRun, i int) error {
		row, err := prepareEdge(edges[i])
		if err != nil {
			b.skip()
			r.logger.Debug("skipping edge", "index", i, "error", err)
			return nil
		}
		st, err := b.stmt(ctx, insertEdgeSQL)
		if err != nil {
			return err
		}
		res, err := st.ExecContext(ctx, row.source, row.target, row.relation, row.attrs, row.weight)
		if err != nil {
			if conn.ClassifyConstraint(err) == conn.ForeignKeyViolation {
				b.skip()
				return nil
			}
			return fmt.Errorf("insert edge %s: %w", edges[i].Key(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			b.wrote()
		} else {
			b.skip()
		}
		return nil
	})
}

func (r *Repository) EdgesFrom(ctx context.Context, id string) ([]graph.Edge, error) {
	return r.queryEdges(ctx, "edges from", `SELECT `+EdgeColumns+` FROM edges WHERE source_id = ? ORDER BY target_id, relation`, id)
}

func (r *Repository) EdgesTo(ctx context.Context, id string) ([]graph.Edge, error) {
	return r.queryEdges(ctx, "edges to", `SELECT `+EdgeColumns+` FROM edges WHERE target_id = ? ORDER BY source_id, relation`, id)
}

func (r *Repository) queryEdges(ctx context.Context, op, query string, args ...any) ([]graph.Edge, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, conn.WrapErr(op, err)
	}
	edges, err := CollectEdges(rows)
	if err != nil {
		return nil, conn.WrapErr(op, err)
	}
	return edges, nil
}

func (r *Repository) EdgeCount(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM edges`)
}
