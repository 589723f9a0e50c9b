package repository

import (
	"context"

	"resgraph/internal/data/conn"
	"resgraph/internal/engine/graph"
)

// ForEachNode visits every node in storage order. Rows are fetched in
// pages of IterChunkSize and each page is released before fn runs, so fn
// may call back into the store. Returning an error from fn stops the walk.
func (r *Repository) ForEachNode(ctx context.Context, fn func(graph.Node) error) error {
	var cursor int64
	for {
		page, last, err := r.nodePage(ctx, cursor)
		if err != nil {
			return err
		}
		for _, n := range page {
			if err := fn(n); err != nil {
				return err
			}
		}
		if len(page) < r.chunkSize {
			return nil
		}
		cursor = last
	}
}

func (r *Repository) nodePage(ctx context.Context, after int64) ([]graph.Node, int64, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT rowid, `+NodeColumns+` FROM nodes WHERE rowid > ? ORDER BY rowid LIMIT ?`,
		after, r.chunkSize)
	if err != nil {
		return nil, 0, conn.WrapErr("iterate nodes", err)
	}
	defer rows.Close()

	page := make([]graph.Node, 0, r.chunkSize)
	last := after
	for rows.Next() {
		var rowid int64
		n, err := ScanNode(prefixed{rows, &rowid})
		if err != nil {
			return nil, 0, conn.WrapErr("iterate nodes", err)
		}
		page = append(page, n)
		last = rowid
	}
	if err := rows.Err(); err != nil {
		return nil, 0, conn.WrapErr("iterate nodes", err)
	}
	return page, last, nil
}

// ForEachEdge visits every edge in storage order, paged like ForEachNode.
func (r *Repository) ForEachEdge(ctx context.Context, fn func(graph.Edge) error) error {
	var cursor int64
	for {
		page, last, err := r.edgePage(ctx, cursor)
		if err != nil {
			return err
		}
		for _, e := range page {
			if err := fn(e); err != nil {
				return err
			}
		}
		if len(page) < r.chunkSize {
			return nil
		}
		cursor = last
	}
}

func (r *Repository) edgePage(ctx context.Context, after int64) ([]graph.Edge, int64, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT rowid, `+EdgeColumns+` FROM edges WHERE rowid > ? ORDER BY rowid LIMIT ?`,
		after, r.chunkSize)
	if err != nil {
		return nil, 0, conn.WrapErr("iterate edges", err)
	}
	defer rows.Close()

	page := make([]graph.Edge, 0, r.chunkSize)
	last := after
	for rows.Next() {
		var rowid int64
		e, err := ScanEdge(prefixed{rows, &rowid})
		if err != nil {
			return nil, 0, conn.WrapErr("iterate edges", err)
		}
		page = append(page, e)
		last = rowid
	}
	if err := rows.Err(); err != nil {
		return nil, 0, conn.WrapErr("iterate edges", err)
	}
	return page, last, nil
}

// ToProjection exports every node and then every edge into sink.
func (r *Repository) ToProjection(ctx context.Context, sink graph.Sink) error {
	if err := r.ForEachNode(ctx, func(n graph.Node) error {
		sink.AddNode(n)
		return nil
	}); err != nil {
		return err
	}
	return r.ForEachEdge(ctx, func(e graph.Edge) error {
		sink.AddEdge(e)
		return nil
	})
}

// prefixed scans a leading column into head before handing the rest to
// the wrapped scanner's destinations.
type prefixed struct {
	row  RowScanner
	head any
}

func (p prefixed) Scan(dest ...any) error {
	return p.row.Scan(append([]any{p.head}, dest...)...)
}
