package graphstore

import (
	"context"

	"resgraph/internal/engine/graph"
)

// InsertNode writes n, replacing every field of an existing node with the
// same id. Metrics are not rebuilt.
func (e *Engine) InsertNode(ctx context.Context, n Node) error {
	return e.repo.InsertNode(ctx, n)
}

// InsertNodesBatch upserts nodes with periodic commit-and-yield and
// rebuilds metrics at the end. It returns the number of rows written.
func (e *Engine) InsertNodesBatch(ctx context.Context, nodes []Node) (int, error) {
	return e.repo.InsertNodesBatch(ctx, nodes)
}

// InsertEdge writes e. A duplicate triple is a no-op; a missing endpoint
// fails with an integrity error.
func (e *Engine) InsertEdge(ctx context.Context, edge Edge) error {
	return e.repo.InsertEdge(ctx, edge)
}

// InsertEdgesBatch writes edges, skipping duplicates and dangling ones,
// and returns how many new edges landed.
func (e *Engine) InsertEdgesBatch(ctx context.Context, edges []Edge) (int, error) {
	return e.repo.InsertEdgesBatch(ctx, edges)
}

// GetNode returns a copy of the node, or nil when it does not exist.
func (e *Engine) GetNode(ctx context.Context, id string) (*Node, error) {
	return e.repo.GetNode(ctx, id)
}

func (e *Engine) GetNodesByType(ctx context.Context, typ string) ([]Node, error) {
	return e.repo.GetNodesByType(ctx, typ)
}

func (e *Engine) NodesByCategory(ctx context.Context, c Category) ([]Node, error) {
	return e.repo.NodesByCategory(ctx, c)
}

func (e *Engine) EdgesFrom(ctx context.Context, id string) ([]Edge, error) {
	return e.repo.EdgesFrom(ctx, id)
}

func (e *Engine) EdgesTo(ctx context.Context, id string) ([]Edge, error) {
	return e.repo.EdgesTo(ctx, id)
}

func (e *Engine) NodeCount(ctx context.Context) (int, error) {
	return e.repo.NodeCount(ctx)
}

func (e *Engine) EdgeCount(ctx context.Context) (int, error) {
	return e.repo.EdgeCount(ctx)
}

// ForEachNode visits every node in chunks. fn may call back into the
// engine.
func (e *Engine) ForEachNode(ctx context.Context, fn func(Node) error) error {
	return e.repo.ForEachNode(ctx, fn)
}

func (e *Engine) ForEachEdge(ctx context.Context, fn func(Edge) error) error {
	return e.repo.ForEachEdge(ctx, fn)
}

// ToProjection exports every node and edge into sink once, over a single
// pinned reader. The sink is not kept in sync with later writes.
func (e *Engine) ToProjection(ctx context.Context, sink ProjectionSink) error {
	ctx, release, err := e.conn.WithReader(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.repo.ToProjection(ctx, sink)
}

// Projection is ToProjection into a fresh in-memory graph.
func (e *Engine) Projection(ctx context.Context) (*Projection, error) {
	p := graph.NewProjection()
	if err := e.ToProjection(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) SetMetadata(ctx context.Context, key, value string) error {
	return e.repo.SetMetadata(ctx, key, value)
}

// Metadata returns the value stored under key and whether it exists.
func (e *Engine) Metadata(ctx context.Context, key string) (string, bool, error) {
	return e.repo.Metadata(ctx, key)
}

func (e *Engine) AllMetadata(ctx context.Context) (map[string]string, error) {
	return e.repo.AllMetadata(ctx)
}

// RebuildMetrics recomputes the degree table now, even when post-batch
// rebuilds are disabled.
func (e *Engine) RebuildMetrics(ctx context.Context) error {
	return e.metrics.Rebuild(ctx)
}

// Degree reports the in/out degree of id as of the last rebuild, falling
// back to live counts for nodes without a materialized row.
func (e *Engine) Degree(ctx context.Context, id string) (Degree, error) {
	return e.metrics.Degree(ctx, id)
}

// Metrics returns the materialized row for id, or nil.
func (e *Engine) Metrics(ctx context.Context, id string) (*NodeMetrics, error) {
	return e.metrics.Metrics(ctx, id)
}

func (e *Engine) TopByDegree(ctx context.Context, n int) ([]NodeMetrics, error) {
	return e.metrics.TopByDegree(ctx, n)
}

// Search ranks nodes by full-text relevance blended with degree. Invalid
// query syntax degrades to substring matching instead of failing.
func (e *Engine) Search(ctx context.Context, q string, limit int) ([]SearchResult, error) {
	return e.query.Search(ctx, q, limit)
}

func (e *Engine) Neighbors(ctx context.Context, id string, dir Direction) ([]Node, error) {
	return e.query.Neighbors(ctx, id, dir)
}

// FindPath returns a fewest-hops path from source to target, or nil.
// maxDepth <= 0 means 10; paths never exceed 20 nodes.
func (e *Engine) FindPath(ctx context.Context, source, target string, maxDepth int) ([]string, error) {
	return e.query.FindPath(ctx, source, target, maxDepth)
}

func (e *Engine) FindNodes(ctx context.Context, f Filter) ([]Node, error) {
	return e.query.FindNodes(ctx, f)
}
