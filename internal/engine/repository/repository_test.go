package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
	"resgraph/internal/data/schema"
	"resgraph/internal/engine/graph"
	"resgraph/internal/shared/observability"
)

func newTestRepo(t *testing.T, cfg Config) *Repository {
	t.Helper()
	m, err := conn.Open(context.Background(), conn.Options{YieldPause: -1})
	if err != nil {
		t.Fatalf("open manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	if err := schema.Migrate(context.Background(), m.DB(), nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(m, cfg, nil)
}

func node(id, typ string) graph.Node {
	return graph.Node{ID: id, Type: typ, Name: id}
}

func edge(src, dst, rel string) graph.Edge {
	return graph.Edge{SourceID: src, TargetID: dst, Relation: rel}
}

func TestInsertNodeUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})

	first := node("db-1", "aws_db_instance")
	first.Attributes = graph.Attributes{"engine": graph.StringValue("mysql")}
	require.NoError(t, r.InsertNode(ctx, first))

	second := node("db-1", "aws_db_instance")
	second.Region = "eu-west-1"
	second.Attributes = graph.Attributes{"engine": graph.StringValue("postgres"), "port": graph.NumberValue(5432)}
	require.NoError(t, r.InsertNode(ctx, second))

	count, err := r.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := r.GetNode(ctx, "db-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "eu-west-1", got.Region)
	assert.Equal(t, second.Attributes, got.Attributes)
	assert.Equal(t, graph.CategoryDatabase, got.Category())
}

func TestInsertNodeKeepsEdgesOnReplace(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	require.NoError(t, r.InsertNode(ctx, node("a", "vpc")))
	require.NoError(t, r.InsertNode(ctx, node("b", "subnet")))
	require.NoError(t, r.InsertEdge(ctx, edge("b", "a", "in")))

	require.NoError(t, r.InsertNode(ctx, node("a", "aws_vpc")))

	edges, err := r.EdgeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, edges)
}

func TestInsertNodeRejectsEmptyID(t *testing.T) {
	r := newTestRepo(t, Config{})
	err := r.InsertNode(context.Background(), graph.Node{Type: "vpc"})
	assert.True(t, gerrors.IsCode(err, gerrors.CodeValidationError), "got %v", err)
}

func TestNodeIDsAreStoredVerbatim(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	require.NoError(t, r.InsertNode(ctx, node(" A ", "vpc")))
	require.NoError(t, r.InsertNode(ctx, node("A", "subnet")))

	count, err := r.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	padded, err := r.GetNode(ctx, " A ")
	require.NoError(t, err)
	require.NotNil(t, padded)
	assert.Equal(t, " A ", padded.ID)
	assert.Equal(t, "vpc", padded.Type)

	require.NoError(t, r.InsertEdge(ctx, edge(" A ", "A", " in ")))
	out, err := r.EdgesFrom(ctx, " A ")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].TargetID)
	assert.Equal(t, " in ", out[0].Relation)

	for _, id := range []string{"", " ", "\t\n"} {
		err := r.InsertNode(ctx, node(id, "vpc"))
		assert.True(t, gerrors.IsCode(err, gerrors.CodeValidationError), "id %q: got %v", id, err)
	}
	err = r.InsertEdge(ctx, edge("A", " A ", "  "))
	assert.True(t, gerrors.IsCode(err, gerrors.CodeValidationError), "got %v", err)
}

func TestStoredCategorySurvivesRead(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	require.NoError(t, r.InsertNode(ctx, node("db-1", "aws_db_instance")))

	// Rows written before a classifier change keep the category they were stored with.
	err := r.conn.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE nodes SET category = ? WHERE id = ?`, string(graph.CategoryNetwork), "db-1")
		return err
	})
	require.NoError(t, err)

	got, err := r.GetNode(ctx, "db-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, graph.CategoryNetwork, got.Category())

	byCategory, err := r.NodesByCategory(ctx, graph.CategoryNetwork)
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, graph.CategoryNetwork, byCategory[0].Category())
}

func TestGetNodeMissing(t *testing.T) {
	r := newTestRepo(t, Config{})
	got, err := r.GetNode(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEdgeUniqueness(t *testing.T) {
	ctx := context.Background()
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			r := newTestRepo(t, Config{})
			require.NoError(t, r.InsertNode(ctx, node("a", "vpc")))
			require.NoError(t, r.InsertNode(ctx, node("b", "subnet")))

			for i := 0; i < n; i++ {
				require.NoError(t, r.InsertEdge(ctx, edge("b", "a", "in")))
			}
			batch := make([]graph.Edge, n)
			for i := range batch {
				batch[i] = edge("b", "a", "in")
			}
			written, err := r.InsertEdgesBatch(ctx, batch)
			require.NoError(t, err)
			assert.Equal(t, 0, written)

			count, err := r.EdgeCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestInsertEdgeMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	require.NoError(t, r.InsertNode(ctx, node("a", "vpc")))

	err := r.InsertEdge(ctx, edge("a", "ghost", "routes_to"))
	require.Error(t, err)
	assert.True(t, gerrors.IsCode(err, gerrors.CodeIntegrity), "got %v", err)
}

func TestInsertEdgesBatchCountsOnlyWritten(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	_, err := r.InsertNodesBatch(ctx, []graph.Node{node("a", "vpc"), node("b", "subnet"), node("c", "db_instance")})
	require.NoError(t, err)

	written, err := r.InsertEdgesBatch(ctx, []graph.Edge{
		edge("b", "a", "in"),
		edge("c", "a", "in"),
		edge("b", "a", "in"),     // duplicate
		edge("ghost", "a", "in"), // dangling source
		edge("c", "a", ""),       // invalid
		{SourceID: "c", TargetID: "b", Relation: "routes_to", Weight: 2.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	out, err := r.EdgesFrom(ctx, "c")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].TargetID)
	assert.Equal(t, 1.0, out[0].Weight)
	assert.Equal(t, 2.5, out[1].Weight)

	in, err := r.EdgesTo(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, in, 2)
}

func TestInsertNodesBatchUpserts(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	require.NoError(t, r.InsertNode(ctx, node("a", "vpc")))

	updated := node("a", "aws_vpc")
	updated.Name = "main"
	written, err := r.InsertNodesBatch(ctx, []graph.Node{updated, node("b", "subnet"), {ID: " "}, node("b", "aws_subnet")})
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	got, err := r.GetNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "main", got.Name)
	assert.Equal(t, "aws_vpc", got.Type)

	got, err = r.GetNode(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "aws_subnet", got.Type)

	count, err := r.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.RowsSkipped)
}

func TestBatchBackpressureCommitsPeriodically(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{BatchThreshold: 5000})

	nodes := make([]graph.Node, 6000)
	for i := range nodes {
		nodes[i] = node(fmt.Sprintf("i-%05d", i), "aws_instance")
	}

	before := testutil.ToFloat64(observability.BatchCommitsTotal.WithLabelValues("node"))
	written, err := r.InsertNodesBatch(ctx, nodes)
	require.NoError(t, err)
	assert.Equal(t, 6000, written)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.BatchCommits, int64(2))
	assert.Equal(t, 6000, stats.Nodes)
	assert.GreaterOrEqual(t, testutil.ToFloat64(observability.BatchCommitsTotal.WithLabelValues("node"))-before, 2.0)
}

type recordingHook struct {
	calls int
	err   error
}

func (h *recordingHook) AfterBatch(context.Context, *conn.WriteSession) error {
	h.calls++
	return h.err
}

func TestBatchHookRunsAfterEachBatch(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	hook := &recordingHook{}
	r.SetBatchHook(hook)

	_, err := r.InsertNodesBatch(ctx, []graph.Node{node("a", "vpc"), node("b", "subnet")})
	require.NoError(t, err)
	_, err = r.InsertEdgesBatch(ctx, []graph.Edge{edge("b", "a", "in")})
	require.NoError(t, err)
	require.NoError(t, r.InsertNode(ctx, node("c", "vpc")))
	_, err = r.InsertNodesBatch(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, hook.calls)

	hook.err = errors.New("rebuild failed")
	written, err := r.InsertNodesBatch(ctx, []graph.Node{node("d", "vpc")})
	assert.ErrorIs(t, err, hook.err)
	assert.Equal(t, 1, written, "rows committed before the hook stay written")
}

func TestClearWipesAllTables(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	_, err := r.InsertNodesBatch(ctx, []graph.Node{node("a", "vpc"), node("b", "subnet")})
	require.NoError(t, err)
	require.NoError(t, r.InsertEdge(ctx, edge("b", "a", "in")))
	require.NoError(t, r.SetMetadata(ctx, "scan_id", "s-1"))

	gen := r.Generation()
	require.NoError(t, r.Clear(ctx))
	assert.Greater(t, r.Generation(), gen)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Nodes)
	assert.Zero(t, stats.Edges)
	assert.Zero(t, stats.MetadataKeys)
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})

	_, ok, err := r.Metadata(ctx, "scan_id")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetMetadata(ctx, "scan_id", "s-1"))
	require.NoError(t, r.SetMetadata(ctx, "scan_id", "s-2"))
	require.NoError(t, r.SetMetadata(ctx, "profile", "prod"))

	v, ok, err := r.Metadata(ctx, "scan_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s-2", v)

	all, err := r.AllMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"scan_id": "s-2", "profile": "prod"}, all)

	assert.True(t, gerrors.IsCode(r.SetMetadata(ctx, "", "x"), gerrors.CodeValidationError))
}

func TestForEachPagesThroughEverything(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{IterChunkSize: 3})

	nodes := make([]graph.Node, 10)
	edges := make([]graph.Edge, 0, 9)
	for i := range nodes {
		nodes[i] = node(fmt.Sprintf("n%02d", i), "vpc")
		if i > 0 {
			edges = append(edges, edge(nodes[i].ID, nodes[0].ID, "peers"))
		}
	}
	_, err := r.InsertNodesBatch(ctx, nodes)
	require.NoError(t, err)
	_, err = r.InsertEdgesBatch(ctx, edges)
	require.NoError(t, err)

	var seen []string
	err = r.ForEachNode(ctx, func(n graph.Node) error {
		seen = append(seen, n.ID)
		// Callbacks may read from the store mid-walk.
		_, err := r.GetNode(ctx, n.ID)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, seen, 10)

	edgeCount := 0
	require.NoError(t, r.ForEachEdge(ctx, func(graph.Edge) error {
		edgeCount++
		return nil
	}))
	assert.Equal(t, 9, edgeCount)

	stop := errors.New("stop")
	visited := 0
	err = r.ForEachNode(ctx, func(graph.Node) error {
		visited++
		if visited == 4 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 4, visited)
}

func TestToProjection(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	_, err := r.InsertNodesBatch(ctx, []graph.Node{node("a", "vpc"), node("b", "subnet"), node("c", "db_instance")})
	require.NoError(t, err)
	_, err = r.InsertEdgesBatch(ctx, []graph.Edge{edge("b", "a", "in"), edge("c", "a", "in")})
	require.NoError(t, err)

	p := graph.NewProjection()
	require.NoError(t, r.ToProjection(ctx, p))
	assert.Equal(t, 3, p.NodeCount())
	assert.Equal(t, 2, p.EdgeCount())
	assert.Equal(t, []string{"b", "c"}, p.Predecessors("a"))

	// One-shot export: later writes do not reach the projection.
	require.NoError(t, r.InsertNode(ctx, node("d", "vpc")))
	assert.Equal(t, 3, p.NodeCount())
}

func TestNodesByTypeAndCategory(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t, Config{})
	_, err := r.InsertNodesBatch(ctx, []graph.Node{
		node("db-1", "aws_db_instance"),
		node("db-2", "aws_db_instance"),
		node("i-1", "aws_instance"),
	})
	require.NoError(t, err)

	byType, err := r.GetNodesByType(ctx, "aws_db_instance")
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	compute, err := r.NodesByCategory(ctx, graph.CategoryCompute)
	require.NoError(t, err)
	require.Len(t, compute, 1)
	assert.Equal(t, "i-1", compute[0].ID)
}

func TestClosedRepositoryFails(t *testing.T) {
	m, err := conn.Open(context.Background(), conn.Options{})
	require.NoError(t, err)
	require.NoError(t, schema.Migrate(context.Background(), m.DB(), nil))
	r := New(m, Config{}, nil)
	require.NoError(t, m.Close())

	_, err = r.NodeCount(context.Background())
	assert.True(t, gerrors.IsCode(err, gerrors.CodeClosed), "got %v", err)
	err = r.InsertNode(context.Background(), node("a", "vpc"))
	assert.True(t, gerrors.IsCode(err, gerrors.CodeClosed), "got %v", err)
}
