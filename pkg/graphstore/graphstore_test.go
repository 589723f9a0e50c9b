package graphstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resgraph/internal/core/config"
	"resgraph/internal/engine/ingest"
)

func openEphemeral(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("open ephemeral engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func loadScenario(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	_, err := e.InsertNodesBatch(ctx, []Node{
		{ID: "A", Type: "vpc"},
		{ID: "B", Type: "subnet"},
		{ID: "C", Type: "db_instance", Attributes: Attributes{"engine": StringValue("postgres")}},
	})
	require.NoError(t, err)
	_, err = e.InsertEdgesBatch(ctx, []Edge{
		{SourceID: "B", TargetID: "A", Relation: "in"},
		{SourceID: "C", TargetID: "A", Relation: "in"},
	})
	require.NoError(t, err)
}

type graphState struct {
	nodes   []string
	edges   []string
	metrics map[string]NodeMetrics
}

func capture(t *testing.T, e *Engine) graphState {
	t.Helper()
	ctx := context.Background()
	st := graphState{metrics: map[string]NodeMetrics{}}
	require.NoError(t, e.ForEachNode(ctx, func(n Node) error {
		st.nodes = append(st.nodes, fmt.Sprintf("%s|%s|%v", n.ID, n.Type, n.Attributes))
		m, err := e.Metrics(ctx, n.ID)
		if err != nil {
			return err
		}
		if m != nil {
			st.metrics[n.ID] = *m
		}
		return nil
	}))
	require.NoError(t, e.ForEachEdge(ctx, func(edge Edge) error {
		st.edges = append(st.edges, edge.Key().String())
		return nil
	}))
	sort.Strings(st.nodes)
	sort.Strings(st.edges)
	return st
}

func TestEphemeralScenario(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{})
	assert.False(t, e.IsPersistent())
	assert.Equal(t, ":memory:", e.Path())

	loadScenario(t, e)

	d, err := e.Degree(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, Degree{In: 2, Out: 0}, d)

	path, err := e.FindPath(ctx, "B", "A", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, path)

	path, err = e.FindPath(ctx, "B", "C", 0)
	require.NoError(t, err)
	assert.Nil(t, path)

	c, err := e.GetNode(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, CategoryDatabase, c.Category())

	neighbors, err := e.Neighbors(ctx, "A", Incoming)
	require.NoError(t, err)
	assert.Len(t, neighbors, 2)

	p, err := e.Projection(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, p.NodeCount())
	assert.Equal(t, 2, p.EdgeCount())
}

func TestEnginesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := openEphemeral(t, Options{})
	b := openEphemeral(t, Options{})

	require.NoError(t, a.InsertNode(ctx, Node{ID: "only-in-a"}))
	n, err := b.NodeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReturnedNodesAreCopies(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{})
	loadScenario(t, e)

	c, err := e.GetNode(ctx, "C")
	require.NoError(t, err)
	c.Attributes["engine"] = StringValue("mysql")

	again, err := e.GetNode(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, StringValue("postgres"), again.Attributes["engine"])
}

func TestDurablePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "profiles", "prod")

	e, err := Open(ctx, Options{Dir: dir})
	require.NoError(t, err)
	assert.True(t, e.IsPersistent())
	assert.Equal(t, filepath.Join(dir, config.DefaultFilename), e.Path())
	loadScenario(t, e)
	require.NoError(t, e.SetMetadata(ctx, "scan_id", "s-42"))
	before := capture(t, e)
	require.NoError(t, e.Close())

	_, err = os.Stat(filepath.Join(dir, config.DefaultFilename))
	require.NoError(t, err)

	reopened, err := Open(ctx, Options{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, before, capture(t, reopened))
	v, ok, err := reopened.Metadata(ctx, "scan_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s-42", v)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()

	t.Run("ephemeral with target", func(t *testing.T) {
		e := openEphemeral(t, Options{})
		loadScenario(t, e)
		target := filepath.Join(t.TempDir(), "out", "snap.db")

		written, err := e.Snapshot(ctx, target)
		require.NoError(t, err)
		assert.Equal(t, target, written)

		loaded, err := LoadSnapshot(ctx, written, Options{})
		require.NoError(t, err)
		defer loaded.Close()
		assert.True(t, loaded.IsPersistent())
		assert.Equal(t, capture(t, e), capture(t, loaded))

		// The snapshot is independent of the source.
		require.NoError(t, e.InsertNode(ctx, Node{ID: "D", Type: "vpc"}))
		n, err := loaded.NodeCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("durable default target", func(t *testing.T) {
		dir := t.TempDir()
		e, err := Open(ctx, Options{Dir: dir})
		require.NoError(t, err)
		defer e.Close()
		loadScenario(t, e)

		written, err := e.Snapshot(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, config.DefaultSnapshotDir), filepath.Dir(written))
		assert.Regexp(t, `^graph-\d{8}T\d{6}\.\d{9}Z\.db$`, filepath.Base(written))

		loaded, err := LoadSnapshot(ctx, written, Options{})
		require.NoError(t, err)
		defer loaded.Close()
		assert.Equal(t, capture(t, e), capture(t, loaded))

		stats, err := loaded.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.SchemaVersion)
	})
}

func TestSnapshotErrors(t *testing.T) {
	ctx := context.Background()

	e := openEphemeral(t, Options{})
	_, err := e.Snapshot(ctx, "")
	assert.True(t, IsConfiguration(err), "got %v", err)

	_, err = LoadSnapshot(ctx, filepath.Join(t.TempDir(), "missing.db"), Options{})
	assert.True(t, IsNotFound(err), "got %v", err)

	durable, err := Open(ctx, Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer durable.Close()
	_, err = durable.Snapshot(ctx, durable.Path())
	assert.True(t, IsConfiguration(err), "got %v", err)
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	e, err := Open(ctx, Options{})
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.NodeCount(ctx)
	assert.True(t, IsClosed(err), "got %v", err)
	assert.True(t, IsClosed(e.InsertNode(ctx, Node{ID: "a"})))
	_, err = e.Snapshot(ctx, filepath.Join(t.TempDir(), "x.db"))
	assert.True(t, IsClosed(err), "got %v", err)
	_, err = e.Search(ctx, "a", 10)
	assert.True(t, IsClosed(err), "got %v", err)
}

func TestWriteLockTimeout(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{WriteLockTimeout: 50 * time.Millisecond, BusyTimeout: 10 * time.Millisecond})

	s, err := e.conn.AcquireWriter(ctx)
	require.NoError(t, err)

	err = e.InsertNode(ctx, Node{ID: "a"})
	assert.True(t, IsLockTimeout(err), "got %v", err)

	// Readers are not blocked by the held writer.
	_, err = e.NodeCount(ctx)
	require.NoError(t, err)

	s.Release()
	require.NoError(t, e.InsertNode(ctx, Node{ID: "a"}))
}

func TestIntegrityAndBatchCounts(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{})
	loadScenario(t, e)

	err := e.InsertEdge(ctx, Edge{SourceID: "A", TargetID: "ghost", Relation: "in"})
	assert.True(t, IsIntegrity(err), "got %v", err)

	written, err := e.InsertEdgesBatch(ctx, []Edge{
		{SourceID: "B", TargetID: "A", Relation: "in"},
		{SourceID: "A", TargetID: "ghost", Relation: "in"},
		{SourceID: "A", TargetID: "C", Relation: "peers"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	assert.True(t, IsValidation(e.InsertNode(ctx, Node{})))
}

func TestBatchBackpressure(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{BatchThreshold: 5000})

	nodes := make([]Node, 6000)
	for i := range nodes {
		nodes[i] = Node{ID: fmt.Sprintf("i-%05d", i), Type: "aws_instance"}
	}
	written, err := e.InsertNodesBatch(ctx, nodes)
	require.NoError(t, err)
	assert.Equal(t, 6000, written)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.BatchCommits, int64(2))
	assert.Equal(t, 6000, stats.Nodes)
}

func TestSearchScenario(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{})

	nodes := []Node{
		{ID: "db1", Type: "aws_db_instance", Name: "db1"},
		{ID: "db2", Type: "aws_db_instance", Name: "db2"},
	}
	var edges []Edge
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("svc-%d", i)
		nodes = append(nodes, Node{ID: id, Type: "aws_ecs_service", Name: id})
		edges = append(edges, Edge{SourceID: id, TargetID: "db1", Relation: "reads"})
	}
	edges = append(edges, Edge{SourceID: "svc-0", TargetID: "db2", Relation: "reads"})
	_, err := e.InsertNodesBatch(ctx, nodes)
	require.NoError(t, err)
	_, err = e.InsertEdgesBatch(ctx, edges)
	require.NoError(t, err)

	results, err := e.Search(ctx, "db", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "db1", results[0].Node.ID)
	assert.Equal(t, "db2", results[1].Node.ID)
}

func TestClearWipesEverything(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{})
	loadScenario(t, e)
	require.NoError(t, e.SetMetadata(ctx, "k", "v"))

	require.NoError(t, e.Clear(ctx))
	edges, err := e.EdgeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, edges)
	all, err := e.AllMetadata(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	top, err := e.TopByDegree(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestMetricsDisabled(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{DisableMetrics: true})
	loadScenario(t, e)

	m, err := e.Metrics(ctx, "A")
	require.NoError(t, err)
	assert.Nil(t, m)
	d, err := e.Degree(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, Degree{In: 2}, d)

	require.NoError(t, e.RebuildMetrics(ctx))
	m, err = e.Metrics(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.IsLeaf)
}

func TestBatchWriterThroughEngine(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{})
	w := e.NewBatchWriter(ingest.Config{BatchSize: 10, FlushInterval: time.Hour})

	for i := 0; i < 25; i++ {
		require.NoError(t, w.AddNode(ctx, Node{ID: fmt.Sprintf("n%02d", i), Type: "aws_instance"}))
	}
	for i := 1; i < 25; i++ {
		require.NoError(t, w.AddEdge(ctx, Edge{SourceID: fmt.Sprintf("n%02d", i), TargetID: "n00", Relation: "peers"}))
	}
	require.NoError(t, w.Close())

	nodes, err := e.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, nodes)
	edges, err := e.EdgeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24, edges)

	d, err := e.Degree(ctx, "n00")
	require.NoError(t, err)
	assert.Equal(t, 24, d.In)
}

func TestWatchTuning(t *testing.T) {
	ctx := context.Background()
	e := openEphemeral(t, Options{})

	path := filepath.Join(t.TempDir(), "resgraph.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0o644))

	stop, err := e.WatchTuning(ctx, path)
	require.NoError(t, err)
	defer stop()

	body := "version = 1\n\n[store]\nbatch_threshold = 123\nyield_pause = \"5ms\"\nwrite_lock_timeout = \"30s\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	assert.Eventually(t, func() bool {
		return e.Tuning().BatchThreshold == 123
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, e.Tuning().YieldPause)
	assert.Equal(t, 30*time.Second, e.Tuning().WriteLockTimeout)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Dir = "/var/lib/resgraph"
	disabled := false
	cfg.Store.MetricsEnabled = &disabled

	opts := OptionsFromConfig(cfg.Store)
	assert.Equal(t, "/var/lib/resgraph", opts.Dir)
	assert.Equal(t, config.DefaultBatchThreshold, opts.BatchThreshold)
	assert.True(t, opts.DisableMetrics)
}
