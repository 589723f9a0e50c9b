package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
	"resgraph/internal/data/schema"
	"resgraph/internal/engine/graph"
	"resgraph/internal/engine/repository"
)

func openTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	ctx := context.Background()
	m, err := conn.Open(ctx, conn.Options{YieldPause: -1})
	if err != nil {
		t.Fatalf("open manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	if err := schema.Migrate(ctx, m.DB(), nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.New(m, repository.Config{}, nil)
}

func nodeCount(t *testing.T, r *repository.Repository) int {
	t.Helper()
	n, err := r.NodeCount(context.Background())
	require.NoError(t, err)
	return n
}

func TestBatchWriter_FlushByCount(t *testing.T) {
	repo := openTestRepo(t)
	w := New(repo, Config{BatchSize: 3, FlushInterval: 10 * time.Second})
	defer func() { _ = w.Close() }()

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, w.AddNode(ctx, graph.Node{ID: id, Type: "vpc"}))
	}

	assert.Eventually(t, func() bool { return nodeCount(t, repo) == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestBatchWriter_FlushByInterval(t *testing.T) {
	repo := openTestRepo(t)
	w := New(repo, Config{BatchSize: 100, FlushInterval: 50 * time.Millisecond})
	defer func() { _ = w.Close() }()

	require.NoError(t, w.AddNode(context.Background(), graph.Node{ID: "x", Type: "vpc"}))

	assert.Eventually(t, func() bool { return nodeCount(t, repo) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBatchWriter_ExplicitFlushWritesNodesFirst(t *testing.T) {
	repo := openTestRepo(t)
	w := New(repo, Config{BatchSize: 100, FlushInterval: 10 * time.Second})
	defer func() { _ = w.Close() }()

	ctx := context.Background()
	require.NoError(t, w.AddEdge(ctx, graph.Edge{SourceID: "b", TargetID: "a", Relation: "in"}))
	require.NoError(t, w.AddNode(ctx, graph.Node{ID: "a", Type: "vpc"}))
	require.NoError(t, w.AddNode(ctx, graph.Node{ID: "b", Type: "subnet"}))
	require.NoError(t, w.Flush())

	edges, err := repo.EdgeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, edges)

	totals := w.Totals()
	assert.Equal(t, 2, totals.NodesSubmitted)
	assert.Equal(t, 1, totals.EdgesSubmitted)
	assert.Equal(t, 2, totals.NodesWritten)
	assert.Equal(t, 1, totals.EdgesWritten)
	assert.Equal(t, 1, totals.Flushes)
}

func TestBatchWriter_CloseDrains(t *testing.T) {
	repo := openTestRepo(t)
	w := New(repo, Config{BatchSize: 1000, FlushInterval: 10 * time.Second})

	ctx := context.Background()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = w.AddNode(ctx, graph.Node{ID: fmt.Sprintf("p%d-%d", p, i), Type: "aws_instance"})
			}
		}(p)
	}
	wg.Wait()

	require.NoError(t, w.Close())
	assert.Equal(t, 200, nodeCount(t, repo))

	err := w.AddNode(ctx, graph.Node{ID: "late"})
	assert.True(t, gerrors.IsCode(err, gerrors.CodeClosed), "got %v", err)
	assert.NoError(t, w.Flush())
	assert.NoError(t, w.Close())
}

func TestBatchWriter_RateLimited(t *testing.T) {
	repo := openTestRepo(t)
	w := New(repo, Config{BatchSize: 100, FlushInterval: 10 * time.Second, RowsPerSecond: 10000, Burst: 5})
	defer func() { _ = w.Close() }()

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, w.AddNode(ctx, graph.Node{ID: fmt.Sprintf("n%d", i)}))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, 25, nodeCount(t, repo))
}

type failingStore struct {
	err error
}

func (s failingStore) InsertNodesBatch(context.Context, []graph.Node) (int, error) {
	return 0, s.err
}

func (s failingStore) InsertEdgesBatch(context.Context, []graph.Edge) (int, error) {
	return 0, s.err
}

func TestBatchWriter_ReportsErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("explicit flush", func(t *testing.T) {
		w := New(failingStore{err: boom}, Config{BatchSize: 100, FlushInterval: 10 * time.Second})
		defer func() { _ = w.Close() }()

		require.NoError(t, w.AddNode(context.Background(), graph.Node{ID: "a"}))
		assert.ErrorIs(t, w.Flush(), boom)
		assert.NoError(t, w.Flush(), "errors are reported once")
	})

	t.Run("background flush", func(t *testing.T) {
		w := New(failingStore{err: boom}, Config{BatchSize: 1, FlushInterval: 10 * time.Second})
		require.NoError(t, w.AddNode(context.Background(), graph.Node{ID: "a"}))
		assert.Eventually(t, func() bool { return w.Totals().Flushes == 1 }, 2*time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, w.Close(), boom)
	})
}

func TestBatchWriter_AddHonoursContext(t *testing.T) {
	w := New(failingStore{}, Config{BatchSize: 1, FlushInterval: 10 * time.Second})
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// With a cancelled context the send may still win if the buffer has
	// room; either outcome is acceptable, but it must not block.
	done := make(chan struct{})
	go func() {
		_ = w.AddNode(ctx, graph.Node{ID: "a"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AddNode blocked on a cancelled context")
	}
}
