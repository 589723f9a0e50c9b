package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
	"resgraph/internal/shared/observability"
)

const (
	DefaultMaxDepth = 10
	// MaxPathLength caps the number of nodes on any explored path,
	// whatever maxDepth asks for.
	MaxPathLength = 20
)

// pathSep joins ids inside the recursive query. Ids containing it cannot
// take part in path queries.
const pathSep = "\x1f"

// The recursive part extends every frontier path by one outgoing edge to
// a node not already on that path. Visited sets are per path, so a node
// may be reached along several branches. SQLite drains the recursive
// queue FIFO, so the first row reaching the target is a shortest path by
// hop count.
const findPathSQL = `WITH RECURSIVE walk(node, path, depth) AS (
  SELECT id, id, 0 FROM nodes WHERE id = ?1
  UNION ALL
  SELECT e.target_id, walk.path || char(31) || e.target_id, walk.depth + 1
  FROM walk
  JOIN edges e ON e.source_id = walk.node
  WHERE walk.depth < ?3
    AND walk.depth + 1 < ?4
    AND walk.node <> ?2
    AND instr(char(31) || walk.path || char(31), char(31) || e.target_id || char(31)) = 0
)
SELECT path FROM walk WHERE node = ?2 LIMIT 1`

// FindPath returns the node ids of a shortest path from source to target
// by hop count, or nil when none exists within maxDepth edges. Edge
// weights are ignored. maxDepth <= 0 selects DefaultMaxDepth.
func (e *Engine) FindPath(ctx context.Context, source, target string, maxDepth int) ([]string, error) {
	if strings.Contains(source, pathSep) || strings.Contains(target, pathSep) {
		return nil, gerrors.New(gerrors.CodeValidationError, "path endpoints must not contain control character 0x1f")
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	ctx, span := observability.Tracer.Start(ctx, "query.FindPath")
	defer span.End()
	span.SetAttributes(attribute.Int("max_depth", maxDepth))
	defer observe("find_path", time.Now())

	q, err := e.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	var joined string
	err = q.QueryRowContext(ctx, findPathSQL, source, target, maxDepth, MaxPathLength).Scan(&joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, conn.WrapErr(fmt.Sprintf("find path %s -> %s", source, target), err)
	}
	path := strings.Split(joined, pathSep)
	span.SetAttributes(attribute.Int("hops", len(path)-1))
	return path, nil
}
