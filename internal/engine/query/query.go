// Package query implements read-side graph queries: ranked full-text
// search, neighbor lookup, bounded shortest path and filtered node scans.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"resgraph/internal/core/config"
	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
	"resgraph/internal/engine/graph"
	"resgraph/internal/engine/repository"
	"resgraph/internal/shared/observability"
)

type Config struct {
	// CacheSize bounds the search result cache. Zero selects the default;
	// negative disables caching.
	CacheSize int
	// Generation reports the store's write generation. Cached results
	// from an older generation are discarded. Nil disables caching.
	Generation func() uint64
}

type Engine struct {
	conn       *conn.Manager
	logger     *slog.Logger
	generation func() uint64
	cache      *searchCache
}

func New(m *conn.Manager, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{conn: m, logger: logger, generation: cfg.Generation}
	size := cfg.CacheSize
	if size == 0 {
		size = config.DefaultSearchCacheSize
	}
	if size > 0 && cfg.Generation != nil {
		e.cache = newSearchCache(size)
	}
	return e
}

func observe(query string, start time.Time) {
	observability.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// Neighbors returns the nodes adjacent to id in the given direction,
// ordered by id. Both is the de-duplicated union of the other two.
func (e *Engine) Neighbors(ctx context.Context, id string, dir graph.Direction) ([]graph.Node, error) {
	defer observe("neighbors", time.Now())

	var inner string
	args := []any{id}
	switch dir {
	case graph.Outgoing:
		inner = `SELECT target_id FROM edges WHERE source_id = ?`
	case graph.Incoming:
		inner = `SELECT source_id FROM edges WHERE target_id = ?`
	case graph.Both:
		inner = `SELECT target_id FROM edges WHERE source_id = ? UNION SELECT source_id FROM edges WHERE target_id = ?`
		args = append(args, id)
	default:
		return nil, gerrors.Newf(gerrors.CodeValidationError, "unknown direction %d", int(dir))
	}

	q, err := e.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+repository.NodeColumns+` FROM nodes WHERE id IN (`+inner+`) ORDER BY id`, args...)
	if err != nil {
		return nil, conn.WrapErr(fmt.Sprintf("neighbors of %q", id), err)
	}
	nodes, err := repository.CollectNodes(rows)
	if err != nil {
		return nil, conn.WrapErr(fmt.Sprintf("neighbors of %q", id), err)
	}
	return nodes, nil
}

// FindNodes returns nodes matching f in id order. Exact labels and a
// literal type are pushed into SQL; glob patterns are matched in Go.
func (e *Engine) FindNodes(ctx context.Context, f graph.Filter) ([]graph.Node, error) {
	defer observe("find_nodes", time.Now())

	matcher, err := f.Compile()
	if err != nil {
		return nil, gerrors.Wrap(err, gerrors.CodeValidationError, "invalid node filter")
	}

	var (
		where []string
		args  []any
	)
	if typ, ok := f.LiteralType(); ok {
		where = append(where, "type = ?")
		args = append(args, typ)
	}
	if f.Region != "" {
		where = append(where, "region = ?")
		args = append(args, f.Region)
	}
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	query := `SELECT ` + repository.NodeColumns + ` FROM nodes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	q, err := e.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, conn.WrapErr("find nodes", err)
	}
	defer rows.Close()

	out := make([]graph.Node, 0)
	for rows.Next() {
		n, err := repository.ScanNode(rows)
		if err != nil {
			return nil, conn.WrapErr("find nodes", err)
		}
		if !matcher.Match(&n) {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, conn.WrapErr("find nodes", err)
	}
	return out, nil
}
