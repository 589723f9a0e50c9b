package query

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
	"resgraph/internal/engine/graph"
	"resgraph/internal/engine/repository"
	"resgraph/internal/shared/observability"
)

const DefaultSearchLimit = 20

// Text relevance dominates; degree only separates similar matches.
// bm25 is negative with better matches lower, hence the negative factor.
const ftsSearchSQL = `SELECT f.relevance * -10 + COALESCE(m.total_degree, 0) * 0.1 AS score, ` + repository.NodeColumns + `
FROM (SELECT rowid AS rid, bm25(nodes_fts) AS relevance FROM nodes_fts WHERE nodes_fts MATCH ?) f
JOIN nodes ON nodes.rowid = f.rid
LEFT JOIN node_metrics m ON m.node_id = nodes.id
ORDER BY score DESC, nodes.rowid
LIMIT ?`

const substringSearchSQL = `SELECT COALESCE(m.total_degree, 0) * 0.1 AS score, ` + repository.NodeColumns + `
FROM nodes
LEFT JOIN node_metrics m ON m.node_id = nodes.id
WHERE nodes.id LIKE ? ESCAPE '\' OR nodes.name LIKE ? ESCAPE '\'
ORDER BY score DESC, nodes.rowid
LIMIT ?`

// Search ranks nodes whose id, type or name match query. Invalid
// full-text syntax never surfaces as an error: the search degrades to a
// substring match over id and name with the same limit.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]graph.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []graph.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	key := searchKey{query: query, limit: limit}
	var gen uint64
	if e.cache != nil {
		gen = e.generation()
		if hit, ok := e.cache.get(gen, key); ok {
			observability.SearchCacheHitsTotal.Inc()
			return cloneResults(hit), nil
		}
	}

	ctx, span := observability.Tracer.Start(ctx, "query.Search")
	defer span.End()
	defer observe("search", time.Now())

	results, err := e.ftsSearch(ctx, query, limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if gerrors.CodeOf(err) != "" || conn.IsBusy(err) {
			return nil, conn.WrapErr("search", err)
		}
		observability.SearchFallbacksTotal.Inc()
		e.logger.Debug("full-text search failed, using substring match", "query", query, "error", err)
		span.SetAttributes(attribute.Bool("fallback", true))
		results, err = e.substringSearch(ctx, query, limit)
		if err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.Int("results", len(results)))

	if e.cache != nil {
		e.cache.put(gen, key, cloneResults(results))
	}
	return results, nil
}

func (e *Engine) ftsSearch(ctx context.Context, query string, limit int) ([]graph.SearchResult, error) {
	q, err := e.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, ftsSearchSQL, query, limit)
	if err != nil {
		return nil, err
	}
	return collectResults(rows, false)
}

func (e *Engine) substringSearch(ctx context.Context, query string, limit int) ([]graph.SearchResult, error) {
	q, err := e.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := q.QueryContext(ctx, substringSearchSQL, pattern, pattern, limit)
	if err != nil {
		return nil, conn.WrapErr("substring search", err)
	}
	results, err := collectResults(rows, true)
	if err != nil {
		return nil, conn.WrapErr("substring search", err)
	}
	return results, nil
}

func collectResults(rows *sql.Rows, fallback bool) ([]graph.SearchResult, error) {
	defer rows.Close()
	results := make([]graph.SearchResult, 0)
	for rows.Next() {
		var score float64
		n, err := repository.ScanNode(scored{rows, &score})
		if err != nil {
			return nil, err
		}
		results = append(results, graph.SearchResult{Node: n, Score: score, Fallback: fallback})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// scored reads a leading score column ahead of the node columns.
type scored struct {
	row   repository.RowScanner
	score *float64
}

func (s scored) Scan(dest ...any) error {
	return s.row.Scan(append([]any{s.score}, dest...)...)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
