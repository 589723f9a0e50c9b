package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
	"resgraph/internal/engine/graph"
	"resgraph/internal/shared/observability"
)

// NodeColumns is the select list understood by ScanNode.
const NodeColumns = `id, type, name, region, account_id, category, attributes`

const (
	upsertNodeSQL = `INSERT INTO nodes(id, type, name, region, account_id, category, attributes)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  type = excluded.type,
  name = excluded.name,
  region = excluded.region,
  account_id = excluded.account_id,
  category = excluded.category,
  attributes = excluded.attributes`

	insertNodeSQL = `INSERT INTO nodes(id, type, name, region, account_id, category, attributes)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	updateNodeSQL = `UPDATE nodes SET
  type = ?, name = ?, region = ?, account_id = ?, category = ?, attributes = ?
WHERE id = ?`
)

type RowScanner interface {
	Scan(dest ...any) error
}

// ScanNode reads one row selected with NodeColumns.
func ScanNode(row RowScanner) (graph.Node, error) {
	var (
		n        graph.Node
		category string
		attrs    string
	)
	if err := row.Scan(&n.ID, &n.Type, &n.Name, &n.Region, &n.AccountID, &category, &attrs); err != nil {
		return graph.Node{}, err
	}
	decoded, err := graph.DecodeAttributes(attrs)
	if err != nil {
		return graph.Node{}, fmt.Errorf("node %q: %w", n.ID, err)
	}
	n.Attributes = decoded
	return n.WithCategory(graph.Category(category)), nil
}

// CollectNodes drains rows selected with NodeColumns.
func CollectNodes(rows *sql.Rows) ([]graph.Node, error) {
	defer rows.Close()
	nodes := make([]graph.Node, 0)
	for rows.Next() {
		n, err := ScanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

type nodeRow struct {
	id, typ, name, region, account string
	category                       graph.Category
	attrs                          string
}

func prepareNode(n graph.Node) (nodeRow, error) {
	id := n.ID
	if strings.TrimSpace(id) == "" {
		return nodeRow{}, gerrors.New(gerrors.CodeValidationError, "node id must not be blank")
	}
	attrs, err := graph.EncodeAttributes(n.Attributes)
	if err != nil {
		return nodeRow{}, gerrors.AddContext(
			gerrors.Wrap(err, gerrors.CodeValidationError, "invalid node attributes"),
			gerrors.CtxNodeID, id)
	}
	return nodeRow{
		id:       id,
		typ:      n.Type,
		name:     n.Name,
		region:   n.Region,
		account:  n.AccountID,
		category: graph.ClassifyType(n.Type),
		attrs:    attrs,
	}, nil
}

// InsertNode writes one node, replacing every field of an existing node
// with the same id. Edges of a replaced node are kept.
func (r *Repository) InsertNode(ctx context.Context, n graph.Node) error {
	row, err := prepareNode(n)
	if err != nil {
		return err
	}
	err = r.conn.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, upsertNodeSQL,
			row.id, row.typ, row.name, row.region, row.account, string(row.category), row.attrs)
		return err
	})
	if err != nil {
		return r.writeErr("insert node", err)
	}
	r.bump()
	return nil
}

// InsertNodesBatch upserts nodes insert-first, falling back to an update
// by id on a uniqueness violation. Invalid rows are skipped. It returns
// the number of rows written and rebuilds metrics when done.
func (r *Repository) InsertNodesBatch(ctx context.Context, nodes []graph.Node) (int, error) {
	ctx, span := observability.Tracer.Start(ctx, "repository.InsertNodesBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(nodes)))

	return r.runBatch(ctx, "node", len(nodes), func(ctx context.Context, b *batchRun, i int) error {
		row, err := prepareNode(nodes[i])
		if err != nil {
			b.skip()
			r.logger.Debug("skipping node", "index", i, "error", err)
			return nil
		}

		insert, err := b.stmt(ctx, insertNodeSQL)
		if err != nil {
			return err
		}
		_, err = insert.ExecContext(ctx, row.id, row.typ, row.name, row.region, row.account, string(row.category), row.attrs)
		if err == nil {
			b.wrote()
			return nil
		}
		if conn.ClassifyConstraint(err) != conn.UniqueViolation {
			return fmt.Errorf("insert node %q: %w", row.id, err)
		}

		update, err := b.stmt(ctx, updateNodeSQL)
		if err != nil {
			return err
		}
		if _, err := update.ExecContext(ctx, row.typ, row.name, row.region, row.account, string(row.category), row.attrs, row.id); err != nil {
			return fmt.Errorf("update node %q: %w", row.id, err)
		}
		b.wrote()
		return nil
	})
}

// GetNode returns the node with id, or nil when it does not exist.
func (r *Repository) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	n, err := ScanNode(q.QueryRowContext(ctx, `SELECT `+NodeColumns+` FROM nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, conn.WrapErr(fmt.Sprintf("get node %q", id), err)
	}
	return &n, nil
}

func (r *Repository) GetNodesByType(ctx context.Context, typ string) ([]graph.Node, error) {
	return r.queryNodes(ctx, "nodes by type", `SELECT `+NodeColumns+` FROM nodes WHERE type = ? ORDER BY id`, typ)
}

func (r *Repository) NodesByCategory(ctx context.Context, c graph.Category) ([]graph.Node, error) {
	return r.queryNodes(ctx, "nodes by category", `SELECT `+NodeColumns+` FROM nodes WHERE category = ? ORDER BY id`, string(c))
}

func (r *Repository) queryNodes(ctx context.Context, op, query string, args ...any) ([]graph.Node, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, conn.WrapErr(op, err)
	}
	nodes, err := CollectNodes(rows)
	if err != nil {
		return nil, conn.WrapErr(op, err)
	}
	return nodes, nil
}

func (r *Repository) NodeCount(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM nodes`)
}

func (r *Repository) count(ctx context.Context, query string) (int, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, conn.WrapErr("count", err)
	}
	return n, nil
}
