package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
)

// SetMetadata stores a session-level key/value pair, replacing any
// previous value.
func (r *Repository) SetMetadata(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return gerrors.New(gerrors.CodeValidationError, "metadata key must not be empty")
	}
	err := r.conn.WithWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO metadata(key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
	if err != nil {
		return r.writeErr("set metadata", err)
	}
	r.bump()
	return nil
}

// Metadata returns the value for key and whether it was present.
func (r *Repository) Metadata(ctx context.Context, key string) (string, bool, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return "", false, err
	}
	var value string
	err = q.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, conn.WrapErr(fmt.Sprintf("get metadata %q", key), err)
	}
	return value, true, nil
}

func (r *Repository) AllMetadata(ctx context.Context) (map[string]string, error) {
	q, err := r.conn.Reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, conn.WrapErr("list metadata", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, conn.WrapErr("scan metadata", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
