package conn

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the read surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type readerKey struct {
	m *Manager
}

// AcquireReader checks out a dedicated read-only connection. The caller
// must invoke release exactly once.
func (m *Manager) AcquireReader(ctx context.Context) (*sql.Conn, func(), error) {
	if err := m.checkOpen(); err != nil {
		return nil, nil, err
	}
	c, err := m.readers.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire reader: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

// WithReader pins one reader connection into the returned context. Reads
// issued through Reader with that context reuse it, so a goroutine can
// run several queries against the same handle. Contexts are keyed per
// Manager, so pinned readers never leak between engine instances.
func (m *Manager) WithReader(ctx context.Context) (context.Context, func(), error) {
	if _, ok := ctx.Value(readerKey{m}).(*sql.Conn); ok {
		return ctx, func() {}, nil
	}
	c, release, err := m.AcquireReader(ctx)
	if err != nil {
		return nil, nil, err
	}
	return context.WithValue(ctx, readerKey{m}, c), release, nil
}

// Reader returns the connection pinned into ctx by WithReader, or the
// pooled reader otherwise. Pooled reads check a connection out for the
// lifetime of a single statement.
func (m *Manager) Reader(ctx context.Context) (Querier, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if c, ok := ctx.Value(readerKey{m}).(*sql.Conn); ok {
		return c, nil
	}
	return m.readers, nil
}
