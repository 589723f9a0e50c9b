package conn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/shared/observability"
)

// WriteSession is exclusive ownership of the writer handle. At most one
// session exists per Manager at any instant. Release must always be
// called; it is idempotent.
type WriteSession struct {
	m       *Manager
	tx      *sql.Tx
	held    bool
	commits int
}

// AcquireWriter blocks until the writer handle is free or the configured
// write lock timeout elapses, in which case it fails with LOCK_TIMEOUT.
// Cancelling ctx aborts the wait with ctx.Err().
func (m *Manager) AcquireWriter(ctx context.Context) (*WriteSession, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if err := m.lockWriter(ctx); err != nil {
		return nil, err
	}
	return &WriteSession{m: m, held: true}, nil
}

func (m *Manager) lockWriter(ctx context.Context) error {
	timeout := m.WriteTimeout()
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := m.writeLock.Acquire(lockCtx, 1)
	observability.WriteLockWaitSeconds.Observe(time.Since(start).Seconds())
	if err == nil {
		if m.closed.Load() {
			m.writeLock.Release(1)
			return gerrors.New(gerrors.CodeClosed, "graph store is closed")
		}
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	observability.WriteLockTimeoutsTotal.Inc()
	m.logger.Warn("write lock timeout", "path", m.Path(), "timeout", timeout)
	return gerrors.AddContext(
		gerrors.New(gerrors.CodeLockTimeout, "write lock timeout"),
		gerrors.CtxTimeout, timeout.String())
}

// WithWriter runs fn while holding the writer handle. A transaction fn
// opened through the session is committed when fn returns nil and rolled
// back otherwise.
func (m *Manager) WithWriter(ctx context.Context, fn func(*WriteSession) error) error {
	s, err := m.AcquireWriter(ctx)
	if err != nil {
		return err
	}
	defer s.Release()

	if err := fn(s); err != nil {
		return err
	}
	return s.Commit()
}

// WithWriteTx is WithWriter for the common single-transaction case.
func (m *Manager) WithWriteTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return m.WithWriter(ctx, func(s *WriteSession) error {
		tx, err := s.Tx(ctx)
		if err != nil {
			return err
		}
		return fn(tx)
	})
}

// Tx returns the session's open transaction, beginning one if needed.
func (s *WriteSession) Tx(ctx context.Context) (*sql.Tx, error) {
	if !s.held {
		return nil, fmt.Errorf("write session released")
	}
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.m.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin write tx: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// Commit commits the open transaction, if any. The writer stays held.
func (s *WriteSession) Commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write tx: %w", err)
	}
	s.commits++
	s.m.commits.Add(1)
	return nil
}

// Yield commits, hands the writer handle back for the configured pause so
// waiting readers and writers can progress, then reacquires it. Work
// committed before the yield stays committed even if reacquisition fails.
func (s *WriteSession) Yield(ctx context.Context) error {
	if err := s.Commit(); err != nil {
		return err
	}
	if s.held {
		s.held = false
		s.m.writeLock.Release(1)
	}

	if pause := s.m.YieldPause(); pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if err := s.m.lockWriter(ctx); err != nil {
		return err
	}
	s.held = true
	return nil
}

// Commits reports how many transactions this session has committed.
func (s *WriteSession) Commits() int {
	return s.commits
}

// Release rolls back any uncommitted transaction and frees the writer.
func (s *WriteSession) Release() {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	if s.held {
		s.held = false
		s.m.writeLock.Release(1)
	}
}
