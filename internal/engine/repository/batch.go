package repository

import (
	"context"
	"database/sql"
	"fmt"

	"resgraph/internal/data/conn"
	"resgraph/internal/shared/observability"
)

// batchRun drives one batch insert: it keeps prepared statements for the
// current transaction and checkpoints (commit, yield, re-begin) every
// threshold rows.
type batchRun struct {
	r         *Repository
	s         *conn.WriteSession
	kind      string
	threshold int

	tx      *sql.Tx
	stmts   map[string]*sql.Stmt
	pending int
	written int
	skipped int
	// durable is written as of the last commit.
	durable int
}

func (r *Repository) newBatchRun(s *conn.WriteSession, kind string) *batchRun {
	return &batchRun{
		r:         r,
		s:         s,
		kind:      kind,
		threshold: r.BatchThreshold(),
	}
}

func (b *batchRun) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if b.tx == nil {
		tx, err := b.s.Tx(ctx)
		if err != nil {
			return nil, err
		}
		b.tx = tx
		b.stmts = make(map[string]*sql.Stmt)
	}
	if st, ok := b.stmts[query]; ok {
		return st, nil
	}
	st, err := b.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare %s batch statement: %w", b.kind, err)
	}
	b.stmts[query] = st
	return st, nil
}

func (b *batchRun) closeStmts() {
	for _, st := range b.stmts {
		_ = st.Close()
	}
	b.stmts = nil
}

func (b *batchRun) wrote() { b.written++ }

func (b *batchRun) skip() { b.skipped++ }

// next is called after every processed row and checkpoints at the
// threshold.
func (b *batchRun) next(ctx context.Context) error {
	b.pending++
	if b.pending < b.threshold {
		return nil
	}
	hadTx := b.tx != nil
	b.closeStmts()
	b.tx = nil
	b.pending = 0
	if err := b.s.Yield(ctx); err != nil {
		return err
	}
	if hadTx {
		b.committed()
	}
	b.r.logger.Debug("batch checkpoint",
		"kind", b.kind,
		"written", b.written,
		"skipped", b.skipped,
	)
	return nil
}

// finish commits the tail of the batch.
func (b *batchRun) finish() error {
	b.closeStmts()
	if b.tx == nil {
		return nil
	}
	b.tx = nil
	if err := b.s.Commit(); err != nil {
		return err
	}
	b.committed()
	return nil
}

func (b *batchRun) committed() {
	b.durable = b.written
	b.r.batchCommits.Add(1)
	b.r.bump()
	observability.BatchCommitsTotal.WithLabelValues(b.kind).Inc()
}

func (b *batchRun) record() {
	b.r.rowsWritten.Add(int64(b.durable))
	b.r.rowsSkipped.Add(int64(b.skipped))
	observability.BatchRowsWrittenTotal.WithLabelValues(b.kind).Add(float64(b.durable))
	observability.BatchRowsSkippedTotal.WithLabelValues(b.kind).Add(float64(b.skipped))
}

// runBatch acquires the writer, feeds every index to apply, commits, and
// finally runs the batch hook under the same writer session.
func (r *Repository) runBatch(ctx context.Context, kind string, n int, apply func(context.Context, *batchRun, int) error) (int, error) {
	if n == 0 {
		return 0, nil
	}

	var b *batchRun
	err := r.conn.WithWriter(ctx, func(s *conn.WriteSession) error {
		b = r.newBatchRun(s, kind)
		defer b.record()

		for i := 0; i < n; i++ {
			if err := apply(ctx, b, i); err != nil {
				return err
			}
			if err := b.next(ctx); err != nil {
				return err
			}
		}
		if err := b.finish(); err != nil {
			return err
		}
		if r.hook != nil {
			if err := r.hook.AfterBatch(ctx, s); err != nil {
				return err
			}
		}
		return nil
	})

	written := 0
	if b != nil {
		written = b.durable
	}
	if err != nil {
		return written, r.writeErr(fmt.Sprintf("insert %s batch", kind), err)
	}
	r.logger.Debug("batch inserted",
		"kind", kind,
		"written", b.written,
		"skipped", b.skipped,
		"commits", b.s.Commits(),
	)
	return written, nil
}
