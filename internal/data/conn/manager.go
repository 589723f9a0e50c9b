// Package conn owns the physical connections to the embedded SQLite engine
// and enforces the single-writer/multi-reader discipline for one graph
// instance.
package conn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite"

	"resgraph/internal/core/config"
	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/shared/util"
)

const sqliteDriverName = "sqlite"

type Options struct {
	// Path of the durable database file. Empty selects an ephemeral
	// in-memory database that never touches disk.
	Path             string
	BusyTimeout      time.Duration
	WriteLockTimeout time.Duration
	CacheSizeKiB     int
	ReaderPoolSize   int
	YieldPause       time.Duration
	Logger           *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = config.DefaultBusyTimeout
	}
	if o.WriteLockTimeout <= 0 {
		o.WriteLockTimeout = config.DefaultWriteLockTimeout
	}
	if o.CacheSizeKiB <= 0 {
		o.CacheSizeKiB = config.DefaultCacheSizeKiB
	}
	if o.ReaderPoolSize <= 0 {
		o.ReaderPoolSize = config.DefaultReaderPoolSize
	}
	if o.YieldPause < 0 {
		o.YieldPause = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Manager hands out reader connections and the single writer handle.
// The writer is a pinned *sql.Conn guarded by a weighted semaphore so
// acquisition can honour a deadline.
type Manager struct {
	path       string
	persistent bool
	logger     *slog.Logger

	writerDB *sql.DB
	writer   *sql.Conn
	readers  *sql.DB

	writeLock    *semaphore.Weighted
	writeTimeout atomic.Int64
	yieldPause   atomic.Int64
	commits      atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens (creating if needed) the backing database and configures the
// writer and reader pools.
func Open(ctx context.Context, opts Options) (*Manager, error) {
	opts = opts.withDefaults()

	m := &Manager{
		path:       strings.TrimSpace(opts.Path),
		persistent: strings.TrimSpace(opts.Path) != "",
		logger:     opts.Logger,
		writeLock:  semaphore.NewWeighted(1),
	}
	m.writeTimeout.Store(int64(opts.WriteLockTimeout))
	m.yieldPause.Store(int64(opts.YieldPause))

	var name string
	if m.persistent {
		if info, err := os.Stat(m.path); err == nil && info.IsDir() {
			return nil, gerrors.AddContext(
				gerrors.New(gerrors.CodeConfiguration, "database path is a directory, expected file"),
				gerrors.CtxPath, m.path)
		}
		if err := util.EnsureParentDir(m.path); err != nil {
			return nil, fmt.Errorf("create database directory for %q: %w", m.path, err)
		}
		name = m.path
	} else {
		// memdb databases are shared between connections of one process
		// when the name starts with "/".
		name = "/resgraph-" + uuid.NewString() + ".db"
	}

	writerDB, err := sql.Open(sqliteDriverName, buildDSN(name, m.persistent, false, opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer %q: %w", m.Path(), err)
	}
	// One pinned writer plus one slot for migrations on the same pool.
	writerDB.SetMaxOpenConns(2)
	writerDB.SetMaxIdleConns(2)
	writerDB.SetConnMaxLifetime(0)
	writerDB.SetConnMaxIdleTime(0)

	writer, err := writerDB.Conn(ctx)
	if err != nil {
		_ = writerDB.Close()
		return nil, fmt.Errorf("pin sqlite writer %q: %w", m.Path(), err)
	}
	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		_ = writerDB.Close()
		return nil, fmt.Errorf("ping sqlite writer %q: %w", m.Path(), err)
	}

	readers, err := sql.Open(sqliteDriverName, buildDSN(name, m.persistent, true, opts))
	if err != nil {
		_ = writer.Close()
		_ = writerDB.Close()
		return nil, fmt.Errorf("open sqlite readers %q: %w", m.Path(), err)
	}
	readers.SetMaxOpenConns(opts.ReaderPoolSize)
	readers.SetMaxIdleConns(opts.ReaderPoolSize)
	readers.SetConnMaxLifetime(0)
	readers.SetConnMaxIdleTime(0)

	m.writerDB = writerDB
	m.writer = writer
	m.readers = readers

	m.logger.Debug("connection manager opened",
		"persistent", m.persistent,
		"path", m.Path(),
		"readers", opts.ReaderPoolSize,
	)
	return m, nil
}

// buildDSN renders the modernc DSN. Readers are query_only; the writer
// takes the RESERVED lock at BEGIN so it never has to upgrade mid-tx.
func buildDSN(name string, persistent, reader bool, opts Options) string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout(persistent, reader, opts).Milliseconds()),
		"_pragma=foreign_keys(ON)",
		fmt.Sprintf("_pragma=cache_size(-%d)", opts.CacheSizeKiB),
	}
	if !persistent {
		params = append([]string{"vfs=memdb"}, params...)
	} else if !reader {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	if reader {
		params = append(params, "_pragma=query_only(1)")
	} else {
		params = append(params, "_txlock=immediate")
	}
	return fmt.Sprintf("file:%s?%s", name, strings.Join(params, "&"))
}

// busyTimeout is how long a connection waits on a locked database. memdb
// has no WAL, so an ephemeral reader blocks while a write transaction is
// open; it waits as long as a writer would wait for the write lock.
func busyTimeout(persistent, reader bool, opts Options) time.Duration {
	if reader && !persistent && opts.WriteLockTimeout > opts.BusyTimeout {
		return opts.WriteLockTimeout
	}
	return opts.BusyTimeout
}

func (m *Manager) Persistent() bool {
	return m.persistent
}

// Path returns the durable file location, or ":memory:" for ephemeral
// instances.
func (m *Manager) Path() string {
	if !m.persistent {
		return ":memory:"
	}
	return m.path
}

// DB exposes the writer pool for schema migrations, which run before the
// manager is shared.
func (m *Manager) DB() *sql.DB {
	return m.writerDB
}

// Commits returns the number of write transactions committed so far.
func (m *Manager) Commits() int64 {
	return m.commits.Load()
}

// SetWriteTimeout changes the writer lock timeout for future acquisitions.
func (m *Manager) SetWriteTimeout(d time.Duration) {
	if d > 0 {
		m.writeTimeout.Store(int64(d))
	}
}

func (m *Manager) WriteTimeout() time.Duration {
	return time.Duration(m.writeTimeout.Load())
}

// SetYieldPause changes how long a yielding batch writer sleeps between
// releasing and reacquiring the writer lock.
func (m *Manager) SetYieldPause(d time.Duration) {
	if d >= 0 {
		m.yieldPause.Store(int64(d))
	}
}

func (m *Manager) YieldPause() time.Duration {
	return time.Duration(m.yieldPause.Load())
}

func (m *Manager) checkOpen() error {
	if m == nil || m.closed.Load() {
		return gerrors.New(gerrors.CodeClosed, "graph store is closed")
	}
	return nil
}

// Close releases the reader pool and the writer handle. Ephemeral data is
// discarded once the last connection closes. Safe to call twice.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		var errs []error
		if err := m.readers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close readers: %w", err))
		}
		if err := m.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer: %w", err))
		}
		if err := m.writerDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer pool: %w", err))
		}
		m.closeErr = errors.Join(errs...)
		m.logger.Debug("connection manager closed", "path", m.Path())
	})
	return m.closeErr
}
