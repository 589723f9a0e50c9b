// Package graphstore is the public entry point of the resource graph
// engine. An Engine is either ephemeral (in memory, nothing touches disk)
// or durable (one SQLite file inside a directory); both modes expose the
// same operations.
package graphstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"resgraph/internal/core/config"
	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/data/conn"
	"resgraph/internal/data/schema"
	"resgraph/internal/engine/ingest"
	"resgraph/internal/engine/metrics"
	"resgraph/internal/engine/query"
	"resgraph/internal/engine/repository"
	"resgraph/internal/shared/observability"
)

// Options configures an Engine. Zero values select the defaults from
// internal/core/config.
type Options struct {
	// Dir selects durable mode; the database lives at Dir/Filename and the
	// directory is created if absent. Empty selects ephemeral mode.
	Dir      string
	Filename string

	WriteLockTimeout time.Duration
	BusyTimeout      time.Duration
	CacheSizeKiB     int
	ReaderPoolSize   int
	BatchThreshold   int
	YieldPause       time.Duration
	IterChunkSize    int
	SearchCacheSize  int
	// DisableMetrics skips the degree table rebuild after batch writes.
	DisableMetrics bool
	// SnapshotDir is where Snapshot("") writes in durable mode. Relative
	// paths resolve against Dir.
	SnapshotDir string

	Logger *slog.Logger
}

// OptionsFromConfig maps a [store] config section onto Options.
func OptionsFromConfig(s config.Store) Options {
	return Options{
		Dir:              s.Dir,
		Filename:         s.Filename,
		WriteLockTimeout: s.WriteLockTimeout,
		BusyTimeout:      s.BusyTimeout,
		CacheSizeKiB:     s.CacheSizeKiB,
		ReaderPoolSize:   s.ReaderPoolSize,
		BatchThreshold:   s.BatchThreshold,
		YieldPause:       s.YieldPause,
		IterChunkSize:    s.IterChunkSize,
		SearchCacheSize:  s.SearchCacheSize,
		DisableMetrics:   !s.MetricsOn(),
		SnapshotDir:      s.SnapshotDir,
	}
}

func (o Options) store() config.Store {
	return config.Store{Dir: o.Dir, Filename: o.Filename, SnapshotDir: o.SnapshotDir}
}

// Engine owns one graph instance and every connection to it.
type Engine struct {
	logger      *slog.Logger
	conn        *conn.Manager
	repo        *repository.Repository
	metrics     *metrics.Engine
	query       *query.Engine
	snapshotDir string

	watchMu  sync.Mutex
	watchers []*config.Watcher

	closed atomic.Bool
}

// Open creates or opens a graph. See Options.Dir for mode selection.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	st := opts.store()
	return open(ctx, st.DatabasePath(), st.SnapshotPath(), opts)
}

// LoadSnapshot opens a file written by Snapshot as a new durable Engine.
// Snapshot defaults resolve next to the file.
func LoadSnapshot(ctx context.Context, path string, opts Options) (*Engine, error) {
	path = strings.TrimSpace(path)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || path == "" {
		return nil, gerrors.AddContext(
			gerrors.New(gerrors.CodeNotFound, "snapshot not found"),
			gerrors.CtxPath, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat snapshot %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, gerrors.AddContext(
			gerrors.New(gerrors.CodeConfiguration, "snapshot path is a directory"),
			gerrors.CtxPath, path)
	}
	st := config.Store{Dir: filepath.Dir(path), SnapshotDir: opts.SnapshotDir}
	return open(ctx, path, st.SnapshotPath(), opts)
}

func open(ctx context.Context, dbPath, snapshotDir string, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := conn.Open(ctx, conn.Options{
		Path:             dbPath,
		BusyTimeout:      opts.BusyTimeout,
		WriteLockTimeout: opts.WriteLockTimeout,
		CacheSizeKiB:     opts.CacheSizeKiB,
		ReaderPoolSize:   opts.ReaderPoolSize,
		YieldPause:       yieldPause(opts.YieldPause),
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	if err := schema.Migrate(ctx, m.DB(), logger); err != nil {
		_ = m.Close()
		return nil, err
	}

	repo := repository.New(m, repository.Config{
		BatchThreshold: opts.BatchThreshold,
		IterChunkSize:  opts.IterChunkSize,
	}, logger)
	me := metrics.New(m, !opts.DisableMetrics, logger)
	me.OnRebuild(repo.Touch)
	repo.SetBatchHook(me)

	e := &Engine{
		logger:  logger,
		conn:    m,
		repo:    repo,
		metrics: me,
		query: query.New(m, query.Config{
			CacheSize:  opts.SearchCacheSize,
			Generation: repo.Generation,
		}, logger),
		snapshotDir: snapshotDir,
	}
	logger.Info("graph store opened", "persistent", m.Persistent(), "path", m.Path())
	return e, nil
}

func yieldPause(d time.Duration) time.Duration {
	if d == 0 {
		return config.DefaultYieldPause
	}
	return d
}

// IsPersistent reports whether the graph is backed by a file.
func (e *Engine) IsPersistent() bool {
	return e.conn.Persistent()
}

// Path returns the database file, or ":memory:" for ephemeral graphs.
func (e *Engine) Path() string {
	return e.conn.Path()
}

// Close stops tuning watchers and releases every connection. Ephemeral
// data is gone afterwards. Later operations fail with CLOSED.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.watchMu.Lock()
	watchers := e.watchers
	e.watchers = nil
	e.watchMu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}
	return e.conn.Close()
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return gerrors.New(gerrors.CodeClosed, "graph store is closed")
	}
	return nil
}

// Clear deletes every node, edge, metric and metadata entry.
func (e *Engine) Clear(ctx context.Context) error {
	return e.repo.Clear(ctx)
}

// Snapshot copies the current committed state to target with SQLite's
// online backup and returns the written path. Writers and readers keep
// running. An empty target selects a timestamped file under the snapshot
// directory, which only durable graphs have.
func (e *Engine) Snapshot(ctx context.Context, target string) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		if !e.IsPersistent() {
			return "", gerrors.New(gerrors.CodeConfiguration, "snapshot of an ephemeral graph needs a target path")
		}
		name := "graph-" + time.Now().UTC().Format("20060102T150405.000000000Z") + ".db"
		target = filepath.Join(e.snapshotDir, name)
	}
	if e.IsPersistent() && filepath.Clean(target) == filepath.Clean(e.Path()) {
		return "", gerrors.AddContext(
			gerrors.New(gerrors.CodeConfiguration, "snapshot target is the live database"),
			gerrors.CtxPath, target)
	}

	ctx, span := observability.Tracer.Start(ctx, "graphstore.Snapshot")
	defer span.End()
	span.SetAttributes(attribute.String("target", target))

	start := time.Now()
	if err := e.conn.Backup(ctx, target); err != nil {
		observability.SnapshotsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	observability.SnapshotsTotal.WithLabelValues("ok").Inc()
	e.logger.Info("snapshot written", "path", target, "duration", time.Since(start))
	return target, nil
}

// ApplyTuning changes the runtime-tunable settings. Zero fields are left
// as they are.
func (e *Engine) ApplyTuning(t config.Tuning) {
	e.conn.SetWriteTimeout(t.WriteLockTimeout)
	if t.YieldPause > 0 {
		e.conn.SetYieldPause(t.YieldPause)
	}
	e.repo.SetBatchThreshold(t.BatchThreshold)
	e.logger.Debug("tuning applied",
		"write_lock_timeout", e.conn.WriteTimeout(),
		"yield_pause", e.conn.YieldPause(),
		"batch_threshold", e.repo.BatchThreshold(),
	)
}

// Tuning returns the runtime-tunable settings in effect.
func (e *Engine) Tuning() config.Tuning {
	return config.Tuning{
		WriteLockTimeout: e.conn.WriteTimeout(),
		BatchThreshold:   e.repo.BatchThreshold(),
		YieldPause:       e.conn.YieldPause(),
	}
}

// WatchTuning reloads configPath on change and applies its [store] tuning
// fields. The returned stop is also run by Close.
func (e *Engine) WatchTuning(ctx context.Context, configPath string) (func(), error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	w := config.NewWatcher(configPath, e.logger, func(cfg *config.Config) {
		e.ApplyTuning(cfg.Store.Tuning())
	})
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("watch %s: %w", configPath, err)
	}
	e.watchMu.Lock()
	e.watchers = append(e.watchers, w)
	e.watchMu.Unlock()
	return w.Stop, nil
}

// WithReader pins one reader connection into the returned context; reads
// made with it reuse that connection until release is called.
func (e *Engine) WithReader(ctx context.Context) (context.Context, func(), error) {
	return e.conn.WithReader(ctx)
}

// NewBatchWriter returns a buffered writer that feeds this engine's batch
// operations. The caller must Close it before closing the engine.
func (e *Engine) NewBatchWriter(cfg ingest.Config) *ingest.BatchWriter {
	if cfg.Logger == nil {
		cfg.Logger = e.logger
	}
	return ingest.New(e, cfg)
}

// Stats summarizes the engine.
type Stats struct {
	repository.Stats
	Persistent    bool
	Path          string
	SchemaVersion int64
	Tuning        config.Tuning
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	rs, err := e.repo.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	v, err := schema.Version(ctx, e.conn.DB())
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Stats:         rs,
		Persistent:    e.IsPersistent(),
		Path:          e.Path(),
		SchemaVersion: v,
		Tuning:        e.Tuning(),
	}, nil
}
