package config

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultFilename         = "graph.db"
	DefaultSnapshotDir      = "snapshots"
	DefaultWriteLockTimeout = 60 * time.Second
	DefaultBusyTimeout      = 5 * time.Second
	DefaultCacheSizeKiB     = 8192
	DefaultReaderPoolSize   = 8
	DefaultBatchThreshold   = 5000
	DefaultYieldPause       = time.Millisecond
	DefaultIterChunkSize    = 1000
	DefaultSearchCacheSize  = 256
	DefaultServiceName      = "resgraph"
)

type Config struct {
	Version       int           `toml:"version"`
	Store         Store         `toml:"store"`
	Observability Observability `toml:"observability"`
}

// Store configures one graph engine instance. An empty Dir selects the
// ephemeral in-memory backing; anything else selects a durable file at
// Dir/Filename.
type Store struct {
	Dir              string        `toml:"dir"`
	Filename         string        `toml:"filename"`
	WriteLockTimeout time.Duration `toml:"write_lock_timeout"`
	BusyTimeout      time.Duration `toml:"busy_timeout"`
	CacheSizeKiB     int           `toml:"cache_size_kib"`
	ReaderPoolSize   int           `toml:"reader_pool_size"`
	BatchThreshold   int           `toml:"batch_threshold"`
	YieldPause       time.Duration `toml:"yield_pause"`
	IterChunkSize    int           `toml:"iter_chunk_size"`
	MetricsEnabled   *bool         `toml:"metrics_enabled"`
	SearchCacheSize  int           `toml:"search_cache_size"`
	SnapshotDir      string        `toml:"snapshot_dir"`
}

type Observability struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// Tuning is the subset of Store that can change while an engine is open.
type Tuning struct {
	WriteLockTimeout time.Duration
	BatchThreshold   int
	YieldPause       time.Duration
}

func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func (s Store) Persistent() bool {
	return strings.TrimSpace(s.Dir) != ""
}

// DatabasePath returns the durable file location, or "" for ephemeral stores.
func (s Store) DatabasePath() string {
	if !s.Persistent() {
		return ""
	}
	name := s.Filename
	if strings.TrimSpace(name) == "" {
		name = DefaultFilename
	}
	return filepath.Join(s.Dir, name)
}

// SnapshotPath resolves the default snapshot directory against Dir.
func (s Store) SnapshotPath() string {
	if !s.Persistent() {
		return ""
	}
	dir := s.SnapshotDir
	if strings.TrimSpace(dir) == "" {
		dir = DefaultSnapshotDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(s.Dir, dir)
}

func (s Store) MetricsOn() bool {
	return s.MetricsEnabled == nil || *s.MetricsEnabled
}

func (s Store) Tuning() Tuning {
	return Tuning{
		WriteLockTimeout: s.WriteLockTimeout,
		BatchThreshold:   s.BatchThreshold,
		YieldPause:       s.YieldPause,
	}
}
