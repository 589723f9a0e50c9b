package config

import (
	"errors"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)
	normalizeStore(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	s := &cfg.Store
	if strings.TrimSpace(s.Filename) == "" {
		s.Filename = DefaultFilename
	}
	if strings.TrimSpace(s.SnapshotDir) == "" {
		s.SnapshotDir = DefaultSnapshotDir
	}
	if s.WriteLockTimeout <= 0 {
		s.WriteLockTimeout = DefaultWriteLockTimeout
	}
	if s.BusyTimeout <= 0 {
		s.BusyTimeout = DefaultBusyTimeout
	}
	if s.CacheSizeKiB == 0 {
		s.CacheSizeKiB = DefaultCacheSizeKiB
	}
	if s.ReaderPoolSize == 0 {
		s.ReaderPoolSize = DefaultReaderPoolSize
	}
	if s.BatchThreshold == 0 {
		s.BatchThreshold = DefaultBatchThreshold
	}
	if s.YieldPause == 0 {
		s.YieldPause = DefaultYieldPause
	}
	if s.IterChunkSize == 0 {
		s.IterChunkSize = DefaultIterChunkSize
	}
	if s.MetricsEnabled == nil {
		enabled := true
		s.MetricsEnabled = &enabled
	}
	if s.SearchCacheSize == 0 {
		s.SearchCacheSize = DefaultSearchCacheSize
	}

	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = DefaultServiceName
	}
}

func normalizeStore(cfg *Config) {
	cfg.Store.Dir = strings.TrimSpace(cfg.Store.Dir)
	cfg.Store.Filename = strings.TrimSpace(cfg.Store.Filename)
	cfg.Store.SnapshotDir = strings.TrimSpace(cfg.Store.SnapshotDir)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
}
