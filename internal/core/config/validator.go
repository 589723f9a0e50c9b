package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Validate returns every problem found in cfg; an empty slice means valid.
func Validate(cfg *Config) []error {
	var errs []error
	if err := validateVersion(cfg); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateStore(&cfg.Store)...)
	return errs
}

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateStore(s *Store) []error {
	var errs []error

	if s.Persistent() {
		if info, err := os.Stat(s.Dir); err == nil && !info.IsDir() {
			errs = append(errs, fmt.Errorf("store.dir %q exists and is not a directory", s.Dir))
		}
	}
	if strings.ContainsAny(s.Filename, `/\`) {
		errs = append(errs, fmt.Errorf("store.filename must be a bare file name, got %q", s.Filename))
	}
	if s.SnapshotDir != "" && filepath.Clean(s.SnapshotDir) == "." {
		errs = append(errs, fmt.Errorf("store.snapshot_dir must not be the store directory itself"))
	}

	errs = appendIf(errs, s.WriteLockTimeout <= 0, "store.write_lock_timeout must be > 0, got %s", s.WriteLockTimeout)
	errs = appendIf(errs, s.BusyTimeout <= 0, "store.busy_timeout must be > 0, got %s", s.BusyTimeout)
	errs = appendIf(errs, s.BusyTimeout > s.WriteLockTimeout && s.WriteLockTimeout > 0,
		"store.busy_timeout (%s) must not exceed store.write_lock_timeout (%s)", s.BusyTimeout, s.WriteLockTimeout)
	errs = appendIf(errs, s.CacheSizeKiB < 0, "store.cache_size_kib must be >= 0, got %d", s.CacheSizeKiB)
	errs = appendIf(errs, s.ReaderPoolSize < 1, "store.reader_pool_size must be >= 1, got %d", s.ReaderPoolSize)
	errs = appendIf(errs, s.BatchThreshold < 1, "store.batch_threshold must be >= 1, got %d", s.BatchThreshold)
	errs = appendIf(errs, s.YieldPause < 0 || s.YieldPause > time.Second, "store.yield_pause must be within [0s, 1s], got %s", s.YieldPause)
	errs = appendIf(errs, s.IterChunkSize < 1, "store.iter_chunk_size must be >= 1, got %d", s.IterChunkSize)
	errs = appendIf(errs, s.SearchCacheSize < 0, "store.search_cache_size must be >= 0, got %d", s.SearchCacheSize)
	return errs
}

func appendIf(errs []error, cond bool, format string, args ...any) []error {
	if cond {
		return append(errs, fmt.Errorf(format, args...))
	}
	return errs
}
