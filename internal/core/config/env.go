package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: RESGRAPH_[SECTION]_[KEY] (e.g., RESGRAPH_STORE_BATCH_THRESHOLD).
func ApplyEnvOverrides(cfg *Config) {
	// Store
	setEnvString(&cfg.Store.Dir, "RESGRAPH_STORE_DIR")
	setEnvString(&cfg.Store.Filename, "RESGRAPH_STORE_FILENAME")
	setEnvDuration(&cfg.Store.WriteLockTimeout, "RESGRAPH_STORE_WRITE_LOCK_TIMEOUT")
	setEnvDuration(&cfg.Store.BusyTimeout, "RESGRAPH_STORE_BUSY_TIMEOUT")
	setEnvInt(&cfg.Store.CacheSizeKiB, "RESGRAPH_STORE_CACHE_SIZE_KIB")
	setEnvInt(&cfg.Store.ReaderPoolSize, "RESGRAPH_STORE_READER_POOL_SIZE")
	setEnvInt(&cfg.Store.BatchThreshold, "RESGRAPH_STORE_BATCH_THRESHOLD")
	setEnvDuration(&cfg.Store.YieldPause, "RESGRAPH_STORE_YIELD_PAUSE")
	setEnvInt(&cfg.Store.IterChunkSize, "RESGRAPH_STORE_ITER_CHUNK_SIZE")
	setEnvBoolPtr(&cfg.Store.MetricsEnabled, "RESGRAPH_STORE_METRICS_ENABLED")
	setEnvInt(&cfg.Store.SearchCacheSize, "RESGRAPH_STORE_SEARCH_CACHE_SIZE")
	setEnvString(&cfg.Store.SnapshotDir, "RESGRAPH_STORE_SNAPSHOT_DIR")

	// Observability
	setEnvString(&cfg.Observability.OTLPEndpoint, "RESGRAPH_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvString(&cfg.Observability.ServiceName, "RESGRAPH_OBSERVABILITY_SERVICE_NAME")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBoolPtr(target **bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = &b
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
