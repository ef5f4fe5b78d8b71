package module

import (
	"time"

	"paydisco/internal/platform/config"
	"paydisco/internal/platform/store"
)

// Cache backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Options controls discovery behavior. Values may also be read from env
type Options struct {
	MaxURIMethods int
	RefreshAfter  time.Duration

	CacheBackend string
	CacheTTL     time.Duration

	// RegistryPath is a YAML device snapshot. Empty means every pass must
	// bring its own apps
	RegistryPath string

	// transport knobs. FetchMaxRetries of zero disables retries
	FetchTimeout    time.Duration
	FetchMaxRetries int
	FetchRetryBase  time.Duration
	UserAgent       string
}

// FromConfig reads options using the PAYDISCO_ prefix.
// PAYDISCO_FETCH_MAX_RETRIES=0 turns transport retries off
func FromConfig(cfg config.Conf) Options {
	pd := cfg.Prefix("PAYDISCO_")
	fetch := pd.Prefix("FETCH_")
	return Options{
		MaxURIMethods:   pd.MayInt("MAX_URI_METHODS", 10),
		RefreshAfter:    pd.MayDuration("REFRESH_AFTER", 0),
		CacheBackend:    pd.MayEnum("CACHE_BACKEND", BackendMemory, BackendMemory, BackendSQLite, BackendPostgres, BackendRedis),
		CacheTTL:        pd.MayDuration("CACHE_TTL", 90*24*time.Hour),
		RegistryPath:    pd.MayString("REGISTRY_PATH", ""),
		FetchTimeout:    fetch.MayDuration("TIMEOUT", 10*time.Second),
		FetchMaxRetries: fetch.MayInt("MAX_RETRIES", 3),
		FetchRetryBase:  fetch.MayDuration("RETRY_BASE", 250*time.Millisecond),
		UserAgent:       fetch.MayString("USER_AGENT", "paydisco"),
	}
}

// merge applies non-zero overrides, as passed from CLI flags
func (o Options) merge(over Options) Options {
	if over.MaxURIMethods != 0 {
		o.MaxURIMethods = over.MaxURIMethods
	}
	if over.RefreshAfter != 0 {
		o.RefreshAfter = over.RefreshAfter
	}
	if over.CacheBackend != "" {
		o.CacheBackend = over.CacheBackend
	}
	if over.CacheTTL != 0 {
		o.CacheTTL = over.CacheTTL
	}
	if over.RegistryPath != "" {
		o.RegistryPath = over.RegistryPath
	}
	if over.FetchTimeout != 0 {
		o.FetchTimeout = over.FetchTimeout
	}
	if over.FetchMaxRetries != 0 {
		o.FetchMaxRetries = over.FetchMaxRetries
	}
	if over.FetchRetryBase != 0 {
		o.FetchRetryBase = over.FetchRetryBase
	}
	if over.UserAgent != "" {
		o.UserAgent = over.UserAgent
	}
	return o
}

// StoreConfig reads the store config and enables the backend the cache needs
func StoreConfig(root config.Conf, backend string) store.Config {
	sc := store.FromConfig(root)
	switch backend {
	case BackendSQLite:
		sc.SQLite.Enabled = true
	case BackendPostgres:
		sc.PG.Enabled = true
	case BackendRedis:
		sc.RDS.Enabled = true
	}
	return sc
}
