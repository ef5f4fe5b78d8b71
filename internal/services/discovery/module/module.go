// Package module wires the discovery service and exposes its ports
package module

import (
	"context"

	"paydisco/internal/adapters/manifestfetch"
	"paydisco/internal/adapters/registry"
	"paydisco/internal/core/manifest"
	"paydisco/internal/modkit"
	perr "paydisco/internal/platform/errors"
	phttp "paydisco/internal/platform/net/http"
	"paydisco/internal/services/discovery/domain"
	dischttp "paydisco/internal/services/discovery/http"
	"paydisco/internal/services/discovery/repo"
	"paydisco/internal/services/discovery/service"
)

// Module defines the discovery module
type Module struct {
	deps  modkit.Deps
	opts  Options
	svc   *service.Svc
	ports Ports
}

// New constructs the discovery module. Options come from config, then
// non-zero overrides apply
func New(ctx context.Context, deps modkit.Deps, overrides Options) (*Module, error) {
	opts := FromConfig(deps.Cfg).merge(overrides)

	cache, err := newCache(ctx, deps, opts)
	if err != nil {
		return nil, err
	}
	parser, err := manifest.NewParser()
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "compile manifest schemas")
	}

	var reg domain.Registry
	if opts.RegistryPath != "" {
		st, lerr := registry.LoadFile(opts.RegistryPath)
		if lerr != nil {
			return nil, lerr
		}
		reg = st
	}

	ad := service.Adapters{
		Fingerprinter: registry.NewFingerprinter(),
		Cache:         cache,
		Downloader:    manifestfetch.NewClient(fetchOptions(opts)),
		Parser:        parser,
	}
	cfg := service.Config{MaxURIMethods: opts.MaxURIMethods, RefreshAfter: opts.RefreshAfter}

	svc := service.New(ad, reg, cfg)

	deps.Log.Info().
		Str("cache", opts.CacheBackend).
		Dur("cache_ttl", opts.CacheTTL).
		Dur("refresh_after", opts.RefreshAfter).
		Bool("registry", reg != nil).
		Msg("discovery module ready")

	m := &Module{deps: deps, opts: opts, svc: svc}
	m.ports = Ports{Discover: svc, Cache: svc}
	return m, nil
}

// fetchOptions maps module options onto the transport. Zero retries means
// none, not the transport default
func fetchOptions(o Options) manifestfetch.Options {
	retries := o.FetchMaxRetries
	if retries <= 0 {
		retries = -1
	}
	return manifestfetch.Options{
		UserAgent:  o.UserAgent,
		Timeout:    o.FetchTimeout,
		MaxRetries: retries,
		RetryBase:  o.FetchRetryBase,
	}
}

func newCache(ctx context.Context, deps modkit.Deps, opts Options) (repo.Repo, error) {
	ro := repo.Options{TTL: opts.CacheTTL}
	switch opts.CacheBackend {
	case BackendSQLite, BackendPostgres:
		var c *repo.SQL
		if opts.CacheBackend == BackendSQLite {
			if deps.Store == nil || deps.Store.SQLite == nil {
				return nil, perr.Unavailablef("sqlite cache selected but the sqlite store is not open")
			}
			c = repo.NewSQLite(deps.Store.SQLite, ro)
		} else {
			if deps.Store == nil || deps.Store.PG == nil {
				return nil, perr.Unavailablef("postgres cache selected but the postgres store is not open")
			}
			c = repo.NewPG(deps.Store.PG, ro)
		}
		if err := c.Migrate(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case BackendRedis:
		if deps.Store == nil || deps.Store.Redis == nil {
			return nil, perr.Unavailablef("redis cache selected but the redis client is not open")
		}
		return repo.NewRedis(deps.Store.Redis, ro), nil
	default:
		return repo.NewMemory(ro), nil
	}
}

// Name returns the module name
func (m *Module) Name() string { return "discovery" }

// Ports returns the module ports (Discover, Cache)
func (m *Module) Ports() any { return m.ports }

// Options returns the effective options
func (m *Module) Options() Options { return m.opts }

// MountRoutes mounts the probes at the root and the API under /v1
func (m *Module) MountRoutes(r phttp.Router) {
	ready := func(ctx context.Context) error { return nil }
	if m.deps.Store != nil {
		ready = m.deps.Store.Guard
	}
	dischttp.RegisterHealth(r, ready)
	r.Route("/v1", func(rr phttp.Router) {
		dischttp.Register(rr, m.svc)
	})
}

// Close waits for background refreshes and closes the cache
func (m *Module) Close(ctx context.Context) error { return m.svc.Close(ctx) }
