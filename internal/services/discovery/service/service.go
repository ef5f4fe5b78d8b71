// Package service contains the discovery workflows: manifest verification
// queries, discovery passes and the session that scopes them
package service

import (
	"context"
	"time"

	perr "paydisco/internal/platform/errors"
	"paydisco/internal/services/discovery/domain"
)

// Service defines the discovery service contract
type Service interface {
	domain.DiscoverPort
	domain.CachePort
}

// Config carries runtime knobs for discovery passes
type Config struct {
	MaxURIMethods int
	RefreshAfter  time.Duration
}

// Svc implements the discovery service
type Svc struct {
	session *Session
	cache   domain.ManifestCache
}

// New constructs a discovery service. reg is the default device registry
// and may be nil
func New(ad Adapters, reg domain.Registry, cfg Config) *Svc {
	if ad.Cache == nil || ad.Downloader == nil || ad.Parser == nil || ad.Fingerprinter == nil {
		panic("discovery.Service requires cache, downloader, parser and fingerprinter")
	}
	f := NewFinder(ad, FinderConfig{MaxURIMethods: cfg.MaxURIMethods, RefreshAfter: cfg.RefreshAfter})
	return &Svc{session: NewSession(f, reg), cache: ad.Cache}
}

// Discover runs a pass against the configured device registry
func (s *Svc) Discover(ctx context.Context, methods []string) ([]domain.PaymentApp, error) {
	return s.session.Discover(ctx, methods)
}

// DiscoverWith runs a pass against a caller supplied registry
func (s *Svc) DiscoverWith(ctx context.Context, reg domain.Registry, methods []string) ([]domain.PaymentApp, error) {
	if reg == nil {
		return nil, perr.InvalidArgf("registry is required")
	}
	return s.session.DiscoverWith(ctx, reg, methods)
}

// PurgeCache drops every cached manifest
func (s *Svc) PurgeCache(ctx context.Context) error {
	return s.cache.Purge(ctx)
}

// Close waits for background refreshes then closes the cache
func (s *Svc) Close(ctx context.Context) error {
	err := s.session.Close(ctx)
	if cerr := s.cache.Close(); err == nil {
		err = cerr
	}
	return err
}
