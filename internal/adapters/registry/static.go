package registry

import (
	"context"
	"slices"
	"sync"

	perr "paydisco/internal/platform/errors"
	"paydisco/internal/services/discovery/domain"
)

// Static is an in-memory registry over a fixed app list
type Static struct {
	mu   sync.RWMutex
	apps []domain.InstalledApp
	fp   *Fingerprinter
}

var _ domain.Registry = (*Static)(nil)

// NewStatic builds a registry over apps
func NewStatic(apps []domain.InstalledApp) *Static {
	return &Static{apps: slices.Clone(apps), fp: NewFingerprinter()}
}

// Replace swaps the app list, as after a package install or removal
func (s *Static) Replace(apps []domain.InstalledApp) {
	s.mu.Lock()
	s.apps = slices.Clone(apps)
	s.mu.Unlock()
}

// ListInstalled returns a copy of the current app list
func (s *Static) ListInstalled(ctx context.Context) ([]domain.InstalledApp, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.apps), nil
}

// SigningFingerprints returns the live fingerprints of one package
func (s *Static) SigningFingerprints(ctx context.Context, packageID string) ([]string, error) {
	s.mu.RLock()
	i := slices.IndexFunc(s.apps, func(a domain.InstalledApp) bool { return a.PackageID == packageID })
	var app domain.InstalledApp
	if i >= 0 {
		app = s.apps[i]
	}
	s.mu.RUnlock()
	if i < 0 {
		return nil, perr.NotFoundf("package %s is not installed", packageID)
	}
	return s.fp.Fingerprints(ctx, app)
}
