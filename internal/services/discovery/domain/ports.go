// Package domain defines the public ports for the discovery service
package domain

import (
	"context"
	"net/url"

	"paydisco/internal/core/manifest"
	perr "paydisco/internal/platform/errors"
)

// ErrAlgorithmUnavailable ends a verification query before any lookup
var ErrAlgorithmUnavailable = perr.New(perr.ErrorCodeFingerprint, "signing fingerprint algorithm unavailable")

// Registry lists the payment handlers installed on the device.
// SigningFingerprints resolves live fingerprints for an app listed without
// signing material
type Registry interface {
	ListInstalled(ctx context.Context) ([]InstalledApp, error)
	SigningFingerprints(ctx context.Context, packageID string) ([]string, error)
}

// Fingerprinter computes the live signing fingerprints of an app
type Fingerprinter interface {
	Fingerprints(ctx context.Context, app InstalledApp) ([]string, error)
}

// ManifestCache persists verified manifests. Lookups report ok=false on miss
type ManifestCache interface {
	GetMethodManifest(ctx context.Context, methodName string) (manifest.CacheRecord, bool, error)
	GetWebAppManifest(ctx context.Context, appID string) ([]manifest.WebAppSection, bool, error)
	PutMethodManifest(ctx context.Context, methodName string, rec manifest.CacheRecord) error
	PutWebAppManifest(ctx context.Context, sections []manifest.WebAppSection) error
	Purge(ctx context.Context) error
	Close() error
}

// Downloader fetches manifests over the network
type Downloader interface {
	DownloadMethodManifest(ctx context.Context, u *url.URL) (Download, error)
	DownloadWebAppManifest(ctx context.Context, u *url.URL) (Download, error)
}

// Parser turns manifest bodies into models
type Parser interface {
	ParseMethodManifest(base *url.URL, body []byte) (manifest.MethodManifest, error)
	ParseWebAppManifest(body []byte) ([]manifest.WebAppSection, error)
}

// Sink receives the outcome of a discovery pass. OnAllPaymentAppsCreated is
// called exactly once, after every OnPaymentAppCreated
type Sink interface {
	OnPaymentAppCreated(app PaymentApp)
	OnAllPaymentAppsCreated()
}

// DiscoverPort runs a discovery pass against the configured device registry
type DiscoverPort interface {
	Discover(ctx context.Context, methods []string) ([]PaymentApp, error)
	DiscoverWith(ctx context.Context, reg Registry, methods []string) ([]PaymentApp, error)
}

// CachePort manages the manifest cache
type CachePort interface {
	PurgeCache(ctx context.Context) error
}
