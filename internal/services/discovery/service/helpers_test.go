package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"paydisco/internal/adapters/registry"
	"paydisco/internal/core/manifest"
	"paydisco/internal/core/method"
	perr "paydisco/internal/platform/errors"
	"paydisco/internal/services/discovery/domain"
	"paydisco/internal/services/discovery/repo"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bobPay   = "https://bobpay.example/pay"
	alicePay = "https://alicepay.example/pay"
	bPay     = "https://b.example/pay"
)

var (
	certF1 = []byte("f1-signing-cert")
	certF2 = []byte("f2-signing-cert")
	fpF1   = manifest.Fingerprint(certF1)
	fpF2   = manifest.Fingerprint(certF2)
)

// fakeDownloader serves manifests from a map. Unknown URLs fail
type fakeDownloader struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  map[string]int
	block  chan struct{}
}

func newDownloader() *fakeDownloader {
	return &fakeDownloader{bodies: map[string]string{}, calls: map[string]int{}}
}

func (d *fakeDownloader) serve(u, body string) *fakeDownloader {
	d.mu.Lock()
	d.bodies[u] = body
	d.mu.Unlock()
	return d
}

func (d *fakeDownloader) count(u string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[u]
}

func (d *fakeDownloader) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

func (d *fakeDownloader) get(ctx context.Context, u *url.URL) (domain.Download, error) {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return domain.Download{}, perr.Wrap(ctx.Err(), perr.ErrorCodeDownload, "canceled")
		}
	}
	d.mu.Lock()
	d.calls[u.String()]++
	body, ok := d.bodies[u.String()]
	d.mu.Unlock()
	if !ok {
		return domain.Download{}, perr.Downloadf("status 404 for %s", u)
	}
	return domain.Download{URL: u, Body: []byte(body)}, nil
}

func (d *fakeDownloader) DownloadMethodManifest(ctx context.Context, u *url.URL) (domain.Download, error) {
	return d.get(ctx, u)
}

func (d *fakeDownloader) DownloadWebAppManifest(ctx context.Context, u *url.URL) (domain.Download, error) {
	return d.get(ctx, u)
}

type brokenFingerprinter struct{}

func (brokenFingerprinter) Fingerprints(context.Context, domain.InstalledApp) ([]string, error) {
	return nil, domain.ErrAlgorithmUnavailable
}

func mustMethod(t testing.TB, s string) method.Identifier {
	t.Helper()
	id, ok := method.Classify(s)
	require.True(t, ok, "classify %s", s)
	return id
}

// newApp builds an installed app signed with cert. def may be empty
func newApp(t testing.TB, pkg, def string, version int64, cert []byte, additional ...string) domain.InstalledApp {
	t.Helper()
	a := domain.InstalledApp{PackageID: pkg, Label: pkg, Version: version}
	if def != "" {
		a.DefaultMethod = mo.Some(mustMethod(t, def))
	}
	for _, s := range additional {
		a.AdditionalMethods = append(a.AdditionalMethods, mustMethod(t, s))
	}
	if cert != nil {
		a.SigningCertificates = [][]byte{cert}
	}
	return a
}

func methodManifest(webApps []string, origins string) string {
	if webApps == nil {
		webApps = []string{}
	}
	apps, _ := json.Marshal(webApps)
	if origins == "" {
		return fmt.Sprintf(`{"default_applications": %s}`, apps)
	}
	return fmt.Sprintf(`{"default_applications": %s, "supported_origins": %s}`, apps, origins)
}

func webAppManifest(id string, minVersion int64, fp string) string {
	return fmt.Sprintf(`{"related_applications": [
		{"platform": "web", "url": "https://example/"},
		{"platform": "play", "id": %q, "min_version": "%d", "fingerprints": [{"type": "sha256_cert", "value": %q}]}
	]}`, id, minVersion, fp)
}

type fixture struct {
	dl    *fakeDownloader
	cache *repo.Memory
	ad    Adapters
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	p, err := manifest.NewParser()
	require.NoError(t, err)
	dl := newDownloader()
	cache := repo.NewMemory(repo.Options{})
	return &fixture{
		dl:    dl,
		cache: cache,
		ad: Adapters{
			Fingerprinter: registry.NewFingerprinter(),
			Cache:         cache,
			Downloader:    dl,
			Parser:        p,
		},
	}
}

// recordingSink checks the completion contract while collecting apps
type recordingSink struct {
	t    testing.TB
	apps []domain.PaymentApp
	done int
}

func (s *recordingSink) OnPaymentAppCreated(app domain.PaymentApp) {
	assert.Zero(s.t, s.done, "app created after completion")
	s.apps = append(s.apps, app)
}

func (s *recordingSink) OnAllPaymentAppsCreated() { s.done++ }

func (s *recordingSink) ids() []string {
	out := make([]string, 0, len(s.apps))
	for _, a := range s.apps {
		out = append(out, a.ID)
	}
	return out
}

func (s *recordingSink) methodsOf(id string) []string {
	for _, a := range s.apps {
		if a.ID == id {
			return a.Methods
		}
	}
	return nil
}

func find(t testing.TB, f *Finder, apps []domain.InstalledApp, methods ...string) *recordingSink {
	t.Helper()
	sink := &recordingSink{t: t}
	require.NoError(t, f.Find(context.Background(), registry.NewStatic(apps), methods, sink))
	require.Equal(t, 1, sink.done, "OnAllPaymentAppsCreated must fire exactly once")
	return sink
}
