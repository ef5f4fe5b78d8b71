package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"paydisco/internal/core/manifest"
	"paydisco/internal/core/method"
	"paydisco/internal/services/discovery/domain"

	"github.com/stretchr/testify/require"
)

// recorder captures query callbacks as strings in call order
type recorder struct{ events []string }

func (r *recorder) OnValidDefaultApp(_ method.Identifier, app domain.InstalledApp) {
	r.events = append(r.events, "app:"+app.PackageID)
}

func (r *recorder) OnValidSupportedOrigin(_ method.Identifier, o method.Origin) {
	r.events = append(r.events, "origin:"+string(o))
}

func (r *recorder) OnAllOriginsSupported(method.Identifier) { r.events = append(r.events, "all") }

func (r *recorder) OnFinishedVerification(method.Identifier) { r.events = append(r.events, "verified") }

func (r *recorder) OnFinishedUsingResources(method.Identifier) { r.events = append(r.events, "released") }

const bobApp = "https://bobpay.example/app.json"

func serveBob(fx *fixture, fp string, minVersion int64) {
	fx.dl.serve(bobPay, methodManifest([]string{"app.json"}, `["https://alicepay.example"]`))
	fx.dl.serve(bobApp, webAppManifest("com.bobpay", minVersion, fp))
}

func verify(t *testing.T, fx *fixture, apps []domain.InstalledApp, origins []method.Origin, refreshAfter time.Duration) []string {
	t.Helper()
	rec := &recorder{}
	NewVerifier(mustMethod(t, bobPay), apps, origins, fx.ad, rec).WithRefreshAfter(refreshAfter).Verify(context.Background())
	return rec.events
}

func TestVerifierNetworkPath(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)

	events := verify(t, fx, []domain.InstalledApp{bob}, []method.Origin{"https://alicepay.example", "https://other.example"}, 0)
	require.Equal(t, []string{"origin:https://alicepay.example", "app:com.bobpay", "verified", "released"}, events)

	rec, ok, err := fx.cache.GetMethodManifest(context.Background(), bobPay)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"com.bobpay", "https://alicepay.example"}, rec.Identifiers)
	require.NotEmpty(t, rec.Digest)

	secs, ok, _ := fx.cache.GetWebAppManifest(context.Background(), "com.bobpay")
	require.True(t, ok)
	require.Equal(t, []manifest.WebAppSection{{ID: "com.bobpay", MinVersion: 1, Fingerprints: []string{fpF1}}}, secs)
}

func TestVerifierRejects(t *testing.T) {
	cases := map[string]struct {
		fp         string
		minVersion int64
		version    int64
	}{
		"wrong fingerprint": {fp: fpF2, minVersion: 1, version: 3},
		"old version":       {fp: fpF1, minVersion: 5, version: 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t)
			serveBob(fx, tc.fp, tc.minVersion)
			bob := newApp(t, "com.bobpay", bobPay, tc.version, certF1)
			require.Equal(t, []string{"verified", "released"}, verify(t, fx, []domain.InstalledApp{bob}, nil, 0))
		})
	}
}

func TestVerifierFingerprintSetMustBeExact(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)
	bob.SigningCertificates = append(bob.SigningCertificates, certF2)
	require.Equal(t, []string{"verified", "released"}, verify(t, fx, []domain.InstalledApp{bob}, nil, 0))
}

func TestVerifierCachePathWithoutRefresh(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)
	origins := []method.Origin{"https://alicepay.example"}

	verify(t, fx, []domain.InstalledApp{bob}, origins, 0)
	before := fx.dl.total()

	events := verify(t, fx, []domain.InstalledApp{bob}, origins, time.Hour)
	require.Equal(t, []string{"origin:https://alicepay.example", "app:com.bobpay", "verified", "released"}, events)
	require.Equal(t, before, fx.dl.total(), "fresh cache must not hit the network")
}

func TestVerifierCachePathRefreshes(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)

	verify(t, fx, []domain.InstalledApp{bob}, nil, 0)
	require.Equal(t, 1, fx.dl.count(bobPay))

	events := verify(t, fx, []domain.InstalledApp{bob}, nil, 0)
	require.Equal(t, []string{"app:com.bobpay", "verified", "released"}, events, "refresh must not report twice")
	require.Equal(t, 2, fx.dl.count(bobPay))
	require.Equal(t, 2, fx.dl.count(bobApp))
}

func TestVerifierRefreshFailureOnlyReleases(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)
	verify(t, fx, []domain.InstalledApp{bob}, nil, 0)

	delete(fx.dl.bodies, bobPay)
	events := verify(t, fx, []domain.InstalledApp{bob}, nil, 0)
	require.Equal(t, []string{"app:com.bobpay", "verified", "released"}, events)
}

func TestVerifierDownloadFailure(t *testing.T) {
	fx := newFixture(t)
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)
	require.Equal(t, []string{"verified", "released"}, verify(t, fx, []domain.InstalledApp{bob}, nil, 0))
}

func TestVerifierWebAppFailureAfterOrigins(t *testing.T) {
	fx := newFixture(t)
	fx.dl.serve(bobPay, methodManifest([]string{"app.json", "missing.json"}, `"*"`))
	fx.dl.serve(bobApp, webAppManifest("com.bobpay", 1, fpF1))
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)

	events := verify(t, fx, []domain.InstalledApp{bob}, nil, 0)
	require.Equal(t, []string{"all", "verified", "released"}, events)
	_, ok, _ := fx.cache.GetMethodManifest(context.Background(), bobPay)
	require.False(t, ok, "a failed query must not cache")
}

func TestVerifierMalformedManifest(t *testing.T) {
	fx := newFixture(t)
	fx.dl.serve(bobPay, `{"default_applications": "nope"}`)
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)
	require.Equal(t, []string{"verified", "released"}, verify(t, fx, []domain.InstalledApp{bob}, nil, 0))
}

func TestVerifierAlgorithmUnavailable(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	fx.ad.Fingerprinter = brokenFingerprinter{}
	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)

	require.Equal(t, []string{"verified", "released"}, verify(t, fx, []domain.InstalledApp{bob}, nil, 0))
	require.Zero(t, fx.dl.total())
}

func TestVerifierStaleCacheFallsBackToNetwork(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(fx *fixture){
		"web app miss": func(fx *fixture) {
			_ = fx.cache.PutMethodManifest(ctx, bobPay, manifest.CacheRecord{Identifiers: []string{"com.bobpay", "https://alicepay.example"}, UpdatedAt: time.Now()})
		},
		"app not listed": func(fx *fixture) {
			_ = fx.cache.PutMethodManifest(ctx, bobPay, manifest.CacheRecord{Identifiers: []string{"com.other"}, UpdatedAt: time.Now()})
		},
		"origin not listed": func(fx *fixture) {
			_ = fx.cache.PutMethodManifest(ctx, bobPay, manifest.CacheRecord{Identifiers: []string{"com.bobpay", "https://x.example"}, UpdatedAt: time.Now()})
			_ = fx.cache.PutWebAppManifest(ctx, []manifest.WebAppSection{{ID: "com.bobpay", MinVersion: 1, Fingerprints: []string{fpF1}}})
		},
		"malformed record": func(fx *fixture) {
			_ = fx.cache.PutMethodManifest(ctx, bobPay, manifest.CacheRecord{Identifiers: []string{"https://bad.example/path"}, UpdatedAt: time.Now()})
		},
		"empty record": func(fx *fixture) {
			_ = fx.cache.PutMethodManifest(ctx, bobPay, manifest.CacheRecord{UpdatedAt: time.Now()})
		},
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t)
			serveBob(fx, fpF1, 1)
			seed(fx)
			bob := newApp(t, "com.bobpay", bobPay, 3, certF1)

			events := verify(t, fx, []domain.InstalledApp{bob}, []method.Origin{"https://alicepay.example"}, time.Hour)
			require.Contains(t, events, "app:com.bobpay")
			require.Equal(t, []string{"verified", "released"}, events[len(events)-2:])
			require.Equal(t, 1, fx.dl.count(bobPay), "stale cache must go to the network")
		})
	}
}

func TestVerifierWithoutDefaultCandidates(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)

	events := verify(t, fx, nil, []method.Origin{"https://alicepay.example"}, 0)
	require.Equal(t, []string{"origin:https://alicepay.example", "verified", "released"}, events)
	require.Zero(t, fx.dl.count(bobApp), "no candidates means no web app manifest downloads")
}

func TestVerifierManyWebAppManifests(t *testing.T) {
	fx := newFixture(t)
	var urls []string
	var apps []domain.InstalledApp
	for i := range 20 {
		u := fmt.Sprintf("https://bobpay.example/app%d.json", i)
		urls = append(urls, u)
		pkg := fmt.Sprintf("com.bobpay.n%d", i)
		fx.dl.serve(u, webAppManifest(pkg, 1, fpF1))
		apps = append(apps, newApp(t, pkg, bobPay, 1, certF1))
	}
	fx.dl.serve(bobPay, methodManifest(urls, ""))

	events := verify(t, fx, apps, nil, 0)
	require.Len(t, events, 22)
	require.Equal(t, []string{"verified", "released"}, events[20:])
}

// lookupRegistry resolves fingerprints by package and counts lookups
type lookupRegistry struct {
	fps   map[string][]string
	err   error
	calls int
}

func (r *lookupRegistry) ListInstalled(context.Context) ([]domain.InstalledApp, error) { return nil, nil }

func (r *lookupRegistry) SigningFingerprints(_ context.Context, pkg string) ([]string, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.fps[pkg], nil
}

func TestVerifierRegistryFingerprints(t *testing.T) {
	cases := map[string]struct {
		reg   *lookupRegistry
		cert  []byte
		want  []string
		calls int
	}{
		"resolved by registry": {
			reg:   &lookupRegistry{fps: map[string][]string{"com.bobpay": {strings.ToLower(fpF1)}}},
			want:  []string{"origin:https://alicepay.example", "app:com.bobpay", "verified", "released"},
			calls: 1,
		},
		"registry lookup fails": {
			reg:   &lookupRegistry{err: fmt.Errorf("package manager gone")},
			want:  []string{"origin:https://alicepay.example", "verified", "released"},
			calls: 1,
		},
		"own certificate wins": {
			reg:   &lookupRegistry{fps: map[string][]string{"com.bobpay": {fpF2}}},
			cert:  certF1,
			want:  []string{"origin:https://alicepay.example", "app:com.bobpay", "verified", "released"},
			calls: 0,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t)
			serveBob(fx, fpF1, 1)
			bob := newApp(t, "com.bobpay", bobPay, 3, tc.cert)

			rec := &recorder{}
			NewVerifier(mustMethod(t, bobPay), []domain.InstalledApp{bob}, []method.Origin{"https://alicepay.example"}, fx.ad, rec).
				WithRegistry(tc.reg).
				Verify(context.Background())
			require.Equal(t, tc.want, rec.events)
			require.Equal(t, tc.calls, tc.reg.calls)
		})
	}
}
