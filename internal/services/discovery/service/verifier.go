package service

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"time"

	"paydisco/internal/core/manifest"
	"paydisco/internal/core/method"
	perr "paydisco/internal/platform/errors"
	"paydisco/internal/platform/logger"
	"paydisco/internal/services/discovery/domain"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// webAppFetchLimit bounds concurrent web app manifest downloads per query
const webAppFetchLimit = 8

// Callback receives the outcome of one verification query. Calls arrive in
// order from the query goroutine. OnFinishedVerification and
// OnFinishedUsingResources are each called exactly once, in that order
type Callback interface {
	OnValidDefaultApp(m method.Identifier, app domain.InstalledApp)
	OnValidSupportedOrigin(m method.Identifier, origin method.Origin)
	OnAllOriginsSupported(m method.Identifier)
	OnFinishedVerification(m method.Identifier)
	OnFinishedUsingResources(m method.Identifier)
}

// Adapters are the ports a verification query talks to
type Adapters struct {
	Fingerprinter domain.Fingerprinter
	Cache         domain.ManifestCache
	Downloader    domain.Downloader
	Parser        domain.Parser
}

// Verifier checks one URL method against its manifest. It is single use
type Verifier struct {
	method  method.Identifier
	apps    []domain.InstalledApp
	origins map[method.Origin]struct{}

	ad           Adapters
	reg          domain.Registry
	cb           Callback
	refreshAfter time.Duration
	now          func() time.Time
	log          zerolog.Logger

	fingerprints map[string][]string
	stale        bool
	failed       bool
	verified     bool
	released     bool

	sentApps    map[string]struct{}
	sentOrigins map[method.Origin]struct{}
	sentAll     bool
}

// NewVerifier builds a query for m. apps declare m as their default method,
// origins are the requesting origins of apps declaring m as a non-default
// method
func NewVerifier(m method.Identifier, apps []domain.InstalledApp, origins []method.Origin, ad Adapters, cb Callback) *Verifier {
	return &Verifier{
		method:      m,
		apps:        slices.Clone(apps),
		origins:     lo.Keyify(origins),
		ad:          ad,
		cb:          cb,
		now:         time.Now,
		log:         *logger.Named("verifier"),
		sentApps:    map[string]struct{}{},
		sentOrigins: map[method.Origin]struct{}{},
	}
}

// WithRefreshAfter sets how old a cached record must be before a
// cache-satisfied query refreshes it. Zero refreshes every time
func (v *Verifier) WithRefreshAfter(d time.Duration) *Verifier {
	v.refreshAfter = d
	return v
}

// WithRegistry lets the query ask reg for the fingerprints of apps listed
// without signing material
func (v *Verifier) WithRegistry(reg domain.Registry) *Verifier {
	v.reg = reg
	return v
}

// Verify runs the query to completion. Both terminal callbacks have fired
// when it returns
func (v *Verifier) Verify(ctx context.Context) {
	v.log = logger.C(ctx).With().Str("component", "verifier").Str("method", v.method.String()).Logger()

	if err := v.init(ctx); err != nil {
		v.fail(err)
		return
	}

	rec, cached, hit := v.lookupCachedMethod(ctx)
	if !hit {
		v.stale = true
		v.fetch(ctx, "")
		return
	}
	v.sendOrigins(cached.AllOriginsSupported, cached.SupportedOrigins)

	sections, ok := v.lookupCachedWebApps(ctx)
	if !ok {
		v.stale = true
		v.fetch(ctx, rec.Digest)
		return
	}
	v.match(sections)
	v.finishVerification()

	if v.refreshAfter > 0 && v.now().Sub(rec.UpdatedAt) < v.refreshAfter {
		v.finishResources()
		return
	}
	v.fetch(ctx, rec.Digest)
}

// init computes live fingerprints of the default app candidates
func (v *Verifier) init(ctx context.Context) error {
	v.fingerprints = make(map[string][]string, len(v.apps))
	for _, app := range v.apps {
		fps, err := v.ad.Fingerprinter.Fingerprints(ctx, app)
		if errors.Is(err, domain.ErrAlgorithmUnavailable) || perr.IsCode(err, perr.ErrorCodeFingerprint) {
			return err
		}
		if err != nil {
			v.log.Warn().Err(err).Str("package", app.PackageID).Msg("signing fingerprints unavailable for app")
			continue
		}
		if len(fps) == 0 && v.reg != nil {
			fps = v.lookupFingerprints(ctx, app.PackageID)
		}
		v.fingerprints[app.PackageID] = fps
	}
	return nil
}

// lookupFingerprints asks the registry. A failed lookup leaves the app
// without fingerprints so it cannot match any section
func (v *Verifier) lookupFingerprints(ctx context.Context, pkg string) []string {
	fps, err := v.reg.SigningFingerprints(ctx, pkg)
	if err != nil {
		v.log.Debug().Err(err).Str("package", pkg).Msg("registry fingerprint lookup failed")
		return nil
	}
	out := make([]string, 0, len(fps))
	for _, fp := range fps {
		if n, ok := manifest.NormalizeFingerprint(fp); ok {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// lookupCachedMethod returns the cached record only when it is consistent
// with the current candidates
func (v *Verifier) lookupCachedMethod(ctx context.Context) (manifest.CacheRecord, manifest.CachedMethod, bool) {
	rec, ok, err := v.ad.Cache.GetMethodManifest(ctx, v.method.String())
	if err != nil {
		v.log.Warn().Err(err).Msg("method manifest cache read failed")
		return manifest.CacheRecord{}, manifest.CachedMethod{}, false
	}
	if !ok || len(rec.Identifiers) == 0 {
		return manifest.CacheRecord{}, manifest.CachedMethod{}, false
	}
	cached, err := manifest.Decode(rec.Identifiers)
	if err != nil {
		v.log.Warn().Err(err).Msg("cached method manifest is malformed")
		return manifest.CacheRecord{}, manifest.CachedMethod{}, false
	}

	ids := lo.Keyify(cached.AppIDs)
	for _, app := range v.apps {
		if _, ok := ids[app.PackageID]; !ok {
			v.log.Debug().Str("package", app.PackageID).Msg("cached manifest does not list app")
			return manifest.CacheRecord{}, manifest.CachedMethod{}, false
		}
	}
	if !cached.AllOriginsSupported {
		have := lo.Keyify(cached.SupportedOrigins)
		for o := range v.origins {
			if _, ok := have[o]; !ok {
				v.log.Debug().Str("origin", string(o)).Msg("cached manifest does not list origin")
				return manifest.CacheRecord{}, manifest.CachedMethod{}, false
			}
		}
	}
	return rec, cached, true
}

// lookupCachedWebApps loads the cached sections of every candidate. One miss
// sends the whole query to the network
func (v *Verifier) lookupCachedWebApps(ctx context.Context) ([]manifest.WebAppSection, bool) {
	var out []manifest.WebAppSection
	for _, app := range v.apps {
		secs, ok, err := v.ad.Cache.GetWebAppManifest(ctx, app.PackageID)
		if err != nil {
			v.log.Warn().Err(err).Str("package", app.PackageID).Msg("web app manifest cache read failed")
			return nil, false
		}
		if !ok {
			return nil, false
		}
		out = append(out, secs...)
	}
	return out, true
}

// fetch downloads and parses the method manifest and its web app manifests,
// reports results while the cache is stale, and rewrites the cache
func (v *Verifier) fetch(ctx context.Context, prevDigest string) {
	dl, err := v.ad.Downloader.DownloadMethodManifest(ctx, v.method.URL())
	if err != nil {
		v.fail(err)
		return
	}
	m, err := v.ad.Parser.ParseMethodManifest(dl.URL, dl.Body)
	if err != nil {
		v.fail(perr.WithOp(err, dl.URL.String()))
		return
	}
	if v.stale {
		v.sendOrigins(m.AllOriginsSupported, m.SupportedOrigins)
	}

	var manifests [][]manifest.WebAppSection
	if len(v.apps) > 0 && len(m.WebAppManifestURLs) > 0 {
		manifests, err = v.fetchWebApps(ctx, m.WebAppManifestURLs)
		if err != nil {
			v.fail(err)
			return
		}
	}
	all := lo.Flatten(manifests)
	if v.stale {
		v.match(all)
	}

	v.store(ctx, m, manifests, prevDigest)
	v.finishVerification()
	v.finishResources()
}

// fetchWebApps resolves every web app manifest concurrently. The first
// failure cancels the rest
func (v *Verifier) fetchWebApps(ctx context.Context, urls []*url.URL) ([][]manifest.WebAppSection, error) {
	out := make([][]manifest.WebAppSection, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(webAppFetchLimit)
	for i, u := range urls {
		g.Go(func() error {
			dl, err := v.ad.Downloader.DownloadWebAppManifest(gctx, u)
			if err != nil {
				return err
			}
			secs, err := v.ad.Parser.ParseWebAppManifest(dl.Body)
			if err != nil {
				return perr.WithOp(err, u.String())
			}
			out[i] = secs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// match reports every candidate whose id, version and exact fingerprint set
// satisfy a section
func (v *Verifier) match(sections []manifest.WebAppSection) {
	for _, app := range v.apps {
		fps, ok := v.fingerprints[app.PackageID]
		if !ok {
			continue
		}
		for _, sec := range sections {
			if sec.ID != app.PackageID {
				continue
			}
			if app.Version < sec.MinVersion {
				v.log.Debug().Str("package", app.PackageID).Int64("version", app.Version).
					Int64("min_version", sec.MinVersion).Msg("app version below manifest minimum")
				continue
			}
			if !sameFingerprints(fps, sec.Fingerprints) {
				v.log.Info().Str("package", app.PackageID).Msg("signing fingerprints do not match manifest")
				continue
			}
			v.sendApp(app)
			break
		}
	}
}

func sameFingerprints(live, declared []string) bool {
	a, b := lo.Uniq(live), lo.Uniq(declared)
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	extra, missing := lo.Difference(a, b)
	return len(extra) == 0 && len(missing) == 0
}

// store writes the fetched manifests back. Cache errors are logged only
func (v *Verifier) store(ctx context.Context, m manifest.MethodManifest, manifests [][]manifest.WebAppSection, prevDigest string) {
	var ids []string
	for _, secs := range manifests {
		if len(secs) == 0 {
			continue
		}
		if err := v.ad.Cache.PutWebAppManifest(ctx, secs); err != nil {
			v.log.Warn().Err(err).Msg("web app manifest cache write failed")
		}
		ids = append(ids, lo.Map(secs, func(s manifest.WebAppSection, _ int) string { return s.ID })...)
	}

	rec := manifest.CacheRecord{
		Identifiers: manifest.Identifiers(ids, m),
		Digest:      m.Digest,
		UpdatedAt:   v.now().UTC(),
	}
	if err := v.ad.Cache.PutMethodManifest(ctx, v.method.String(), rec); err != nil {
		v.log.Warn().Err(err).Msg("method manifest cache write failed")
		return
	}
	v.log.Debug().
		Bool("changed", prevDigest != m.Digest).
		Int("identifiers", len(rec.Identifiers)).
		Msg("method manifest cached")
}

// fail handles the first failure only. Results already reported stand
func (v *Verifier) fail(err error) {
	if v.failed {
		return
	}
	v.failed = true
	v.log.Warn().Err(err).Bool("cache_stale", v.stale).Msg("manifest verification failed")
	v.finishVerification()
	v.finishResources()
}

func (v *Verifier) sendApp(app domain.InstalledApp) {
	if _, dup := v.sentApps[app.PackageID]; dup {
		return
	}
	v.sentApps[app.PackageID] = struct{}{}
	v.cb.OnValidDefaultApp(v.method, app)
}

func (v *Verifier) sendOrigins(all bool, origins []method.Origin) {
	if all {
		if !v.sentAll {
			v.sentAll = true
			v.cb.OnAllOriginsSupported(v.method)
		}
		return
	}
	for _, o := range origins {
		if _, want := v.origins[o]; !want {
			continue
		}
		if _, dup := v.sentOrigins[o]; dup {
			continue
		}
		v.sentOrigins[o] = struct{}{}
		v.cb.OnValidSupportedOrigin(v.method, o)
	}
}

func (v *Verifier) finishVerification() {
	if v.verified {
		return
	}
	v.verified = true
	v.cb.OnFinishedVerification(v.method)
}

func (v *Verifier) finishResources() {
	if v.released {
		return
	}
	v.released = true
	v.cb.OnFinishedUsingResources(v.method)
}
