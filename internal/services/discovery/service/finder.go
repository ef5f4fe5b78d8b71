package service

import (
	"context"
	"slices"
	"time"

	"paydisco/internal/core/method"
	perr "paydisco/internal/platform/errors"
	"paydisco/internal/platform/logger"
	"paydisco/internal/services/discovery/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMaxURIMethods caps the URL methods verified in one pass
const DefaultMaxURIMethods = 10

// FinderConfig tunes a Finder
type FinderConfig struct {
	MaxURIMethods int
	RefreshAfter  time.Duration
}

// Finder runs discovery passes: it buckets installed apps by method, runs
// one verification query per URL method and reports the accepted apps
type Finder struct {
	ad  Adapters
	cfg FinderConfig
}

// NewFinder builds a Finder over the shared adapters
func NewFinder(ad Adapters, cfg FinderConfig) *Finder {
	if cfg.MaxURIMethods <= 0 {
		cfg.MaxURIMethods = DefaultMaxURIMethods
	}
	return &Finder{ad: ad, cfg: cfg}
}

// Pass is a running discovery pass
type Pass struct {
	ID       string
	released chan struct{}
}

// Released is closed once every query stopped using adapter resources
func (p *Pass) Released() <-chan struct{} { return p.released }

// Find runs a pass and waits until its resources are released
func (f *Finder) Find(ctx context.Context, reg domain.Registry, requested []string, sink domain.Sink) error {
	p, err := f.Start(ctx, reg, requested, sink)
	if err != nil {
		return err
	}
	<-p.Released()
	return nil
}

// Start lists the installed apps and launches the pass. The sink sees
// OnAllPaymentAppsCreated exactly once, also when listing fails
func (f *Finder) Start(ctx context.Context, reg domain.Registry, requested []string, sink domain.Sink) (*Pass, error) {
	p := &Pass{ID: uuid.NewString(), released: make(chan struct{})}
	ctx = logger.WithPass(ctx, p.ID)
	log := logger.C(ctx).With().Str("component", "finder").Logger()

	st := newPassState(requested)
	if len(st.methods) == 0 {
		log.Debug().Strs("requested", requested).Msg("no recognized payment methods requested")
		sink.OnAllPaymentAppsCreated()
		f.release()
		close(p.released)
		return p, nil
	}

	apps, err := reg.ListInstalled(ctx)
	if err != nil {
		sink.OnAllPaymentAppsCreated()
		close(p.released)
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "list installed payment apps")
	}
	st.bucket(apps)

	queries, overflow := st.plan(f.cfg.MaxURIMethods)
	if len(overflow) > 0 {
		log.Warn().Int("max", f.cfg.MaxURIMethods).Strs("skipped", overflow).Msg("too many payment method manifests to verify")
	}
	log.Debug().Int("apps", len(apps)).Int("queries", len(queries)).Msg("discovery pass started")

	if len(queries) == 0 {
		st.emit(sink, log)
		f.release()
		close(p.released)
		return p, nil
	}

	events := make(chan event)
	for _, q := range queries {
		v := NewVerifier(q.method, q.apps, q.origins, f.ad, relay{ch: events}).
			WithRefreshAfter(f.cfg.RefreshAfter).
			WithRegistry(reg)
		go v.Verify(ctx)
	}
	go f.loop(events, len(queries), st, sink, log, p.released)
	return p, nil
}

// loop owns the pass state. It reports apps once every query finished
// verification and releases adapters once every query finished using them
func (f *Finder) loop(events <-chan event, n int, st *passState, sink domain.Sink, log zerolog.Logger, released chan<- struct{}) {
	pendingVerification, pendingResources := n, n
	for pendingVerification > 0 || pendingResources > 0 {
		ev := <-events
		switch ev.kind {
		case evValidApp:
			st.verified(ev.method, ev.app)
		case evValidOrigin:
			st.validOrigin(ev.method, ev.origin)
		case evAllOrigins:
			st.allOrigins(ev.method)
		case evFinishedVerification:
			pendingVerification--
			if pendingVerification == 0 {
				st.reconcile()
				st.emit(sink, log)
			}
		case evFinishedResources:
			pendingResources--
		}
	}
	f.release()
	close(released)
}

// release lets the transport drop pooled connections
func (f *Finder) release() {
	if c, ok := f.ad.Downloader.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

type eventKind uint8

const (
	evValidApp eventKind = iota + 1
	evValidOrigin
	evAllOrigins
	evFinishedVerification
	evFinishedResources
)

type event struct {
	kind   eventKind
	method method.Identifier
	app    domain.InstalledApp
	origin method.Origin
}

// relay forwards query callbacks onto the pass channel
type relay struct{ ch chan<- event }

func (r relay) OnValidDefaultApp(m method.Identifier, app domain.InstalledApp) {
	r.ch <- event{kind: evValidApp, method: m, app: app}
}

func (r relay) OnValidSupportedOrigin(m method.Identifier, o method.Origin) {
	r.ch <- event{kind: evValidOrigin, method: m, origin: o}
}

func (r relay) OnAllOriginsSupported(m method.Identifier) {
	r.ch <- event{kind: evAllOrigins, method: m}
}

func (r relay) OnFinishedVerification(m method.Identifier) {
	r.ch <- event{kind: evFinishedVerification, method: m}
}

func (r relay) OnFinishedUsingResources(m method.Identifier) {
	r.ch <- event{kind: evFinishedResources, method: m}
}

// collector is a Sink that gathers apps for synchronous callers
type collector struct {
	apps []domain.PaymentApp
	done chan struct{}
}

func newCollector() *collector { return &collector{done: make(chan struct{})} }

func (c *collector) OnPaymentAppCreated(app domain.PaymentApp) { c.apps = append(c.apps, app) }

func (c *collector) OnAllPaymentAppsCreated() { close(c.done) }

// Apps returns the collected apps once Done is closed
func (c *collector) Apps() []domain.PaymentApp { return slices.Clone(c.apps) }
