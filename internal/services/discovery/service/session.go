package service

import (
	"context"
	"slices"
	"strings"
	"sync"

	perr "paydisco/internal/platform/errors"
	pstrings "paydisco/internal/platform/strings"
	"paydisco/internal/services/discovery/domain"

	"golang.org/x/sync/singleflight"
)

// Session owns the passes started by one caller lifetime. Identical
// concurrent passes against the session registry share one run
type Session struct {
	finder *Finder
	reg    domain.Registry
	group  singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSession builds a session. reg may be nil when every pass supplies its
// own registry
func NewSession(f *Finder, reg domain.Registry) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{finder: f, reg: reg, ctx: ctx, cancel: cancel}
}

// Discover runs a pass against the session registry
func (s *Session) Discover(ctx context.Context, methods []string) ([]domain.PaymentApp, error) {
	if s.reg == nil {
		return nil, perr.InvalidArgf("no device registry configured")
	}
	ch := s.group.DoChan(passKey(methods), func() (any, error) {
		return s.run(ctx, s.reg, methods)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneApps(res.Val.([]domain.PaymentApp)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DiscoverWith runs an unshared pass against reg
func (s *Session) DiscoverWith(ctx context.Context, reg domain.Registry, methods []string) ([]domain.PaymentApp, error) {
	return s.run(ctx, reg, methods)
}

// run starts a pass detached from the caller's cancellation and waits for
// its apps. Cache refresh continues in the background until Close
func (s *Session) run(ctx context.Context, reg domain.Registry, methods []string) ([]domain.PaymentApp, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, perr.Unavailablef("discovery session closed")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.ctx, cancel)

	sink := newCollector()
	p, err := s.finder.Start(pctx, reg, methods, sink)
	if err != nil {
		stop()
		cancel()
		s.wg.Done()
		return nil, err
	}
	go func() {
		defer s.wg.Done()
		<-p.Released()
		stop()
		cancel()
	}()

	<-sink.done
	return sink.Apps(), nil
}

// Close stops new passes and waits for running ones, including their
// background cache refresh, until ctx is done. Whatever is still running
// then is canceled and drained, and ctx's error is returned
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	s.cancel()
	<-done
	return ctx.Err()
}

func passKey(methods []string) string {
	ms := pstrings.Compact(methods)
	slices.Sort(ms)
	return strings.Join(ms, "\n")
}

func cloneApps(in []domain.PaymentApp) []domain.PaymentApp {
	out := make([]domain.PaymentApp, len(in))
	for i, a := range in {
		a.Methods = slices.Clone(a.Methods)
		out[i] = a
	}
	return out
}
