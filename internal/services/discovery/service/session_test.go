package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"paydisco/internal/adapters/registry"
	perr "paydisco/internal/platform/errors"
	"paydisco/internal/services/discovery/domain"

	"github.com/stretchr/testify/require"
)

func TestSessionDiscover(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	reg := registry.NewStatic([]domain.InstalledApp{newApp(t, "com.bobpay", bobPay, 3, certF1)})
	s := NewSession(NewFinder(fx.ad, FinderConfig{}), reg)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	apps, err := s.Discover(context.Background(), []string{bobPay})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, "com.bobpay", apps[0].ID)

	apps[0].Methods[0] = "mutated"
	again, err := s.Discover(context.Background(), []string{bobPay})
	require.NoError(t, err)
	require.Equal(t, []string{bobPay}, again[0].Methods)
}

func TestSessionConcurrentPasses(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	reg := registry.NewStatic([]domain.InstalledApp{newApp(t, "com.bobpay", bobPay, 3, certF1)})
	s := NewSession(NewFinder(fx.ad, FinderConfig{}), reg)

	var wg sync.WaitGroup
	results := make([][]domain.PaymentApp, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.Discover(context.Background(), []string{bobPay, " " + bobPay})
		}()
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func TestSessionDiscoverWith(t *testing.T) {
	fx := newFixture(t)
	s := NewSession(NewFinder(fx.ad, FinderConfig{}), nil)

	_, err := s.Discover(context.Background(), []string{"basic-card"})
	require.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))

	reg := registry.NewStatic([]domain.InstalledApp{newApp(t, "com.cards", "basic-card", 1, nil)})
	apps, err := s.DiscoverWith(context.Background(), reg, []string{"basic-card"})
	require.NoError(t, err)
	require.Len(t, apps, 1)
}

func TestSessionClosed(t *testing.T) {
	fx := newFixture(t)
	reg := registry.NewStatic(nil)
	s := NewSession(NewFinder(fx.ad, FinderConfig{}), reg)
	require.NoError(t, s.Close(context.Background()))

	_, err := s.Discover(context.Background(), []string{"basic-card"})
	require.True(t, perr.IsCode(err, perr.ErrorCodeUnavailable))
}

// warmSession runs one network pass so the next pass is served from cache
func warmSession(t *testing.T) (*fixture, *Session) {
	t.Helper()
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	reg := registry.NewStatic([]domain.InstalledApp{newApp(t, "com.bobpay", bobPay, 3, certF1)})
	s := NewSession(NewFinder(fx.ad, FinderConfig{}), reg)

	_, err := s.Discover(context.Background(), []string{bobPay})
	require.NoError(t, err)
	require.Equal(t, 1, fx.dl.count(bobPay))
	return fx, s
}

func TestSessionCloseWaitsForRefresh(t *testing.T) {
	fx, s := warmSession(t)
	before, ok, err := fx.cache.GetMethodManifest(context.Background(), bobPay)
	require.NoError(t, err)
	require.True(t, ok)

	release := make(chan struct{})
	fx.dl.block = release
	apps, err := s.Discover(context.Background(), []string{bobPay})
	require.NoError(t, err)
	require.Len(t, apps, 1)

	// the refresh is still in flight when Close starts
	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	require.Equal(t, 2, fx.dl.count(bobPay))

	after, ok, err := fx.cache.GetMethodManifest(context.Background(), bobPay)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestSessionCloseCancelsRefreshAfterGrace(t *testing.T) {
	fx, s := warmSession(t)

	fx.dl.block = make(chan struct{})
	apps, err := s.Discover(context.Background(), []string{bobPay})
	require.NoError(t, err)
	require.Len(t, apps, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = s.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, 1, fx.dl.count(bobPay))

	_, err = s.Discover(context.Background(), []string{bobPay})
	require.True(t, perr.IsCode(err, perr.ErrorCodeUnavailable))
}

func TestPassKey(t *testing.T) {
	require.Equal(t, passKey([]string{"b", " a", "a"}), passKey([]string{"a", "b"}))
	require.NotEqual(t, passKey([]string{"a"}), passKey([]string{"a", "b"}))
}
