package service

import (
	"context"
	"fmt"
	"testing"

	"paydisco/internal/services/discovery/domain"

	"github.com/stretchr/testify/require"
)

func TestFindZeroCandidates(t *testing.T) {
	fx := newFixture(t)
	f := NewFinder(fx.ad, FinderConfig{})

	sink := find(t, f, nil, bobPay)
	require.Empty(t, sink.apps)
	require.Zero(t, fx.dl.total())

	other := newApp(t, "com.other", "https://other.example/pay", 1, certF1)
	sink = find(t, f, []domain.InstalledApp{other}, bobPay)
	require.Empty(t, sink.apps)
	require.Zero(t, fx.dl.total())
}

func TestFindUnrecognizedMethods(t *testing.T) {
	fx := newFixture(t)
	f := NewFinder(fx.ad, FinderConfig{})
	sink := find(t, f, []domain.InstalledApp{newApp(t, "com.bobpay", bobPay, 1, certF1)}, "visa", "http://bobpay.example/pay")
	require.Empty(t, sink.apps)
}

func TestFindMatchingFingerprint(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	f := NewFinder(fx.ad, FinderConfig{})

	bob := newApp(t, "com.bobpay", bobPay, 3, certF1)
	sink := find(t, f, []domain.InstalledApp{bob}, bobPay)
	require.Equal(t, []string{"com.bobpay"}, sink.ids())
	require.Equal(t, []string{bobPay}, sink.apps[0].Methods)
	require.Equal(t, domain.KindNative, sink.apps[0].Kind)
	require.False(t, sink.apps[0].NeedsInstallation())
	require.False(t, sink.apps[0].IsAutofill())
}

func TestFindMismatchedFingerprint(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	f := NewFinder(fx.ad, FinderConfig{})

	bob := newApp(t, "com.bobpay", bobPay, 3, certF2)
	sink := find(t, f, []domain.InstalledApp{bob}, bobPay)
	require.Empty(t, sink.apps)
}

func TestFindAllOriginsSupported(t *testing.T) {
	fx := newFixture(t)
	fx.dl.serve(bobPay, methodManifest(nil, `"*"`))
	f := NewFinder(fx.ad, FinderConfig{})

	// com.b is unsigned and its own default method has no manifest
	b := newApp(t, "com.b", bPay, 1, nil, bobPay)
	sink := find(t, f, []domain.InstalledApp{b}, bobPay)
	require.Equal(t, []string{"com.b"}, sink.ids())
	require.Equal(t, []string{bobPay}, sink.methodsOf("com.b"))
}

func TestFindSupportedOriginNeedsVerifiedDefault(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	fx.dl.serve(alicePay, methodManifest([]string{"https://alicepay.example/app.json"}, ""))
	fx.dl.serve("https://alicepay.example/app.json", webAppManifest("com.alicepay", 1, fpF2))
	f := NewFinder(fx.ad, FinderConfig{})

	alice := newApp(t, "com.alicepay", alicePay, 1, certF2, bobPay)
	sink := find(t, f, []domain.InstalledApp{alice}, bobPay)
	require.Equal(t, []string{"com.alicepay"}, sink.ids())
	require.Equal(t, []string{bobPay}, sink.methodsOf("com.alicepay"))
	require.Equal(t, 1, fx.dl.count(alicePay), "default method of a supporting app must be verified")

	// same origin but the app fails its own verification
	fx2 := newFixture(t)
	serveBob(fx2, fpF1, 1)
	fx2.dl.serve(alicePay, methodManifest([]string{"https://alicepay.example/app.json"}, ""))
	fx2.dl.serve("https://alicepay.example/app.json", webAppManifest("com.alicepay", 1, fpF1))
	sink = find(t, NewFinder(fx2.ad, FinderConfig{}), []domain.InstalledApp{alice}, bobPay)
	require.Empty(t, sink.apps)
}

func TestFindUnlistedOriginRejected(t *testing.T) {
	fx := newFixture(t)
	fx.dl.serve(bobPay, methodManifest(nil, `["https://carol.example"]`))
	fx.dl.serve(alicePay, methodManifest([]string{"https://alicepay.example/app.json"}, ""))
	fx.dl.serve("https://alicepay.example/app.json", webAppManifest("com.alicepay", 1, fpF2))

	alice := newApp(t, "com.alicepay", alicePay, 1, certF2, bobPay)
	sink := find(t, NewFinder(fx.ad, FinderConfig{}), []domain.InstalledApp{alice}, bobPay, alicePay)
	require.Equal(t, []string{"com.alicepay"}, sink.ids())
	require.Equal(t, []string{alicePay}, sink.methodsOf("com.alicepay"))
}

func TestFindTokenMethods(t *testing.T) {
	fx := newFixture(t)
	f := NewFinder(fx.ad, FinderConfig{})

	card := newApp(t, "com.cards", "basic-card", 1, nil, "tokenized-card")
	sink := find(t, f, []domain.InstalledApp{card}, "basic-card", "tokenized-card", "interledger")
	require.Equal(t, []string{"com.cards"}, sink.ids())
	require.Equal(t, []string{"basic-card", "tokenized-card"}, sink.methodsOf("com.cards"))
	require.Zero(t, fx.dl.total())
}

func TestFindMergesMethodsPerApp(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	f := NewFinder(fx.ad, FinderConfig{})

	bob := newApp(t, "com.bobpay", bobPay, 3, certF1, "basic-card")
	sink := find(t, f, []domain.InstalledApp{bob}, bobPay, "basic-card")
	require.Len(t, sink.apps, 1)
	require.Equal(t, []string{"basic-card", bobPay}, sink.apps[0].Methods)
}

func TestFindCountdownWithFailures(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	f := NewFinder(fx.ad, FinderConfig{})

	apps := []domain.InstalledApp{
		newApp(t, "com.bobpay", bobPay, 3, certF1),
		newApp(t, "com.one", "https://one.example/pay", 1, certF1),
		newApp(t, "com.two", "https://two.example/pay", 1, certF1),
	}
	sink := find(t, f, apps, bobPay, "https://one.example/pay", "https://two.example/pay")
	require.Equal(t, []string{"com.bobpay"}, sink.ids())
	require.Equal(t, 1, fx.dl.count("https://one.example/pay"))
	require.Equal(t, 1, fx.dl.count("https://two.example/pay"))
}

func TestFindCapsURIMethods(t *testing.T) {
	fx := newFixture(t)
	f := NewFinder(fx.ad, FinderConfig{MaxURIMethods: 3})

	var apps []domain.InstalledApp
	var methods []string
	for i := range 5 {
		m := fmt.Sprintf("https://m%d.example/pay", i)
		methods = append(methods, m)
		apps = append(apps, newApp(t, fmt.Sprintf("com.m%d", i), m, 1, certF1))
	}
	find(t, f, apps, methods...)
	require.Equal(t, 3, fx.dl.total())
	for i := range 3 {
		require.Equal(t, 1, fx.dl.count(methods[i]), "sorted methods are queried first")
	}
	require.Equal(t, DefaultMaxURIMethods, NewFinder(fx.ad, FinderConfig{}).cfg.MaxURIMethods)
}

func TestFindDedupe(t *testing.T) {
	fx := newFixture(t)
	f := NewFinder(fx.ad, FinderConfig{})

	lite := newApp(t, "com.pay.lite", "basic-card", 1, nil)
	lite.PreferredRelatedAppIDs = []string{"com.pay", "com.pay.lite"}
	full := newApp(t, "com.pay", "basic-card", 1, nil)
	legacy := newApp(t, "com.pay.legacy", "basic-card", 1, nil)
	hider := newApp(t, "com.pay.v2", "basic-card", 1, nil)
	hider.AppIDToHide = "com.pay.legacy"
	self := newApp(t, "com.self", "basic-card", 1, nil)
	self.PreferredRelatedAppIDs = []string{"com.self"}
	self.AppIDToHide = "com.self"

	sink := find(t, f, []domain.InstalledApp{lite, full, legacy, hider, self}, "basic-card")
	require.Equal(t, []string{"com.pay", "com.pay.v2", "com.self"}, sink.ids())
}

func TestFindIdempotent(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	fx.dl.serve(alicePay, methodManifest([]string{"https://alicepay.example/app.json"}, ""))
	fx.dl.serve("https://alicepay.example/app.json", webAppManifest("com.alicepay", 1, fpF2))
	f := NewFinder(fx.ad, FinderConfig{})

	apps := []domain.InstalledApp{
		newApp(t, "com.bobpay", bobPay, 3, certF1),
		newApp(t, "com.alicepay", alicePay, 1, certF2, bobPay),
		newApp(t, "com.cards", "basic-card", 1, nil),
	}
	first := find(t, f, apps, bobPay, "basic-card")
	second := find(t, f, apps, bobPay, "basic-card")
	require.Equal(t, first.apps, second.apps)
	require.Equal(t, []string{"com.alicepay", "com.bobpay", "com.cards"}, first.ids())
}

func TestFindAlgorithmUnavailable(t *testing.T) {
	fx := newFixture(t)
	serveBob(fx, fpF1, 1)
	fx.ad.Fingerprinter = brokenFingerprinter{}

	sink := find(t, NewFinder(fx.ad, FinderConfig{}), []domain.InstalledApp{newApp(t, "com.bobpay", bobPay, 3, certF1)}, bobPay)
	require.Empty(t, sink.apps)
}

type failingRegistry struct{}

func (failingRegistry) ListInstalled(context.Context) ([]domain.InstalledApp, error) {
	return nil, fmt.Errorf("package manager gone")
}

func (failingRegistry) SigningFingerprints(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("package manager gone")
}

func TestFindRegistryFailure(t *testing.T) {
	fx := newFixture(t)
	sink := &recordingSink{t: t}
	err := NewFinder(fx.ad, FinderConfig{}).Find(context.Background(), failingRegistry{}, []string{bobPay}, sink)
	require.Error(t, err)
	require.Equal(t, 1, sink.done)
}
