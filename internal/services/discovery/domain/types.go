package domain

import (
	"net/url"
	"slices"

	"paydisco/internal/core/method"

	"github.com/samber/mo"
)

// InstalledApp is what the device registry reports for one payment handler
type InstalledApp struct {
	PackageID    string
	ActivityName string
	Label        string

	// DefaultMethod is the method the app handles as its own, if any
	DefaultMethod     mo.Option[method.Identifier]
	AdditionalMethods []method.Identifier

	Version int64

	// SigningFingerprints are pre-resolved by the OS. When empty the
	// fingerprinter derives them from SigningCertificates
	SigningFingerprints []string
	SigningCertificates [][]byte

	PreferredRelatedAppIDs []string
	AppIDToHide            string
}

// Declares reports whether the app claims m as default or additional method
func (a InstalledApp) Declares(m method.Identifier) bool {
	if d, ok := a.DefaultMethod.Get(); ok && d.String() == m.String() {
		return true
	}
	return a.DeclaresAdditional(m)
}

// DeclaresAdditional reports whether m is among the non-default methods
func (a InstalledApp) DeclaresAdditional(m method.Identifier) bool {
	return slices.ContainsFunc(a.AdditionalMethods, func(x method.Identifier) bool {
		return x.String() == m.String()
	})
}

// DefaultOrigin returns the origin of a URL default method
func (a InstalledApp) DefaultOrigin() (method.Origin, bool) {
	d, ok := a.DefaultMethod.Get()
	if !ok || !d.IsURI() {
		return "", false
	}
	return d.Origin(), true
}

// AppKind tags the PaymentApp variant
type AppKind uint8

const (
	// KindNative is an installed platform app
	KindNative AppKind = iota + 1
	// KindInstallable is an app offered for just-in-time install
	KindInstallable
	// KindAutofill is the browser's own autofill instrument
	KindAutofill
)

func (k AppKind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindInstallable:
		return "installable"
	case KindAutofill:
		return "autofill"
	}
	return "unknown"
}

// MarshalText renders the kind name
func (k AppKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// PaymentApp is an app offered to the page together with the methods it was
// accepted for
type PaymentApp struct {
	Kind         AppKind  `json:"kind"`
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	ActivityName string   `json:"activity_name,omitempty"`
	Version      int64    `json:"version"`
	Methods      []string `json:"methods"`
}

// NeedsInstallation reports whether the app must be installed before use
func (p PaymentApp) NeedsInstallation() bool { return p.Kind == KindInstallable }

// IsAutofill reports whether the app is the autofill instrument
func (p PaymentApp) IsAutofill() bool { return p.Kind == KindAutofill }

// NewNativeApp builds the native variant for an accepted installed app
func NewNativeApp(a InstalledApp, methods []string) PaymentApp {
	ms := slices.Clone(methods)
	slices.Sort(ms)
	return PaymentApp{
		Kind:         KindNative,
		ID:           a.PackageID,
		Label:        a.Label,
		ActivityName: a.ActivityName,
		Version:      a.Version,
		Methods:      slices.Compact(ms),
	}
}

// Download is a fetched manifest body with the URL it was finally served from
type Download struct {
	URL  *url.URL
	Body []byte
}
