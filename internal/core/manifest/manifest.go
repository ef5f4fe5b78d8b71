// Package manifest models payment method manifests and web app manifest
// sections, parses their JSON wire form and encodes the cache record
package manifest

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"paydisco/internal/core/method"
	perr "paydisco/internal/platform/errors"
)

// AllOrigins is the wildcard for supported_origins and its cache marker
const AllOrigins = "*"

// MaxWebAppManifests caps default_applications entries
const MaxWebAppManifests = 100

// MethodManifest is a parsed payment method manifest. Untrusted until its
// sections are matched against installed apps
type MethodManifest struct {
	WebAppManifestURLs  []*url.URL
	SupportedOrigins    []method.Origin
	AllOriginsSupported bool
	// Digest is the hex sha256 of the canonical JSON body
	Digest string
}

// WebAppSection is one play-platform entry of a web app manifest
type WebAppSection struct {
	ID           string   `json:"id" cbor:"1,keyasint"`
	MinVersion   int64    `json:"min_version" cbor:"2,keyasint"`
	Fingerprints []string `json:"fingerprints" cbor:"3,keyasint"`
}

// CacheRecord is what the cache stores for a method: an opaque identifier
// list mixing app ids, origins and the wildcard
type CacheRecord struct {
	Identifiers []string  `cbor:"1,keyasint"`
	Digest      string    `cbor:"2,keyasint"`
	UpdatedAt   time.Time `cbor:"3,keyasint"`
}

// CachedMethod is a decoded CacheRecord
type CachedMethod struct {
	AppIDs              []string
	SupportedOrigins    []method.Origin
	AllOriginsSupported bool
}

// Identifiers encodes the app ids of a verified manifest together with its
// supported origins into the cache identifier list
func Identifiers(appIDs []string, m MethodManifest) []string {
	out := make([]string, 0, len(appIDs)+len(m.SupportedOrigins)+1)
	out = append(out, appIDs...)
	if m.AllOriginsSupported {
		out = append(out, AllOrigins)
	}
	for _, o := range m.SupportedOrigins {
		out = append(out, string(o))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Decode splits a cache identifier list. An entry that looks like an origin
// but does not parse as one, or a blank entry, makes the record malformed
func Decode(ids []string) (CachedMethod, error) {
	var c CachedMethod
	for _, id := range ids {
		switch {
		case id == AllOrigins:
			c.AllOriginsSupported = true
		case strings.TrimSpace(id) == "":
			return CachedMethod{}, perr.Parsef("blank cache identifier")
		case strings.Contains(id, "://"):
			o, ok := method.ParseOrigin(id)
			if !ok || string(o) != id {
				return CachedMethod{}, perr.Parsef("malformed cached origin %q", id)
			}
			c.SupportedOrigins = append(c.SupportedOrigins, o)
		default:
			c.AppIDs = append(c.AppIDs, id)
		}
	}
	return c, nil
}
