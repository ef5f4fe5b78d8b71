// Package repo provides the manifest cache implementations: in-process
// memory, sqlite on the device, postgres and redis when shared
package repo

import (
	"time"

	"paydisco/internal/core/manifest"
	"paydisco/internal/services/discovery/domain"
)

// Repo is the manifest cache contract
type Repo interface {
	domain.ManifestCache
}

// Options are shared by every cache implementation
type Options struct {
	// TTL turns older records into misses. Zero keeps records forever
	TTL time.Duration
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// expired reports whether a record written at t is past the TTL
func (o Options) expired(t time.Time) bool {
	return o.TTL > 0 && o.Now().Sub(t) > o.TTL
}

// groupSections splits a manifest into per app id section lists, keeping
// the order ids first appear in
func groupSections(secs []manifest.WebAppSection) ([]string, map[string][]manifest.WebAppSection) {
	var order []string
	by := map[string][]manifest.WebAppSection{}
	for _, s := range secs {
		if _, seen := by[s.ID]; !seen {
			order = append(order, s.ID)
		}
		by[s.ID] = append(by[s.ID], s)
	}
	return order, by
}

var (
	_ Repo = (*Memory)(nil)
	_ Repo = (*SQL)(nil)
	_ Repo = (*Redis)(nil)
)
