package repo

import (
	"context"
	"slices"
	"sync"
	"time"

	"paydisco/internal/core/manifest"
)

// Memory is an in-process cache. Entries live until they expire or the
// process exits
type Memory struct {
	opts Options

	mu      sync.Mutex
	methods map[string]manifest.CacheRecord
	webApps map[string]webAppEntry
}

type webAppEntry struct {
	sections  []manifest.WebAppSection
	updatedAt time.Time
}

// NewMemory builds an empty cache
func NewMemory(o Options) *Memory {
	return &Memory{
		opts:    o.withDefaults(),
		methods: map[string]manifest.CacheRecord{},
		webApps: map[string]webAppEntry{},
	}
}

// GetMethodManifest returns the record for a method name
func (c *Memory) GetMethodManifest(_ context.Context, name string) (manifest.CacheRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.methods[name]
	if !ok {
		return manifest.CacheRecord{}, false, nil
	}
	if c.opts.expired(rec.UpdatedAt) {
		delete(c.methods, name)
		return manifest.CacheRecord{}, false, nil
	}
	rec.Identifiers = slices.Clone(rec.Identifiers)
	return rec, true, nil
}

// GetWebAppManifest returns the sections cached for an app id
func (c *Memory) GetWebAppManifest(_ context.Context, appID string) ([]manifest.WebAppSection, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.webApps[appID]
	if !ok {
		return nil, false, nil
	}
	if c.opts.expired(e.updatedAt) {
		delete(c.webApps, appID)
		return nil, false, nil
	}
	return cloneSections(e.sections), true, nil
}

// PutMethodManifest replaces the record for a method name
func (c *Memory) PutMethodManifest(_ context.Context, name string, rec manifest.CacheRecord) error {
	rec.Identifiers = slices.Clone(rec.Identifiers)
	c.mu.Lock()
	c.methods[name] = rec
	c.mu.Unlock()
	return nil
}

// PutWebAppManifest replaces the sections of every app id in secs
func (c *Memory) PutWebAppManifest(_ context.Context, secs []manifest.WebAppSection) error {
	order, by := groupSections(secs)
	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range order {
		c.webApps[id] = webAppEntry{sections: cloneSections(by[id]), updatedAt: now}
	}
	return nil
}

// Purge drops everything
func (c *Memory) Purge(context.Context) error {
	c.mu.Lock()
	clear(c.methods)
	clear(c.webApps)
	c.mu.Unlock()
	return nil
}

// Close is a no-op
func (c *Memory) Close() error { return nil }

func cloneSections(in []manifest.WebAppSection) []manifest.WebAppSection {
	out := make([]manifest.WebAppSection, len(in))
	for i, s := range in {
		s.Fingerprints = slices.Clone(s.Fingerprints)
		out[i] = s
	}
	return out
}
