package repo

import (
	"context"
	"errors"
	"time"

	"paydisco/internal/core/manifest"
	perr "paydisco/internal/platform/errors"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every cache key
const KeyPrefix = "paydisco:manifest:"

// Redis is the shared manifest cache. Values are CBOR and expire with the TTL
type Redis struct {
	client *redis.Client
	opts   Options
	enc    cbor.EncMode
}

type webAppValue struct {
	Sections  []manifest.WebAppSection `cbor:"1,keyasint"`
	UpdatedAt time.Time                `cbor:"2,keyasint"`
}

// NewRedis builds the cache over an open client
func NewRedis(client *redis.Client, o Options) *Redis {
	if client == nil {
		panic("repo: redis manifest cache requires a client")
	}
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	enc, err := eo.EncMode()
	if err != nil {
		panic(err)
	}
	return &Redis{client: client, opts: o.withDefaults(), enc: enc}
}

func methodKey(name string) string { return KeyPrefix + "method:" + name }

func webAppKey(appID string) string { return KeyPrefix + "webapp:" + appID }

func (c *Redis) get(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, perr.Wrap(err, perr.ErrorCodeUnavailable, "redis get")
	}
	if err := cbor.Unmarshal(b, dst); err != nil {
		return false, perr.Wrap(err, perr.ErrorCodeParse, "decode cached manifest")
	}
	return true, nil
}

func (c *Redis) set(ctx context.Context, key string, v any) error {
	b, err := c.enc.Marshal(v)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "encode cached manifest")
	}
	if err := c.client.Set(ctx, key, b, c.opts.TTL).Err(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "redis set")
	}
	return nil
}

// GetMethodManifest returns the record for a method name
func (c *Redis) GetMethodManifest(ctx context.Context, name string) (manifest.CacheRecord, bool, error) {
	var rec manifest.CacheRecord
	ok, err := c.get(ctx, methodKey(name), &rec)
	if err != nil || !ok || c.opts.expired(rec.UpdatedAt) {
		return manifest.CacheRecord{}, false, err
	}
	return rec, true, nil
}

// GetWebAppManifest returns the sections cached for an app id
func (c *Redis) GetWebAppManifest(ctx context.Context, appID string) ([]manifest.WebAppSection, bool, error) {
	var v webAppValue
	ok, err := c.get(ctx, webAppKey(appID), &v)
	if err != nil || !ok || c.opts.expired(v.UpdatedAt) {
		return nil, false, err
	}
	return v.Sections, true, nil
}

// PutMethodManifest replaces the record for a method name
func (c *Redis) PutMethodManifest(ctx context.Context, name string, rec manifest.CacheRecord) error {
	return c.set(ctx, methodKey(name), rec)
}

// PutWebAppManifest replaces the sections of every app id in secs
func (c *Redis) PutWebAppManifest(ctx context.Context, secs []manifest.WebAppSection) error {
	order, by := groupSections(secs)
	now := c.opts.Now().UTC()
	for _, id := range order {
		if err := c.set(ctx, webAppKey(id), webAppValue{Sections: by[id], UpdatedAt: now}); err != nil {
			return err
		}
	}
	return nil
}

// Purge deletes every key under KeyPrefix
func (c *Redis) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return perr.Wrap(err, perr.ErrorCodeUnavailable, "redis purge")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "redis scan")
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return perr.Wrap(err, perr.ErrorCodeUnavailable, "redis purge")
		}
	}
	return nil
}

// Close is a no-op, the store owns the client
func (c *Redis) Close() error { return nil }
