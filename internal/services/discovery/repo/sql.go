package repo

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"paydisco/internal/core/manifest"
	"paydisco/internal/modkit/repokit"
	perr "paydisco/internal/platform/errors"
	"paydisco/internal/platform/store"
)

// schema works on both sqlite and postgres. Times are unix milliseconds
var schema = []string{
	`CREATE TABLE IF NOT EXISTS payment_method_manifests (
		method_name TEXT PRIMARY KEY,
		identifiers TEXT NOT NULL,
		digest      TEXT NOT NULL DEFAULT '',
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS web_app_manifests (
		app_id     TEXT PRIMARY KEY,
		sections   TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

type dialect struct {
	name     string
	numbered bool
}

var (
	sqliteDialect = dialect{name: "sqlite"}
	pgDialect     = dialect{name: "postgres", numbered: true}
)

// rebind rewrites ? placeholders to $n for postgres
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var sb strings.Builder
	sb.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(q[i])
	}
	return sb.String()
}

type queries struct {
	q repokit.Queryer
	d dialect
}

func binder(d dialect) repokit.Binder[*queries] {
	return repokit.BindFunc[*queries](func(q repokit.Queryer) *queries { return &queries{q: q, d: d} })
}

func (r *queries) dbErr(err error, msg string) error {
	if r.d == pgDialect {
		return perr.FromPostgres(err, msg)
	}
	return perr.Wrap(err, perr.ErrorCodeDB, msg)
}

func (r *queries) getMethod(ctx context.Context, name string, cutoff int64) (manifest.CacheRecord, bool, error) {
	const sql = `
		SELECT identifiers, digest, updated_at
		FROM payment_method_manifests
		WHERE method_name = ? AND updated_at >= ?
	`
	var raw, digest string
	var at int64
	if err := r.q.QueryRow(ctx, r.d.rebind(sql), name, cutoff).Scan(&raw, &digest, &at); err != nil {
		if store.IsNoRows(err) {
			return manifest.CacheRecord{}, false, nil
		}
		return manifest.CacheRecord{}, false, r.dbErr(err, "read method manifest")
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return manifest.CacheRecord{}, false, perr.Wrap(err, perr.ErrorCodeParse, "decode cached identifiers")
	}
	return manifest.CacheRecord{Identifiers: ids, Digest: digest, UpdatedAt: time.UnixMilli(at).UTC()}, true, nil
}

func (r *queries) getWebApp(ctx context.Context, appID string, cutoff int64) ([]manifest.WebAppSection, bool, error) {
	const sql = `
		SELECT sections
		FROM web_app_manifests
		WHERE app_id = ? AND updated_at >= ?
	`
	var raw string
	if err := r.q.QueryRow(ctx, r.d.rebind(sql), appID, cutoff).Scan(&raw); err != nil {
		if store.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, r.dbErr(err, "read web app manifest")
	}
	var secs []manifest.WebAppSection
	if err := json.Unmarshal([]byte(raw), &secs); err != nil {
		return nil, false, perr.Wrap(err, perr.ErrorCodeParse, "decode cached web app sections")
	}
	return secs, true, nil
}

func (r *queries) putMethod(ctx context.Context, name string, rec manifest.CacheRecord) error {
	const sql = `
		INSERT INTO payment_method_manifests (method_name, identifiers, digest, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (method_name) DO UPDATE
		SET identifiers = excluded.identifiers,
		    digest = excluded.digest,
		    updated_at = excluded.updated_at
	`
	ids := rec.Identifiers
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode identifiers")
	}
	if _, err := r.q.Exec(ctx, r.d.rebind(sql), name, string(raw), rec.Digest, rec.UpdatedAt.UnixMilli()); err != nil {
		return r.dbErr(err, "write method manifest")
	}
	return nil
}

func (r *queries) putWebApp(ctx context.Context, appID string, secs []manifest.WebAppSection, at time.Time) error {
	const sql = `
		INSERT INTO web_app_manifests (app_id, sections, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (app_id) DO UPDATE
		SET sections = excluded.sections,
		    updated_at = excluded.updated_at
	`
	raw, err := json.Marshal(secs)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode web app sections")
	}
	if _, err := r.q.Exec(ctx, r.d.rebind(sql), appID, string(raw), at.UnixMilli()); err != nil {
		return r.dbErr(err, "write web app manifest")
	}
	return nil
}

func (r *queries) purge(ctx context.Context) error {
	for _, sql := range []string{`DELETE FROM payment_method_manifests`, `DELETE FROM web_app_manifests`} {
		if _, err := r.q.Exec(ctx, sql); err != nil {
			return r.dbErr(err, "purge manifest cache")
		}
	}
	return nil
}

// SQL is the manifest cache on a relational store
type SQL struct {
	db     repokit.TxRunner
	binder repokit.Binder[*queries]
	opts   Options
}

// NewSQLite builds the cache on the embedded store
func NewSQLite(db repokit.TxRunner, o Options) *SQL { return newSQL(db, sqliteDialect, o) }

// NewPG builds the cache on postgres
func NewPG(db repokit.TxRunner, o Options) *SQL { return newSQL(db, pgDialect, o) }

func newSQL(db repokit.TxRunner, d dialect, o Options) *SQL {
	if db == nil {
		panic("repo: " + d.name + " manifest cache requires a non nil TxRunner")
	}
	return &SQL{db: db, binder: binder(d), opts: o.withDefaults()}
}

// Migrate creates the cache tables when missing
func (c *SQL) Migrate(ctx context.Context) error {
	return c.db.Tx(ctx, func(q store.RowQuerier) error {
		for _, ddl := range schema {
			if _, err := q.Exec(ctx, ddl); err != nil {
				return perr.Wrap(err, perr.ErrorCodeDB, "migrate manifest cache")
			}
		}
		return nil
	})
}

func (c *SQL) cutoff() int64 {
	if c.opts.TTL <= 0 {
		return 0
	}
	return c.opts.Now().Add(-c.opts.TTL).UnixMilli()
}

// GetMethodManifest returns the unexpired record for a method name
func (c *SQL) GetMethodManifest(ctx context.Context, name string) (manifest.CacheRecord, bool, error) {
	return repokit.MustBind(c.binder, c.db).getMethod(ctx, name, c.cutoff())
}

// GetWebAppManifest returns the unexpired sections of an app id
func (c *SQL) GetWebAppManifest(ctx context.Context, appID string) ([]manifest.WebAppSection, bool, error) {
	return repokit.MustBind(c.binder, c.db).getWebApp(ctx, appID, c.cutoff())
}

// PutMethodManifest upserts the record for a method name
func (c *SQL) PutMethodManifest(ctx context.Context, name string, rec manifest.CacheRecord) error {
	return repokit.MustBind(c.binder, c.db).putMethod(ctx, name, rec)
}

// PutWebAppManifest upserts every app id of a manifest in one transaction
func (c *SQL) PutWebAppManifest(ctx context.Context, secs []manifest.WebAppSection) error {
	order, by := groupSections(secs)
	at := c.opts.Now()
	return c.db.Tx(ctx, func(q store.RowQuerier) error {
		r := repokit.MustBind(c.binder, q)
		for _, id := range order {
			if err := r.putWebApp(ctx, id, by[id], at); err != nil {
				return err
			}
		}
		return nil
	})
}

// Purge deletes every cached manifest
func (c *SQL) Purge(ctx context.Context) error {
	return c.db.Tx(ctx, func(q store.RowQuerier) error {
		return repokit.MustBind(c.binder, q).purge(ctx)
	})
}

// Close is a no-op, the store owns the connection
func (c *SQL) Close() error { return nil }
