// Package manifestfetch downloads payment method manifests and web app
// manifests with retries and Link header discovery
package manifestfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"paydisco/internal/core/method"
	perr "paydisco/internal/platform/errors"
	"paydisco/internal/platform/logger"
	"paydisco/internal/services/discovery/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUA        = "paydisco"
	defaultMaxRetry  = 3
	defaultRetryBase = 250 * time.Millisecond
	maxRedirects     = 5

	// MaxBodyBytes caps every manifest response body
	MaxBodyBytes = 6 << 20
)

// Options configures the Client
type Options struct {
	UserAgent string
	Timeout   time.Duration

	// Retry config for transient responses and transport errors. A negative
	// MaxRetries disables retries
	MaxRetries int
	RetryBase  time.Duration

	MaxBodyBytes int64
	Transport    http.RoundTripper
}

// Client fetches manifests. It satisfies domain.Downloader
type Client struct {
	http  *http.Client
	opts  Options
	log   logger.Logger
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

var errCrossOriginRedirect = errors.New("cross-origin redirect")

// NewClient creates a Client with sane defaults
func NewClient(o Options) *Client {
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = MaxBodyBytes
	}
	hc := &http.Client{
		Timeout:   o.Timeout,
		Transport: o.Transport,
		// manifests never leave the origin they were requested from
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if !sameOrigin(req.URL, via[0].URL) {
				return errCrossOriginRedirect
			}
			return nil
		},
	}
	return &Client{
		http:  hc,
		opts:  o,
		log:   *logger.Named("manifestfetch"),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// CloseIdleConnections releases pooled connections once a pass is done
func (c *Client) CloseIdleConnections() { c.http.CloseIdleConnections() }

// DownloadMethodManifest fetches the manifest of a URL method. A JSON body is
// the manifest itself; otherwise a same-origin Link header names it
func (c *Client) DownloadMethodManifest(ctx context.Context, u *url.URL) (domain.Download, error) {
	resp, err := c.do(ctx, u, "application/payment-method-manifest+json, application/json")
	if err != nil {
		return domain.Download{}, err
	}
	final := resp.Request.URL
	link, hasLink := findManifestLink(resp.Header.Values("Link"), final)
	body, err := c.readBody(resp)
	if err != nil {
		return domain.Download{}, err
	}

	if hasLink {
		if !sameOrigin(link, u) {
			return domain.Download{}, perr.Downloadf("manifest link %s is not same-origin with %s", link, u)
		}
		if link.String() != final.String() {
			return c.get(ctx, link, "application/payment-method-manifest+json, application/json")
		}
	}
	if json.Valid(body) {
		return domain.Download{URL: final, Body: body}, nil
	}
	return domain.Download{}, perr.Downloadf("no payment method manifest at %s", u)
}

// DownloadWebAppManifest fetches a web app manifest
func (c *Client) DownloadWebAppManifest(ctx context.Context, u *url.URL) (domain.Download, error) {
	return c.get(ctx, u, "application/manifest+json, application/json")
}

func (c *Client) get(ctx context.Context, u *url.URL, accept string) (domain.Download, error) {
	resp, err := c.do(ctx, u, accept)
	if err != nil {
		return domain.Download{}, err
	}
	final := resp.Request.URL
	body, err := c.readBody(resp)
	if err != nil {
		return domain.Download{}, err
	}
	return domain.Download{URL: final, Body: body}, nil
}

// do issues a GET with retries on transient statuses and transport errors
func (c *Client) do(ctx context.Context, u *url.URL, accept string) (*http.Response, error) {
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return nil, perr.Wrap(ctx.Err(), perr.ErrorCodeDownload, "manifest download canceled")
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeDownload, "manifest request %s", u)
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", accept)

		start := c.now()
		resp, err := c.http.Do(req)
		lat := c.now().Sub(start)

		if err != nil {
			if errors.Is(err, errCrossOriginRedirect) || ctx.Err() != nil || !c.shouldRetry(attempts) {
				return nil, perr.Wrapf(err, perr.ErrorCodeDownload, "manifest download %s failed", u)
			}
			back := c.backoff(attempts)
			c.log.Warn().Err(err).Dur("retry_in", back).Int("attempt", attempts).Msg("manifest transport error retrying")
			if err := c.sleep(ctx, back); err != nil {
				return nil, perr.Wrap(err, perr.ErrorCodeDownload, "manifest download canceled")
			}
			attempts++
			continue
		}

		c.log.Debug().
			Str("url", u.String()).
			Int("status", resp.StatusCode).
			Int("attempt", attempts).
			Dur("latency", lat).
			Msg("manifest http response")

		switch resp.StatusCode {
		case http.StatusOK:
			return resp, nil
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			_ = drainAndClose(resp.Body)
			if !c.shouldRetry(attempts) {
				return nil, perr.Downloadf("manifest download %s: status %d after %d attempts", u, resp.StatusCode, attempts+1)
			}
			back := c.backoff(attempts)
			c.log.Warn().Int("status", resp.StatusCode).Dur("retry_in", back).Int("attempt", attempts).Msg("manifest transient status retrying")
			if err := c.sleep(ctx, back); err != nil {
				return nil, perr.Wrap(err, perr.ErrorCodeDownload, "manifest download canceled")
			}
			attempts++
			continue
		default:
			_ = drainAndClose(resp.Body)
			return nil, perr.Downloadf("manifest download %s: unexpected status %d", u, resp.StatusCode)
		}
	}
}

// sleepCtx waits d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = drainAndClose(resp.Body) }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeDownload, "read manifest body")
	}
	if int64(len(body)) > c.opts.MaxBodyBytes {
		return nil, perr.Downloadf("manifest body exceeds %d bytes", c.opts.MaxBodyBytes)
	}
	return body, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.RetryBase << uint(attempt)
	if ceiling := 10 * time.Second; d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

func (c *Client) shouldRetry(attempt int) bool {
	return attempt < c.opts.MaxRetries
}

func sameOrigin(a, b *url.URL) bool {
	oa, ok1 := method.OriginOf(a)
	ob, ok2 := method.OriginOf(b)
	return ok1 && ok2 && oa == ob
}
