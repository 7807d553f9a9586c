// Package amap implements the paced, retrying page client for the AMap
// place-text search API.
package amap

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/realtime-poi-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-poi-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

// Defaults mirrored by the configuration layer.
const (
	DefaultBaseURL       = "https://restapi.amap.com/v5/place/text"
	DefaultRateLimitInfo = "CUQPS_HAS_EXCEEDED_THE_LIMIT"
	DefaultBackoffSpread = 500 * time.Millisecond
)

// Fetcher performs a raw GET.
type Fetcher interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Waiter throttles outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the client.
type Config struct {
	BaseURL string
	Key     string
	// RateLimitInfo is the exact info value that marks a soft rate-limit
	// rejection inside an otherwise successful response.
	RateLimitInfo string
	// BackoffSpread widens the retry pause to [BaseDelay, BaseDelay+BackoffSpread].
	// Zero means DefaultBackoffSpread.
	BackoffSpread time.Duration
}

// Client issues page requests with jittered pacing and bounded retries.
type Client struct {
	cfg     Config
	fetcher Fetcher
	limiter Waiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(lo, hi time.Duration) time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithLimiter installs a process-wide request throttle.
func WithLimiter(w Waiter) Option {
	return func(c *Client) { c.limiter = w }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleeper replaces the pause implementation; used by tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithJitter replaces the random duration source; used by tests.
func WithJitter(fn func(lo, hi time.Duration) time.Duration) Option {
	return func(c *Client) { c.jitter = fn }
}

// NewClient builds a Client.
func NewClient(cfg Config, fetcher Fetcher, opts ...Option) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateLimitInfo == "" {
		cfg.RateLimitInfo = DefaultRateLimitInfo
	}
	if cfg.BackoffSpread <= 0 {
		cfg.BackoffSpread = DefaultBackoffSpread
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  zap.NewNop(),
		sleep:   pause,
		jitter:  uniform,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SearchPage fetches one page. It pauses for a random delay inside the
// query's window, then makes up to Retry.Count attempts. Transport errors,
// non-2xx statuses, undecodable bodies and the soft rate-limit marker are all
// retried after a pause in [BaseDelay, BaseDelay+BackoffSpread]. When the
// budget runs out the result is an *ExhaustedRetriesError.
func (c *Client) SearchPage(ctx context.Context, q poi.SearchQuery) (poi.Page, error) {
	q = c.normalize(q)
	if q.Delay.Enabled() {
		if err := c.sleep(ctx, c.jitter(q.Delay.Min, q.Delay.Max)); err != nil {
			return poi.Page{}, err
		}
	}
	reqURL := c.buildURL(q)
	logger := c.logger.With(
		zap.String("keyword", q.Keyword),
		zap.String("region", q.Region),
		zap.Int("page", q.PageNum),
	)

	var last error
	for attempt := 1; attempt <= q.Retry.Count; attempt++ {
		page, err := c.attempt(ctx, reqURL)
		if err == nil {
			if page.Status != "" && page.Status != "1" {
				logger.Warn("upstream reported failure status",
					zap.String("status", page.Status),
					zap.String("info", page.Info),
					zap.String("infocode", page.InfoCode),
				)
			}
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return poi.Page{}, ctxErr
		}
		last = err
		if attempt == q.Retry.Count {
			break
		}
		reason := retryReason(err)
		metrics.ObserveRetry(reason)
		backoff := c.jitter(q.Retry.BaseDelay, q.Retry.BaseDelay+c.cfg.BackoffSpread)
		logger.Warn("upstream attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("budget", q.Retry.Count),
			zap.String("reason", reason),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return poi.Page{}, err
		}
	}
	metrics.ObserveExhausted()
	logger.Error("upstream retries exhausted", zap.Int("attempts", q.Retry.Count), zap.Error(last))
	return poi.Page{}, &ExhaustedRetriesError{Attempts: q.Retry.Count, Last: last}
}

func (c *Client) attempt(ctx context.Context, reqURL string) (poi.Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, reqURL); err != nil {
			return poi.Page{}, &TransportError{Op: "throttle", Err: err}
		}
	}
	start := time.Now()
	resp, err := c.fetcher.Fetch(ctx, collyfetcher.Request{URL: reqURL})
	if err != nil {
		metrics.ObserveUpstreamRequest("transport_error", time.Since(start))
		return poi.Page{}, &TransportError{Op: "fetch", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveUpstreamRequest("http_error", resp.Duration)
		return poi.Page{}, &HTTPError{StatusCode: resp.StatusCode, Body: snippet(resp.Body)}
	}
	page, err := decodePage(resp.Body)
	if err != nil {
		metrics.ObserveUpstreamRequest("decode_error", resp.Duration)
		return poi.Page{}, &TransportError{Op: "decode", Err: err}
	}
	if page.Info == c.cfg.RateLimitInfo {
		metrics.ObserveUpstreamRequest("rate_limited", resp.Duration)
		return poi.Page{}, &RateLimitedError{Info: page.Info, InfoCode: page.InfoCode}
	}
	metrics.ObserveUpstreamRequest("ok", resp.Duration)
	return page, nil
}

func (c *Client) normalize(q poi.SearchQuery) poi.SearchQuery {
	if q.PageNum < 1 {
		q.PageNum = 1
	}
	if q.PageSize < 1 {
		q.PageSize = poi.DefaultPageSize
	}
	if q.Key == "" {
		q.Key = c.cfg.Key
	}
	if q.Retry.Count < 1 {
		q.Retry.Count = 1
	}
	if q.Retry.BaseDelay < 0 {
		q.Retry.BaseDelay = 0
	}
	return q
}

func (c *Client) buildURL(q poi.SearchQuery) string {
	params := url.Values{}
	params.Set("key", q.Key)
	params.Set("keywords", q.Keyword)
	params.Set("region", q.Region)
	params.Set("page_size", strconv.Itoa(q.PageSize))
	params.Set("page_num", strconv.Itoa(q.PageNum))
	params.Set("city_limit", "true")
	return c.cfg.BaseURL + "?" + params.Encode()
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// uniform draws a duration in [lo, hi].
func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)+1))
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}
