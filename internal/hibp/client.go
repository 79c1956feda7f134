// Package hibp is a client for the Have I Been Pwned v3 API and the Pwned
// Passwords range API. Every outbound request first acquires one token from
// a rate limiter, and a 429 response pauses that limiter for the server's
// Retry-After before the error is returned. The client never retries on its
// own.
package hibp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/pacer/internal/cache"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
)

const (
	DefaultBaseURL      = "https://haveibeenpwned.com/api/v3"
	DefaultPasswordsURL = "https://api.pwnedpasswords.com"
	DefaultTimeout      = 10 * time.Second

	// The lowest paid subscription allows 10 requests per minute.
	defaultCapacity   = 1
	defaultRefillRate = 10.0 / 60

	maxErrorBody = 4 << 10
)

// Limiter is the part of limiter.RateLimiter the client depends on.
type Limiter interface {
	Acquire(ctx context.Context, n int) error
	BackoffRetryAfter(value string) time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	http         *http.Client
	userAgent    string
	apiKey       string
	baseURL      string
	passwordsURL string
	limiter      Limiter
	cache        cache.Cache
	cacheTTL     time.Duration
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the hibp-api-key header. Account, paste and subscription
// endpoints require it.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the timeout of the client's current http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLimiter shares a limiter with the client. Without it the client builds
// a private one sized for the smallest paid subscription.
func WithLimiter(l Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithCache caches breach catalogue lookups for ttl. A nil cache disables
// caching.
func WithCache(cc cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cc
		c.cacheTTL = ttl
	}
}

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

func WithPasswordsURL(u string) Option {
	return func(c *Client) {
		c.passwordsURL = strings.TrimRight(u, "/")
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client. HIBP rejects requests without a meaningful user
// agent, so an empty one is an error.
func New(userAgent string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(userAgent) == "" {
		return nil, ErrInvalidUserAgent
	}

	c := &Client{
		http:         &http.Client{Timeout: DefaultTimeout},
		userAgent:    userAgent,
		baseURL:      DefaultBaseURL,
		passwordsURL: DefaultPasswordsURL,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.limiter == nil {
		l, err := limiter.New(defaultCapacity, defaultRefillRate, limiter.WithLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("hibp: building default limiter: %w", err)
		}
		c.limiter = l
	}
	return c, nil
}

// BreachedAccount lists the breaches an account appears in. With truncate
// set only breach names are populated. An account in no breach yields
// ErrNotFound.
func (c *Client) BreachedAccount(ctx context.Context, account string, truncate bool) ([]Breach, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	q := url.Values{"truncateResponse": {strconv.FormatBool(truncate)}}
	u := c.baseURL + "/breachedaccount/" + url.PathEscape(account) + "?" + q.Encode()

	var out []Breach
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PasteAccount lists pastes an email address appears in.
func (c *Client) PasteAccount(ctx context.Context, account string) ([]Paste, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}

	var out []Paste
	if err := c.getJSON(ctx, c.baseURL+"/pasteaccount/"+url.PathEscape(account), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Breaches lists every breach in the system, or only those for domain when
// it is not empty.
func (c *Client) Breaches(ctx context.Context, domain string) ([]Breach, error) {
	u := c.baseURL + "/breaches"
	if domain != "" {
		u += "?" + url.Values{"domain": {domain}}.Encode()
	}

	var out []Breach
	if err := c.cachedJSON(ctx, "hibp:breaches:"+domain, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Breach returns a single breach by its stable name, e.g. "Adobe".
func (c *Client) Breach(ctx context.Context, name string) (*Breach, error) {
	var out Breach
	if err := c.cachedJSON(ctx, "hibp:breach:"+name, c.baseURL+"/breach/"+url.PathEscape(name), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubscriptionStatus(ctx context.Context) (*SubscriptionStatus, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}

	var out SubscriptionStatus
	if err := c.getJSON(ctx, c.baseURL+"/subscription/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubscribedDomains(ctx context.Context) ([]SubscribedDomain, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}

	var out []SubscribedDomain
	if err := c.getJSON(ctx, c.baseURL+"/subscribeddomains", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) requireKey() error {
	if c.apiKey == "" {
		return ErrUnauthorized
	}
	return nil
}

func (c *Client) cachedJSON(ctx context.Context, key, u string, v any) error {
	if c.cache != nil {
		hit, err := cache.GetJSON(ctx, c.cache, key, v)
		if err != nil {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		} else if hit {
			c.logger.Debug("cache hit", "key", key)
			return nil
		}
	}

	if err := c.getJSON(ctx, u, v); err != nil {
		return err
	}

	if c.cache != nil {
		if err := cache.SetJSON(ctx, c.cache, key, v, c.cacheTTL); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"Hibp-Api-Key": {c.apiKey}}
	}
	resp, err := c.get(ctx, u, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("hibp: decoding %s: %w", resp.Request.URL.Path, err)
	}
	return nil
}

// get acquires a limiter token, performs the request and maps any non-200
// status to an error. On success the caller owns the response body.
func (c *Client) get(ctx context.Context, u string, header http.Header) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("hibp: acquiring rate limit token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("hibp: building request: %w", err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hibp: GET %s: %w", req.URL.Path, err)
	}
	c.logger.Debug("hibp request", "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		d := c.limiter.BackoffRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("hibp rate limited", "path", req.URL.Path, "retry_after", d)
		return nil, &RateLimitedError{RetryAfter: d}
	}
	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		return nil, errors.Join(&UnexpectedStatusError{StatusCode: resp.StatusCode}, readErr)
	}
	return nil, &UnexpectedStatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
