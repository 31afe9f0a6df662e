package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultBaseURL             = "https://esi.evetech.net"
	defaultDatasource          = "tranquility"
	defaultUserAgent           = "evetrade-sync (https://evetrade.space)"
	defaultHTTPTimeout         = 30 * time.Second
	defaultMaxRetries          = 4
	defaultInitialBackoff      = 500 * time.Millisecond
	defaultMaxBackoff          = 30 * time.Second
	defaultErrorLimitThreshold = 20
)

// Client wraps access to the ESI market endpoints. It follows pagination via
// the X-Pages header, slows down when the shared error budget runs low, and
// retries transient failures with capped exponential backoff.
type Client struct {
	baseURL    string
	datasource string
	userAgent  string
	httpClient *http.Client
	maxRetries int

	initialBackoff time.Duration
	maxBackoff     time.Duration

	errorLimitThreshold int
	tokens              *TokenSource
	logger              *log.Logger

	limitMu    sync.Mutex
	limitPause time.Duration
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default ESI endpoint URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxRetries adjusts the per-request retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithBackoff overrides the retry backoff bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithErrorLimitThreshold sets the error-budget floor below which the client
// pauses before the next request.
func WithErrorLimitThreshold(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.errorLimitThreshold = n
		}
	}
}

// WithTokenSource attaches SSO credentials for authed endpoints.
func WithTokenSource(ts *TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithLogger injects a custom logger (defaults to log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient constructs an ESI client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:             defaultBaseURL,
		datasource:          defaultDatasource,
		userAgent:           defaultUserAgent,
		httpClient:          &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries:          defaultMaxRetries,
		initialBackoff:      defaultInitialBackoff,
		maxBackoff:          defaultMaxBackoff,
		errorLimitThreshold: defaultErrorLimitThreshold,
		logger:              log.Default(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NewClientFromConfig constructs a client from a loaded Config, wiring a
// token source when auth credentials are present.
func NewClientFromConfig(cfg *Config, opts ...Option) *Client {
	if cfg == nil {
		return NewClient(opts...)
	}
	base := []Option{
		WithBaseURL(cfg.BaseURL),
		WithUserAgent(cfg.UserAgent),
		WithMaxRetries(cfg.MaxRetries),
		WithBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		WithErrorLimitThreshold(cfg.ErrorLimitThreshold),
	}
	if cfg.Datasource != "" {
		base = append(base, func(c *Client) { c.datasource = cfg.Datasource })
	}
	if cfg.HTTPTimeout > 0 {
		base = append(base, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	}
	if cfg.Auth.Enabled() {
		base = append(base, WithTokenSource(NewTokenSource(cfg.Auth, cfg.UserAgent)))
	}
	return NewClient(append(base, opts...)...)
}

// Authed reports whether the client can call authed endpoints.
func (c *Client) Authed() bool {
	return c.tokens != nil
}

// FetchRegionOrders retrieves every market order page for a region and
// merges them into one slice.
func (c *Client) FetchRegionOrders(ctx context.Context, regionID int64) ([]RawOrder, error) {
	first, pages, err := c.fetchOrderPage(ctx, c.regionOrdersURL(regionID, 1), false)
	if err != nil {
		return nil, err
	}
	orders := first
	for page := 2; page <= pages; page++ {
		batch, _, err := c.fetchOrderPage(ctx, c.regionOrdersURL(regionID, page), false)
		if err != nil {
			return nil, err
		}
		orders = append(orders, batch...)
	}
	return orders, nil
}

// FetchStructureOrders retrieves every order page for a player structure.
// Requires a configured token source.
func (c *Client) FetchStructureOrders(ctx context.Context, structureID int64) ([]RawOrder, error) {
	if c.tokens == nil {
		return nil, &FetchError{
			Endpoint:  c.structureOrdersURL(structureID, 1),
			Retryable: false,
			Err:       errors.New("structure markets require SSO credentials"),
		}
	}
	first, pages, err := c.fetchOrderPage(ctx, c.structureOrdersURL(structureID, 1), true)
	if err != nil {
		return nil, err
	}
	orders := first
	for page := 2; page <= pages; page++ {
		batch, _, err := c.fetchOrderPage(ctx, c.structureOrdersURL(structureID, page), true)
		if err != nil {
			return nil, err
		}
		orders = append(orders, batch...)
	}
	return orders, nil
}

func (c *Client) regionOrdersURL(regionID int64, page int) string {
	return fmt.Sprintf("%s/latest/markets/%d/orders/?datasource=%s&order_type=all&page=%d",
		c.baseURL, regionID, c.datasource, page)
}

func (c *Client) structureOrdersURL(structureID int64, page int) string {
	return fmt.Sprintf("%s/latest/markets/structures/%d/?datasource=%s&page=%d",
		c.baseURL, structureID, c.datasource, page)
}

// fetchOrderPage performs one paginated GET with retries. It returns the
// decoded orders and the total page count from X-Pages.
func (c *Client) fetchOrderPage(ctx context.Context, url string, authed bool) ([]RawOrder, int, error) {
	var lastErr error
	lastStatus := 0
	retryable := true
	backoff := c.initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.waitErrorBudget(ctx); err != nil {
			return nil, 0, err
		}

		body, pages, status, err := c.doGet(ctx, url, authed)
		if err == nil {
			var orders []RawOrder
			if err := json.Unmarshal(body, &orders); err != nil {
				return nil, 0, &FetchError{Endpoint: url, StatusCode: status, Retryable: false,
					Err: fmt.Errorf("decode orders: %w", err)}
			}
			return orders, pages, nil
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		lastErr = err
		lastStatus = status
		switch {
		case status > 0:
			retryable = retryableStatus(status)
		default:
			retryable = retryableTransport(err)
		}
		if !retryable || attempt == c.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}

	return nil, 0, &FetchError{Endpoint: url, StatusCode: lastStatus, Retryable: retryable, Err: lastErr}
}

// doGet performs a single request. A non-2xx status is returned as an error
// with the status attached so the caller can classify it.
func (c *Client) doGet(ctx context.Context, url string, authed bool) (body []byte, pages, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if authed {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, 0, http.StatusUnauthorized, fmt.Errorf("refresh token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	c.observeErrorBudget(resp.Header)

	payload, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, 0, resp.StatusCode, fmt.Errorf("read response: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, resp.StatusCode, fmt.Errorf("http status %d: %s", resp.StatusCode, truncate(payload, 256))
	}

	pages = 1
	if v := resp.Header.Get(headerPages); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pages = n
		}
	}
	return payload, pages, resp.StatusCode, nil
}

// observeErrorBudget records the shared error-limit headroom from a response.
// When ESI reports fewer remaining errors than the threshold the next request
// is delayed, doubling the pause while the budget stays low.
func (c *Client) observeErrorBudget(header http.Header) {
	v := header.Get(headerErrorLimit)
	if v == "" {
		return
	}
	remain, err := strconv.Atoi(v)
	if err != nil {
		return
	}

	c.limitMu.Lock()
	defer c.limitMu.Unlock()
	if remain >= c.errorLimitThreshold {
		c.limitPause = 0
		return
	}

	if c.limitPause == 0 {
		c.limitPause = time.Second
	} else if c.limitPause *= 2; c.limitPause > c.maxBackoff {
		c.limitPause = c.maxBackoff
	}
	if reset := header.Get(headerErrorLimitReset); reset != "" {
		if secs, err := strconv.Atoi(reset); err == nil && secs > 0 {
			if window := time.Duration(secs) * time.Second; window > c.limitPause {
				c.limitPause = window
			}
		}
	}
	c.logger.Printf("[esi] error limit remaining %d, pausing %s", remain, c.limitPause)
}

func (c *Client) waitErrorBudget(ctx context.Context) error {
	c.limitMu.Lock()
	pause := c.limitPause
	c.limitMu.Unlock()
	if pause <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(pause):
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
