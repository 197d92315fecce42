// Package snowball talks to the news site: a session-aware HTTP client and
// the page fetchers the crawl stages drive.
package snowball

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
)

// ErrRequestLimit is returned once MaxRequests requests have been sent.
var ErrRequestLimit = errors.New("source request limit reached")

const (
	defaultListPath     = "/v4/statuses/public_timeline_by_category.json"
	defaultCommentsPath = "/statuses/comments.json"
	defaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Config controls the source client.
type Config struct {
	// BaseURL is the site homepage. Visiting it seeds the session cookies.
	BaseURL      string        `mapstructure:"base_url"`
	ListPath     string        `mapstructure:"list_path"`
	CommentsPath string        `mapstructure:"comments_path"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// RejectCooldown pauses requests after the site rejects the session.
	RejectCooldown time.Duration `mapstructure:"reject_cooldown"`
	// MaxRequests caps the requests sent by this process; zero is unlimited.
	MaxRequests int64 `mapstructure:"max_requests"`
}

// Waiter paces requests per domain.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
	Cooldown(rawURL string, d time.Duration)
}

// Response is a successful source response.
type Response struct {
	URL     string
	Status  int
	Headers http.Header
	Body    []byte
}

// Client issues GET requests inside a cookie session. The session is created
// lazily by visiting the homepage and is rebuilt whenever the site answers 403.
type Client struct {
	cfg       Config
	limiter   Waiter
	logger    *zap.Logger
	transport http.RoundTripper
	requests  atomic.Int64

	mu        sync.Mutex
	collector *colly.Collector
	ready     bool
}

// NewClient builds a Client. limiter may be nil.
func NewClient(cfg Config, limiter Waiter, logger *zap.Logger) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("source base url is required")
	}
	if cfg.ListPath == "" {
		cfg.ListPath = defaultListPath
	}
	if cfg.CommentsPath == "" {
		cfg.CommentsPath = defaultCommentsPath
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{cfg: cfg, limiter: limiter, logger: logger, transport: newHTTPTransport()}
	c.collector = c.newCollector()
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Get fetches rawURL within the session. 403 rebuilds the session and
// returns crawler.ErrSourceRejected; network failures, 429 and 5xx return
// crawler.ErrTransient.
func (c *Client) Get(ctx context.Context, rawURL string) (Response, error) {
	if err := c.ensureSession(ctx); err != nil {
		return Response{}, err
	}
	resp, err := c.visit(ctx, rawURL)
	if err != nil {
		return Response{}, err
	}
	switch {
	case resp.Status == http.StatusOK:
		return resp, nil
	case resp.Status == http.StatusForbidden || resp.Status == http.StatusUnauthorized:
		c.rebuild(rawURL)
		return Response{}, fmt.Errorf("get %s: status %d: %w", rawURL, resp.Status, crawler.ErrSourceRejected)
	default:
		return Response{}, fmt.Errorf("get %s: status %d: %w", rawURL, resp.Status, crawler.ErrTransient)
	}
}

// Requests reports how many requests this client has sent.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if ready {
		return nil
	}
	resp, err := c.visit(ctx, c.cfg.BaseURL+"/")
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if resp.Status >= http.StatusInternalServerError {
		return fmt.Errorf("open session: status %d: %w", resp.Status, crawler.ErrTransient)
	}
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	c.logger.Debug("source session opened", zap.Int("status", resp.Status))
	return nil
}

// rebuild drops the cookie jar and forces a fresh homepage visit.
func (c *Client) rebuild(rawURL string) {
	c.mu.Lock()
	c.collector = c.newCollector()
	c.ready = false
	c.mu.Unlock()
	if c.limiter != nil {
		c.limiter.Cooldown(rawURL, c.cfg.RejectCooldown)
	}
	metrics.ObserveSessionRebuild()
	c.logger.Warn("source rejected session, rebuilding", zap.String("url", rawURL))
}

func (c *Client) visit(ctx context.Context, rawURL string) (Response, error) {
	if c.cfg.MaxRequests > 0 && c.requests.Load() >= c.cfg.MaxRequests {
		return Response{}, ErrRequestLimit
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return Response{}, err
		}
	}
	c.requests.Add(1)

	c.mu.Lock()
	collector := c.collector.Clone()
	c.mu.Unlock()
	collector.Context = ctx

	var (
		result   Response
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.5")
	})
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:     r.Request.URL.String(),
			Status:  r.StatusCode,
			Headers: r.Headers.Clone(),
			Body:    append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("source fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			metrics.ObserveSourceRequest(rawURL, 0, 0)
			return Response{}, fmt.Errorf("get %s: %w: %w", rawURL, crawler.ErrTransient, err)
		}
	}
	metrics.ObserveSourceRequest(rawURL, result.Status, len(result.Body))
	return result, nil
}

func (c *Client) newCollector() *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.UserAgent(c.cfg.UserAgent),
	)
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(c.transport)
	return collector
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
