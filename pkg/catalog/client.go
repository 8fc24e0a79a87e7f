// Package catalog talks to metal-archives.com and defines the datasets the
// crawler can collect from it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/source"
)

// DefaultBaseURL is the public catalog.
const DefaultBaseURL = "https://www.metal-archives.com"

const robotsAgent = "metalcrawl"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0",
}

func randomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL           string
	UserAgent         string // Empty rotates built-in browser agents
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	FollowRobotsTxt   bool
	Logger            zerolog.Logger
}

// Client issues paced GET requests against the catalog. Listing and detail
// calls share one token bucket.
type Client struct {
	http      *resty.Client
	base      *url.URL
	limiter   *rate.Limiter
	userAgent string
	follow    bool
	logger    zerolog.Logger

	robotsMu sync.Mutex
	robots   *robotstxt.RobotsData
	loaded   bool
}

// NewClient returns a Client for opts.BaseURL.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}
	if opts.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be positive, got %v", opts.RequestsPerSecond)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     30 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: opts.Timeout, Jar: jar}

	rc := resty.NewWithClient(httpClient).
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Accept", "application/json, text/html;q=0.9, */*;q=0.8").
		SetHeader("Referer", base.String()+"/")

	return &Client{
		http:      rc,
		base:      base,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		userAgent: opts.UserAgent,
		follow:    opts.FollowRobotsTxt,
		logger:    opts.Logger,
	}, nil
}

// Resolve turns a catalog path or absolute URL into an absolute URL.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	return c.base.ResolveReference(u).String(), nil
}

// Get fetches ref. A non-2xx status is not an error; it is reported in the
// response for the caller to classify.
func (c *Client) Get(ctx context.Context, ref string) (*models.Response, error) {
	target, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if c.follow {
		allowed, err := c.allowed(ctx, target)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", source.ErrDisallowed, target)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ua := c.userAgent
	if ua == "" {
		ua = randomUserAgent()
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", ua).
		Get(target)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("url", target).
		Int("status", res.StatusCode()).
		Dur("elapsed", res.Time()).
		Msg("catalog request")
	return &models.Response{URL: target, Status: res.StatusCode(), Body: res.Body()}, nil
}

// FetchDetail fetches an item's detail page.
func (c *Client) FetchDetail(ctx context.Context, ref string) (*models.Response, error) {
	if ref == "" {
		return nil, errors.New("empty detail URL")
	}
	return c.Get(ctx, ref)
}

// allowed checks target against the catalog's robots.txt, fetched once. An
// unreachable or missing robots.txt allows everything.
func (c *Client) allowed(ctx context.Context, target string) (bool, error) {
	c.robotsMu.Lock()
	defer c.robotsMu.Unlock()

	if !c.loaded {
		robotsURL := c.base.String() + "/robots.txt"
		res, err := c.http.R().SetContext(ctx).SetHeader("User-Agent", robotsAgent).Get(robotsURL)
		switch {
		case err != nil && ctx.Err() != nil:
			return false, ctx.Err()
		case err != nil:
			c.logger.Warn().Err(err).Msg("robots.txt unavailable, allowing all paths")
		case res.StatusCode() == http.StatusOK:
			robots, perr := robotstxt.FromBytes(res.Body())
			if perr != nil {
				c.logger.Warn().Err(perr).Msg("robots.txt unreadable, allowing all paths")
			} else {
				c.robots = robots
			}
		}
		c.loaded = true
	}
	if c.robots == nil {
		return true, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return false, err
	}
	return c.robots.TestAgent(u.RequestURI(), robotsAgent), nil
}
