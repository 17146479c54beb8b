package api

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/lunaris-ai/coinbridge/internal/auth"
	"github.com/lunaris-ai/coinbridge/internal/version"
)

// Client is a short-lived, single-user Coinbase REST client. The service
// layer builds one per request batch from freshly resolved credentials and
// discards it afterwards; nothing here outlives the call.
type Client struct {
	baseURL       *url.URL
	allowedHosts  map[string]struct{}
	strategy      auth.Strategy
	userContextID string
	httpClient    *http.Client
	logger        zerolog.Logger

	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration

	now   func() time.Time
	sleep func(d time.Duration) <-chan time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for one user. strategy may be nil for endpoints
// that need no authentication (public spot prices). The base URL's host must
// be on the allowlist; so must every redirect target.
func NewClient(baseURL string, allowedHosts []string, strategy auth.Strategy, userContextID string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, newError(KindBadInput, "", userContextID, fmt.Errorf("invalid base URL %q", baseURL))
	}
	if parsed.Scheme != "https" {
		return nil, newError(KindBadInput, "", userContextID, fmt.Errorf("base URL must be https, got %q", parsed.Scheme))
	}

	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[h] = struct{}{}
	}
	if _, ok := allowed[parsed.Hostname()]; !ok {
		return nil, newError(KindBadInput, "", userContextID,
			fmt.Errorf("host %q is not on the upstream allowlist", parsed.Hostname()))
	}

	c := &Client{
		baseURL:       parsed,
		allowedHosts:  allowed,
		strategy:      strategy,
		userContextID: userContextID,
		logger:        zerolog.Nop(),
		maxRetries:    3,
		backoffBase:   500 * time.Millisecond,
		backoffMax:    10 * time.Second,
		now:           time.Now,
		sleep:         time.After,
	}
	c.httpClient = &http.Client{
		Timeout:       10 * time.Second,
		CheckRedirect: c.checkRedirect,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// checkRedirect refuses redirects that would leave the allowlist. Signed
// headers are already attached to the original request, so following an
// off-list redirect would hand them to an arbitrary host.
func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 3 {
		return fmt.Errorf("too many redirects")
	}
	if _, ok := c.allowedHosts[req.URL.Hostname()]; !ok {
		return fmt.Errorf("redirect to %q is outside the upstream allowlist", req.URL.Hostname())
	}
	return nil
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry budget and backoff bounds.
func WithRetries(max int, base, cap time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.backoffBase = base
		c.backoffMax = cap
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient swaps the transport. The SSRF redirect guard is re-applied.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		hc.CheckRedirect = c.checkRedirect
		c.httpClient = hc
	}
}

func (c *Client) userAgent() string {
	return version.UserAgent()
}
