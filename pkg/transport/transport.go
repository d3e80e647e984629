package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Endpoints relative to the API base URL.
const (
	endpointInitialize = "/initialize"
	endpointLogEvent   = "/log_event"
)

// DefaultMaxInflight caps concurrent requests per destination URL. Requests
// over the ceiling fail fast instead of queuing, which bounds worst-case
// concurrency during retry storms.
const DefaultMaxInflight = 50

// Metadata describes the SDK build to the config service.
type Metadata struct {
	SDKType    string `json:"sdkType"`
	SDKVersion string `json:"sdkVersion"`
	SessionID  string `json:"sessionID"`
	StableID   string `json:"stableID,omitempty"`
}

// Client issues calls to the remote config service with timeout racing,
// bounded retries and per-endpoint rate limiting. One Client serves one SDK
// key and is safe for concurrent use.
type Client struct {
	http        *http.Client
	beaconHTTP  *http.Client
	apiURL      string
	eventsURL   string
	sdkKey      string
	meta        Metadata
	maxRetries  int
	backoffBase time.Duration
	log         *slog.Logger
	limiter     *inflightLimiter
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL sets the base URL for value fetches.
func WithAPIURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.apiURL = u
		}
	}
}

// WithEventsURL sets the base URL for exposure log delivery. Defaults to the
// API URL.
func WithEventsURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.eventsURL = u
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRetries sets the retry count and the base backoff interval that
// doubles per attempt. Zero or negative retries collapse to exactly one
// attempt.
func WithRetries(n int, backoffBase time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		if backoffBase > 0 {
			c.backoffBase = backoffBase
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithStableID stamps the device identifier into request metadata.
func WithStableID(id string) Option {
	return func(c *Client) { c.meta.StableID = id }
}

// WithMaxInflight overrides the per-URL concurrent request ceiling.
func WithMaxInflight(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limiter.max = n
		}
	}
}

// New creates a transport client for one SDK key.
func New(sdkKey string, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		// Beacon calls run during teardown; a short hard timeout keeps
		// shutdown bounded.
		beaconHTTP:  &http.Client{Timeout: 3 * time.Second},
		apiURL:      "https://api.flagkit.dev/v1",
		sdkKey:      sdkKey,
		maxRetries:  3,
		backoffBase: time.Second,
		log:         slog.New(slog.DiscardHandler),
		limiter:     &inflightLimiter{max: DefaultMaxInflight, counts: make(map[string]int)},
		meta: Metadata{
			SDKType:    "go-client",
			SDKVersion: Version,
			SessionID:  uuid.NewString(),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.eventsURL == "" {
		c.eventsURL = c.apiURL
	}
	return c
}

// Version is the SDK version reported in request metadata.
const Version = "1.4.0"

// Metadata returns the metadata stamped on every request.
func (c *Client) Metadata() Metadata { return c.meta }

// inflightLimiter is a leaky-bucket counter per destination URL: acquire
// fails fast once the ceiling is reached, release drains the bucket.
type inflightLimiter struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

func (l *inflightLimiter) acquire(url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[url] >= l.max {
		return ErrRateLimited
	}
	l.counts[url]++
	return nil
}

func (l *inflightLimiter) release(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[url] > 0 {
		l.counts[url]--
	}
}
