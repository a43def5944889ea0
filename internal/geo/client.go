// Package geo resolves client addresses to a coarse location for audit
// enrichment. Lookups never fail: anything that goes wrong yields Unknown().
package geo

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const Unknown = "unknown"

type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
}

func UnknownLocation() Location {
	return Location{Country: Unknown, Region: Unknown, City: Unknown, ISP: Unknown}
}

// normalized replaces empty fields with the sentinel so the row shape is fixed.
func (l Location) normalized() Location {
	fill := func(value string) string {
		value = strings.TrimSpace(value)
		if value == "" {
			return Unknown
		}
		return value
	}
	return Location{Country: fill(l.Country), Region: fill(l.Region), City: fill(l.City), ISP: fill(l.ISP)}
}

type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip netip.Addr) (Location, error)
}

type Client struct {
	providers []Provider
	limiter   *rate.Limiter
	timeout   time.Duration
	onError   func(provider string, err error)
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRatePerMinute caps outbound lookups; throttled lookups resolve to unknown.
func WithRatePerMinute(perMinute int) Option {
	return func(c *Client) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		}
	}
}

func WithErrorHook(hook func(provider string, err error)) Option {
	return func(c *Client) {
		c.onError = hook
	}
}

func NewClient(providers []Provider, opts ...Option) *Client {
	c := &Client{
		providers: providers,
		timeout:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDefaultClient wires ip-api.com as primary and ipapi.co as fallback.
func NewDefaultClient(primaryURL, fallbackURL string, opts ...Option) *Client {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	return NewClient([]Provider{
		NewIPAPIProvider(primaryURL, httpClient),
		NewIPAPICoProvider(fallbackURL, httpClient),
	}, opts...)
}

func (c *Client) Lookup(ctx context.Context, rawIP string) Location {
	if c == nil {
		return UnknownLocation()
	}

	ip, err := netip.ParseAddr(strings.TrimSpace(rawIP))
	if err != nil || !isPublic(ip) {
		return UnknownLocation()
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return UnknownLocation()
	}

	for _, provider := range c.providers {
		if ctx.Err() != nil {
			break
		}
		location, err := c.lookupWith(ctx, provider, ip)
		if err == nil {
			return location.normalized()
		}
		if c.onError != nil {
			c.onError(provider.Name(), err)
		}
	}

	return UnknownLocation()
}

func (c *Client) lookupWith(ctx context.Context, provider Provider, ip netip.Addr) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return provider.Lookup(ctx, ip)
}

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsValid() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsUnspecified() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsMulticast()
}
