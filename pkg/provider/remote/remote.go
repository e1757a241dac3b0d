// Package remote implements a provider that polls a snapshot document over
// HTTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/pennant/pkg/codec"
	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/provider"
)

// Config configures a Provider.
type Config struct {
	// Name identifies the provider to the manager.
	Name string

	// Endpoint is the base URL of the flag service.
	Endpoint string

	// Path is appended to Endpoint for snapshot fetches.
	Path string

	// APIKey is sent as a bearer token when set.
	APIKey string

	Timeout time.Duration

	// TTL is applied to snapshots the service sends without one.
	TTL time.Duration

	// MaxBodyBytes caps the response size. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes is the response cap used when Config.MaxBodyBytes is 0.
const DefaultMaxBodyBytes = 10 << 20

// maxErrorBody bounds how much of a non-2xx response is kept in HTTPError.
const maxErrorBody = 4 << 10

// DefaultConfig returns a configuration for endpoint.
func DefaultConfig(name, endpoint string) Config {
	return Config{
		Name:     name,
		Endpoint: endpoint,
		Path:     "/api/v1/snapshot",
		Timeout:  5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return domain.NewConfigurationError("name", "cannot be empty")
	}
	if c.Endpoint == "" {
		return domain.NewConfigurationError("endpoint", "cannot be empty")
	}
	if c.Timeout <= 0 {
		return domain.NewConfigurationError("timeout", "must be positive")
	}
	if c.TTL < 0 {
		return domain.NewConfigurationError("ttl", "must not be negative")
	}
	if c.MaxBodyBytes < 0 {
		return domain.NewConfigurationError("max_body_bytes", "must not be negative")
	}
	return nil
}

// Option customizes a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default client built from Config.Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithVerifier expects every response to be a signed codec envelope.
func WithVerifier(v codec.Verifier) Option {
	return func(p *Provider) { p.verifier = v }
}

// WithClock sets the time used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// Provider fetches snapshots from Config.Endpoint. Conditional requests use
// the last revision as an ETag so unchanged snapshots are not re-sent.
type Provider struct {
	provider.HealthTracker

	cfg        Config
	url        string
	httpClient *http.Client
	serializer codec.Serializer
	verifier   codec.Verifier
	now        func() time.Time

	mu   sync.Mutex
	last *domain.ProviderSnapshot
}

var (
	_ provider.FlagsProvider  = (*Provider)(nil)
	_ provider.HealthReporter = (*Provider)(nil)
)

// New creates a Provider.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:        cfg,
		url:        strings.TrimRight(cfg.Endpoint, "/") + cfg.Path,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		serializer: codec.JSONSerializer{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Bootstrap(ctx context.Context) (domain.ProviderSnapshot, error) {
	return p.fetch(ctx)
}

func (p *Provider) Refresh(ctx context.Context) (domain.ProviderSnapshot, error) {
	return p.fetch(ctx)
}

// HealthCheck probes the service's health endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	url := strings.TrimRight(p.cfg.Endpoint, "/") + "/api/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewNetworkError("build health request", err)
	}
	p.authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("health check failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return domain.NewNetworkError("health check failed", &HTTPError{StatusCode: resp.StatusCode})
	}
	return nil
}

func (p *Provider) fetch(ctx context.Context) (domain.ProviderSnapshot, error) {
	snap, err := p.doFetch(ctx)
	p.Record(err)
	return snap, err
}

func (p *Provider) doFetch(ctx context.Context) (domain.ProviderSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.ProviderSnapshot{}, domain.NewNetworkError("build request", err)
	}
	req.Header.Set("Accept", "application/json")
	p.authorize(req)

	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last != nil && last.Revision != "" {
		req.Header.Set("If-None-Match", quoteETag(last.Revision))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.ProviderSnapshot{}, domain.NewNetworkError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && last != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		snap := *last
		snap.FetchedAtMs = p.now().UnixMilli()
		p.remember(snap)
		return snap, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.ProviderSnapshot{}, domain.NewNetworkError(
			fmt.Sprintf("unexpected status %d", resp.StatusCode),
			&HTTPError{StatusCode: resp.StatusCode, Message: string(msg)},
		)
	}

	body, err := p.readBody(resp.Body)
	if err != nil {
		return domain.ProviderSnapshot{}, err
	}

	snap, err := codec.Open(p.serializer, p.verifier, body)
	if err != nil {
		return domain.ProviderSnapshot{}, err
	}
	if snap.Revision == "" {
		snap.Revision = strings.Trim(resp.Header.Get("ETag"), `"`)
	}
	snap.FetchedAtMs = p.now().UnixMilli()
	if snap.TTLMs == nil && p.cfg.TTL > 0 {
		snap = snap.WithTTL(p.cfg.TTL)
	}

	p.remember(snap)
	return snap, nil
}

// readBody reads at most the configured cap. A larger body is a ParseError,
// which is not retried.
func (p *Provider) readBody(r io.Reader) ([]byte, error) {
	limit := p.cfg.MaxBodyBytes
	if limit == 0 {
		limit = DefaultMaxBodyBytes
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, domain.NewNetworkError("read response", err)
	}
	if int64(len(body)) > limit {
		return nil, domain.NewParseError(fmt.Sprintf("response exceeds %d bytes", limit), nil)
	}
	return body, nil
}

func (p *Provider) remember(snap domain.ProviderSnapshot) {
	p.mu.Lock()
	p.last = &snap
	p.mu.Unlock()
}

func (p *Provider) authorize(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

func quoteETag(revision string) string {
	return `"` + revision + `"`
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether err is worth retrying: transport failures,
// 5xx and 429. Parse failures and other 4xx are not. It fits
// retry.Exponential.Retryable.
func Retryable(err error) bool {
	if domain.IsCircuitOpen(err) || domain.IsParseError(err) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
