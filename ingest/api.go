package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPITimeout applies when a source sets no timeout_seconds
	DefaultAPITimeout = 30 * time.Second
	// MaxAPIResponseBytes caps how much of a response body is read
	MaxAPIResponseBytes = 64 << 20
)

// ErrAPIStatus is returned for non-2xx responses
var ErrAPIStatus = errors.New("unexpected API response status")

// APICollector pulls events from HTTP JSON endpoints. Each source gets its
// own rate limiter and circuit breaker, kept across collections.
type APICollector struct {
	client     *http.Client
	logger     *zap.SugaredLogger
	clock      core.Clock
	breakerCfg core.BreakerConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*core.CircuitBreaker
}

// APIOption customizes an APICollector
type APIOption func(*APICollector)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *APICollector) {
		if c != nil {
			a.client = c
		}
	}
}

// WithBreakerConfig sets the per-source circuit breaker parameters
func WithBreakerConfig(cfg core.BreakerConfig) APIOption {
	return func(a *APICollector) {
		a.breakerCfg = cfg
	}
}

// NewAPICollector creates an API collector
func NewAPICollector(logger *zap.SugaredLogger, clock core.Clock, opts ...APIOption) *APICollector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	a := &APICollector{
		client:     &http.Client{},
		logger:     logger,
		clock:      clock,
		breakerCfg: core.DefaultBreakerConfig(),
		limiters:   make(map[string]*rate.Limiter),
		breakers:   make(map[string]*core.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect performs one GET against the source URL
func (a *APICollector) Collect(ctx context.Context, src config.DataSource) ([]core.RawRecord, error) {
	if src.URL == "" {
		return nil, ErrMissingURL
	}

	if limiter := a.limiter(src); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	breaker, err := a.breaker(src.Name)
	if err != nil {
		return nil, err
	}
	if err := breaker.Allow(); err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}

	recs, err := a.fetch(ctx, src)
	if err != nil {
		// a cancelled call only counts when it was the half-open probe
		if ctx.Err() == nil || breaker.State() == core.BreakerHalfOpen {
			a.logTransition(src.Name, breaker.RecordFailure)
		}
		return nil, err
	}
	a.logTransition(src.Name, breaker.RecordSuccess)
	return recs, nil
}

func (a *APICollector) fetch(ctx context.Context, src config.DataSource) ([]core.RawRecord, error) {
	timeout := DefaultAPITimeout
	if src.TimeoutSeconds > 0 {
		timeout = time.Duration(src.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := a.newRequest(ctx, src)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s", ErrAPIStatus, resp.Status)
	}

	var data interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxAPIResponseBytes)).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse API response as JSON: %w", err)
	}
	return extractEvents(data, src.EventsPath, a.logger)
}

func (a *APICollector) newRequest(ctx context.Context, src config.DataSource) (*http.Request, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}
	if len(src.Params) > 0 {
		q := u.Query()
		for k, v := range src.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	method := src.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	switch src.Auth.Type {
	case "basic":
		req.SetBasicAuth(src.Auth.Username, src.Auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+src.Auth.Token)
	}
	return req, nil
}

func (a *APICollector) breaker(name string) (*core.CircuitBreaker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.breakers[name]; ok {
		return b, nil
	}
	b, err := core.NewCircuitBreaker(name, a.breakerCfg, a.clock)
	if err != nil {
		return nil, err
	}
	a.breakers[name] = b
	return b, nil
}

func (a *APICollector) logTransition(source string, record func() (core.BreakerState, core.BreakerState)) {
	if from, to := record(); from != to {
		a.logger.Warnw("Circuit breaker state changed", "source", source, "from", from, "to", to)
	}
}

// limiter returns nil when the source sets no rate limit
func (a *APICollector) limiter(src config.DataSource) *rate.Limiter {
	if src.RateLimit <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[src.Name]
	if !ok || l.Limit() != rate.Limit(src.RateLimit) {
		burst := int(src.RateLimit)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(src.RateLimit), burst)
		a.limiters[src.Name] = l
	}
	return l
}

// BreakerState reports the circuit state for a source, closed if unseen
func (a *APICollector) BreakerState(name string) core.BreakerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.breakers[name]; ok {
		return b.State()
	}
	return core.BreakerClosed
}
