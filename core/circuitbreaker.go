package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a collector circuit breaker
type BreakerState string

const (
	// BreakerClosed lets calls through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects calls until the cool-down elapses
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen admits a limited number of probe calls
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrBreakerOpen is returned by Allow while the breaker is open
	ErrBreakerOpen = errors.New("circuit breaker is open")
	// ErrBreakerProbeLimit is returned when all half-open probe slots are taken
	ErrBreakerProbeLimit = errors.New("circuit breaker probe limit reached")
	// ErrInvalidBreakerConfig wraps configuration problems
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// BreakerConfig configures a CircuitBreaker
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures uint32 `mapstructure:"max_failures" json:"max_failures"`
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration `mapstructure:"cooldown" json:"cooldown"`
	// MaxProbes is the number of concurrent calls admitted while half-open
	MaxProbes uint32 `mapstructure:"max_probes" json:"max_probes"`
}

// Validate checks the configuration
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("max_failures must be greater than 0")
	}
	if c.Cooldown <= 0 {
		return errors.New("cooldown must be greater than 0")
	}
	if c.MaxProbes == 0 {
		return errors.New("max_probes must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig returns the defaults used for API sources
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 3,
		Cooldown:    5 * time.Minute,
		MaxProbes:   1,
	}
}

// CircuitBreaker stops hammering a data source that keeps failing.
// A breaker is shared by all cycles that poll the same source.
type CircuitBreaker struct {
	name     string
	config   BreakerConfig
	clock    Clock
	mu       sync.Mutex
	state    BreakerState
	failures uint32
	openedAt time.Time
	probes   uint32
}

// NewCircuitBreaker creates a closed breaker. A nil clock uses the system clock.
func NewCircuitBreaker(name string, config BreakerConfig, clock Clock) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBreakerConfig, err)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		clock:  clock,
		state:  BreakerClosed,
	}, nil
}

// Name returns the name the breaker was created with
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed. Every nil return must be
// followed by exactly one RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.config.Cooldown {
			return fmt.Errorf("%w: %s", ErrBreakerOpen, cb.name)
		}
		cb.state = BreakerHalfOpen
		cb.probes = 1
		return nil
	case BreakerHalfOpen:
		if cb.probes >= cb.config.MaxProbes {
			return fmt.Errorf("%w: %s", ErrBreakerProbeLimit, cb.name)
		}
		cb.probes++
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and clears the failure count
func (cb *CircuitBreaker) RecordSuccess() (from, to BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from = cb.state
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probes = 0
	return from, cb.state
}

// RecordFailure counts a failure, opening the breaker at the threshold or on a failed probe
func (cb *CircuitBreaker) RecordFailure() (from, to BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from = cb.state
	cb.failures++

	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.trip()
	}
	return from, cb.state
}

func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.openedAt = cb.clock.Now()
	cb.probes = 0
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
