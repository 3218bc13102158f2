// Package resilience guards calls to flaky collaborators with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

func (s CircuitBreakerState) gauge() int {
	switch s {
	case CircuitBreakerHalfOpen:
		return 1
	case CircuitBreakerOpen:
		return 2
	}
	return 0
}

// BreakerConfig tunes a Breaker
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open before one probe is let through
	Cooldown time.Duration
	// Timeout bounds each operation; zero means no extra bound
	Timeout time.Duration
}

// DefaultBreakerConfig opens after 3 failures and probes after 10 seconds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		Timeout:          5 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker
type Breaker struct {
	name    string
	cfg     BreakerConfig
	metrics *metrics.Metrics
	now     func() time.Time

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewBreaker creates a closed breaker. m may be nil.
func NewBreaker(name string, cfg BreakerConfig, m *metrics.Metrics) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &Breaker{
		name:    name,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
		state:   CircuitBreakerClosed,
	}
}

// Execute runs fn unless the circuit is open
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the current state, moving open to half-open once the cooldown has passed
func (b *Breaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	switch b.state {
	case CircuitBreakerOpen:
		return false
	case CircuitBreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.consecutiveFailures = 0
		if b.state != CircuitBreakerClosed {
			logger.Info("Circuit breaker closed", zap.String("name", b.name))
			b.setState(CircuitBreakerClosed)
		}
		return
	}

	b.consecutiveFailures++
	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		if b.state != CircuitBreakerOpen {
			logger.Warn("Circuit breaker opened",
				zap.String("name", b.name),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.String("error_type", ClassifyError(err)))
		}
		b.openedAt = b.now()
		b.setState(CircuitBreakerOpen)
	}
}

// maybeHalfOpen expects b.mu held
func (b *Breaker) maybeHalfOpen() {
	if b.state == CircuitBreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.setState(CircuitBreakerHalfOpen)
	}
}

func (b *Breaker) setState(s CircuitBreakerState) {
	b.state = s
	if b.metrics != nil {
		b.metrics.SetCircuitBreakerState(b.name, s.gauge())
	}
}

// ClassifyError buckets an error for metrics labels
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "circuit_breaker"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "unauthorized"):
		return "permission"
	default:
		return "unknown"
	}
}
