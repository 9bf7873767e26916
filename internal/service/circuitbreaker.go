package service

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// ErrCircuitBreakerOpen is returned while the breaker rejects calls.
var ErrCircuitBreakerOpen = NewError("downstream_unavailable", "circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	mu                    sync.Mutex
	state                 CircuitState
	failureCount          int
	successCount          int
	failureThreshold      int
	successThreshold      int
	timeout               time.Duration
	lastFailureTime       time.Time
	maxConcurrentRequests int
	currentRequests       int
	now                   func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:                 StateClosed,
		failureThreshold:      failureThreshold,
		successThreshold:      successThreshold,
		timeout:               timeout,
		maxConcurrentRequests: 100,
		now:                   time.Now,
	}
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) <= cb.timeout {
			return ErrCircuitBreakerOpen
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
	}
	// half-open lets a bounded number of probes through
	if cb.state == StateHalfOpen && cb.currentRequests >= cb.maxConcurrentRequests {
		return ErrCircuitBreakerOpen
	}
	cb.currentRequests++
	return nil
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.currentRequests--
	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		cb.successCount = 0
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.state = StateOpen
		}
		return
	}

	cb.failureCount = 0
	cb.successCount++
	if cb.state == StateHalfOpen && cb.successCount >= cb.successThreshold {
		cb.state = StateClosed
		cb.successCount = 0
	}
}

// abandon frees a slot taken by acquire without recording an outcome.
func (cb *CircuitBreaker) abandon() {
	cb.mu.Lock()
	cb.currentRequests--
	cb.mu.Unlock()
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerTransport sends requests through a CircuitBreaker. Transport errors and 5xx
// responses count as failures, except errors of requests whose caller went away.
type BreakerTransport struct {
	transport http.RoundTripper
	breaker   *CircuitBreaker
}

// NewBreakerTransport wraps transport with cb.
func NewBreakerTransport(cb *CircuitBreaker, transport http.RoundTripper) *BreakerTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &BreakerTransport{transport: transport, breaker: cb}
}

// RoundTrip implements http.RoundTripper
func (bt *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := bt.breaker.acquire(); err != nil {
		return nil, err
	}
	resp, err := bt.transport.RoundTrip(req)
	switch {
	case err != nil && req.Context().Err() != nil:
		bt.breaker.abandon()
	case err != nil:
		bt.breaker.release(err)
	case resp.StatusCode >= http.StatusInternalServerError:
		bt.breaker.release(fmt.Errorf("downstream status %d", resp.StatusCode))
	default:
		bt.breaker.release(nil)
	}
	return resp, err
}
