package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/staffdesk/medbook/internal/domain"
)

// CircuitState represents the state of one recipient's circuit.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker tracks delivery failures per key (one key per chat).
// After failThreshold consecutive failures the key is refused until
// cooldown passes; then a single trial request is let through.
type CircuitBreaker struct {
	mu            sync.Mutex
	circuits      map[string]*circuit
	failThreshold int
	cooldown      time.Duration
	now           func() time.Time
}

type circuit struct {
	state    CircuitState
	failures int
	openedAt time.Time
	tripped  bool
}

// NewCircuitBreaker creates a breaker. A non-positive threshold means one failure opens.
func NewCircuitBreaker(failThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failThreshold <= 0 {
		failThreshold = 1
	}
	return &CircuitBreaker{
		circuits:      make(map[string]*circuit),
		failThreshold: failThreshold,
		cooldown:      cooldown,
		now:           time.Now,
	}
}

// Check reports whether a delivery to key may be attempted.
func (cb *CircuitBreaker) Check(_ context.Context, key string) domain.GuardResult {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[key]
	if !ok || c.state == CircuitClosed {
		return domain.GuardResult{Allowed: true}
	}

	if c.state == CircuitHalfOpen {
		return refused("trial request to %s already in flight", key)
	}
	if c.tripped {
		return refused("%s tripped: recipient unreachable", key)
	}
	wait := c.openedAt.Add(cb.cooldown).Sub(cb.now())
	if wait > 0 {
		return refused("circuit open for %s, retry in %s", key, wait.Round(time.Second))
	}
	c.state = CircuitHalfOpen
	return domain.GuardResult{Allowed: true}
}

func refused(format string, args ...interface{}) domain.GuardResult {
	return domain.GuardResult{Allowed: false, Reason: fmt.Sprintf(format, args...), Guard: "circuit_breaker"}
}

// State returns the current state for key.
func (cb *CircuitBreaker) State(key string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok := cb.circuits[key]; ok {
		return c.state
	}
	return CircuitClosed
}

// RecordSuccess closes the circuit for key.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, key)
}

// RecordFailure counts a failed delivery. A failed trial request reopens at once.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(key)
	c.failures++
	if c.state == CircuitHalfOpen || c.failures >= cb.failThreshold {
		c.state = CircuitOpen
		c.openedAt = cb.now()
	}
}

// Trip opens the circuit for key until Reset, regardless of the threshold.
// Used when the recipient has blocked the bot.
func (cb *CircuitBreaker) Trip(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.circuit(key)
	c.state = CircuitOpen
	c.openedAt = cb.now()
	c.tripped = true
}

// Reset forgets every circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	clear(cb.circuits)
}

func (cb *CircuitBreaker) circuit(key string) *circuit {
	c, ok := cb.circuits[key]
	if !ok {
		c = &circuit{}
		cb.circuits[key] = c
	}
	return c
}
