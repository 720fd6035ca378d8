package guard

import (
	"context"
	"sync"

	"github.com/staffdesk/medbook/internal/domain"
)

// IdempotencyGuard deduplicates work by key, remembering the most recent capacity keys.
type IdempotencyGuard struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	order    []string
	capacity int
}

// NewIdempotencyGuard creates an in-memory idempotency guard.
func NewIdempotencyGuard(capacity int) *IdempotencyGuard {
	if capacity <= 0 {
		capacity = 1024
	}
	return &IdempotencyGuard{
		seen:     make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// Check returns whether the given key has already been processed.
func (ig *IdempotencyGuard) Check(_ context.Context, key string) domain.GuardResult {
	if key == "" {
		return domain.GuardResult{Allowed: true}
	}

	ig.mu.Lock()
	defer ig.mu.Unlock()

	if _, ok := ig.seen[key]; ok {
		return domain.GuardResult{
			Allowed: false,
			Reason:  "duplicate: key already processed",
			Guard:   "idempotency",
		}
	}

	if len(ig.order) >= ig.capacity {
		oldest := ig.order[0]
		ig.order = ig.order[1:]
		delete(ig.seen, oldest)
	}
	ig.seen[key] = struct{}{}
	ig.order = append(ig.order, key)
	return domain.GuardResult{Allowed: true}
}

// Remove deletes a key from the seen set so it can be retried.
func (ig *IdempotencyGuard) Remove(key string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()

	if _, ok := ig.seen[key]; !ok {
		return
	}
	delete(ig.seen, key)
	for i, k := range ig.order {
		if k == key {
			ig.order = append(ig.order[:i], ig.order[i+1:]...)
			break
		}
	}
}
