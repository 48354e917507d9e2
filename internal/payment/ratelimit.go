package payment

import (
	"context"
	"sync"
	"time"
)

// Default OTP send budget: 10 requests per number per rolling minute.
const (
	DefaultRateLimit       = 10
	DefaultRateLimitWindow = time.Minute
)

// AttemptStore tracks OTP send attempts per phone number. The state outlives
// individual transactions: a new session for the same number within the window
// still sees the earlier attempts.
type AttemptStore interface {
	// Allow records an attempt for the number unless its window budget is
	// already spent. It reports whether the attempt may proceed. A recorded
	// attempt counts even if the subsequent provider call fails or times out.
	Allow(ctx context.Context, phone string, now time.Time) (bool, error)
}

// MemoryAttemptStore keeps the sliding window in process memory.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	attempts map[string][]time.Time
}

// NewMemoryAttemptStore constructs an in-memory attempt store. Non-positive
// limit or window fall back to the defaults.
func NewMemoryAttemptStore(limit int, window time.Duration) *MemoryAttemptStore {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &MemoryAttemptStore{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow implements AttemptStore with a sliding window over recorded timestamps.
func (s *MemoryAttemptStore) Allow(ctx context.Context, phone string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.window)
	recent := s.attempts[phone][:0]
	for _, at := range s.attempts[phone] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= s.limit {
		s.attempts[phone] = recent
		return false, nil
	}

	s.attempts[phone] = append(recent, now)
	return true, nil
}
