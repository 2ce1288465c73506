package gateway

import (
	"math"
	"sync"
	"time"
)

// Backoff tracks per-relay failure state. A relay that failed recently is
// skipped rather than retried on every call, so an unreachable peer never
// turns into a request storm. State is process-scoped, owned by the gateway,
// and constructed fresh per instance so tests never share globals.
type Backoff struct {
	mu       sync.Mutex
	failures map[string]int
	until    map[string]time.Time

	initial time.Duration
	factor  float64
	cap     time.Duration

	now func() time.Time
}

func NewBackoff(initial time.Duration, factor float64, cap time.Duration) *Backoff {
	return &Backoff{
		failures: map[string]int{},
		until:    map[string]time.Time{},
		initial:  initial,
		factor:   factor,
		cap:      cap,
		now:      time.Now,
	}
}

// OnCooldown reports whether the relay should be skipped right now.
func (b *Backoff) OnCooldown(relay string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.until[relay])
}

// RecordFailure bumps the failure count and extends the cooldown
// exponentially up to the cap.
func (b *Backoff) RecordFailure(relay string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures[relay]++
	delay := time.Duration(float64(b.initial) * math.Pow(b.factor, float64(b.failures[relay]-1)))
	if delay > b.cap {
		delay = b.cap
	}
	b.until[relay] = b.now().Add(delay)
}

// RecordSuccess resets the relay's backoff state after a round-trip.
func (b *Backoff) RecordSuccess(relay string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, relay)
	delete(b.until, relay)
}

// Failures returns the current consecutive failure count for a relay.
func (b *Backoff) Failures(relay string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[relay]
}
