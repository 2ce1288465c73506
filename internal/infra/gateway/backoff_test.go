package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffExponentialWithCap(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewBackoff(5*time.Second, 2.0, 120*time.Second)
	b.now = func() time.Time { return now }

	relay := "wss://relay.example"
	assert.False(t, b.OnCooldown(relay))

	b.RecordFailure(relay)
	assert.True(t, b.OnCooldown(relay))
	assert.Equal(t, 1, b.Failures(relay))

	// 5s cooldown after the first failure
	now = now.Add(4 * time.Second)
	assert.True(t, b.OnCooldown(relay))
	now = now.Add(2 * time.Second)
	assert.False(t, b.OnCooldown(relay))

	// failures 2..6 double the delay, capped at 120s
	for i := 0; i < 5; i++ {
		b.RecordFailure(relay)
	}
	assert.Equal(t, 6, b.Failures(relay))
	now = now.Add(119 * time.Second)
	assert.True(t, b.OnCooldown(relay))
	now = now.Add(2 * time.Second)
	assert.False(t, b.OnCooldown(relay))
}

func TestBackoffResetOnSuccess(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewBackoff(5*time.Second, 2.0, 120*time.Second)
	b.now = func() time.Time { return now }

	relay := "wss://relay.example"
	b.RecordFailure(relay)
	b.RecordFailure(relay)
	assert.True(t, b.OnCooldown(relay))

	b.RecordSuccess(relay)
	assert.False(t, b.OnCooldown(relay))
	assert.Equal(t, 0, b.Failures(relay))
}

func TestBackoffIsolatedPerRelay(t *testing.T) {
	b := NewBackoff(5*time.Second, 2.0, 120*time.Second)

	b.RecordFailure("wss://down.example")
	assert.True(t, b.OnCooldown("wss://down.example"))
	assert.False(t, b.OnCooldown("wss://up.example"))
}
