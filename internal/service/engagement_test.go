package service

import (
	"context"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"

	"github.com/imprint-pub/imprint"
)

// the memcached client points at a closed port; every cache call misses,
// which is exactly the degraded mode the service must tolerate.
func unreachableMemcached() *memcache.Client {
	mc := memcache.New("127.0.0.1:1")
	mc.Timeout = 50 * time.Millisecond
	return mc
}

func TestEngagementCounts(t *testing.T) {
	gw := &fakeGateway{events: []imprint.Event{
		{ID: "r1", Kind: imprint.KindReaction},
		{ID: "r2", Kind: imprint.KindReaction},
		{ID: "z1", Kind: imprint.KindZapReceipt},
	}}
	svc := NewEngagementService(gw, &fakeRelayRepo{}, unreachableMemcached())

	counts, err := svc.Get(context.Background(), "ev1")
	assert.NoError(t, err)
	assert.Equal(t, 2, counts.Reactions)
	assert.Equal(t, 1, counts.Zaps)
	assert.Equal(t, "ev1", counts.EventID)
}

func TestEngagementEmpty(t *testing.T) {
	svc := NewEngagementService(&fakeGateway{}, &fakeRelayRepo{}, unreachableMemcached())

	counts, err := svc.Get(context.Background(), "ev1")
	assert.NoError(t, err)
	assert.Zero(t, counts.Reactions)
	assert.Zero(t, counts.Zaps)
}
