package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/usecase"
)

const engagementCacheTTL = 300 // seconds

// Engagement aggregates reader reactions observed on the relay network for
// a single published event.
type Engagement struct {
	EventID   string `json:"eventID"`
	Reactions int    `json:"reactions"`
	Zaps      int    `json:"zaps"`
}

// EngagementService counts reaction and zap-receipt events referencing a
// record. Counts come from the relays on demand and are cached in memcached;
// they are advisory and never part of the record chain itself.
type EngagementService struct {
	gateway usecase.RelayGateway
	relays  usecase.RelayRepository
	mc      *memcache.Client
}

func NewEngagementService(
	gateway usecase.RelayGateway,
	relays usecase.RelayRepository,
	mc *memcache.Client,
) *EngagementService {
	return &EngagementService{
		gateway: gateway,
		relays:  relays,
		mc:      mc,
	}
}

func (s *EngagementService) Get(ctx context.Context, eventID string) (Engagement, error) {
	ctx, span := tracer.Start(ctx, "Engagement.Service.Get")
	defer span.End()

	cacheKey := "engagement:" + eventID
	if item, err := s.mc.Get(cacheKey); err == nil {
		var cached Engagement
		if json.Unmarshal(item.Value, &cached) == nil {
			return cached, nil
		}
	}

	relayList, err := s.relays.List(ctx)
	if err != nil {
		span.RecordError(err)
		return Engagement{}, errors.Wrap(err, "failed to list relays")
	}
	urls := make([]string, 0, len(relayList))
	for _, relay := range relayList {
		urls = append(urls, relay.URL)
	}

	events, err := s.gateway.Fetch(ctx, imprint.Filter{
		Kinds: []int{imprint.KindReaction, imprint.KindZapReceipt},
		Refs:  []string{eventID},
	}, urls)
	if err != nil {
		span.RecordError(err)
		return Engagement{}, errors.Wrap(err, "failed to fetch engagement")
	}

	result := Engagement{EventID: eventID}
	for _, ev := range events {
		switch ev.Kind {
		case imprint.KindReaction:
			result.Reactions++
		case imprint.KindZapReceipt:
			result.Zaps++
		}
	}

	encoded, err := json.Marshal(result)
	if err == nil {
		err = s.mc.Set(&memcache.Item{
			Key:        cacheKey,
			Value:      encoded,
			Expiration: engagementCacheTTL,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to cache engagement", slog.String("error", err.Error()))
		}
	}

	return result, nil
}
