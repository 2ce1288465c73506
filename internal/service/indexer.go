package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/usecase"
	"github.com/imprint-pub/imprint/policy"
)

// Indexer periodically pulls article events from the configured relays and
// folds them into the local store. The store's chain rules decide acceptance;
// the indexer only moves verified candidates and reports what happened.
type Indexer struct {
	config   *domain.Config
	records  usecase.RecordRepository
	relays   usecase.RelayRepository
	gateway  usecase.RelayGateway
	signal   usecase.Signal
	interval time.Duration

	moderation *policy.Document
}

// SetModeration installs a moderation ruleset consulted before any fetched
// record is stored. Must be called before Run.
func (ix *Indexer) SetModeration(doc policy.Document) {
	ix.moderation = &doc
}

func NewIndexer(
	config *domain.Config,
	records usecase.RecordRepository,
	relays usecase.RelayRepository,
	gateway usecase.RelayGateway,
	signal usecase.Signal,
	interval time.Duration,
) *Indexer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Indexer{
		config:   config,
		records:  records,
		relays:   relays,
		gateway:  gateway,
		signal:   signal,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled, syncing once immediately and then on
// every interval tick.
func (ix *Indexer) Run(ctx context.Context) {
	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()

	ix.syncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ix.syncOnce(ctx)
		}
	}
}

func (ix *Indexer) syncOnce(ctx context.Context) {
	filter := imprint.Filter{
		Authors: []string{ix.config.AuthorKey},
		Kinds:   []int{imprint.KindArticle},
		Since:   time.Now().Add(-30 * 24 * time.Hour).Unix(),
	}

	events, err := ix.gateway.Fetch(ctx, filter, ix.relayURLs(ctx))
	if err != nil {
		slog.WarnContext(ctx, "indexer fetch failed", slog.String("error", err.Error()))
		return
	}

	accepted := 0
	for _, ev := range events {
		rec, err := domain.RecordFromEvent(ev)
		if err != nil {
			continue
		}
		if ix.moderation != nil && !policy.Accepts(*ix.moderation, policy.RecordContext{
			Author:     rec.Author,
			Identifier: rec.Identifier,
			Title:      rec.Title,
			Topics:     rec.Topics,
			Version:    rec.Version,
			Status:     rec.Status,
			ContentLen: len(rec.Content),
		}) {
			slog.DebugContext(ctx, "record denied by moderation policy",
				slog.String("eventID", ev.ID))
			continue
		}
		result, err := ix.records.Upsert(ctx, rec, ev)
		if err != nil {
			slog.ErrorContext(ctx, "indexer upsert failed",
				slog.String("eventID", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if result == domain.UpsertAccepted {
			accepted++
			if err := ix.signal.PublishRecord(ctx, rec); err != nil {
				slog.WarnContext(ctx, "indexer signal failed", slog.String("error", err.Error()))
			}
		}
	}

	if accepted > 0 {
		slog.InfoContext(ctx, "indexer sync complete",
			slog.Int("fetched", len(events)),
			slog.Int("accepted", accepted),
		)
	}
}

func (ix *Indexer) relayURLs(ctx context.Context) []string {
	stored, err := ix.relays.List(ctx)
	if err != nil || len(stored) == 0 {
		return ix.config.Relays
	}
	urls := make([]string, 0, len(stored))
	for _, relay := range stored {
		urls = append(urls, relay.URL)
	}
	return urls
}
