package usecase

import (
	"context"

	"github.com/imprint-pub/imprint/internal/domain"
)

const maxFeedLimit = 100

// FeedUsecase serves the read-side views consumed by presentation layers:
// the latest-per-article feed, single-article lookups and revision history.
type FeedUsecase struct {
	records  RecordRepository
	settings SettingRepository
}

func NewFeedUsecase(records RecordRepository, settings SettingRepository) *FeedUsecase {
	return &FeedUsecase{records: records, settings: settings}
}

// ListLatest returns one entry per article, most recently published first.
// Superseded versions, drafts and blocked authors are never exposed here.
func (uc *FeedUsecase) ListLatest(ctx context.Context, filter domain.FeedFilter) ([]domain.Record, error) {
	setting, err := uc.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	filter.ExcludeAuthors = setting.BlockedAuthors

	if filter.Limit <= 0 {
		filter.Limit = setting.MaxFeedItems
	}
	if filter.Limit <= 0 {
		filter.Limit = 15
	}
	if filter.Limit > maxFeedLimit {
		filter.Limit = maxFeedLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return uc.records.ListLatest(ctx, filter)
}

// Latest returns the head of one chain.
func (uc *FeedUsecase) Latest(ctx context.Context, author, identifier string) (*domain.Record, error) {
	rec, err := uc.records.Latest(ctx, author, identifier)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.NotFoundError{Resource: "article"}
	}
	return rec, nil
}

// History returns the full chain, version ascending.
func (uc *FeedUsecase) History(ctx context.Context, author, identifier string) ([]domain.Record, error) {
	history, err := uc.records.History(ctx, author, identifier)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, domain.NotFoundError{Resource: "article"}
	}
	return history, nil
}

// Get resolves a single record by its event id.
func (uc *FeedUsecase) Get(ctx context.Context, eventID string) (*domain.Record, error) {
	rec, err := uc.records.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.NotFoundError{Resource: "record"}
	}
	return rec, nil
}
