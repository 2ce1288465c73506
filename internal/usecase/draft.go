package usecase

import (
	"context"

	"github.com/imprint-pub/imprint/internal/domain"
)

// DraftUsecase manages author-private staging content. Ownership is enforced
// on every operation: the repository filters by author, so a foreign draft
// reads as not found.
type DraftUsecase struct {
	drafts DraftRepository
}

func NewDraftUsecase(drafts DraftRepository) *DraftUsecase {
	return &DraftUsecase{drafts: drafts}
}

func (uc *DraftUsecase) Save(ctx context.Context, requester string, draft domain.Draft) (*domain.Draft, error) {
	if requester == "" {
		return nil, domain.ForbiddenError{Reason: "author key required"}
	}
	if draft.Title == "" && draft.Content == "" {
		return nil, domain.ValidationError{Reason: "empty draft"}
	}
	if draft.ID != 0 {
		existing, err := uc.drafts.Get(ctx, requester, draft.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.NotFoundError{Resource: "draft"}
		}
	}
	draft.Author = requester
	saved, err := uc.drafts.Save(ctx, draft)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (uc *DraftUsecase) Get(ctx context.Context, requester string, id int64) (*domain.Draft, error) {
	draft, err := uc.drafts.Get(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, domain.NotFoundError{Resource: "draft"}
	}
	return draft, nil
}

func (uc *DraftUsecase) List(ctx context.Context, requester string) ([]domain.Draft, error) {
	return uc.drafts.List(ctx, requester)
}

func (uc *DraftUsecase) Delete(ctx context.Context, requester string, id int64) error {
	draft, err := uc.drafts.Get(ctx, requester, id)
	if err != nil {
		return err
	}
	if draft == nil {
		return domain.NotFoundError{Resource: "draft"}
	}
	return uc.drafts.Delete(ctx, requester, id)
}
