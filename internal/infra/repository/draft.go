package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/infra/database/models"
)

// DraftRepository stores author-private drafts. Every query carries the
// owner's author key, so a foreign draft is simply not found.
type DraftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

func (r *DraftRepository) Save(ctx context.Context, draft domain.Draft) (domain.Draft, error) {
	row := models.Draft{
		ID:         draft.ID,
		Author:     draft.Author,
		Identifier: draft.Identifier,
		Title:      draft.Title,
		Content:    draft.Content,
		Summary:    draft.Summary,
		Topics:     joinTopics(draft.Topics),
	}

	if row.ID == 0 {
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return domain.Draft{}, err
		}
	} else {
		res := r.db.WithContext(ctx).
			Model(&models.Draft{}).
			Where("id = ? AND author = ?", row.ID, draft.Author).
			Updates(map[string]any{
				"identifier": row.Identifier,
				"title":      row.Title,
				"content":    row.Content,
				"summary":    row.Summary,
				"topics":     row.Topics,
			})
		if res.Error != nil {
			return domain.Draft{}, res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Draft{}, domain.NotFoundError{Resource: "draft"}
		}
	}

	saved, err := r.Get(ctx, draft.Author, row.ID)
	if err != nil {
		return domain.Draft{}, err
	}
	if saved == nil {
		return domain.Draft{}, domain.NotFoundError{Resource: "draft"}
	}
	return *saved, nil
}

func (r *DraftRepository) Get(ctx context.Context, author string, id int64) (*domain.Draft, error) {
	var row models.Draft
	err := r.db.WithContext(ctx).
		Where("id = ? AND author = ?", id, author).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	draft := toDraft(row)
	return &draft, nil
}

func (r *DraftRepository) List(ctx context.Context, author string) ([]domain.Draft, error) {
	var rows []models.Draft
	err := r.db.WithContext(ctx).
		Where("author = ?", author).
		Order("m_date DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	drafts := make([]domain.Draft, 0, len(rows))
	for _, row := range rows {
		drafts = append(drafts, toDraft(row))
	}
	return drafts, nil
}

func (r *DraftRepository) Delete(ctx context.Context, author string, id int64) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND author = ?", id, author).
		Delete(&models.Draft{}).Error
}

func (r *DraftRepository) DeleteByIdentifier(ctx context.Context, author, identifier string) error {
	if identifier == "" {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("author = ? AND identifier = ?", author, identifier).
		Delete(&models.Draft{}).Error
}

func toDraft(row models.Draft) domain.Draft {
	return domain.Draft{
		ID:         row.ID,
		Author:     row.Author,
		Identifier: row.Identifier,
		Title:      row.Title,
		Content:    row.Content,
		Summary:    row.Summary,
		Topics:     splitTopics(row.Topics),
		CreatedAt:  row.CDate,
		UpdatedAt:  row.MDate,
	}
}
