package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/infra/database/models"
)

const defaultMaxFeedItems = 15

// SettingRepository stores the singleton instance settings row. Get creates
// the row with defaults on first use, so callers always see a value.
type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

func (r *SettingRepository) Get(ctx context.Context) (domain.Setting, error) {
	var row models.Setting
	err := r.db.WithContext(ctx).Order("id ASC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.Setting{SiteName: "imprint", MaxFeedItems: defaultMaxFeedItems}
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return domain.Setting{}, err
		}
		return r.toSetting(row), nil
	}
	if err != nil {
		return domain.Setting{}, err
	}
	return r.toSetting(row), nil
}

func (r *SettingRepository) Update(ctx context.Context, setting domain.Setting) (domain.Setting, error) {
	if setting.SiteName == "" {
		setting.SiteName = "imprint"
	}
	if setting.MaxFeedItems <= 0 {
		setting.MaxFeedItems = defaultMaxFeedItems
	}

	// ensure the singleton row exists before updating it
	if _, err := r.Get(ctx); err != nil {
		return domain.Setting{}, err
	}

	var row models.Setting
	if err := r.db.WithContext(ctx).Order("id ASC").Take(&row).Error; err != nil {
		return domain.Setting{}, err
	}

	row.SiteName = setting.SiteName
	row.SiteTagline = setting.SiteTagline
	row.Description = setting.Description
	row.MaxFeedItems = setting.MaxFeedItems
	row.BlockedAuthors = joinTopics(setting.BlockedAuthors)
	row.UpdatedBy = setting.UpdatedBy

	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return domain.Setting{}, err
	}
	return r.toSetting(row), nil
}

func (r *SettingRepository) toSetting(row models.Setting) domain.Setting {
	return domain.Setting{
		SiteName:       row.SiteName,
		SiteTagline:    row.SiteTagline,
		Description:    row.Description,
		MaxFeedItems:   row.MaxFeedItems,
		BlockedAuthors: splitTopics(row.BlockedAuthors),
		UpdatedBy:      row.UpdatedBy,
	}
}
