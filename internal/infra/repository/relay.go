package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/infra/database/models"
)

type RelayRepository struct {
	db *gorm.DB
}

func NewRelayRepository(db *gorm.DB) *RelayRepository {
	return &RelayRepository{db: db}
}

func (r *RelayRepository) List(ctx context.Context) ([]domain.Relay, error) {
	var rows []models.Relay
	err := r.db.WithContext(ctx).Order("url ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	relays := make([]domain.Relay, 0, len(rows))
	for _, row := range rows {
		relays = append(relays, domain.Relay{
			URL:         row.URL,
			Status:      row.Status,
			LastChecked: row.LastChecked,
		})
	}
	return relays, nil
}

func (r *RelayRepository) Add(ctx context.Context, url string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "url"}},
		DoNothing: true,
	}).Create(&models.Relay{URL: url, Status: domain.RelayStatusUnknown}).Error
}

func (r *RelayRepository) Remove(ctx context.Context, url string) error {
	res := r.db.WithContext(ctx).Where("url = ?", url).Delete(&models.Relay{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "relay"}
	}
	return nil
}

func (r *RelayRepository) UpdateHealth(ctx context.Context, url, status string, checkedAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Relay{}).
		Where("url = ?", url).
		Updates(map[string]any{"status": status, "last_checked": checkedAt}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
