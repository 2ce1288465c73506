package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/infra/database/models"
)

// AuditRepository appends administrative action rows.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, level, action, actor, message string) error {
	return r.db.WithContext(ctx).Create(&models.AdminEvent{
		Level:   level,
		Action:  action,
		Actor:   actor,
		Message: message,
	}).Error
}

// Recent returns the newest audit rows, newest first.
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.AdminEvent
	err := r.db.WithContext(ctx).Order("c_date DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.AuditEntry{
			ID:        row.ID,
			Level:     row.Level,
			Action:    row.Action,
			Actor:     row.Actor,
			Message:   row.Message,
			CreatedAt: row.CDate,
		})
	}
	return entries, nil
}
