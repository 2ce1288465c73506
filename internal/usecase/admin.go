package usecase

import (
	"context"
	"fmt"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
)

// AdminUsecase manages instance settings and serves the audit trail.
// Settings mutations are audited like relay mutations.
type AdminUsecase struct {
	settings SettingRepository
	audit    AuditLog
}

func NewAdminUsecase(settings SettingRepository, audit AuditLog) *AdminUsecase {
	return &AdminUsecase{settings: settings, audit: audit}
}

func (uc *AdminUsecase) Settings(ctx context.Context) (domain.Setting, error) {
	return uc.settings.Get(ctx)
}

func (uc *AdminUsecase) UpdateSettings(ctx context.Context, actor string, setting domain.Setting) (domain.Setting, error) {
	for _, author := range setting.BlockedAuthors {
		if !imprint.IsAuthorKey(author) {
			return domain.Setting{}, domain.ValidationError{
				Reason: "blocked list entries must be author keys",
			}
		}
	}
	setting.UpdatedBy = actor

	updated, err := uc.settings.Update(ctx, setting)
	if err != nil {
		return domain.Setting{}, err
	}

	message := fmt.Sprintf("updated instance settings, %d blocked authors", len(updated.BlockedAuthors))
	if err := uc.audit.Append(ctx, "info", "settings.update", actor, message); err != nil {
		return domain.Setting{}, err
	}
	return updated, nil
}

// Events returns the newest audit entries.
func (uc *AdminUsecase) Events(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return uc.audit.Recent(ctx, limit)
}
