package usecase

import (
	"context"
	"net/url"

	"github.com/imprint-pub/imprint/internal/domain"
)

// RelayAdminUsecase manages the configured relay set. Mutations are
// administrative actions and leave an audit trail.
type RelayAdminUsecase struct {
	relays RelayRepository
	audit  AuditLog
}

func NewRelayAdminUsecase(relays RelayRepository, audit AuditLog) *RelayAdminUsecase {
	return &RelayAdminUsecase{relays: relays, audit: audit}
}

func (uc *RelayAdminUsecase) List(ctx context.Context) ([]domain.Relay, error) {
	return uc.relays.List(ctx)
}

func (uc *RelayAdminUsecase) Add(ctx context.Context, actor, relayURL string) error {
	parsed, err := url.Parse(relayURL)
	if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") || parsed.Host == "" {
		return domain.ValidationError{Reason: "relay url must be ws:// or wss://"}
	}
	if err := uc.relays.Add(ctx, relayURL); err != nil {
		return err
	}
	return uc.audit.Append(ctx, "info", "relay.add", actor, "added relay "+relayURL)
}

func (uc *RelayAdminUsecase) Remove(ctx context.Context, actor, relayURL string) error {
	if err := uc.relays.Remove(ctx, relayURL); err != nil {
		return err
	}
	return uc.audit.Append(ctx, "info", "relay.remove", actor, "removed relay "+relayURL)
}
