package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
)

// PublishInput is the validated input for one publish action.
type PublishInput struct {
	Identifier string   `json:"identifier"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Topics     []string `json:"topics"`
}

// PublishResult reports a durably committed record plus auxiliary relay
// outcomes. A publish is successful once the record is committed locally,
// independent of relay reachability.
type PublishResult struct {
	Record domain.Record                 `json:"record"`
	Relays map[string]domain.RelayStatus `json:"relays"`
}

type PublishUsecase struct {
	records RecordRepository
	drafts  DraftRepository
	relays  RelayRepository
	gateway RelayGateway
	signer  Signer
	signal  Signal
	config  domain.Config
}

func NewPublishUsecase(
	records RecordRepository,
	drafts DraftRepository,
	relays RelayRepository,
	gateway RelayGateway,
	signer Signer,
	signal Signal,
	config domain.Config,
) *PublishUsecase {
	return &PublishUsecase{
		records: records,
		drafts:  drafts,
		relays:  relays,
		gateway: gateway,
		signer:  signer,
		signal:  signal,
		config:  config,
	}
}

// Publish runs one author action end to end: authorize, resolve the next
// version, build and sign the event, persist it, then propagate. Propagation
// failures never roll back the local commit.
func (uc *PublishUsecase) Publish(ctx context.Context, requester string, input PublishInput) (*PublishResult, error) {
	if requester == "" || requester != uc.signer.AuthorKey() {
		return nil, domain.ForbiddenError{Reason: "publishing requires the node author key"}
	}
	if input.Title == "" || input.Content == "" {
		return nil, domain.ValidationError{Reason: "title and content are required"}
	}

	identifier := input.Identifier
	if identifier == "" {
		identifier = uuid.NewString()[:8]
	}

	version := 1
	supersedes := ""
	latest, err := uc.records.Latest(ctx, requester, identifier)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		version = latest.Version + 1
		supersedes = latest.EventID
	}

	ev := imprint.NewArticleEvent(requester, imprint.ArticleFields{
		Identifier: identifier,
		Title:      input.Title,
		Content:    input.Content,
		Summary:    input.Summary,
		Version:    version,
		Status:     imprint.StatusPublished,
		Supersedes: supersedes,
		Topics:     input.Topics,
	})
	if err := uc.signer.Sign(ctx, &ev); err != nil {
		return nil, err
	}

	rec, err := domain.RecordFromEvent(ev)
	if err != nil {
		return nil, err
	}

	result, err := uc.records.Upsert(ctx, rec, ev)
	if err != nil {
		return nil, err
	}
	if !result.Persisted() {
		// lost a race to a concurrent publisher for the same chain
		return nil, domain.ConflictError{Result: result}
	}

	// our own event must not come back through the fetch path
	uc.gateway.MarkSeen(rec.EventID)

	if err := uc.drafts.DeleteByIdentifier(ctx, requester, identifier); err != nil {
		slog.WarnContext(ctx, "failed to clean up draft after publish",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
	}

	outcomes := uc.gateway.Publish(ctx, ev, uc.relayURLs(ctx))
	uc.recordRelayHealth(ctx, outcomes)

	if err := uc.signal.PublishRecord(ctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to signal accepted record",
			slog.String("eventID", rec.EventID),
			slog.String("error", err.Error()),
		)
	}

	return &PublishResult{Record: rec, Relays: outcomes}, nil
}

// Revert republishes the content of a prior version as a new head version.
// History is never mutated.
func (uc *PublishUsecase) Revert(ctx context.Context, requester, identifier string, version int) (*PublishResult, error) {
	history, err := uc.records.History(ctx, requester, identifier)
	if err != nil {
		return nil, err
	}

	var target *domain.Record
	for i := range history {
		if history[i].Version == version {
			target = &history[i]
			break
		}
	}
	if target == nil {
		return nil, domain.NotFoundError{Resource: "version"}
	}

	var topics []string
	for _, topic := range target.Topics {
		if topic != imprint.SiteTopic {
			topics = append(topics, topic)
		}
	}

	return uc.Publish(ctx, requester, PublishInput{
		Identifier: identifier,
		Title:      target.Title,
		Content:    target.Content,
		Summary:    target.Summary,
		Topics:     topics,
	})
}

// recordRelayHealth folds one publish round into per-relay health rows.
// Cooldown rounds carry no new signal and leave the stored status alone.
func (uc *PublishUsecase) recordRelayHealth(ctx context.Context, outcomes map[string]domain.RelayStatus) {
	now := time.Now().UTC()
	for url, outcome := range outcomes {
		var status string
		switch outcome {
		case domain.RelaySent:
			status = domain.RelayStatusOK
		case domain.RelayFailed:
			status = domain.RelayStatusDown
		default:
			continue
		}
		if err := uc.relays.UpdateHealth(ctx, url, status, now); err != nil {
			slog.WarnContext(ctx, "failed to record relay health",
				slog.String("relay", url),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (uc *PublishUsecase) relayURLs(ctx context.Context) []string {
	configured, err := uc.relays.List(ctx)
	if err != nil || len(configured) == 0 {
		return uc.config.Relays
	}
	urls := make([]string, 0, len(configured))
	for _, relay := range configured {
		urls = append(urls, relay.URL)
	}
	return urls
}
