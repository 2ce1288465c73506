package usecase

import (
	"context"
	"time"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
)

// RecordRepository defines storage for published records and their chains.
// Upsert is the single enforcement point for chain linearity: duplicates are
// idempotent, stale or forking candidates are rejected as a typed result, and
// only storage I/O failures surface as errors.
type RecordRepository interface {
	Upsert(ctx context.Context, rec domain.Record, raw imprint.Event) (domain.UpsertResult, error)
	Latest(ctx context.Context, author, identifier string) (*domain.Record, error)
	History(ctx context.Context, author, identifier string) ([]domain.Record, error)
	ListLatest(ctx context.Context, filter domain.FeedFilter) ([]domain.Record, error)
	GetByEventID(ctx context.Context, eventID string) (*domain.Record, error)
}

// DraftRepository defines owner-scoped draft storage. Every operation is
// filtered by the owning author key; a foreign draft is indistinguishable
// from a missing one.
type DraftRepository interface {
	Save(ctx context.Context, draft domain.Draft) (domain.Draft, error)
	Get(ctx context.Context, author string, id int64) (*domain.Draft, error)
	List(ctx context.Context, author string) ([]domain.Draft, error)
	Delete(ctx context.Context, author string, id int64) error
	DeleteByIdentifier(ctx context.Context, author, identifier string) error
}

// RelayRepository defines persistence for the configured relay set.
type RelayRepository interface {
	List(ctx context.Context) ([]domain.Relay, error)
	Add(ctx context.Context, url string) error
	Remove(ctx context.Context, url string) error
	UpdateHealth(ctx context.Context, url, status string, checkedAt time.Time) error
}

// SettingRepository stores the singleton instance settings. Get never reports
// a missing row; first use creates the defaults.
type SettingRepository interface {
	Get(ctx context.Context) (domain.Setting, error)
	Update(ctx context.Context, setting domain.Setting) (domain.Setting, error)
}

// RelayGateway encapsulates best-effort synchronization with untrusted peers.
// Publish never fails as a whole; it reports a per-relay outcome. Fetch
// returns only verified candidate events. MarkSeen excludes an event id from
// future fetch batches for the dedup window.
type RelayGateway interface {
	Publish(ctx context.Context, ev imprint.Event, relays []string) map[string]domain.RelayStatus
	Fetch(ctx context.Context, filter imprint.Filter, relays []string) ([]imprint.Event, error)
	MarkSeen(eventID string)
}

// Signer signs outgoing events on behalf of the node author.
type Signer interface {
	AuthorKey() string
	Sign(ctx context.Context, ev *imprint.Event) error
}

// Signal broadcasts accepted records to realtime listeners.
type Signal interface {
	PublishRecord(ctx context.Context, rec domain.Record) error
}

// AuditLog records administrative actions and serves them back for the
// admin console.
type AuditLog interface {
	Append(ctx context.Context, level, action, actor, message string) error
	Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}
