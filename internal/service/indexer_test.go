package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/policy"
)

type fakeRecordRepo struct {
	upserts []domain.Record
	result  domain.UpsertResult
}

func (r *fakeRecordRepo) Upsert(ctx context.Context, rec domain.Record, raw imprint.Event) (domain.UpsertResult, error) {
	r.upserts = append(r.upserts, rec)
	if r.result == domain.UpsertUnknown {
		return domain.UpsertAccepted, nil
	}
	return r.result, nil
}

func (r *fakeRecordRepo) Latest(ctx context.Context, author, identifier string) (*domain.Record, error) {
	return nil, nil
}

func (r *fakeRecordRepo) History(ctx context.Context, author, identifier string) ([]domain.Record, error) {
	return nil, nil
}

func (r *fakeRecordRepo) ListLatest(ctx context.Context, filter domain.FeedFilter) ([]domain.Record, error) {
	return nil, nil
}

func (r *fakeRecordRepo) GetByEventID(ctx context.Context, eventID string) (*domain.Record, error) {
	return nil, nil
}

type fakeRelayRepo struct {
	relays []domain.Relay
}

func (r *fakeRelayRepo) List(ctx context.Context) ([]domain.Relay, error) { return r.relays, nil }
func (r *fakeRelayRepo) Add(ctx context.Context, url string) error       { return nil }
func (r *fakeRelayRepo) Remove(ctx context.Context, url string) error    { return nil }
func (r *fakeRelayRepo) UpdateHealth(ctx context.Context, url, status string, checkedAt time.Time) error {
	return nil
}

type fakeGateway struct {
	events []imprint.Event
	relays []string
}

func (g *fakeGateway) Publish(ctx context.Context, ev imprint.Event, relays []string) map[string]domain.RelayStatus {
	return nil
}

func (g *fakeGateway) Fetch(ctx context.Context, filter imprint.Filter, relays []string) ([]imprint.Event, error) {
	g.relays = relays
	return g.events, nil
}

func (g *fakeGateway) MarkSeen(eventID string) {}

type fakeSignal struct {
	published []domain.Record
}

func (s *fakeSignal) PublishRecord(ctx context.Context, rec domain.Record) error {
	s.published = append(s.published, rec)
	return nil
}

func signedArticle(t *testing.T, signer *LocalSigner, identifier, title, content string, version int, supersedes string) imprint.Event {
	t.Helper()
	ev := imprint.NewArticleEvent(signer.AuthorKey(), imprint.ArticleFields{
		Identifier: identifier,
		Title:      title,
		Content:    content,
		Version:    version,
		Status:     imprint.StatusPublished,
		Supersedes: supersedes,
	})
	assert.NoError(t, signer.Sign(context.Background(), &ev))
	return ev
}

func newTestIndexer(t *testing.T, events []imprint.Event) (*Indexer, *fakeRecordRepo, *fakeSignal) {
	t.Helper()
	signer, err := NewLocalSigner(testSecret)
	assert.NoError(t, err)

	records := &fakeRecordRepo{}
	signal := &fakeSignal{}
	conf := &domain.Config{
		AuthorKey: signer.AuthorKey(),
		Relays:    []string{"wss://relay.example"},
	}

	ix := NewIndexer(conf, records, &fakeRelayRepo{}, &fakeGateway{events: events}, signal, time.Minute)
	return ix, records, signal
}

func TestIndexerStoresFetchedArticles(t *testing.T) {
	signer, err := NewLocalSigner(testSecret)
	assert.NoError(t, err)

	ev := signedArticle(t, signer, "notes", "Notes", "a body long enough to matter here", 1, "")
	ix, records, signal := newTestIndexer(t, []imprint.Event{ev})

	ix.syncOnce(context.Background())

	assert.Len(t, records.upserts, 1)
	assert.Equal(t, "notes", records.upserts[0].Identifier)
	assert.Len(t, signal.published, 1)
}

func TestIndexerSkipsMalformedEvents(t *testing.T) {
	signer, err := NewLocalSigner(testSecret)
	assert.NoError(t, err)

	// missing title, fails record conversion
	bad := imprint.Event{
		Author:    signer.AuthorKey(),
		CreatedAt: time.Now().Unix(),
		Kind:      imprint.KindArticle,
		Tags:      imprint.Tags{{"d", "notes"}, {"version", "1"}},
		Content:   "a body long enough to matter here",
	}
	ix, records, _ := newTestIndexer(t, []imprint.Event{bad})

	ix.syncOnce(context.Background())

	assert.Empty(t, records.upserts)
}

func TestIndexerSilentOnStaleOutcomes(t *testing.T) {
	signer, err := NewLocalSigner(testSecret)
	assert.NoError(t, err)

	ev := signedArticle(t, signer, "notes", "Notes", "a body long enough to matter here", 1, "")
	ix, records, signal := newTestIndexer(t, []imprint.Event{ev})
	records.result = domain.UpsertRejectedStale

	ix.syncOnce(context.Background())

	assert.Len(t, records.upserts, 1)
	assert.Empty(t, signal.published)
}

func TestIndexerModerationDeniesRecord(t *testing.T) {
	signer, err := NewLocalSigner(testSecret)
	assert.NoError(t, err)

	ev := signedArticle(t, signer, "notes", "Notes", "a body long enough to matter here", 1, "")
	ix, records, _ := newTestIndexer(t, []imprint.Event{ev})

	ix.SetModeration(policy.Document{
		Name: "blocklist",
		Versions: map[string]policy.Ruleset{
			"2024-01-01": {
				Statements: map[string][]policy.Stmt{
					"accept": {
						{
							Emit: "deny",
							Condition: policy.Expr{
								Operator: "Eq",
								Args: []policy.Expr{
									{Operator: "Load", Args: []policy.Expr{{Const: "author"}}},
									{Const: signer.AuthorKey()},
								},
							},
						},
					},
				},
				Defaults: map[string]bool{"accept": true},
			},
		},
	})

	ix.syncOnce(context.Background())

	assert.Empty(t, records.upserts)
}
