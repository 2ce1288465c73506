package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/client"
	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/service"
	"github.com/imprint-pub/imprint/internal/usecase"
)

const testSecret = "4a6b2f7c9d1e3f5a7b9c1d3e5f7a9b1c3d5e7f9a1b3c5d7e9f1a3b5c7d9e1f3a"

type stubRecordRepo struct {
	records map[string][]domain.Record // author/identifier -> chain ascending
}

func chainKey(author, identifier string) string { return author + "/" + identifier }

func (r *stubRecordRepo) Upsert(ctx context.Context, rec domain.Record, raw imprint.Event) (domain.UpsertResult, error) {
	key := chainKey(rec.Author, rec.Identifier)
	r.records[key] = append(r.records[key], rec)
	return domain.UpsertAccepted, nil
}

func (r *stubRecordRepo) Latest(ctx context.Context, author, identifier string) (*domain.Record, error) {
	chain := r.records[chainKey(author, identifier)]
	if len(chain) == 0 {
		return nil, nil
	}
	head := chain[len(chain)-1]
	return &head, nil
}

func (r *stubRecordRepo) History(ctx context.Context, author, identifier string) ([]domain.Record, error) {
	return r.records[chainKey(author, identifier)], nil
}

func (r *stubRecordRepo) ListLatest(ctx context.Context, filter domain.FeedFilter) ([]domain.Record, error) {
	excluded := map[string]bool{}
	for _, author := range filter.ExcludeAuthors {
		excluded[author] = true
	}
	var heads []domain.Record
	for _, chain := range r.records {
		head := chain[len(chain)-1]
		if excluded[head.Author] {
			continue
		}
		heads = append(heads, head)
	}
	return heads, nil
}

func (r *stubRecordRepo) GetByEventID(ctx context.Context, eventID string) (*domain.Record, error) {
	for _, chain := range r.records {
		for i := range chain {
			if chain[i].EventID == eventID {
				return &chain[i], nil
			}
		}
	}
	return nil, nil
}

type stubDraftRepo struct {
	drafts map[int64]domain.Draft
	nextID int64
}

func (r *stubDraftRepo) Save(ctx context.Context, draft domain.Draft) (domain.Draft, error) {
	if draft.ID == 0 {
		r.nextID++
		draft.ID = r.nextID
	}
	r.drafts[draft.ID] = draft
	return draft, nil
}

func (r *stubDraftRepo) Get(ctx context.Context, author string, id int64) (*domain.Draft, error) {
	draft, ok := r.drafts[id]
	if !ok || draft.Author != author {
		return nil, nil
	}
	return &draft, nil
}

func (r *stubDraftRepo) List(ctx context.Context, author string) ([]domain.Draft, error) {
	var out []domain.Draft
	for _, draft := range r.drafts {
		if draft.Author == author {
			out = append(out, draft)
		}
	}
	return out, nil
}

func (r *stubDraftRepo) Delete(ctx context.Context, author string, id int64) error {
	draft, ok := r.drafts[id]
	if !ok || draft.Author != author {
		return domain.NotFoundError{Resource: "draft"}
	}
	delete(r.drafts, id)
	return nil
}

func (r *stubDraftRepo) DeleteByIdentifier(ctx context.Context, author, identifier string) error {
	for id, draft := range r.drafts {
		if draft.Author == author && draft.Identifier == identifier {
			delete(r.drafts, id)
		}
	}
	return nil
}

type stubRelayRepo struct {
	relays []domain.Relay
}

func (r *stubRelayRepo) List(ctx context.Context) ([]domain.Relay, error) { return r.relays, nil }
func (r *stubRelayRepo) Add(ctx context.Context, url string) error {
	r.relays = append(r.relays, domain.Relay{URL: url, Status: domain.RelayStatusUnknown})
	return nil
}
func (r *stubRelayRepo) Remove(ctx context.Context, url string) error {
	for i, relay := range r.relays {
		if relay.URL == url {
			r.relays = append(r.relays[:i], r.relays[i+1:]...)
			return nil
		}
	}
	return domain.NotFoundError{Resource: "relay"}
}
func (r *stubRelayRepo) UpdateHealth(ctx context.Context, url, status string, checkedAt time.Time) error {
	return nil
}

type stubGateway struct{}

func (g *stubGateway) Publish(ctx context.Context, ev imprint.Event, relays []string) map[string]domain.RelayStatus {
	out := make(map[string]domain.RelayStatus, len(relays))
	for _, relay := range relays {
		out[relay] = domain.RelaySent
	}
	return out
}

func (g *stubGateway) Fetch(ctx context.Context, filter imprint.Filter, relays []string) ([]imprint.Event, error) {
	return nil, nil
}

func (g *stubGateway) MarkSeen(eventID string) {}

type stubSignal struct{}

func (s *stubSignal) PublishRecord(ctx context.Context, rec domain.Record) error { return nil }

type stubAudit struct {
	entries []domain.AuditEntry
}

func (a *stubAudit) Append(ctx context.Context, level, action, actor, message string) error {
	a.entries = append(a.entries, domain.AuditEntry{
		Level: level, Action: action, Actor: actor, Message: message, CreatedAt: time.Now(),
	})
	return nil
}

func (a *stubAudit) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	out := make([]domain.AuditEntry, 0, len(a.entries))
	for i := len(a.entries) - 1; i >= 0; i-- {
		out = append(out, a.entries[i])
	}
	return out, nil
}

type stubSettingRepo struct {
	setting domain.Setting
}

func (r *stubSettingRepo) Get(ctx context.Context) (domain.Setting, error) {
	return r.setting, nil
}

func (r *stubSettingRepo) Update(ctx context.Context, setting domain.Setting) (domain.Setting, error) {
	r.setting = setting
	return setting, nil
}

type testEnv struct {
	handler  *Handler
	signer   *service.LocalSigner
	records  *stubRecordRepo
	settings *stubSettingRepo
	audit    *stubAudit
	e        *echo.Echo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	signer, err := service.NewLocalSigner(testSecret)
	assert.NoError(t, err)

	conf := domain.Config{
		FQDN:      "node.example",
		AuthorKey: signer.AuthorKey(),
		Relays:    []string{"wss://relay.example"},
	}

	records := &stubRecordRepo{records: map[string][]domain.Record{}}
	drafts := &stubDraftRepo{drafts: map[int64]domain.Draft{}}
	relays := &stubRelayRepo{}
	settings := &stubSettingRepo{setting: domain.Setting{SiteName: "imprint", MaxFeedItems: 15}}
	audit := &stubAudit{}
	gw := &stubGateway{}
	signal := &stubSignal{}

	mc := memcache.New("127.0.0.1:1")
	mc.Timeout = 50 * time.Millisecond

	handler := NewHandler(
		conf,
		usecase.NewPublishUsecase(records, drafts, relays, gw, signer, signal, conf),
		usecase.NewFeedUsecase(records, settings),
		usecase.NewDraftUsecase(drafts),
		usecase.NewRelayAdminUsecase(relays, audit),
		usecase.NewAdminUsecase(settings, audit),
		service.NewEngagementService(gw, relays, mc),
		service.NewCommentService(gw, relays, settings),
		nil,
		signer,
		client.New(),
	)

	return &testEnv{
		handler:  handler,
		signer:   signer,
		records:  records,
		settings: settings,
		audit:    audit,
		e:        echo.New(),
	}
}

func (env *testEnv) request(method, target, body, requester string) (*httptest.ResponseRecorder, echo.Context) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if requester != "" {
		ctx := context.WithValue(req.Context(), domain.RequesterKeyCtxKey, requester)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	return rec, env.e.NewContext(req, rec)
}

func TestHandleWellKnown(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.request(http.MethodGet, "/.well-known/imprint", "", "")
	assert.NoError(t, env.handler.handleWellKnown(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var wkc imprint.WellKnownImprint
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wkc))
	assert.Equal(t, "node.example", wkc.Domain)
	assert.Equal(t, env.signer.AuthorKey(), wkc.AuthorKey)
	assert.Contains(t, wkc.Endpoints, "pub.imprint.articles")
}

func TestHandlePublishRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.request(http.MethodPost, "/api/v1/publish", `{"title":"T","content":"body"}`, "")
	assert.NoError(t, env.handler.handlePublish(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlePublishAndFetch(t *testing.T) {
	env := newTestEnv(t)
	author := env.signer.AuthorKey()

	body := `{"identifier":"notes","title":"Notes","content":"a body long enough to publish"}`
	rec, c := env.request(http.MethodPost, "/api/v1/publish", body, author)
	assert.NoError(t, env.handler.handlePublish(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var result usecase.PublishResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Record.Version)
	assert.Equal(t, domain.RelaySent, result.Relays["wss://relay.example"])

	rec, c = env.request(http.MethodGet, "/api/v1/articles/"+author+"/notes", "", "")
	c.SetParamNames("author", "identifier")
	c.SetParamValues(author, "notes")
	assert.NoError(t, env.handler.handleLatest(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleLatestNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.request(http.MethodGet, "/api/v1/articles/02aa/none", "", "")
	c.SetParamNames("author", "identifier")
	c.SetParamValues("02aa", "none")
	assert.NoError(t, env.handler.handleLatest(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRevertCreatesNewHead(t *testing.T) {
	env := newTestEnv(t)
	author := env.signer.AuthorKey()

	for _, body := range []string{
		`{"identifier":"notes","title":"Notes","content":"the original first version body"}`,
		`{"identifier":"notes","title":"Notes","content":"the second version body entirely"}`,
	} {
		rec, c := env.request(http.MethodPost, "/api/v1/publish", body, author)
		assert.NoError(t, env.handler.handlePublish(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec, c := env.request(http.MethodPost, "/api/v1/revert", `{"identifier":"notes","version":1}`, author)
	assert.NoError(t, env.handler.handleRevert(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var result usecase.PublishResult
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Record.Version)
	assert.Equal(t, "the original first version body", result.Record.Content)
}

func TestHandleDraftLifecycle(t *testing.T) {
	env := newTestEnv(t)
	author := env.signer.AuthorKey()

	rec, c := env.request(http.MethodPost, "/api/v1/drafts", `{"title":"WIP","content":"draft body"}`, author)
	assert.NoError(t, env.handler.handleDraftSave(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var draft domain.Draft
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.NotZero(t, draft.ID)

	rec, c = env.request(http.MethodGet, "/api/v1/drafts", "", author)
	assert.NoError(t, env.handler.handleDraftList(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// another author sees nothing
	rec, c = env.request(http.MethodGet, "/api/v1/drafts/1", "", "02ffff")
	c.SetParamNames("id")
	c.SetParamValues("1")
	assert.NoError(t, env.handler.handleDraftGet(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, c = env.request(http.MethodDelete, "/api/v1/drafts/1", "", author)
	c.SetParamNames("id")
	c.SetParamValues("1")
	assert.NoError(t, env.handler.handleDraftDelete(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSession(t *testing.T) {
	env := newTestEnv(t)

	challenge := imprint.Event{
		Author:    env.signer.AuthorKey(),
		CreatedAt: time.Now().Unix(),
		Kind:      1,
		Tags:      imprint.Tags{},
		Content:   "node.example",
	}
	assert.NoError(t, env.signer.Sign(context.Background(), &challenge))

	raw, err := json.Marshal(challenge)
	assert.NoError(t, err)

	rec, c := env.request(http.MethodPost, "/api/v1/session", string(raw), "")
	assert.NoError(t, env.handler.handleSession(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestHandleSessionRejectsWrongDomain(t *testing.T) {
	env := newTestEnv(t)

	challenge := imprint.Event{
		Author:    env.signer.AuthorKey(),
		CreatedAt: time.Now().Unix(),
		Kind:      1,
		Tags:      imprint.Tags{},
		Content:   "elsewhere.example",
	}
	assert.NoError(t, env.signer.Sign(context.Background(), &challenge))

	raw, err := json.Marshal(challenge)
	assert.NoError(t, err)

	rec, c := env.request(http.MethodPost, "/api/v1/session", string(raw), "")
	assert.NoError(t, env.handler.handleSession(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSessionRejectsStaleChallenge(t *testing.T) {
	env := newTestEnv(t)

	challenge := imprint.Event{
		Author:    env.signer.AuthorKey(),
		CreatedAt: time.Now().Add(-time.Hour).Unix(),
		Kind:      1,
		Tags:      imprint.Tags{},
		Content:   "node.example",
	}
	assert.NoError(t, env.signer.Sign(context.Background(), &challenge))

	raw, err := json.Marshal(challenge)
	assert.NoError(t, err)

	rec, c := env.request(http.MethodPost, "/api/v1/session", string(raw), "")
	assert.NoError(t, env.handler.handleSession(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEngagementRequiresEventParam(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.request(http.MethodGet, "/api/v1/engagement", "", "")
	assert.NoError(t, env.handler.handleEngagement(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCommentsRequiresEventParam(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.request(http.MethodGet, "/api/v1/comments", "", "")
	assert.NoError(t, env.handler.handleComments(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, c = env.request(http.MethodGet, "/api/v1/comments?event=abc", "", "")
	assert.NoError(t, env.handler.handleComments(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSettingsUpdate(t *testing.T) {
	env := newTestEnv(t)

	body := `{"siteName":"my site","maxFeedItems":20,"blockedAuthors":["` + env.signer.AuthorKey() + `"]}`
	rec, c := env.request(http.MethodPut, "/api/v1/settings", body, "")
	assert.NoError(t, env.handler.handleSettingsUpdate(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var updated domain.Setting
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "my site", updated.SiteName)
	assert.Len(t, updated.BlockedAuthors, 1)

	// malformed block entries are rejected
	rec, c = env.request(http.MethodPut, "/api/v1/settings", `{"siteName":"x","blockedAuthors":["junk"]}`, "")
	assert.NoError(t, env.handler.handleSettingsUpdate(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFeedHidesBlockedAuthor(t *testing.T) {
	env := newTestEnv(t)
	author := env.signer.AuthorKey()

	body := `{"identifier":"notes","title":"Notes","content":"a body long enough to publish"}`
	rec, c := env.request(http.MethodPost, "/api/v1/publish", body, author)
	assert.NoError(t, env.handler.handlePublish(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	env.settings.setting.BlockedAuthors = []string{author}

	rec, c = env.request(http.MethodGet, "/api/v1/articles", "", "")
	assert.NoError(t, env.handler.handleFeed(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var feed []domain.Record
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Empty(t, feed)
}

func TestHandleAdminEvents(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.request(http.MethodPost, "/api/v1/relays", `{"url":"wss://new.example"}`, "")
	assert.NoError(t, env.handler.handleRelayAdd(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, c = env.request(http.MethodGet, "/api/v1/admin/events", "", "")
	assert.NoError(t, env.handler.handleAdminEvents(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var entries []domain.AuditEntry
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
	assert.Equal(t, "relay.add", entries[0].Action)
}

func TestHandleRelayAdd(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.request(http.MethodPost, "/api/v1/relays", `{"url":"wss://new.example"}`, "")
	assert.NoError(t, env.handler.handleRelayAdd(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, c = env.request(http.MethodPost, "/api/v1/relays", `{"url":"https://not-a-relay.example"}`, "")
	assert.NoError(t, env.handler.handleRelayAdd(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
