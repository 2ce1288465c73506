package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestRelay runs an in-process websocket relay whose behaviour is defined
// by handle, invoked once per connection.
func newTestRelay(t *testing.T, handle func(*websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func ackRelay(t *testing.T, accepted bool) string {
	return newTestRelay(t, func(conn *websocket.Conn) {
		var frame []json.RawMessage
		if conn.ReadJSON(&frame) != nil || len(frame) < 2 {
			return
		}
		var ev imprint.Event
		_ = json.Unmarshal(frame[1], &ev)
		_ = conn.WriteJSON([]any{"OK", ev.ID, accepted, ""})
	})
}

func signedArticle(t *testing.T, identifier, content string) imprint.Event {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	ev := imprint.NewArticleEvent(imprint.PubkeyHex(priv), imprint.ArticleFields{
		Identifier: identifier,
		Title:      "Title",
		Content:    content,
		Version:    1,
		Status:     imprint.StatusPublished,
	})
	require.NoError(t, imprint.Sign(&ev, priv))
	return ev
}

func TestPublishFanOutIsolatesFailures(t *testing.T) {
	good1 := ackRelay(t, true)
	good2 := ackRelay(t, true)
	// a relay that accepts TCP but never completes the handshake
	hungServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	t.Cleanup(hungServer.Close)
	hung := "ws" + strings.TrimPrefix(hungServer.URL, "http")

	g := NewRelayGateway(Options{Timeout: 500 * time.Millisecond})
	ev := signedArticle(t, "intro", "a body comfortably over the minimum length")

	start := time.Now()
	outcomes := g.Publish(context.Background(), ev, []string{good1, good2, hung})
	took := time.Since(start)

	assert.Equal(t, domain.RelaySent, outcomes[good1])
	assert.Equal(t, domain.RelaySent, outcomes[good2])
	assert.Equal(t, domain.RelayFailed, outcomes[hung])
	assert.Len(t, outcomes, 3)
	// the hung relay must not stall the round beyond its own timeout
	assert.Less(t, took, 2*time.Second)
}

func TestPublishRejectedByRelay(t *testing.T) {
	rejecting := ackRelay(t, false)

	g := NewRelayGateway(Options{Timeout: time.Second})
	ev := signedArticle(t, "intro", "a body comfortably over the minimum length")

	outcomes := g.Publish(context.Background(), ev, []string{rejecting})
	assert.Equal(t, domain.RelayFailed, outcomes[rejecting])
	assert.Equal(t, 1, g.Backoff().Failures(rejecting))
}

func TestPublishSkipsRelayOnCooldown(t *testing.T) {
	var dials int32
	relay := newTestRelay(t, func(conn *websocket.Conn) {
		atomic.AddInt32(&dials, 1)
	})

	g := NewRelayGateway(Options{Timeout: time.Second, BackoffInitial: time.Hour})
	g.Backoff().RecordFailure(relay)

	ev := signedArticle(t, "intro", "a body comfortably over the minimum length")
	outcomes := g.Publish(context.Background(), ev, []string{relay})

	assert.Equal(t, domain.RelayCooldown, outcomes[relay])
	assert.Equal(t, int32(0), atomic.LoadInt32(&dials))
}

func TestPublishDeduplicatesRelayList(t *testing.T) {
	relay := ackRelay(t, true)

	g := NewRelayGateway(Options{Timeout: time.Second})
	ev := signedArticle(t, "intro", "a body comfortably over the minimum length")

	outcomes := g.Publish(context.Background(), ev, []string{relay, relay, ""})
	assert.Len(t, outcomes, 1)
}

func TestFetchVerifiesAndFilters(t *testing.T) {
	valid := signedArticle(t, "intro", "a body comfortably over the minimum length")

	tampered := valid
	tampered.Content = "tampered body comfortably over the minimum"

	short := signedArticle(t, "short", "tiny")

	relay := newTestRelay(t, func(conn *websocket.Conn) {
		var frame []json.RawMessage
		if conn.ReadJSON(&frame) != nil || len(frame) < 3 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)

		_ = conn.WriteJSON([]any{"EVENT", subID, valid})
		_ = conn.WriteJSON([]any{"EVENT", subID, tampered})
		_ = conn.WriteJSON([]any{"EVENT", subID, short})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteJSON([]any{"EOSE", subID})
	})

	g := NewRelayGateway(Options{Timeout: time.Second})
	events, err := g.Fetch(context.Background(), imprint.Filter{Kinds: []int{imprint.KindArticle}}, []string{relay})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, valid.ID, events[0].ID)
}

func TestFetchDeduplicatesAcrossRelays(t *testing.T) {
	valid := signedArticle(t, "intro", "a body comfortably over the minimum length")

	serve := func(conn *websocket.Conn) {
		var frame []json.RawMessage
		if conn.ReadJSON(&frame) != nil || len(frame) < 3 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)
		_ = conn.WriteJSON([]any{"EVENT", subID, valid})
		_ = conn.WriteJSON([]any{"EOSE", subID})
	}
	relayA := newTestRelay(t, serve)
	relayB := newTestRelay(t, serve)

	g := NewRelayGateway(Options{Timeout: time.Second})
	events, err := g.Fetch(context.Background(), imprint.Filter{Kinds: []int{imprint.KindArticle}}, []string{relayA, relayB})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFetchSkipsMarkedSeen(t *testing.T) {
	valid := signedArticle(t, "intro", "a body comfortably over the minimum length")

	relay := newTestRelay(t, func(conn *websocket.Conn) {
		var frame []json.RawMessage
		if conn.ReadJSON(&frame) != nil || len(frame) < 3 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)
		_ = conn.WriteJSON([]any{"EVENT", subID, valid})
		_ = conn.WriteJSON([]any{"EOSE", subID})
	})

	g := NewRelayGateway(Options{Timeout: time.Second})
	g.MarkSeen(valid.ID)

	events, err := g.Fetch(context.Background(), imprint.Filter{Kinds: []int{imprint.KindArticle}}, []string{relay})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFetchStalledRelayCountsAsFailure(t *testing.T) {
	valid := signedArticle(t, "intro", "a body comfortably over the minimum length")

	// accepts the REQ, streams one event, then never sends EOSE
	relay := newTestRelay(t, func(conn *websocket.Conn) {
		var frame []json.RawMessage
		if conn.ReadJSON(&frame) != nil || len(frame) < 3 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)
		_ = conn.WriteJSON([]any{"EVENT", subID, valid})
		time.Sleep(2 * time.Second)
	})

	g := NewRelayGateway(Options{Timeout: 300 * time.Millisecond})
	events, err := g.Fetch(context.Background(), imprint.Filter{Kinds: []int{imprint.KindArticle}}, []string{relay})
	require.NoError(t, err)

	// the partial batch is kept, but the stalled call goes on the ledger
	assert.Len(t, events, 1)
	assert.Equal(t, 1, g.Backoff().Failures(relay))
	assert.True(t, g.Backoff().OnCooldown(relay))
}

func TestFetchCachesResponses(t *testing.T) {
	var served int32
	valid := signedArticle(t, "intro", "a body comfortably over the minimum length")

	relay := newTestRelay(t, func(conn *websocket.Conn) {
		atomic.AddInt32(&served, 1)
		var frame []json.RawMessage
		if conn.ReadJSON(&frame) != nil || len(frame) < 3 {
			return
		}
		var subID string
		_ = json.Unmarshal(frame[1], &subID)
		_ = conn.WriteJSON([]any{"EVENT", subID, valid})
		_ = conn.WriteJSON([]any{"EOSE", subID})
	})

	g := NewRelayGateway(Options{Timeout: time.Second})
	filter := imprint.Filter{Kinds: []int{imprint.KindArticle}}

	first, err := g.Fetch(context.Background(), filter, []string{relay})
	require.NoError(t, err)
	second, err := g.Fetch(context.Background(), filter, []string{relay})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&served))
}

func TestAcceptanceFilter(t *testing.T) {
	g := NewRelayGateway(Options{MinContentLength: 30})

	ok := imprint.Event{Kind: imprint.KindArticle, Content: strings.Repeat("x", 30),
		Tags: imprint.Tags{{"d", "id"}, {"title", "t"}}}
	assert.True(t, g.accept(ok))

	tooShort := ok
	tooShort.Content = strings.Repeat("x", 10)
	assert.False(t, g.accept(tooShort))

	noTitle := imprint.Event{Kind: imprint.KindArticle, Content: strings.Repeat("x", 30),
		Tags: imprint.Tags{{"d", "id"}}}
	assert.False(t, g.accept(noTitle))

	// non-article kinds (reactions) are not subject to the article filter
	reaction := imprint.Event{Kind: imprint.KindReaction, Content: "+"}
	assert.True(t, g.accept(reaction))
}
