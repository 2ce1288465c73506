package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/zeebo/xxh3"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
)

const (
	defaultMaxConcurrent = 5
	fetchCacheTTL        = 30 * time.Second
	dedupTTL             = 10 * time.Minute
)

// Options tunes the gateway; zero values fall back to domain defaults.
type Options struct {
	Timeout          time.Duration
	MaxConcurrent    int
	MinContentLength int
	BackoffInitial   time.Duration
	BackoffFactor    float64
	BackoffCap       time.Duration
}

func (o *Options) fill() {
	if o.Timeout == 0 {
		o.Timeout = domain.DefaultRelayTimeout
	}
	if o.MaxConcurrent == 0 {
		o.MaxConcurrent = defaultMaxConcurrent
	}
	if o.MinContentLength == 0 {
		o.MinContentLength = domain.DefaultMinContentLength
	}
	if o.BackoffInitial == 0 {
		o.BackoffInitial = domain.DefaultBackoffInitial
	}
	if o.BackoffFactor == 0 {
		o.BackoffFactor = domain.DefaultBackoffFactor
	}
	if o.BackoffCap == 0 {
		o.BackoffCap = domain.DefaultBackoffCap
	}
}

// RelayGateway synchronizes records with independently operated, untrusted
// peers over websockets. All peer I/O is isolated per relay with its own
// timeout; one relay's failure never blocks the others.
type RelayGateway struct {
	dialer    *websocket.Dialer
	backoff   *Backoff
	dedup     *cache.Cache
	responses *cache.Cache
	sem       chan struct{}
	opts      Options
}

func NewRelayGateway(opts Options) *RelayGateway {
	opts.fill()
	return &RelayGateway{
		dialer:    &websocket.Dialer{HandshakeTimeout: opts.Timeout},
		backoff:   NewBackoff(opts.BackoffInitial, opts.BackoffFactor, opts.BackoffCap),
		dedup:     cache.New(dedupTTL, 15*time.Minute),
		responses: cache.New(fetchCacheTTL, time.Minute),
		sem:       make(chan struct{}, opts.MaxConcurrent),
		opts:      opts,
	}
}

// Backoff exposes the gateway's backoff state for status reporting.
func (g *RelayGateway) Backoff() *Backoff { return g.backoff }

// Publish fans the event out to every relay concurrently and reports a
// per-relay outcome. Relays on cooldown are skipped, not failed.
func (g *RelayGateway) Publish(ctx context.Context, ev imprint.Event, relays []string) map[string]domain.RelayStatus {
	// a fresh head invalidates any cached fetch view
	g.responses.Flush()

	outcomes := make(map[string]domain.RelayStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, relay := range dedupeRelays(relays) {
		if g.backoff.OnCooldown(relay) {
			mu.Lock()
			outcomes[relay] = domain.RelayCooldown
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(relay string) {
			defer wg.Done()
			status := g.sendEvent(ctx, relay, ev)
			mu.Lock()
			outcomes[relay] = status
			mu.Unlock()
		}(relay)
	}

	wg.Wait()
	return outcomes
}

func (g *RelayGateway) sendEvent(ctx context.Context, relay string, ev imprint.Event) domain.RelayStatus {
	g.sem <- struct{}{}
	defer func() { <-g.sem }()

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	conn, _, err := g.dialer.DialContext(ctx, relay, nil)
	if err != nil {
		g.backoff.RecordFailure(relay)
		slog.WarnContext(ctx, "relay publish failed",
			slog.String("relay", relay),
			slog.String("error", err.Error()),
		)
		return domain.RelayFailed
	}
	defer conn.Close()

	frame := []any{"EVENT", ev}
	if err := conn.WriteJSON(frame); err != nil {
		g.backoff.RecordFailure(relay)
		slog.WarnContext(ctx, "relay publish failed",
			slog.String("relay", relay),
			slog.String("error", err.Error()),
		)
		return domain.RelayFailed
	}

	// wait briefly for the acknowledgement; a silent relay still took the
	// write, so an ack timeout is not a failure
	_ = conn.SetReadDeadline(time.Now().Add(g.opts.Timeout))
	if _, raw, err := conn.ReadMessage(); err == nil {
		var ack []json.RawMessage
		if json.Unmarshal(raw, &ack) == nil && len(ack) >= 4 && frameType(ack[0]) == "OK" {
			var accepted bool
			if json.Unmarshal(ack[2], &accepted) == nil && !accepted {
				g.backoff.RecordFailure(relay)
				return domain.RelayFailed
			}
		}
	}

	g.backoff.RecordSuccess(relay)
	slog.InfoContext(ctx, "published event to relay",
		slog.String("relay", relay),
		slog.String("eventID", ev.ID),
		slog.Duration("took", time.Since(start)),
	)
	return domain.RelaySent
}

// Fetch queries the relays for events matching the filter and returns one
// deduplicated, verified batch. Candidates failing the cheap acceptance
// filter are dropped before any signature work.
func (g *RelayGateway) Fetch(ctx context.Context, filter imprint.Filter, relays []string) ([]imprint.Event, error) {
	relays = dedupeRelays(relays)

	key, err := fetchCacheKey(filter, relays)
	if err != nil {
		return nil, err
	}
	if cached, found := g.responses.Get(key); found {
		return cached.([]imprint.Event), nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := map[string]bool{}
	var events []imprint.Event

	for _, relay := range relays {
		if g.backoff.OnCooldown(relay) {
			continue
		}

		wg.Add(1)
		go func(relay string) {
			defer wg.Done()
			batch := g.fetchOne(ctx, relay, filter)
			mu.Lock()
			defer mu.Unlock()
			for _, ev := range batch {
				if seen[ev.ID] {
					continue
				}
				if _, dup := g.dedup.Get(ev.ID); dup {
					continue
				}
				seen[ev.ID] = true
				events = append(events, ev)
			}
		}(relay)
	}

	wg.Wait()
	g.responses.Set(key, events, cache.DefaultExpiration)
	return events, nil
}

func (g *RelayGateway) fetchOne(ctx context.Context, relay string, filter imprint.Filter) []imprint.Event {
	g.sem <- struct{}{}
	defer func() { <-g.sem }()

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	conn, _, err := g.dialer.DialContext(ctx, relay, nil)
	if err != nil {
		g.backoff.RecordFailure(relay)
		slog.WarnContext(ctx, "relay fetch failed",
			slog.String("relay", relay),
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer conn.Close()

	subID := "imprint-" + uuid.NewString()[:13]
	if err := conn.WriteJSON([]any{"REQ", subID, filter}); err != nil {
		g.backoff.RecordFailure(relay)
		return nil
	}

	deadline := time.Now().Add(g.opts.Timeout)
	var events []imprint.Event
	for {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// no EOSE: the relay stalled or dropped mid-stream. Keep any
			// partial batch but count the call against the relay.
			g.backoff.RecordFailure(relay)
			slog.WarnContext(ctx, "relay fetch ended without EOSE",
				slog.String("relay", relay),
				slog.String("error", err.Error()),
			)
			return events
		}

		var frame []json.RawMessage
		if json.Unmarshal(raw, &frame) != nil || len(frame) < 2 {
			continue
		}
		switch frameType(frame[0]) {
		case "EOSE":
			g.backoff.RecordSuccess(relay)
			return events
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var ev imprint.Event
			if json.Unmarshal(frame[2], &ev) != nil {
				continue
			}
			if !g.accept(ev) {
				continue
			}
			if !imprint.Verify(ev) {
				slog.DebugContext(ctx, "discarding unverified event",
					slog.String("relay", relay),
					slog.String("eventID", ev.ID),
				)
				continue
			}
			events = append(events, ev)
		}
	}
}

// accept is the cheap pre-verification filter: article candidates must carry
// an identifier and title and clear the content-length threshold.
func (g *RelayGateway) accept(ev imprint.Event) bool {
	if ev.Kind != imprint.KindArticle {
		return true
	}
	if ev.Tags.First("d") == "" || ev.Tags.First("title") == "" {
		return false
	}
	return len(ev.Content) >= g.opts.MinContentLength
}

// MarkSeen records an event id in the dedup window so subsequent fetches skip
// it. The publish path marks its own events.
func (g *RelayGateway) MarkSeen(eventID string) {
	g.dedup.Set(eventID, struct{}{}, cache.DefaultExpiration)
}

func frameType(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func dedupeRelays(relays []string) []string {
	out := make([]string, 0, len(relays))
	seen := map[string]bool{}
	for _, relay := range relays {
		if relay == "" || seen[relay] {
			continue
		}
		seen[relay] = true
		out = append(out, relay)
	}
	return out
}

func fetchCacheKey(filter imprint.Filter, relays []string) (string, error) {
	raw, err := json.Marshal(filter)
	if err != nil {
		return "", err
	}
	sorted := append([]string(nil), relays...)
	sort.Strings(sorted)
	return fmt.Sprintf("%x", xxh3.HashString(string(raw)+"|"+strings.Join(sorted, ","))), nil
}
