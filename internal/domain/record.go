package domain

import "time"

// Record is a domain-level view of one published article version. It is
// immutable once accepted; revisions are new Records linked via Supersedes.
type Record struct {
	EventID     string    `json:"eventID"`
	Author      string    `json:"author"`
	Identifier  string    `json:"identifier"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	Version     int       `json:"version"`
	Status      string    `json:"status"`
	Supersedes  string    `json:"supersedes,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Draft is mutable, unsigned staging content private to its author.
type Draft struct {
	ID         int64     `json:"id"`
	Author     string    `json:"author"`
	Identifier string    `json:"identifier,omitempty"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary,omitempty"`
	Topics     []string  `json:"topics,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Relay is a configured peer endpoint. Relays are not authoritative, purely
// propagation targets and sources.
type Relay struct {
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
}

// UpsertResult classifies the outcome of persisting a candidate record.
type UpsertResult int

const (
	UpsertUnknown UpsertResult = iota
	UpsertAccepted
	UpsertDuplicateIgnored
	UpsertRejectedStale
	UpsertRejectedFork
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertAccepted:
		return "accepted"
	case UpsertDuplicateIgnored:
		return "duplicate"
	case UpsertRejectedStale:
		return "stale"
	case UpsertRejectedFork:
		return "fork"
	default:
		return "unknown"
	}
}

// Persisted reports whether the candidate is in the store after the call,
// either freshly accepted or as an idempotent duplicate.
func (r UpsertResult) Persisted() bool {
	return r == UpsertAccepted || r == UpsertDuplicateIgnored
}

// RelayStatus is the per-relay outcome of one publish round.
type RelayStatus string

const (
	RelaySent     RelayStatus = "sent"
	RelayFailed   RelayStatus = "failed"
	RelayCooldown RelayStatus = "cooldown"
)

// FeedFilter narrows the latest-per-article feed view. ExcludeAuthors is
// filled from the instance block list, never from request input.
type FeedFilter struct {
	Author         string
	Topic          string
	SinceDays      int
	Limit          int
	Offset         int
	ExcludeAuthors []string
}

// Setting is the singleton instance configuration editable at runtime.
// BlockedAuthors are author keys whose records are hidden from the feed and
// comment threads.
type Setting struct {
	SiteName       string   `json:"siteName"`
	SiteTagline    string   `json:"siteTagline,omitempty"`
	Description    string   `json:"description,omitempty"`
	MaxFeedItems   int      `json:"maxFeedItems"`
	BlockedAuthors []string `json:"blockedAuthors,omitempty"`
	UpdatedBy      string   `json:"updatedBy,omitempty"`
}

// AuditEntry is one recorded administrative action.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
