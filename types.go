package imprint

const (
	// KindArticle is the long-form content kind carried between relays.
	KindArticle = 30023
	// KindNote carries short-form notes; threaded replies referencing an
	// article form its comment tree.
	KindNote = 1
	// KindDeletion retracts earlier events by the same author.
	KindDeletion = 5
	// KindReaction and KindZapReceipt are read-only engagement kinds.
	KindReaction   = 7
	KindZapReceipt = 9735
)

const (
	StatusPublished = "published"
)

// SiteTopic is the canonical topic attached to every article published
// through this node.
const SiteTopic = "imprint"

// Event is the signed wire unit exchanged with relays. Once signed it is
// immutable; revisions are new events linked via the supersedes tag.
type Event struct {
	ID        string `json:"id"`
	Author    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Tags is the ordered tag list of an event.
type Tags [][]string

// First returns the value of the first tag with the given name, or "".
func (t Tags) First(name string) string {
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Values returns every value carried by tags with the given name.
func (t Tags) Values(name string) []string {
	var values []string
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// Filter is the subscription filter sent to relays with a REQ frame.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Refs    []string `json:"#e,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// WellKnownImprint describes this node to peers and clients.
type WellKnownImprint struct {
	Version   string            `json:"version"`
	Domain    string            `json:"domain"`
	AuthorKey string            `json:"authorKey"`
	Endpoints map[string]string `json:"endpoints"`
}
