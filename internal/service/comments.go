package service

import (
	"context"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/usecase"
)

const (
	threadCacheTTL   = 30 * time.Second
	threadFetchLimit = 100
)

// Comment is one node of an article's reply tree, assembled from note events
// observed on the relay network. A retracted comment stays in the tree with
// its content blanked so replies keep their anchor.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt int64     `json:"createdAt"`
	ParentID  string    `json:"parentID,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	Replies   []Comment `json:"replies,omitempty"`
}

// CommentService fetches and threads reader comments referencing a published
// event. Comments live on the relays, not in the record chain; threads are
// advisory, TTL-cached views like engagement counts.
type CommentService struct {
	gateway  usecase.RelayGateway
	relays   usecase.RelayRepository
	settings usecase.SettingRepository
	threads  *cache.Cache
}

func NewCommentService(
	gateway usecase.RelayGateway,
	relays usecase.RelayRepository,
	settings usecase.SettingRepository,
) *CommentService {
	return &CommentService{
		gateway:  gateway,
		relays:   relays,
		settings: settings,
		threads:  cache.New(threadCacheTTL, time.Minute),
	}
}

// Thread returns the comment tree rooted at the given event, top-level
// comments first, each level ordered oldest first.
func (s *CommentService) Thread(ctx context.Context, rootEventID string) ([]Comment, error) {
	ctx, span := tracer.Start(ctx, "Comments.Service.Thread")
	defer span.End()

	if cached, found := s.threads.Get(rootEventID); found {
		return cached.([]Comment), nil
	}

	relayList, err := s.relays.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to list relays")
	}
	urls := make([]string, 0, len(relayList))
	for _, relay := range relayList {
		urls = append(urls, relay.URL)
	}

	notes, err := s.gateway.Fetch(ctx, imprint.Filter{
		Kinds: []int{imprint.KindNote},
		Refs:  []string{rootEventID},
		Limit: threadFetchLimit,
	}, urls)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to fetch comments")
	}

	deleted, err := s.fetchDeletions(ctx, notes, urls)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	setting, err := s.settings.Get(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to load block list")
	}
	blocked := map[string]bool{}
	for _, author := range setting.BlockedAuthors {
		blocked[author] = true
	}

	thread := assembleThread(notes, deleted, blocked)
	s.threads.Set(rootEventID, thread, cache.DefaultExpiration)
	return thread, nil
}

// fetchDeletions resolves which comments their own authors have retracted.
// A deletion event only counts against comments by the same author.
func (s *CommentService) fetchDeletions(ctx context.Context, notes []imprint.Event, urls []string) (map[string]bool, error) {
	if len(notes) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(notes))
	authors := map[string]string{}
	for _, note := range notes {
		ids = append(ids, note.ID)
		authors[note.ID] = note.Author
	}

	deletions, err := s.gateway.Fetch(ctx, imprint.Filter{
		Kinds: []int{imprint.KindDeletion},
		Refs:  ids,
	}, urls)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch comment deletions")
	}

	deleted := map[string]bool{}
	for _, deletion := range deletions {
		for _, target := range deletion.Tags.Values("e") {
			if authors[target] == deletion.Author {
				deleted[target] = true
			}
		}
	}
	return deleted, nil
}

func assembleThread(notes []imprint.Event, deleted, blocked map[string]bool) []Comment {
	comments := map[string]*Comment{}
	order := make([]string, 0, len(notes))

	for _, note := range notes {
		if blocked[note.Author] {
			continue
		}
		comment := &Comment{
			ID:        note.ID,
			Author:    note.Author,
			Content:   note.Content,
			CreatedAt: note.CreatedAt,
			ParentID:  replyParent(note.Tags),
			Deleted:   deleted[note.ID],
		}
		if comment.Deleted {
			comment.Content = ""
		}
		comments[note.ID] = comment
		order = append(order, note.ID)
	}

	children := map[string][]*Comment{}
	for _, id := range order {
		comment := comments[id]
		if _, ok := comments[comment.ParentID]; ok {
			children[comment.ParentID] = append(children[comment.ParentID], comment)
		}
	}

	// materialize depth first so every level is sorted oldest first
	var build func(comment *Comment) Comment
	build = func(comment *Comment) Comment {
		out := *comment
		kids := children[comment.ID]
		sort.Slice(kids, func(i, j int) bool { return kids[i].CreatedAt < kids[j].CreatedAt })
		for _, kid := range kids {
			out.Replies = append(out.Replies, build(kid))
		}
		return out
	}

	var roots []Comment
	for _, id := range order {
		comment := comments[id]
		if _, ok := comments[comment.ParentID]; ok {
			continue
		}
		roots = append(roots, build(comment))
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].CreatedAt < roots[j].CreatedAt })
	return roots
}

// replyParent extracts the reply target from the note's e tags, using the
// marker convention: ["e", <id>, <relay>, "reply"].
func replyParent(tags imprint.Tags) string {
	for _, tag := range tags {
		if len(tag) >= 4 && tag[0] == "e" && tag[3] == "reply" {
			return tag[1]
		}
	}
	return ""
}
