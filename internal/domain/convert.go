package domain

import (
	"strconv"
	"time"

	"github.com/imprint-pub/imprint"
)

// RecordFromEvent parses a verified wire event into a domain Record,
// rejecting malformed shapes at the boundary.
func RecordFromEvent(ev imprint.Event) (Record, error) {
	if ev.Kind != imprint.KindArticle {
		return Record{}, ValidationError{Reason: "not an article event"}
	}
	identifier := ev.Tags.First("d")
	title := ev.Tags.First("title")
	if identifier == "" || title == "" {
		return Record{}, ValidationError{Reason: "missing identifier or title"}
	}

	version, err := strconv.Atoi(ev.Tags.First("version"))
	if err != nil || version < 1 {
		return Record{}, ValidationError{Reason: "invalid version"}
	}

	supersedes := ev.Tags.First("supersedes")
	if version > 1 && supersedes == "" {
		return Record{}, ValidationError{Reason: "missing supersedes for revision"}
	}
	if version == 1 && supersedes != "" {
		return Record{}, ValidationError{Reason: "unexpected supersedes on first version"}
	}

	status := ev.Tags.First("status")
	if status == "" {
		status = imprint.StatusPublished
	}

	return Record{
		EventID:     ev.ID,
		Author:      ev.Author,
		Identifier:  identifier,
		Title:       title,
		Content:     ev.Content,
		Summary:     ev.Tags.First("summary"),
		Topics:      ev.Tags.Values("t"),
		Version:     version,
		Status:      status,
		Supersedes:  supersedes,
		PublishedAt: time.Unix(ev.CreatedAt, 0).UTC(),
	}, nil
}
