package models

import (
	"time"
)

// Article is the stable head of one (author, identifier) chain.
type Article struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Author        string    `json:"author" gorm:"type:char(66);index;uniqueIndex:uix_article_author_identifier"`
	Identifier    string    `json:"identifier" gorm:"type:text;uniqueIndex:uix_article_author_identifier"`
	Title         string    `json:"title" gorm:"type:text"`
	Summary       string    `json:"summary" gorm:"type:text"`
	Topics        string    `json:"topics" gorm:"type:text"`
	LatestVersion int       `json:"latestVersion" gorm:"type:integer;not null;default:0"`
	LatestEventID string    `json:"latestEventID" gorm:"type:char(64)"`
	CDate         time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate         time.Time `json:"mdate" gorm:"autoUpdateTime"`
}

// ArticleVersion is one immutable published record in a chain.
type ArticleVersion struct {
	ID                int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ArticleID         int64     `json:"articleID" gorm:"index;uniqueIndex:uix_article_version;not null"`
	Article           Article   `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
	Version           int       `json:"version" gorm:"type:integer;uniqueIndex:uix_article_version;not null"`
	Title             string    `json:"title" gorm:"type:text"`
	Content           string    `json:"content" gorm:"type:text"`
	Summary           string    `json:"summary" gorm:"type:text"`
	Topics            string    `json:"topics" gorm:"type:text"`
	Status            string    `json:"status" gorm:"type:text;not null;default:'published'"`
	EventID           string    `json:"eventID" gorm:"type:char(64);uniqueIndex"`
	SupersedesEventID string    `json:"supersedesEventID" gorm:"type:char(64)"`
	PublishedAt       time.Time `json:"publishedAt" gorm:"type:timestamp with time zone;index"`
	CDate             time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// CommitLog keeps the raw signed wire form of every accepted event so peers
// can re-verify signatures byte for byte.
type CommitLog struct {
	ID       string    `json:"id" gorm:"primaryKey;type:char(64)"`
	Document string    `json:"document" gorm:"type:text"`
	CDate    time.Time `json:"cdate" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// Draft is author-private staging content, deleted on publish.
type Draft struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Author     string    `json:"author" gorm:"type:char(66);index;not null"`
	Identifier string    `json:"identifier" gorm:"type:text;index"`
	Title      string    `json:"title" gorm:"type:text"`
	Content    string    `json:"content" gorm:"type:text"`
	Summary    string    `json:"summary" gorm:"type:text"`
	Topics     string    `json:"topics" gorm:"type:text"`
	CDate      time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate      time.Time `json:"mdate" gorm:"autoUpdateTime"`
}

// Relay is a configured propagation peer.
type Relay struct {
	ID          int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	URL         string     `json:"url" gorm:"type:text;uniqueIndex"`
	Status      string     `json:"status" gorm:"type:text;not null;default:'unknown'"`
	LastChecked *time.Time `json:"lastChecked" gorm:"type:timestamp with time zone"`
	CDate       time.Time  `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// Setting is the singleton instance configuration row. BlockedAuthors is a
// comma-joined author key list, same encoding as article topics.
type Setting struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SiteName       string    `json:"siteName" gorm:"type:text;not null;default:'imprint'"`
	SiteTagline    string    `json:"siteTagline" gorm:"type:text"`
	Description    string    `json:"description" gorm:"type:text"`
	MaxFeedItems   int       `json:"maxFeedItems" gorm:"type:integer;not null;default:15"`
	BlockedAuthors string    `json:"blockedAuthors" gorm:"type:text"`
	UpdatedBy      string    `json:"updatedBy" gorm:"type:char(66)"`
	CDate          time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate          time.Time `json:"mdate" gorm:"autoUpdateTime"`
}

// AdminEvent is one audit log row for an administrative action.
type AdminEvent struct {
	ID      int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Level   string    `json:"level" gorm:"type:text;not null;default:'info'"`
	Action  string    `json:"action" gorm:"type:text;not null"`
	Actor   string    `json:"actor" gorm:"type:char(66)"`
	Message string    `json:"message" gorm:"type:text;not null"`
	CDate   time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp();index"`
}
