package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imprint-pub/imprint"
	"github.com/imprint-pub/imprint/internal/domain"
	"github.com/imprint-pub/imprint/internal/infra/database/models"
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// chainState is the locked head of one (author, identifier) chain at the
// moment of an upsert decision.
type chainState struct {
	LatestVersion int
	LatestEventID string
}

// decideUpsert applies the chain linearity rules: duplicates are idempotent,
// versions at or below the head are stale, and anything that does not extend
// the head by exactly one step with a matching supersedes link is a fork.
// First persisted wins; later same-version candidates are rejected. The
// duplicate check takes precedence over staleness: a re-upserted event whose
// chain has since moved on is still the same event.
func decideUpsert(state chainState, seen bool, rec domain.Record) domain.UpsertResult {
	if seen {
		return domain.UpsertDuplicateIgnored
	}
	if rec.Version <= state.LatestVersion {
		return domain.UpsertRejectedStale
	}
	if state.LatestVersion == 0 {
		if rec.Version != 1 || rec.Supersedes != "" {
			return domain.UpsertRejectedFork
		}
		return domain.UpsertAccepted
	}
	if rec.Version != state.LatestVersion+1 || rec.Supersedes != state.LatestEventID {
		return domain.UpsertRejectedFork
	}
	return domain.UpsertAccepted
}

// Upsert persists one candidate record. The article row is locked for the
// duration of the decide-and-insert sequence, so concurrent publishes for the
// same chain serialize here; the unique (article_id, version) index is the
// backstop. Only storage I/O failures return an error.
func (r *RecordRepository) Upsert(ctx context.Context, rec domain.Record, raw imprint.Event) (domain.UpsertResult, error) {
	result := domain.UpsertUnknown

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		article, err := r.lockArticle(ctx, tx, rec.Author, rec.Identifier)
		if err != nil {
			return err
		}

		// the duplicate check runs under the row lock so a racing upsert of
		// the same event classifies as duplicate, not stale
		var count int64
		if err := tx.Model(&models.ArticleVersion{}).
			Where("event_id = ?", rec.EventID).
			Count(&count).Error; err != nil {
			return err
		}

		result = decideUpsert(chainState{
			LatestVersion: article.LatestVersion,
			LatestEventID: article.LatestEventID,
		}, count > 0, rec)
		if result != domain.UpsertAccepted {
			return nil
		}

		version := models.ArticleVersion{
			ArticleID:         article.ID,
			Version:           rec.Version,
			Title:             rec.Title,
			Content:           rec.Content,
			Summary:           rec.Summary,
			Topics:            joinTopics(rec.Topics),
			Status:            rec.Status,
			EventID:           rec.EventID,
			SupersedesEventID: rec.Supersedes,
			PublishedAt:       rec.PublishedAt,
		}
		if err := tx.Create(&version).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				result = domain.UpsertRejectedStale
				return nil
			}
			return err
		}

		document, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.CommitLog{ID: rec.EventID, Document: string(document)}).Error; err != nil {
			return err
		}

		return tx.Model(&models.Article{}).Where("id = ?", article.ID).Updates(map[string]any{
			"title":           rec.Title,
			"summary":         rec.Summary,
			"topics":          joinTopics(rec.Topics),
			"latest_version":  rec.Version,
			"latest_event_id": rec.EventID,
		}).Error
	})
	if err != nil {
		return domain.UpsertUnknown, err
	}
	return result, nil
}

// lockArticle takes the chain head row FOR UPDATE, creating it first when the
// chain is new. A concurrent creator is handled by the unique
// (author, identifier) index followed by a locked re-read.
func (r *RecordRepository) lockArticle(ctx context.Context, tx *gorm.DB, author, identifier string) (models.Article, error) {
	var article models.Article
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("author = ? AND identifier = ?", author, identifier).
		Take(&article).Error
	if err == nil {
		return article, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Article{}, err
	}

	article = models.Article{Author: author, Identifier: identifier}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "author"}, {Name: "identifier"}},
		DoNothing: true,
	}).Create(&article).Error
	if err != nil {
		return models.Article{}, err
	}
	if article.ID != 0 {
		return article, nil
	}

	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("author = ? AND identifier = ?", author, identifier).
		Take(&article).Error
	return article, err
}

func (r *RecordRepository) Latest(ctx context.Context, author, identifier string) (*domain.Record, error) {
	var version models.ArticleVersion
	err := r.db.WithContext(ctx).
		Joins("JOIN articles ON articles.id = article_versions.article_id").
		Where("articles.author = ? AND articles.identifier = ?", author, identifier).
		Where("article_versions.version = articles.latest_version").
		Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := r.toRecord(version, author, identifier)
	return &rec, nil
}

func (r *RecordRepository) History(ctx context.Context, author, identifier string) ([]domain.Record, error) {
	var versions []models.ArticleVersion
	err := r.db.WithContext(ctx).
		Joins("JOIN articles ON articles.id = article_versions.article_id").
		Where("articles.author = ? AND articles.identifier = ?", author, identifier).
		Order("article_versions.version ASC").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0, len(versions))
	for _, version := range versions {
		records = append(records, r.toRecord(version, author, identifier))
	}
	return records, nil
}

func (r *RecordRepository) ListLatest(ctx context.Context, filter domain.FeedFilter) ([]domain.Record, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ArticleVersion{}).
		Select("article_versions.*, articles.author AS feed_author, articles.identifier AS feed_identifier").
		Joins("JOIN articles ON articles.id = article_versions.article_id").
		Where("article_versions.version = articles.latest_version").
		Where("article_versions.status = ?", imprint.StatusPublished)

	if filter.Author != "" {
		query = query.Where("articles.author = ?", filter.Author)
	}
	if filter.Topic != "" {
		query = query.Where("article_versions.topics ILIKE ?", "%"+filter.Topic+"%")
	}
	if filter.SinceDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -filter.SinceDays)
		query = query.Where("article_versions.published_at >= ?", cutoff)
	}
	if len(filter.ExcludeAuthors) > 0 {
		query = query.Where("articles.author NOT IN ?", filter.ExcludeAuthors)
	}

	var rows []feedRow
	err := query.
		Order("article_versions.published_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, r.toRecord(row.ArticleVersion, row.FeedAuthor, row.FeedIdentifier))
	}
	return records, nil
}

type feedRow struct {
	models.ArticleVersion `gorm:"embedded"`
	FeedAuthor            string
	FeedIdentifier        string
}

func (r *RecordRepository) GetByEventID(ctx context.Context, eventID string) (*domain.Record, error) {
	var row feedRow
	err := r.db.WithContext(ctx).
		Model(&models.ArticleVersion{}).
		Select("article_versions.*, articles.author AS feed_author, articles.identifier AS feed_identifier").
		Joins("JOIN articles ON articles.id = article_versions.article_id").
		Where("article_versions.event_id = ?", eventID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := r.toRecord(row.ArticleVersion, row.FeedAuthor, row.FeedIdentifier)
	return &rec, nil
}

// GetSigned returns the raw signed wire form of an accepted event.
func (r *RecordRepository) GetSigned(ctx context.Context, eventID string) (*imprint.Event, error) {
	var commit models.CommitLog
	err := r.db.WithContext(ctx).Where("id = ?", eventID).Take(&commit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundError{Resource: "record"}
	}
	if err != nil {
		return nil, err
	}
	var ev imprint.Event
	if err := json.Unmarshal([]byte(commit.Document), &ev); err != nil {
		return nil, fmt.Errorf("corrupt commit log entry %s: %w", eventID, err)
	}
	return &ev, nil
}

func (r *RecordRepository) toRecord(version models.ArticleVersion, author, identifier string) domain.Record {
	return domain.Record{
		EventID:     version.EventID,
		Author:      author,
		Identifier:  identifier,
		Title:       version.Title,
		Content:     version.Content,
		Summary:     version.Summary,
		Topics:      splitTopics(version.Topics),
		Version:     version.Version,
		Status:      version.Status,
		Supersedes:  version.SupersedesEventID,
		PublishedAt: version.PublishedAt,
	}
}

func joinTopics(topics []string) string {
	return strings.Join(topics, ",")
}

func splitTopics(topics string) []string {
	if topics == "" {
		return nil
	}
	return strings.Split(topics, ",")
}
