package repos

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

// RecentSearch is the runtime-panel shape for a past Q&A entry.
type RecentSearch struct {
	VideoID  string    `json:"video_id"`
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Source   string    `json:"source"`
	Lang     string    `json:"lang"`
	AskedAt  time.Time `json:"asked_at"`
}

type QAHistoryRepo interface {
	Append(ctx context.Context, tx *gorm.DB, entry *types.QAHistoryEntry) error
	LoadRecent(ctx context.Context, tx *gorm.DB, limit int) ([]RecentSearch, error)
}

type qaHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQAHistoryRepo(db *gorm.DB, baseLog *logger.Logger) QAHistoryRepo {
	return &qaHistoryRepo{db: db, log: baseLog.With("repo", "QAHistoryRepo")}
}

func (r *qaHistoryRepo) Append(ctx context.Context, tx *gorm.DB, entry *types.QAHistoryEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry.AskedAt.IsZero() {
		entry.AskedAt = time.Now().UTC()
	}
	return transaction.WithContext(ctx).Create(entry).Error
}

func (r *qaHistoryRepo) LoadRecent(ctx context.Context, tx *gorm.DB, limit int) ([]RecentSearch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit < 1 {
		limit = 1
	}
	var rows []types.QAHistoryEntry
	if err := transaction.WithContext(ctx).
		Order("asked_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]RecentSearch, 0, len(rows))
	for _, row := range rows {
		item := RecentSearch{
			VideoID:  row.VideoID,
			Question: row.Question,
			Answer:   row.Answer,
			Source:   row.Source,
			Lang:     row.Lang,
			AskedAt:  row.AskedAt,
		}
		if len(row.ExtraJSON) > 0 {
			var extra map[string]any
			if err := json.Unmarshal(row.ExtraJSON, &extra); err == nil {
				if title, ok := extra["title"].(string); ok {
					item.Title = title
				}
				if url, ok := extra["url"].(string); ok {
					item.URL = url
				}
			}
		}
		out = append(out, item)
	}
	return out, nil
}
