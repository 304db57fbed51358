package repos

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

const knownChatsKey = "known_chats"

// BotMetaRepo is a small key/value store for runtime metadata that must
// survive restarts, like the set of chat ids the bot has greeted.
type BotMetaRepo interface {
	GetValue(ctx context.Context, tx *gorm.DB, key string, out any) (bool, error)
	SetValue(ctx context.Context, tx *gorm.DB, key string, value any) error
	LoadKnownChats(ctx context.Context, tx *gorm.DB) ([]int64, error)
	SaveKnownChats(ctx context.Context, tx *gorm.DB, chatIDs []int64) error
}

type botMetaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBotMetaRepo(db *gorm.DB, baseLog *logger.Logger) BotMetaRepo {
	return &botMetaRepo{db: db, log: baseLog.With("repo", "BotMetaRepo")}
}

func (r *botMetaRepo) GetValue(ctx context.Context, tx *gorm.DB, key string, out any) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.BotMeta
	err := transaction.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out != nil {
		if err := json.Unmarshal(row.ValueJSON, out); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *botMetaRepo) SetValue(ctx context.Context, tx *gorm.DB, key string, value any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	row := types.BotMeta{Key: key, ValueJSON: raw, UpdatedAt: time.Now().UTC()}
	return transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (r *botMetaRepo) LoadKnownChats(ctx context.Context, tx *gorm.DB) ([]int64, error) {
	var ids []int64
	if _, err := r.GetValue(ctx, tx, knownChatsKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveKnownChats stores the chat-id set deduplicated and sorted, so
// save(load()) round-trips to the same row.
func (r *botMetaRepo) SaveKnownChats(ctx context.Context, tx *gorm.DB, chatIDs []int64) error {
	seen := make(map[int64]bool, len(chatIDs))
	unique := make([]int64, 0, len(chatIDs))
	for _, id := range chatIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	return r.SetValue(ctx, tx, knownChatsKey, unique)
}
