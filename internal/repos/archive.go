package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

// ArchiveIndexRepo persists the video_id -> ArchiveRecord mapping. SaveIndex
// replaces the whole mapping atomically; callers that touch one record use
// UpdateRecord, which read-modify-writes a single row.
type ArchiveIndexRepo interface {
	LoadIndex(ctx context.Context, tx *gorm.DB) (map[string]*types.ArchiveRecord, error)
	SaveIndex(ctx context.Context, tx *gorm.DB, index map[string]*types.ArchiveRecord) error
	GetRecord(ctx context.Context, tx *gorm.DB, videoID string) (*types.ArchiveRecord, error)
	UpdateRecord(ctx context.Context, tx *gorm.DB, videoID string, mutate func(rec *types.ArchiveRecord)) (*types.ArchiveRecord, error)
	DeleteRecord(ctx context.Context, tx *gorm.DB, videoID string) error
}

type archiveIndexRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArchiveIndexRepo(db *gorm.DB, baseLog *logger.Logger) ArchiveIndexRepo {
	return &archiveIndexRepo{db: db, log: baseLog.With("repo", "ArchiveIndexRepo")}
}

func (r *archiveIndexRepo) LoadIndex(ctx context.Context, tx *gorm.DB) (map[string]*types.ArchiveRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []types.ArchiveIndexRow
	if err := transaction.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	index := make(map[string]*types.ArchiveRecord, len(rows))
	for _, row := range rows {
		rec := &types.ArchiveRecord{}
		if err := json.Unmarshal(row.Record, rec); err != nil {
			r.log.Warn("Skipping unreadable archive record", "video_id", row.VideoID, "error", err)
			continue
		}
		if rec.VideoID == "" {
			rec.VideoID = row.VideoID
		}
		index[row.VideoID] = rec
	}
	return index, nil
}

func (r *archiveIndexRepo) SaveIndex(ctx context.Context, tx *gorm.DB, index map[string]*types.ArchiveRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(t *gorm.DB) error {
		if err := t.Where("1 = 1").Delete(&types.ArchiveIndexRow{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		rows := make([]types.ArchiveIndexRow, 0, len(index))
		for videoID, rec := range index {
			if rec == nil {
				continue
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal archive record %s: %w", videoID, err)
			}
			rows = append(rows, types.ArchiveIndexRow{VideoID: videoID, Record: raw, UpdatedAt: now})
		}
		if len(rows) == 0 {
			return nil
		}
		return t.CreateInBatches(rows, 200).Error
	})
}

func (r *archiveIndexRepo) GetRecord(ctx context.Context, tx *gorm.DB, videoID string) (*types.ArchiveRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.ArchiveIndexRow
	err := transaction.WithContext(ctx).Where("video_id = ?", videoID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := &types.ArchiveRecord{}
	if err := json.Unmarshal(row.Record, rec); err != nil {
		return nil, fmt.Errorf("decode archive record %s: %w", videoID, err)
	}
	if rec.VideoID == "" {
		rec.VideoID = videoID
	}
	return rec, nil
}

func (r *archiveIndexRepo) UpdateRecord(ctx context.Context, tx *gorm.DB, videoID string, mutate func(rec *types.ArchiveRecord)) (*types.ArchiveRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	rec, err := r.GetRecord(ctx, transaction, videoID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &types.ArchiveRecord{VideoID: videoID}
	}
	mutate(rec)
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal archive record %s: %w", videoID, err)
	}
	row := types.ArchiveIndexRow{VideoID: videoID, Record: raw, UpdatedAt: time.Now().UTC()}
	if err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *archiveIndexRepo) DeleteRecord(ctx context.Context, tx *gorm.DB, videoID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Where("video_id = ?", videoID).Delete(&types.ArchiveIndexRow{}).Error
}
