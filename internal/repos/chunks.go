package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

// ChunkVector pairs a chunk index with its embedding vector.
type ChunkVector struct {
	Idx    int
	Vector []float32
}

// ChunkHit is one semantic search result. Similarity is raw cosine
// similarity in [-1,1]; callers rescale for blending.
type ChunkHit struct {
	Idx        int     `json:"idx"`
	Similarity float64 `json:"similarity"`
}

type TranscriptChunkRepo interface {
	SaveChunks(ctx context.Context, tx *gorm.DB, videoID, contentHash string, chunks []transcript.Chunk) error
	LoadChunks(ctx context.Context, tx *gorm.DB, videoID string) ([]transcript.Chunk, string, error)
	GetEmbeddingMeta(ctx context.Context, tx *gorm.DB, videoID, model string) (string, int, error)
	SaveChunkEmbeddings(ctx context.Context, tx *gorm.DB, videoID, model, contentHash string, vectors []ChunkVector) error
	SemanticSearch(ctx context.Context, tx *gorm.DB, videoID, model string, queryVec []float32, limit int) ([]ChunkHit, error)
	SemanticSearchAvailable() bool
}

type transcriptChunkRepo struct {
	db       *gorm.DB
	log      *logger.Logger
	semantic bool
}

func NewTranscriptChunkRepo(db *gorm.DB, baseLog *logger.Logger, semanticAvailable bool) TranscriptChunkRepo {
	return &transcriptChunkRepo{
		db:       db,
		log:      baseLog.With("repo", "TranscriptChunkRepo"),
		semantic: semanticAvailable,
	}
}

func (r *transcriptChunkRepo) SemanticSearchAvailable() bool { return r.semantic }

func (r *transcriptChunkRepo) SaveChunks(ctx context.Context, tx *gorm.DB, videoID, contentHash string, chunks []transcript.Chunk) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	rows := make([]types.TranscriptChunkRow, 0, len(chunks))
	for _, ch := range chunks {
		raw, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("marshal chunk %d: %w", ch.Idx, err)
		}
		rows = append(rows, types.TranscriptChunkRow{
			VideoID:     videoID,
			ChunkIdx:    ch.Idx,
			ContentHash: contentHash,
			ChunkJSON:   raw,
			UpdatedAt:   now,
		})
	}
	return transaction.WithContext(ctx).Transaction(func(t *gorm.DB) error {
		if err := t.Where("video_id = ?", videoID).Delete(&types.TranscriptChunkRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return t.CreateInBatches(rows, 200).Error
	})
}

func (r *transcriptChunkRepo) LoadChunks(ctx context.Context, tx *gorm.DB, videoID string) ([]transcript.Chunk, string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []types.TranscriptChunkRow
	if err := transaction.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("chunk_idx ASC").
		Find(&rows).Error; err != nil {
		return nil, "", err
	}
	chunks := make([]transcript.Chunk, 0, len(rows))
	hash := ""
	for _, row := range rows {
		var ch transcript.Chunk
		if err := json.Unmarshal(row.ChunkJSON, &ch); err != nil {
			r.log.Warn("Skipping unreadable chunk row", "video_id", videoID, "chunk_idx", row.ChunkIdx, "error", err)
			continue
		}
		chunks = append(chunks, ch)
		hash = row.ContentHash
	}
	return chunks, hash, nil
}

func (r *transcriptChunkRepo) GetEmbeddingMeta(ctx context.Context, tx *gorm.DB, videoID, model string) (string, int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var meta struct {
		Hash  *string
		Count int
	}
	err := transaction.WithContext(ctx).
		Model(&types.TranscriptChunkEmbedding{}).
		Select("MAX(content_hash) AS hash, COUNT(*) AS count").
		Where("video_id = ? AND model = ?", videoID, model).
		Scan(&meta).Error
	if err != nil {
		return "", 0, err
	}
	hash := ""
	if meta.Hash != nil {
		hash = *meta.Hash
	}
	return hash, meta.Count, nil
}

// SaveChunkEmbeddings rebuilds the (video, model) embedding group atomically:
// delete old rows and insert the new set in one transaction, so readers see
// either the old complete set or the new complete set.
func (r *transcriptChunkRepo) SaveChunkEmbeddings(ctx context.Context, tx *gorm.DB, videoID, model, contentHash string, vectors []ChunkVector) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	return transaction.WithContext(ctx).Transaction(func(t *gorm.DB) error {
		if err := t.Where("video_id = ? AND model = ?", videoID, model).
			Delete(&types.TranscriptChunkEmbedding{}).Error; err != nil {
			return err
		}
		for _, cv := range vectors {
			row := types.TranscriptChunkEmbedding{
				VideoID:     videoID,
				ChunkIdx:    cv.Idx,
				Model:       model,
				ContentHash: contentHash,
				Embedding:   VectorLiteral(cv.Vector),
				UpdatedAt:   now,
			}
			if r.semantic {
				if err := t.Exec(
					`INSERT INTO transcript_chunk_embeddings (video_id, chunk_idx, model, content_hash, embedding, updated_at)
					 VALUES (?, ?, ?, ?, ?::vector, ?)`,
					row.VideoID, row.ChunkIdx, row.Model, row.ContentHash, row.Embedding, row.UpdatedAt,
				).Error; err != nil {
					return err
				}
			} else {
				if err := t.Create(&row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *transcriptChunkRepo) SemanticSearch(ctx context.Context, tx *gorm.DB, videoID, model string, queryVec []float32, limit int) ([]ChunkHit, error) {
	if !r.semantic {
		return nil, fmt.Errorf("semantic search unavailable on this state backend")
	}
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit < 1 {
		limit = 1
	}
	lit := VectorLiteral(queryVec)
	var raw []struct {
		ChunkIdx   int
		Similarity float64
	}
	if err := transaction.WithContext(ctx).Raw(
		`SELECT chunk_idx, 1 - (embedding <=> ?::vector) AS similarity
		 FROM transcript_chunk_embeddings
		 WHERE video_id = ? AND model = ?
		 ORDER BY embedding <=> ?::vector
		 LIMIT ?`,
		lit, videoID, model, lit, limit,
	).Scan(&raw).Error; err != nil {
		return nil, err
	}
	out := make([]ChunkHit, 0, len(raw))
	for _, row := range raw {
		out = append(out, ChunkHit{Idx: row.ChunkIdx, Similarity: row.Similarity})
	}
	return out, nil
}

// VectorLiteral renders a pgvector input literal: "[v1,v2,...]".
func VectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
