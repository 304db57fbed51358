package types

import (
	"time"

	"gorm.io/datatypes"
)

type TranscriptChunkRow struct {
	VideoID     string         `gorm:"primaryKey;column:video_id;size:32" json:"video_id"`
	ChunkIdx    int            `gorm:"primaryKey;column:chunk_idx" json:"chunk_idx"`
	ContentHash string         `gorm:"column:content_hash;size:64" json:"content_hash"`
	ChunkJSON   datatypes.JSON `gorm:"type:jsonb;column:chunk_json" json:"chunk_json"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (TranscriptChunkRow) TableName() string {
	return "transcript_chunks"
}

// TranscriptChunkEmbedding persists one vector per (video, chunk, model). On
// Postgres the embedding column is replaced with vector(dim) at init so the
// `<=>` operator applies; on the sqlite driver it stays a plain text literal
// and semantic search reports unavailable.
type TranscriptChunkEmbedding struct {
	VideoID     string    `gorm:"primaryKey;column:video_id;size:32" json:"video_id"`
	ChunkIdx    int       `gorm:"primaryKey;column:chunk_idx" json:"chunk_idx"`
	Model       string    `gorm:"primaryKey;column:model;size:128" json:"model"`
	ContentHash string    `gorm:"column:content_hash;size:64" json:"content_hash"`
	Embedding   string    `gorm:"column:embedding" json:"-"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (TranscriptChunkEmbedding) TableName() string {
	return "transcript_chunk_embeddings"
}

type QAHistoryEntry struct {
	ID             int64          `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	VideoID        string         `gorm:"column:video_id;size:32;index" json:"video_id"`
	TranscriptPath string         `gorm:"column:transcript_path" json:"transcript_path"`
	Question       string         `gorm:"column:question" json:"question"`
	Answer         string         `gorm:"column:answer" json:"answer"`
	Source         string         `gorm:"column:source;size:16" json:"source"`
	ChatID         int64          `gorm:"column:chat_id" json:"chat_id"`
	Lang           string         `gorm:"column:lang;size:8" json:"lang"`
	ExtraJSON      datatypes.JSON `gorm:"type:jsonb;column:extra_json" json:"extra_json"`
	AskedAt        time.Time      `gorm:"not null;index" json:"asked_at"`
}

func (QAHistoryEntry) TableName() string {
	return "transcript_qa_history"
}
