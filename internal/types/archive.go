package types

import (
	"time"

	"gorm.io/datatypes"
)

// Archive statuses a recording can end in. "recording" is the only
// non-terminal status.
const (
	StatusRecording = "recording"
	StatusSaved     = "saved"
	StatusPartial   = "partial"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Transcript provenance.
const (
	TranscriptSourceCaptions = "youtube_captions"
	TranscriptSourceSTT      = "audio_stt"
	TranscriptSourceCached   = "cached"
	TranscriptSourceFile     = "file"
)

const MaxQACacheEntries = 40

type QACacheEntry struct {
	QuestionKey     string `json:"question_key"`
	TranscriptStamp string `json:"transcript_stamp"`
	Answer          string `json:"answer"`
	Backend         string `json:"backend,omitempty"`
	SavedAt         string `json:"saved_at,omitempty"`
}

// ArchiveRecord is the per-video blob stored under archive_index. The whole
// record travels as one JSON payload so new fields never need a migration.
type ArchiveRecord struct {
	VideoID          string         `json:"video_id"`
	Title            string         `json:"title,omitempty"`
	Channel          string         `json:"channel,omitempty"`
	SourceURL        string         `json:"source_url,omitempty"`
	Status           string         `json:"status,omitempty"`
	StartedUTC       string         `json:"started_utc,omitempty"`
	StartedLocal     string         `json:"started_local,omitempty"`
	DateKey          string         `json:"date_key,omitempty"`
	ServiceKey       string         `json:"service_key,omitempty"`
	ServiceLabel     string         `json:"service_label,omitempty"`
	Filename         string         `json:"filename,omitempty"`
	FullFilename     string         `json:"full_filename,omitempty"`
	PublicURL        string         `json:"public_url,omitempty"`
	FullPublicURL    string         `json:"full_public_url,omitempty"`
	SaveStatus       string         `json:"save_status,omitempty"`
	FallbackReason   string         `json:"fallback_reason,omitempty"`
	TranscriptPath   string         `json:"transcript_path,omitempty"`
	TranscriptSource string         `json:"transcript_source,omitempty"`
	TranscriptChars  int            `json:"transcript_chars,omitempty"`
	AnalysisText     string         `json:"analysis_text,omitempty"`
	AnalysisLang     string         `json:"analysis_lang,omitempty"`
	AnalysisSavedAt  string         `json:"analysis_saved_at,omitempty"`
	QACache          []QACacheEntry `json:"qa_cache,omitempty"`
}

// AppendQACache keeps the newest MaxQACacheEntries entries.
func (r *ArchiveRecord) AppendQACache(entry QACacheEntry) {
	r.QACache = append(r.QACache, entry)
	if len(r.QACache) > MaxQACacheEntries {
		r.QACache = r.QACache[len(r.QACache)-MaxQACacheEntries:]
	}
}

// LookupQACache returns the most recent entry matching both the question key
// and the transcript stamp.
func (r *ArchiveRecord) LookupQACache(questionKey, transcriptStamp string) (QACacheEntry, bool) {
	for i := len(r.QACache) - 1; i >= 0; i-- {
		e := r.QACache[i]
		if e.QuestionKey == questionKey && e.TranscriptStamp == transcriptStamp {
			return e, true
		}
	}
	return QACacheEntry{}, false
}

// ArchiveIndexRow is the persisted shape: one jsonb record per video id.
type ArchiveIndexRow struct {
	VideoID   string         `gorm:"primaryKey;column:video_id;size:32" json:"video_id"`
	Record    datatypes.JSON `gorm:"type:jsonb;not null" json:"record"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (ArchiveIndexRow) TableName() string {
	return "archive_index"
}

// BotMeta is a small key/value table for process metadata (known chat ids and
// similar round-trip state).
type BotMeta struct {
	Key       string         `gorm:"primaryKey;column:key;size:64" json:"key"`
	ValueJSON datatypes.JSON `gorm:"type:jsonb;column:value_json" json:"value_json"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (BotMeta) TableName() string {
	return "bot_meta"
}
