package types

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

const (
	RunKindResearch       = "research"
	RunKindKnowledgeJuice = "knowledge_juice"
)

// ResearchIntent is the parsed goal stored on a run as intent_json.
type ResearchIntent struct {
	Domain         string   `json:"domain,omitempty"`
	Objective      string   `json:"objective,omitempty"`
	TargetRegion   string   `json:"target_region,omitempty"`
	TargetLanguage string   `json:"target_language,omitempty"`
	Audience       string   `json:"audience,omitempty"`
	SuccessSignals []string `json:"success_signals,omitempty"`
	RunKind        string   `json:"run_kind,omitempty"`
}

// ResearchSummary is the cross-video comparison stored as summary_json.
type ResearchSummary struct {
	DisplayTitle    string   `json:"display_title,omitempty"`
	Similarities    []string `json:"similarities,omitempty"`
	Differences     []string `json:"differences,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	OwnerMatches    int      `json:"owner_matches,omitempty"`
}

type ResearchRun struct {
	RunID       string         `gorm:"primaryKey;column:run_id;size:64" json:"run_id"`
	ChatID      int64          `gorm:"column:chat_id" json:"chat_id"`
	GoalText    string         `gorm:"column:goal_text" json:"goal_text"`
	IsPublic    bool           `gorm:"column:is_public;index" json:"is_public"`
	IntentJSON  datatypes.JSON `gorm:"type:jsonb;column:intent_json" json:"intent_json"`
	Status      string         `gorm:"column:status;size:16" json:"status"`
	ReportText  string         `gorm:"column:report_text" json:"report_text"`
	SummaryJSON datatypes.JSON `gorm:"type:jsonb;column:summary_json" json:"summary_json"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (ResearchRun) TableName() string {
	return "research_runs"
}

type ResearchVideo struct {
	RunID            string         `gorm:"primaryKey;column:run_id;size:64" json:"run_id"`
	VideoID          string         `gorm:"primaryKey;column:video_id;size:32" json:"video_id"`
	Rank             int            `gorm:"column:rank" json:"rank"`
	URL              string         `gorm:"column:url" json:"url"`
	Title            string         `gorm:"column:title" json:"title"`
	Channel          string         `gorm:"column:channel" json:"channel"`
	ViewCount        int64          `gorm:"column:view_count" json:"view_count"`
	PublishedUTC     string         `gorm:"column:published_utc;size:32" json:"published_utc"`
	PopularityScore  float64        `gorm:"column:popularity_score" json:"popularity_score"`
	TranscriptPath   string         `gorm:"column:transcript_path" json:"transcript_path"`
	TranscriptSource string         `gorm:"column:transcript_source;size:32" json:"transcript_source"`
	TranscriptChars  int            `gorm:"column:transcript_chars" json:"transcript_chars"`
	MetaJSON         datatypes.JSON `gorm:"type:jsonb;column:meta_json" json:"meta_json"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (ResearchVideo) TableName() string {
	return "research_videos"
}

// VideoFacts is the LLM extraction payload stored as facts_json.
type VideoFacts struct {
	GrowthLevers      []string `json:"growth_levers,omitempty"`
	MarketingChannels []string `json:"marketing_channels,omitempty"`
	Operations        []string `json:"operations,omitempty"`
	Mistakes          []string `json:"mistakes,omitempty"`
	KeyMetrics        []string `json:"key_metrics,omitempty"`
	Differentiators   []string `json:"differentiators,omitempty"`
	EvidenceQuotes    []string `json:"evidence_quotes,omitempty"`
}

type ResearchVideoFact struct {
	RunID         string         `gorm:"primaryKey;column:run_id;size:64" json:"run_id"`
	VideoID       string         `gorm:"primaryKey;column:video_id;size:32" json:"video_id"`
	IsOwnerStory  bool           `gorm:"column:is_owner_story" json:"is_owner_story"`
	Confidence    float64        `gorm:"column:confidence" json:"confidence"`
	BusinessModel string         `gorm:"column:business_model" json:"business_model"`
	FactsJSON     datatypes.JSON `gorm:"type:jsonb;column:facts_json" json:"facts_json"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (ResearchVideoFact) TableName() string {
	return "research_video_facts"
}

type ResearchRunTopic struct {
	RunID     string    `gorm:"primaryKey;column:run_id;size:64" json:"run_id"`
	TopicTag  string    `gorm:"primaryKey;column:topic_tag;size:120" json:"topic_tag"`
	Weight    float64   `gorm:"column:weight" json:"weight"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (ResearchRunTopic) TableName() string {
	return "research_run_topics"
}
