package types

// Research progress event names, in pipeline order.
const (
	ResearchEventStarted         = "started"
	ResearchEventQueriesReady    = "queries_ready"
	ResearchEventSearchStarted   = "search_query_started"
	ResearchEventSearchProcessed = "search_query_processed"
	ResearchEventCandidatesReady = "candidates_ready"
	ResearchEventProcessingVideo = "processing_video"
	ResearchEventVideoProcessed  = "video_processed"
	ResearchEventComparing       = "comparing"
	ResearchEventCompleted       = "completed"
	ResearchEventFailed          = "failed"
)

// ProgressStep reports pipeline position inside a progress event.
type ProgressStep struct {
	Step       int     `json:"step"`
	TotalSteps int     `json:"total_steps"`
	Ratio      float64 `json:"ratio"`
}

// VideoPreview is the bounded candidate shape carried in progress events
// and job snapshots, never the full search metadata.
type VideoPreview struct {
	VideoID          string  `json:"video_id"`
	URL              string  `json:"url"`
	Title            string  `json:"title"`
	Channel          string  `json:"channel"`
	ViewCount        int64   `json:"view_count"`
	PublishedUTC     string  `json:"published_utc"`
	DurationSec      int     `json:"duration_sec"`
	HasCaptions      bool    `json:"has_captions"`
	ThumbnailURL     string  `json:"thumbnail_url"`
	PopularityScore  float64 `json:"popularity_score"`
	Rank             int     `json:"rank"`
	TranscriptSource string  `json:"transcript_source,omitempty"`
	TranscriptChars  int     `json:"transcript_chars,omitempty"`
}

// QueryStats counts outcomes for a single search query.
type QueryStats struct {
	Query                    string `json:"query"`
	Returned                 int    `json:"returned"`
	Eligible                 int    `json:"eligible"`
	UniqueAdded              int    `json:"unique_added"`
	WithCaptions             int    `json:"with_captions"`
	WithoutCaptions          int    `json:"without_captions"`
	CaptionOverrideKept      int    `json:"caption_override_kept"`
	FilteredTooShort         int    `json:"filtered_too_short"`
	FilteredNoCaptionTooLong int    `json:"filtered_no_caption_too_long"`
	FilteredWithoutCaptions  int    `json:"filtered_without_captions"`
}

// SearchStats aggregates candidate collection across all queries.
type SearchStats struct {
	QueryCount               int          `json:"query_count"`
	SeenTotal                int          `json:"seen_total"`
	EligibleTotal            int          `json:"eligible_total"`
	WithCaptions             int          `json:"with_captions"`
	WithoutCaptions          int          `json:"without_captions"`
	CaptionOverrideKept      int          `json:"caption_override_kept"`
	FilteredTooShort         int          `json:"filtered_too_short"`
	FilteredNoCaptionTooLong int          `json:"filtered_no_caption_too_long"`
	FilteredWithoutCaptions  int          `json:"filtered_without_captions"`
	CaptionsOnly             bool         `json:"captions_only"`
	NoCaptionMaxDurationSec  int          `json:"no_caption_max_duration_sec"`
	QueryStats               []QueryStats `json:"query_stats"`
}

// ResearchConfig is the effective knob set for one run.
type ResearchConfig struct {
	PerQuery                int  `json:"per_query"`
	MaxQueries              int  `json:"max_queries"`
	MaxVideos               int  `json:"max_videos"`
	MinDurationSec          int  `json:"min_duration_sec"`
	MaxDurationSec          int  `json:"max_duration_sec"`
	NoCaptionMaxDurationSec int  `json:"no_caption_max_duration_sec"`
	CaptionsOnly            bool `json:"captions_only"`
}

// ResearchProgress is one event emitted by the research pipeline. Only the
// fields relevant to EventType are populated.
type ResearchProgress struct {
	EventType          string           `json:"event_type"`
	RunKind            string           `json:"run_kind,omitempty"`
	StatusTitle        string           `json:"status_title,omitempty"`
	LLMBackend         string           `json:"llm_backend,omitempty"`
	TimestampUTC       string           `json:"timestamp_utc,omitempty"`
	Detail             string           `json:"detail,omitempty"`
	Progress           *ProgressStep    `json:"progress,omitempty"`
	GoalText           string           `json:"goal_text,omitempty"`
	Config             *ResearchConfig  `json:"config,omitempty"`
	Queries            []string         `json:"queries,omitempty"`
	TotalCandidates    int              `json:"total_candidates,omitempty"`
	Videos             []VideoPreview   `json:"videos,omitempty"`
	SearchStats        *SearchStats     `json:"search_stats,omitempty"`
	QueryStats         []QueryStats     `json:"query_stats,omitempty"`
	CurrentIndex       int              `json:"current_index,omitempty"`
	TotalVideos        int              `json:"total_videos,omitempty"`
	Video              *VideoPreview    `json:"video,omitempty"`
	ComparedVideoCount int              `json:"compared_video_count,omitempty"`
	RunID              string           `json:"run_id,omitempty"`
	IsPublic           bool             `json:"is_public,omitempty"`
	ReportText         string           `json:"report_text,omitempty"`
	Summary            *ResearchSummary `json:"summary,omitempty"`
	Error              string           `json:"error,omitempty"`
}
