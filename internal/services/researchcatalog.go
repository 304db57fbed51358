package services

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

const publicRunListLimit = 120

// ResearchListItem is the list-view card for a public research run.
type ResearchListItem struct {
	RunID         string                  `json:"run_id"`
	GoalText      string                  `json:"goal_text"`
	DisplayTitle  string                  `json:"display_title"`
	Status        string                  `json:"status"`
	RunKind       string                  `json:"run_kind"`
	Topics        []repos.TopicWeight     `json:"topics"`
	PreviewVideos []repos.RunVideoPreview `json:"preview_videos"`
	CreatedAt     string                  `json:"created_at"`
	UpdatedAt     string                  `json:"updated_at"`
	ReportExcerpt string                  `json:"report_excerpt"`
}

// ResearchVideoDetail is a run video with its transcript text inlined.
type ResearchVideoDetail struct {
	types.ResearchVideo
	TranscriptText      string `json:"transcript_text"`
	TranscriptTruncated bool   `json:"transcript_truncated"`
}

// ResearchDetailItem is the full public view of one run.
type ResearchDetailItem struct {
	RunID        string                `json:"run_id"`
	GoalText     string                `json:"goal_text"`
	DisplayTitle string                `json:"display_title"`
	Status       string                `json:"status"`
	RunKind      string                `json:"run_kind"`
	Topics       []repos.TopicWeight   `json:"topics"`
	Summary      types.ResearchSummary `json:"summary"`
	ReportText   string                `json:"report_text"`
	Videos       []ResearchVideoDetail `json:"videos"`
	CreatedAt    string                `json:"created_at"`
	UpdatedAt    string                `json:"updated_at"`
}

// ResearchCatalogService serves the read-only public research views. Nil
// detail with nil error means the run does not exist, is private, or is the
// wrong kind.
type ResearchCatalogService interface {
	ListRuns(ctx context.Context, kindFilter string) ([]ResearchListItem, error)
	RunDetail(ctx context.Context, runID, kindFilter string) (*ResearchDetailItem, error)
}

type researchCatalogService struct {
	log  *logger.Logger
	runs repos.ResearchRepo

	transcriptMaxChars int
}

func NewResearchCatalogService(baseLog *logger.Logger, runs repos.ResearchRepo) ResearchCatalogService {
	log := baseLog.With("service", "ResearchCatalogService")
	return &researchCatalogService{
		log:                log,
		runs:               runs,
		transcriptMaxChars: utils.GetEnvAsInt("WEB_RESEARCH_TRANSCRIPT_MAX_CHARS", 0, log),
	}
}

func (s *researchCatalogService) ListRuns(ctx context.Context, kindFilter string) ([]ResearchListItem, error) {
	runs, err := s.runs.LoadPublicRuns(ctx, nil, publicRunListLimit)
	if err != nil {
		return nil, err
	}
	out := make([]ResearchListItem, 0, len(runs))
	for _, run := range runs {
		if kindFilter != "" && run.RunKind != kindFilter {
			continue
		}
		topics := run.Topics
		if topics == nil {
			topics = []repos.TopicWeight{}
		}
		previews := run.PreviewVideos
		if previews == nil {
			previews = []repos.RunVideoPreview{}
		}
		out = append(out, ResearchListItem{
			RunID:         run.RunID,
			GoalText:      run.GoalText,
			DisplayTitle:  run.DisplayTitle,
			Status:        run.Status,
			RunKind:       run.RunKind,
			Topics:        topics,
			PreviewVideos: previews,
			CreatedAt:     run.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:     run.UpdatedAt.UTC().Format(time.RFC3339),
			ReportExcerpt: run.ReportExcerpt,
		})
	}
	return out, nil
}

func (s *researchCatalogService) RunDetail(ctx context.Context, runID, kindFilter string) (*ResearchDetailItem, error) {
	detail, err := s.runs.GetPublicRun(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, nil
	}
	runKind := strings.TrimSpace(detail.Intent.RunKind)
	if runKind == "" {
		runKind = types.RunKindResearch
	}
	if kindFilter != "" && runKind != kindFilter {
		return nil, nil
	}

	videos := make([]ResearchVideoDetail, 0, len(detail.Videos))
	for _, v := range detail.Videos {
		text, truncated := s.transcriptText(v.TranscriptPath)
		videos = append(videos, ResearchVideoDetail{
			ResearchVideo:       v,
			TranscriptText:      text,
			TranscriptTruncated: truncated,
		})
	}
	topics := detail.Topics
	if topics == nil {
		topics = []repos.TopicWeight{}
	}

	return &ResearchDetailItem{
		RunID:        detail.Run.RunID,
		GoalText:     detail.Run.GoalText,
		DisplayTitle: detail.Summary.DisplayTitle,
		Status:       detail.Run.Status,
		RunKind:      runKind,
		Topics:       topics,
		Summary:      detail.Summary,
		ReportText:   detail.Run.ReportText,
		Videos:       videos,
		CreatedAt:    detail.Run.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    detail.Run.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

// transcriptText inlines a stored transcript file, clipped to the configured
// limit. Zero limit means no clipping.
func (s *researchCatalogService) transcriptText(path string) (string, bool) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", false
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", false
	}
	if s.transcriptMaxChars > 0 && len([]rune(text)) > s.transcriptMaxChars {
		clipped := strings.TrimRight(clipRunes(text, s.transcriptMaxChars), " \n\t")
		return clipped + "\n...[truncated]", true
	}
	return text, false
}
