package services

import (
	"context"
	"errors"
	"strings"

	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

var ErrTopicRequired = errors.New("topic is required")

// BrewConfigInput is the raw knob set from the API. Pointers separate
// "absent" from an explicit zero so defaults only fill real gaps.
type BrewConfigInput struct {
	MaxVideos      *int  `json:"max_videos"`
	MaxQueries     *int  `json:"max_queries"`
	PerQuery       *int  `json:"per_query"`
	MinDurationSec *int  `json:"min_duration_sec"`
	MaxDurationSec *int  `json:"max_duration_sec"`
	CaptionsOnly   *bool `json:"captions_only"`
}

// JuiceRunResult is the response of a synchronous Knowledge Juice run.
type JuiceRunResult struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	IsPublic   bool   `json:"is_public"`
	Topic      string `json:"topic"`
	GoalText   string `json:"goal_text"`
	ReportText string `json:"report_text"`
}

// BrewService runs Knowledge Juice either as a tracked background job or
// synchronously for callers that want the report in the response.
type BrewService interface {
	NormalizeConfig(in BrewConfigInput) types.ResearchConfig
	StartJob(topic string, privateRun bool, in BrewConfigInput) (jobs.BrewJob, error)
	RunSync(ctx context.Context, topic string, privateRun bool) (JuiceRunResult, error)
}

type brewService struct {
	log      *logger.Logger
	registry *jobs.Registry
	research ResearchService
	runs     repos.ResearchRepo

	noCaptionMaxSec int
}

func NewBrewService(baseLog *logger.Logger, registry *jobs.Registry, research ResearchService, runs repos.ResearchRepo) BrewService {
	log := baseLog.With("service", "BrewService")
	return &brewService{
		log:             log,
		registry:        registry,
		research:        research,
		runs:            runs,
		noCaptionMaxSec: utils.GetEnvAsInt("NO_CAPTION_MAX_DURATION_SEC", 600, log),
	}
}

func clampInt(v *int, def, min, max int) int {
	val := def
	if v != nil {
		val = *v
	}
	if val < min {
		val = min
	}
	if val > max {
		val = max
	}
	return val
}

// NormalizeConfig clamps the UI knobs into the ranges a run can actually
// serve. Captions-only defaults to on for brew jobs.
func (s *brewService) NormalizeConfig(in BrewConfigInput) types.ResearchConfig {
	maxDuration := clampInt(in.MaxDurationSec, 0, 0, 6*3600)
	noCaptionMax := s.noCaptionMaxSec
	if maxDuration > 0 && maxDuration < noCaptionMax {
		noCaptionMax = maxDuration
	}
	captionsOnly := true
	if in.CaptionsOnly != nil {
		captionsOnly = *in.CaptionsOnly
	}
	return types.ResearchConfig{
		MaxVideos:               clampInt(in.MaxVideos, 6, 2, 40),
		MaxQueries:              clampInt(in.MaxQueries, 8, 3, 30),
		PerQuery:                clampInt(in.PerQuery, 8, 3, 30),
		MinDurationSec:          clampInt(in.MinDurationSec, 0, 0, 6*3600),
		MaxDurationSec:          maxDuration,
		NoCaptionMaxDurationSec: noCaptionMax,
		CaptionsOnly:            captionsOnly,
	}
}

// StartJob registers a queued brew job and runs the pipeline in the
// background, folding every progress event into the job row.
func (s *brewService) StartJob(topic string, privateRun bool, in BrewConfigInput) (jobs.BrewJob, error) {
	topicText := utils.CollapseWhitespace(topic)
	if topicText == "" {
		return jobs.BrewJob{}, ErrTopicRequired
	}

	cfg := s.NormalizeConfig(in)
	job := s.registry.CreateBrewJob(topicText, privateRun, cfg)
	jobID := job.JobID

	go func() {
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("Brew job runner panicked", "job_id", jobID, "panic", p)
				s.registry.UpdateBrewJob(jobID, func(j *jobs.BrewJob) {
					j.Status = jobs.JobStatusFailed
					j.Error = "Brewing failed."
				})
			}
		}()

		s.registry.UpdateBrewJob(jobID, func(j *jobs.BrewJob) {
			j.Status = jobs.JobStatusRunning
			j.Stage = "Starting"
		})

		ctx := context.Background()
		runID, err := s.research.RunKnowledgeJuice(ctx, 0, topicText, !privateRun, cfg,
			func(evt types.ResearchProgress) {
				s.registry.ApplyResearchProgress(jobID, evt)
			})
		if err != nil {
			s.log.Warn("Brew job pipeline failed", "job_id", jobID, "error", err)
		}

		if runID != "" {
			if item, derr := s.runs.GetPublicRun(ctx, nil, runID); derr == nil && item != nil {
				s.registry.UpdateBrewJob(jobID, func(j *jobs.BrewJob) {
					j.RunID = runID
					j.IsPublic = true
					if rt := strings.TrimSpace(item.Run.ReportText); rt != "" {
						j.ReportText = rt
					}
					if item.Run.Status != "" {
						j.Status = item.Run.Status
					}
				})
			}
		}

		// The progress stream normally lands the terminal status; this is the
		// backstop for runs that die between events.
		if final, ok := s.registry.GetBrewJob(jobID); ok &&
			final.Status != jobs.JobStatusCompleted && final.Status != jobs.JobStatusFailed {
			s.registry.UpdateBrewJob(jobID, func(j *jobs.BrewJob) {
				if err != nil {
					j.Status = jobs.JobStatusFailed
					j.Error = err.Error()
					return
				}
				j.Status = jobs.JobStatusCompleted
			})
		}
	}()

	return job, nil
}

// RunSync runs Knowledge Juice inline and returns the final report. Private
// runs are not persisted, so the report is captured off the completed event.
func (s *brewService) RunSync(ctx context.Context, topic string, privateRun bool) (JuiceRunResult, error) {
	topicText := utils.CollapseWhitespace(topic)
	if topicText == "" {
		return JuiceRunResult{}, ErrTopicRequired
	}

	captured := ""
	runID, err := s.research.RunKnowledgeJuice(ctx, 0, topicText, !privateRun, types.ResearchConfig{},
		func(evt types.ResearchProgress) {
			if evt.EventType == types.ResearchEventCompleted && strings.TrimSpace(evt.ReportText) != "" {
				captured = evt.ReportText
			}
		})
	if err != nil {
		return JuiceRunResult{}, err
	}

	status := types.RunStatusCompleted
	goalText := ""
	report := captured
	if runID != "" {
		if item, derr := s.runs.GetPublicRun(ctx, nil, runID); derr == nil && item != nil {
			if rt := strings.TrimSpace(item.Run.ReportText); rt != "" {
				report = rt
			}
			if item.Run.Status != "" {
				status = item.Run.Status
			}
			goalText = item.Run.GoalText
		}
		if status == types.RunStatusFailed {
			if strings.TrimSpace(report) == "" {
				report = "Knowledge Juice failed."
			}
			return JuiceRunResult{}, errors.New(report)
		}
	}
	if runID == "" && strings.TrimSpace(report) == "" {
		return JuiceRunResult{}, errors.New("Knowledge Juice failed. Try a broader topic.")
	}

	return JuiceRunResult{
		RunID:      runID,
		Status:     status,
		IsPublic:   runID != "",
		Topic:      topicText,
		GoalText:   goalText,
		ReportText: report,
	}, nil
}
