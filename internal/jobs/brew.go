package jobs

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubrts/youtube-command-deck/internal/realtime"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

const (
	brewCandidateLimit = 24
	brewReviewedLimit  = 60
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// BrewJob is one Knowledge Juice run tracked in memory. Snapshots of it are
// what goes over the wire; candidate and reviewed lists are clipped there.
type BrewJob struct {
	JobID           string                `json:"job_id"`
	Topic           string                `json:"topic"`
	Status          string                `json:"status"`
	Stage           string                `json:"stage"`
	PrivateRun      bool                  `json:"private_run"`
	IsPublic        bool                  `json:"is_public"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	RunID           string                `json:"run_id"`
	LastEventType   string                `json:"last_event_type"`
	ProgressDetail  string                `json:"progress_detail"`
	LLMBackend      string                `json:"llm_backend"`
	Progress        types.ProgressStep    `json:"progress"`
	Config          types.ResearchConfig  `json:"config"`
	Queries         []string              `json:"queries"`
	TotalCandidates int                   `json:"total_candidates"`
	TotalVideos     int                   `json:"total_videos"`
	CurrentIndex    int                   `json:"current_index"`
	CurrentVideo    *types.VideoPreview   `json:"current_video,omitempty"`
	CandidateVideos []types.VideoPreview  `json:"candidate_videos"`
	ReviewedVideos  []types.VideoPreview  `json:"reviewed_videos"`
	SearchStats     types.SearchStats     `json:"search_stats"`
	QueryStats      []types.QueryStats    `json:"query_stats"`
	ReportText      string                `json:"report_text"`
	Error           string                `json:"error"`
}

// IsActive reports whether the job still occupies a worker.
func (j *BrewJob) IsActive() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

func clipVideos(items []types.VideoPreview, limit int) []types.VideoPreview {
	if limit < 1 {
		limit = 1
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return append([]types.VideoPreview(nil), items...)
}

func (j *BrewJob) snapshot() BrewJob {
	snap := *j
	snap.Queries = append([]string(nil), j.Queries...)
	snap.CandidateVideos = clipVideos(j.CandidateVideos, brewCandidateLimit)
	snap.ReviewedVideos = clipVideos(j.ReviewedVideos, brewReviewedLimit)
	snap.QueryStats = append([]types.QueryStats(nil), j.QueryStats...)
	snap.SearchStats.QueryStats = append([]types.QueryStats(nil), j.SearchStats.QueryStats...)
	if j.CurrentVideo != nil {
		v := *j.CurrentVideo
		snap.CurrentVideo = &v
	}
	return snap
}

// CreateBrewJob registers a queued job and announces it.
func (r *Registry) CreateBrewJob(topic string, privateRun bool, cfg types.ResearchConfig) BrewJob {
	now := time.Now().UTC()
	job := &BrewJob{
		JobID:           uuid.New().String(),
		Topic:           strings.Join(strings.Fields(topic), " "),
		Status:          JobStatusQueued,
		Stage:           "Queued",
		PrivateRun:      privateRun,
		CreatedAt:       now,
		UpdatedAt:       now,
		Progress:        types.ProgressStep{Step: 0, TotalSteps: 5, Ratio: 0},
		Config:          cfg,
		TotalVideos:     cfg.MaxVideos,
		Queries:         []string{},
		CandidateVideos: []types.VideoPreview{},
		ReviewedVideos:  []types.VideoPreview{},
		QueryStats:      []types.QueryStats{},
	}
	r.brewMu.Lock()
	r.brew[job.JobID] = job
	snap := job.snapshot()
	r.brewMu.Unlock()

	r.publish(realtime.Event{Type: realtime.EventJuiceJobCreated, Job: snap})
	return snap
}

// UpdateBrewJob mutates one job under the table lock, then publishes the
// resulting snapshot. Returns false when the id is unknown.
func (r *Registry) UpdateBrewJob(jobID string, mutate func(job *BrewJob)) (BrewJob, bool) {
	r.brewMu.Lock()
	job, ok := r.brew[jobID]
	if !ok {
		r.brewMu.Unlock()
		return BrewJob{}, false
	}
	mutate(job)
	job.UpdatedAt = time.Now().UTC()
	snap := job.snapshot()
	r.brewMu.Unlock()

	r.publish(realtime.Event{Type: realtime.EventJuiceJobUpdate, Job: snap})
	return snap, true
}

func (r *Registry) GetBrewJob(jobID string) (BrewJob, bool) {
	r.brewMu.Lock()
	defer r.brewMu.Unlock()
	job, ok := r.brew[jobID]
	if !ok {
		return BrewJob{}, false
	}
	return job.snapshot(), true
}

// ListBrewJobs returns snapshots newest-first.
func (r *Registry) ListBrewJobs(activeOnly bool) []BrewJob {
	r.brewMu.Lock()
	out := make([]BrewJob, 0, len(r.brew))
	for _, job := range r.brew {
		if activeOnly && !job.IsActive() {
			continue
		}
		out = append(out, job.snapshot())
	}
	r.brewMu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// ApplyResearchProgress folds one pipeline event into the job row. Reviewed
// videos accumulate with a trailing window; everything else overwrites.
func (r *Registry) ApplyResearchProgress(jobID string, evt types.ResearchProgress) {
	r.UpdateBrewJob(jobID, func(job *BrewJob) {
		if evt.StatusTitle != "" {
			job.Stage = evt.StatusTitle
		}
		job.LastEventType = evt.EventType
		if evt.Progress != nil {
			job.Progress = *evt.Progress
		}
		if detail := strings.TrimSpace(evt.Detail); detail != "" {
			job.ProgressDetail = detail
		}
		if backend := strings.ToLower(strings.TrimSpace(evt.LLMBackend)); backend != "" {
			job.LLMBackend = backend
		}

		switch evt.EventType {
		case types.ResearchEventStarted:
			job.Status = JobStatusRunning
			if evt.Config != nil {
				job.Config = *evt.Config
			}
			job.SearchStats = types.SearchStats{}
			job.QueryStats = []types.QueryStats{}
		case types.ResearchEventQueriesReady:
			job.Queries = append([]string(nil), evt.Queries...)
		case types.ResearchEventSearchStarted, types.ResearchEventSearchProcessed:
			job.Status = JobStatusRunning
			if evt.SearchStats != nil {
				job.SearchStats = *evt.SearchStats
			}
			job.QueryStats = append([]types.QueryStats(nil), evt.QueryStats...)
		case types.ResearchEventCandidatesReady:
			job.CandidateVideos = append([]types.VideoPreview(nil), evt.Videos...)
			job.TotalCandidates = evt.TotalCandidates
			if evt.SearchStats != nil {
				job.SearchStats = *evt.SearchStats
			}
			job.QueryStats = append([]types.QueryStats(nil), evt.QueryStats...)
		case types.ResearchEventProcessingVideo:
			job.Status = JobStatusRunning
			job.CurrentVideo = evt.Video
			job.CurrentIndex = evt.CurrentIndex
			job.TotalVideos = evt.TotalVideos
		case types.ResearchEventVideoProcessed:
			job.CurrentVideo = evt.Video
			job.CurrentIndex = evt.CurrentIndex
			job.TotalVideos = evt.TotalVideos
			if evt.Video != nil {
				job.ReviewedVideos = append(job.ReviewedVideos, *evt.Video)
				if len(job.ReviewedVideos) > brewReviewedLimit {
					job.ReviewedVideos = job.ReviewedVideos[len(job.ReviewedVideos)-brewReviewedLimit:]
				}
			}
		case types.ResearchEventComparing:
			job.Status = JobStatusRunning
			job.CurrentVideo = nil
		case types.ResearchEventCompleted:
			job.Status = JobStatusCompleted
			job.RunID = evt.RunID
			job.IsPublic = evt.IsPublic
			job.ReportText = evt.ReportText
		case types.ResearchEventFailed:
			job.Status = JobStatusFailed
			job.Error = evt.Error
			if job.Error == "" {
				job.Error = "Brewing failed."
			}
			job.RunID = evt.RunID
			job.IsPublic = evt.IsPublic
			if evt.SearchStats != nil {
				job.SearchStats = *evt.SearchStats
			}
			job.QueryStats = append([]types.QueryStats(nil), evt.QueryStats...)
		}
	})
}
