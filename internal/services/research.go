package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// Status titles shown on every progress event of a run.
const (
	ResearchStatusTitle       = "🧭 Research"
	KnowledgeJuiceStatusTitle = "🧃 Knowledge Juice"
)

var (
	ErrResearchGoalEmpty   = errors.New("research goal is empty")
	ErrKnowledgeTopicEmpty = errors.New("knowledge topic is empty")
)

// BuildKnowledgeJuiceGoal turns a bare topic into the research goal the
// pipeline runs with.
func BuildKnowledgeJuiceGoal(topicText string) string {
	topic := utils.CollapseWhitespace(topicText)
	if topic == "" {
		return ""
	}
	return fmt.Sprintf(
		"I want to become successful in %s. "+
			"Find popular YouTube videos where real owners/operators explain how they started and grew. "+
			"Save transcripts, compare similarities and differences, and give practical next steps.",
		topic,
	)
}

// ResearchProgressFunc receives pipeline events. Callbacks must not block;
// panics are swallowed so a bad subscriber never kills a run.
type ResearchProgressFunc func(types.ResearchProgress)

// ResearchService runs the five-step video research pipeline: parse the goal,
// generate queries, collect candidates, extract per-video facts, compare.
// persist=true stores the run as a public research record; private runs only
// stream progress.
type ResearchService interface {
	RunResearch(ctx context.Context, chatID int64, goalText string, persist bool, cfg types.ResearchConfig, onProgress ResearchProgressFunc) (string, error)
	RunKnowledgeJuice(ctx context.Context, chatID int64, topicText string, persist bool, cfg types.ResearchConfig, onProgress ResearchProgressFunc) (string, error)
}

type researchService struct {
	log         *logger.Logger
	backends    *Backends
	research    repos.ResearchRepo
	media       *ytdlp.Client
	transcripts TranscriptService

	backend            string
	perQueryDefault    int
	maxQueriesDefault  int
	maxVideosDefault   int
	noCaptionMaxSec    int
	ownerConfidenceMin float64
}

func NewResearchService(
	baseLog *logger.Logger,
	backends *Backends,
	research repos.ResearchRepo,
	media *ytdlp.Client,
	transcripts TranscriptService,
) ResearchService {
	log := baseLog.With("service", "ResearchService")
	return &researchService{
		log:                log,
		backends:           backends,
		research:           research,
		media:              media,
		transcripts:        transcripts,
		backend:            utils.GetEnv("VIDEO_QA_BACKEND", "local", log),
		perQueryDefault:    utils.GetEnvAsInt("RESEARCH_RESULTS_PER_QUERY", 8, log),
		maxQueriesDefault:  utils.GetEnvAsInt("RESEARCH_MAX_QUERIES", 8, log),
		maxVideosDefault:   utils.GetEnvAsInt("RESEARCH_MAX_VIDEOS", 6, log),
		noCaptionMaxSec:    utils.GetEnvAsInt("NO_CAPTION_MAX_DURATION_SEC", 600, log),
		ownerConfidenceMin: utils.GetEnvAsFloat("RESEARCH_OWNER_CONFIDENCE_MIN", 0.55, log),
	}
}

// effectiveConfig applies floors and env defaults to caller overrides. The
// no-caption ceiling shrinks to the max duration when one is set.
func (s *researchService) effectiveConfig(cfg types.ResearchConfig) types.ResearchConfig {
	out := types.ResearchConfig{
		PerQuery:       cfg.PerQuery,
		MaxQueries:     cfg.MaxQueries,
		MaxVideos:      cfg.MaxVideos,
		MinDurationSec: cfg.MinDurationSec,
		MaxDurationSec: cfg.MaxDurationSec,
		CaptionsOnly:   cfg.CaptionsOnly,
	}
	if out.PerQuery <= 0 {
		out.PerQuery = s.perQueryDefault
	}
	if out.PerQuery < 3 {
		out.PerQuery = 3
	}
	if out.MaxQueries <= 0 {
		out.MaxQueries = s.maxQueriesDefault
	}
	if out.MaxQueries < 3 {
		out.MaxQueries = 3
	}
	if out.MaxVideos <= 0 {
		out.MaxVideos = s.maxVideosDefault
	}
	if out.MaxVideos < 2 {
		out.MaxVideos = 2
	}
	if out.MinDurationSec < 0 {
		out.MinDurationSec = 0
	}
	if out.MaxDurationSec < 0 {
		out.MaxDurationSec = 0
	}
	out.NoCaptionMaxDurationSec = s.noCaptionMaxSec
	if out.MaxDurationSec > 0 && out.MaxDurationSec < out.NoCaptionMaxDurationSec {
		out.NoCaptionMaxDurationSec = out.MaxDurationSec
	}
	return out
}

func (s *researchService) RunResearch(ctx context.Context, chatID int64, goalText string, persist bool, cfg types.ResearchConfig, onProgress ResearchProgressFunc) (string, error) {
	goal := utils.CollapseWhitespace(goalText)
	if goal == "" {
		return "", ErrResearchGoalEmpty
	}
	run := &researchRun{
		svc:         s,
		log:         s.log.With("run_kind", types.RunKindResearch),
		chatID:      chatID,
		goal:        goal,
		persist:     persist,
		runKind:     types.RunKindResearch,
		statusTitle: ResearchStatusTitle,
		cfg:         s.effectiveConfig(cfg),
		onProgress:  onProgress,
		backend:     "unknown",
	}
	return run.execute(ctx)
}

func (s *researchService) RunKnowledgeJuice(ctx context.Context, chatID int64, topicText string, persist bool, cfg types.ResearchConfig, onProgress ResearchProgressFunc) (string, error) {
	goal := BuildKnowledgeJuiceGoal(topicText)
	if goal == "" {
		return "", ErrKnowledgeTopicEmpty
	}
	run := &researchRun{
		svc:         s,
		log:         s.log.With("run_kind", types.RunKindKnowledgeJuice),
		chatID:      chatID,
		goal:        goal,
		persist:     persist,
		runKind:     types.RunKindKnowledgeJuice,
		statusTitle: KnowledgeJuiceStatusTitle,
		cfg:         s.effectiveConfig(cfg),
		onProgress:  onProgress,
		backend:     "unknown",
	}
	return run.execute(ctx)
}

// researchRun is the mutable state of one pipeline execution.
type researchRun struct {
	svc         *researchService
	log         *logger.Logger
	chatID      int64
	goal        string
	persist     bool
	runKind     string
	statusTitle string
	cfg         types.ResearchConfig
	onProgress  ResearchProgressFunc

	backend   string
	runID     string
	lastStats *types.SearchStats
}

// markBackend remembers which provider last produced a usable completion.
// Unknown providers leave the marker untouched.
func (r *researchRun) markBackend(provider string) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderLocal, ProviderClaude, ProviderOpenAI:
		r.backend = strings.ToLower(strings.TrimSpace(provider))
	}
}

func (r *researchRun) emit(evt types.ResearchProgress) {
	if r.onProgress == nil {
		return
	}
	evt.RunKind = r.runKind
	evt.StatusTitle = r.statusTitle
	evt.LLMBackend = r.backend
	evt.TimestampUTC = time.Now().UTC().Format(time.RFC3339)
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("Progress callback panicked", "panic", p)
		}
	}()
	r.onProgress(evt)
}

// execute runs the pipeline and routes any failure through the shared failed
// path, so the run row never stays in the running state.
func (r *researchRun) execute(ctx context.Context) (string, error) {
	runID, err := r.pipeline(ctx)
	if err == nil {
		return runID, nil
	}

	if r.persist && r.runID != "" {
		if ferr := r.svc.research.FinalizeRun(ctx, nil, r.runID, types.RunStatusFailed,
			"Research failed: "+err.Error(), &types.ResearchSummary{}); ferr != nil {
			r.log.Warn("Failed to mark research run as failed", "run_id", r.runID, "error", ferr)
		}
	}
	var queryStats []types.QueryStats
	if r.lastStats != nil {
		queryStats = r.lastStats.QueryStats
	}
	r.emit(types.ResearchProgress{
		EventType:   types.ResearchEventFailed,
		Error:       err.Error(),
		RunID:       r.runID,
		IsPublic:    r.runID != "",
		SearchStats: r.lastStats,
		QueryStats:  queryStats,
		Detail:      err.Error(),
		Progress:    &types.ProgressStep{Step: 5, TotalSteps: 5, Ratio: 1.0},
	})
	return r.runID, err
}

func (r *researchRun) pipeline(ctx context.Context) (string, error) {
	svc := r.svc

	r.emit(types.ResearchProgress{
		EventType: types.ResearchEventStarted,
		GoalText:  r.goal,
		Config:    &r.cfg,
		Detail:    "Understanding your goal and preparing settings.",
		Progress:  &types.ProgressStep{Step: 1, TotalSteps: 5, Ratio: 0.05},
	})

	intent := r.parseGoalIntent(ctx)
	intent.RunKind = r.runKind
	if r.persist {
		runID, err := svc.research.CreateRun(ctx, nil, r.chatID, r.goal, intent, true)
		if err != nil {
			return "", fmt.Errorf("create research run: %w", err)
		}
		r.runID = runID
	}
	if err := ctx.Err(); err != nil {
		return r.runID, err
	}

	queries := r.generateQueries(ctx, intent)
	r.emit(types.ResearchProgress{
		EventType: types.ResearchEventQueriesReady,
		Queries:   queries,
		Detail:    fmt.Sprintf("Generated %d search queries.", len(queries)),
		Progress:  &types.ProgressStep{Step: 2, TotalSteps: 5, Ratio: 0.2},
	})

	candidates, stats := r.collectCandidates(ctx, queries)
	r.lastStats = stats
	if err := ctx.Err(); err != nil {
		return r.runID, err
	}
	if len(candidates) == 0 {
		return r.runID, errors.New(r.noCandidateError(stats))
	}
	if r.persist && r.runID != "" {
		if err := svc.research.SaveVideos(ctx, nil, r.runID, candidateRows(r.runID, candidates)); err != nil {
			return r.runID, fmt.Errorf("save research videos: %w", err)
		}
	}
	previews := make([]types.VideoPreview, 0, len(candidates))
	for _, cand := range candidates {
		previews = append(previews, cand.preview())
	}
	r.emit(types.ResearchProgress{
		EventType:       types.ResearchEventCandidatesReady,
		TotalCandidates: len(candidates),
		Videos:          previews,
		SearchStats:     stats,
		QueryStats:      stats.QueryStats,
		Detail:          searchSummaryText(stats),
		Progress:        &types.ProgressStep{Step: 3, TotalSteps: 5, Ratio: 0.35},
	})

	processed, factsMem, err := r.processVideos(ctx, candidates)
	if err != nil {
		return r.runID, err
	}

	r.emit(types.ResearchProgress{
		EventType:          types.ResearchEventComparing,
		ComparedVideoCount: len(processed),
		Detail:             fmt.Sprintf("Comparing insights across %d videos.", len(processed)),
		Progress:           &types.ProgressStep{Step: 5, TotalSteps: 5, Ratio: 0.9},
	})

	reportVideos := processed
	factsRows := factsMem
	if r.persist && r.runID != "" {
		if saved, lerr := svc.research.LoadVideos(ctx, nil, r.runID); lerr == nil && len(saved) > 0 {
			reportVideos = savedVideoRows(saved)
		}
		if saved, lerr := svc.research.LoadVideoFacts(ctx, nil, r.runID); lerr == nil && len(saved) > 0 {
			factsRows = savedFactsRows(saved)
		}
	}

	topics := r.extractResearchTopics(ctx, intent, factsRows)
	tags := make([]string, 0, len(topics))
	for _, t := range topics {
		tags = append(tags, t.Tag)
	}
	related, rerr := svc.research.LoadRelatedPublicTopics(ctx, nil, tags, r.runID, 10)
	if rerr != nil {
		r.log.Warn("Failed to load related public topics", "error", rerr)
	}

	report, summary := r.buildComparisonReport(ctx, reportVideos, factsRows)
	if len(related) > 0 {
		report += "\n\n🔎 Related Areas You May Explore\n"
		for i, item := range related {
			if i >= 8 {
				break
			}
			report += fmt.Sprintf("\n• %s (seen in %d public researches)", item.Tag, item.RunCount)
		}
	}
	if r.persist && r.runID != "" {
		report += fmt.Sprintf("\n\n🌐 Public research ID: %s\nUse /research_view %s in bot or open it in Web UI.", r.runID, r.runID)
	} else {
		report += "\n\n🔒 Private mode: this research was not saved."
	}

	if r.persist && r.runID != "" {
		if err := svc.research.SaveTopics(ctx, nil, r.runID, topics); err != nil {
			r.log.Warn("Failed to save research topics", "run_id", r.runID, "error", err)
		}
		if err := svc.research.FinalizeRun(ctx, nil, r.runID, types.RunStatusCompleted, report, &summary); err != nil {
			return r.runID, fmt.Errorf("finalize research run: %w", err)
		}
	}

	r.emit(types.ResearchProgress{
		EventType:  types.ResearchEventCompleted,
		RunID:      r.runID,
		IsPublic:   r.runID != "",
		ReportText: report,
		Summary:    &summary,
		Detail:     fmt.Sprintf("Completed with %d analyzed videos.", len(reportVideos)),
		Progress:   &types.ProgressStep{Step: 5, TotalSteps: 5, Ratio: 1.0},
	})
	return r.runID, nil
}

// processVideos downloads a transcript per candidate, extracts facts, and
// emits the step-4 progress pair. Videos without any transcript are skipped,
// not failed.
func (r *researchRun) processVideos(ctx context.Context, candidates []researchCandidate) ([]reportVideo, []factsRow, error) {
	svc := r.svc
	total := len(candidates)
	var processed []reportVideo
	var factsMem []factsRow

	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		idx := i + 1
		title := cand.Title
		if title == "" {
			title = cand.VideoID
		}
		preview := cand.preview()
		r.emit(types.ResearchProgress{
			EventType:    types.ResearchEventProcessingVideo,
			CurrentIndex: idx,
			TotalVideos:  total,
			Video:        &preview,
			Detail:       fmt.Sprintf("Video %d/%d: downloading transcript for %s", idx, total, title),
			Progress: &types.ProgressStep{
				Step: 4, TotalSteps: 5,
				Ratio: 0.35 + 0.45*float64(idx-1)/float64(total),
			},
		})

		var tr TranscriptResult
		var terr error
		if r.cfg.CaptionsOnly {
			tr, terr = svc.transcripts.EnsureCaptionsOnly(ctx, cand.URL, cand.VideoID, title)
		} else {
			tr, terr = svc.transcripts.EnsureTranscript(ctx, cand.URL, cand.VideoID, title)
		}
		if terr != nil {
			r.log.Info("Skipping video without transcript", "video_id", cand.VideoID, "error", terr)
			continue
		}
		if t := strings.TrimSpace(tr.Title); t != "" {
			title = t
		}

		raw, rerr := os.ReadFile(tr.Path)
		if rerr != nil {
			r.log.Warn("Failed to read transcript file", "video_id", cand.VideoID, "error", rerr)
			continue
		}
		body := strings.Join(transcript.BodyLines(string(raw)), "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}

		if r.persist && r.runID != "" {
			if err := svc.research.SaveVideoTranscript(ctx, nil, r.runID, cand.VideoID, tr.Path, tr.Source, len(body)); err != nil {
				r.log.Warn("Failed to record video transcript", "video_id", cand.VideoID, "error", err)
			}
		}

		facts := r.extractBusinessFacts(ctx, title, body)
		factsJSON, merr := json.Marshal(facts)
		if merr != nil {
			factsJSON = []byte("{}")
		}
		fact := &types.ResearchVideoFact{
			RunID:         r.runID,
			VideoID:       cand.VideoID,
			IsOwnerStory:  facts["is_owner_story"] == true,
			Confidence:    jsonFloat(facts["confidence"]),
			BusinessModel: jsonString(facts["business_model"]),
			FactsJSON:     datatypes.JSON(factsJSON),
		}
		if r.persist && r.runID != "" {
			if err := svc.research.SaveVideoFact(ctx, nil, fact); err != nil {
				r.log.Warn("Failed to save video facts", "video_id", cand.VideoID, "error", err)
			}
		}

		processed = append(processed, reportVideo{
			VideoID:   cand.VideoID,
			Title:     title,
			Channel:   cand.Channel,
			ViewCount: cand.ViewCount,
		})
		factsMem = append(factsMem, factsRow{
			VideoID:       cand.VideoID,
			IsOwnerStory:  fact.IsOwnerStory,
			Confidence:    fact.Confidence,
			BusinessModel: fact.BusinessModel,
			Facts:         factsJSON,
		})

		donePreview := preview
		donePreview.Title = title
		donePreview.TranscriptSource = tr.Source
		donePreview.TranscriptChars = len(body)
		r.emit(types.ResearchProgress{
			EventType:    types.ResearchEventVideoProcessed,
			CurrentIndex: idx,
			TotalVideos:  total,
			Video:        &donePreview,
			Detail:       fmt.Sprintf("Video %d/%d analyzed (%s).", idx, total, transcriptSourceLabel(tr.Source)),
			Progress: &types.ProgressStep{
				Step: 4, TotalSteps: 5,
				Ratio: 0.35 + 0.45*float64(idx)/float64(total),
			},
		})
	}
	return processed, factsMem, nil
}

// noCandidateError picks the most specific explanation the stats support and
// appends the per-query summary.
func (r *researchRun) noCandidateError(stats *types.SearchStats) string {
	errText := "No candidate videos found. Try a broader goal."
	if stats != nil {
		noCaptionLimit := stats.NoCaptionMaxDurationSec
		if noCaptionLimit <= 0 {
			noCaptionLimit = r.svc.noCaptionMaxSec
		}
		switch {
		case r.cfg.CaptionsOnly && stats.SeenTotal > 0 && stats.EligibleTotal == 0 && stats.FilteredWithoutCaptions > 0:
			errText = "I've found videos, but none had captions/transcripts for fast mode."
		case stats.SeenTotal > 0 && stats.EligibleTotal == 0 && stats.FilteredNoCaptionTooLong > 0 && stats.WithCaptions == 0:
			errText = fmt.Sprintf(
				"I've found videos, but the no-caption limit is %d minutes max each and these were longer.",
				noCaptionLimit/60,
			)
		case r.cfg.MinDurationSec > 0 && stats.SeenTotal > 0 && stats.EligibleTotal == 0 && stats.FilteredTooShort > 0:
			errText = "I've found those videos but they're shorter than your minimum duration setting."
		case stats.SeenTotal == 0:
			errText = "Search returned no videos for the generated queries."
		}
	}
	return errText + " " + searchSummaryText(stats)
}

// reportVideo is the slim shape the comparison report works from, uniform
// across the persisted and in-memory paths.
type reportVideo struct {
	VideoID   string
	Title     string
	Channel   string
	ViewCount int64
}

// factsRow pairs a video with its extracted facts payload.
type factsRow struct {
	VideoID       string          `json:"video_id"`
	IsOwnerStory  bool            `json:"is_owner_story"`
	Confidence    float64         `json:"confidence"`
	BusinessModel string          `json:"business_model"`
	Facts         json.RawMessage `json:"facts"`
}

func candidateRows(runID string, candidates []researchCandidate) []types.ResearchVideo {
	out := make([]types.ResearchVideo, 0, len(candidates))
	for _, cand := range candidates {
		meta, err := json.Marshal(cand.preview())
		if err != nil {
			meta = []byte("{}")
		}
		out = append(out, types.ResearchVideo{
			RunID:           runID,
			VideoID:         cand.VideoID,
			Rank:            cand.Rank,
			URL:             cand.URL,
			Title:           cand.Title,
			Channel:         cand.Channel,
			ViewCount:       cand.ViewCount,
			PublishedUTC:    cand.PublishedUTC,
			PopularityScore: cand.PopularityScore,
			MetaJSON:        datatypes.JSON(meta),
		})
	}
	return out
}

func savedVideoRows(saved []types.ResearchVideo) []reportVideo {
	out := make([]reportVideo, 0, len(saved))
	for _, v := range saved {
		out = append(out, reportVideo{
			VideoID:   v.VideoID,
			Title:     v.Title,
			Channel:   v.Channel,
			ViewCount: v.ViewCount,
		})
	}
	return out
}

func savedFactsRows(saved []types.ResearchVideoFact) []factsRow {
	out := make([]factsRow, 0, len(saved))
	for _, f := range saved {
		out = append(out, factsRow{
			VideoID:       f.VideoID,
			IsOwnerStory:  f.IsOwnerStory,
			Confidence:    f.Confidence,
			BusinessModel: f.BusinessModel,
			Facts:         json.RawMessage(f.FactsJSON),
		})
	}
	return out
}

// transcriptSourceLabel renders a provenance constant for progress details.
func transcriptSourceLabel(source string) string {
	switch source {
	case types.TranscriptSourceCaptions:
		return "youtube captions"
	case types.TranscriptSourceSTT:
		return "audio transcription"
	case "":
		return "transcript"
	}
	return source
}
