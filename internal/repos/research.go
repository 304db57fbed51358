package repos

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

const maxTopicTagLen = 120

// TopicWeight is one normalized topic tag with its relevance weight.
type TopicWeight struct {
	Tag    string  `json:"tag"`
	Weight float64 `json:"weight"`
}

// RelatedTopic is a tag co-occurring with a run's tags in other public runs.
type RelatedTopic struct {
	Tag       string  `json:"tag"`
	RunCount  int     `json:"run_count"`
	MaxWeight float64 `json:"max_weight"`
}

// RunVideoPreview is the slim per-video card carried on run summaries.
type RunVideoPreview struct {
	VideoID      string `json:"video_id"`
	Rank         int    `json:"rank"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// PublicRunSummary is the list-view shape for public research runs.
type PublicRunSummary struct {
	RunID         string            `json:"run_id"`
	GoalText      string            `json:"goal_text"`
	DisplayTitle  string            `json:"display_title"`
	Status        string            `json:"status"`
	RunKind       string            `json:"run_kind"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	ReportExcerpt string            `json:"report_excerpt"`
	Topics        []TopicWeight     `json:"topics"`
	PreviewVideos []RunVideoPreview `json:"preview_videos"`
}

// PublicRunDetail joins a public run with its videos and topics.
type PublicRunDetail struct {
	Run     types.ResearchRun         `json:"run"`
	Intent  types.ResearchIntent      `json:"intent"`
	Summary types.ResearchSummary     `json:"summary"`
	Videos  []types.ResearchVideo     `json:"videos"`
	Facts   []types.ResearchVideoFact `json:"facts"`
	Topics  []TopicWeight             `json:"topics"`
}

type ResearchRepo interface {
	CreateRun(ctx context.Context, tx *gorm.DB, chatID int64, goalText string, intent types.ResearchIntent, isPublic bool) (string, error)
	FinalizeRun(ctx context.Context, tx *gorm.DB, runID, status, reportText string, summary *types.ResearchSummary) error
	SaveVideos(ctx context.Context, tx *gorm.DB, runID string, videos []types.ResearchVideo) error
	SaveVideoFact(ctx context.Context, tx *gorm.DB, fact *types.ResearchVideoFact) error
	SaveVideoTranscript(ctx context.Context, tx *gorm.DB, runID, videoID, transcriptPath, source string, chars int) error
	SaveTopics(ctx context.Context, tx *gorm.DB, runID string, topics []TopicWeight) error
	LoadVideos(ctx context.Context, tx *gorm.DB, runID string) ([]types.ResearchVideo, error)
	LoadVideoFacts(ctx context.Context, tx *gorm.DB, runID string) ([]types.ResearchVideoFact, error)
	LoadTopics(ctx context.Context, tx *gorm.DB, runID string) ([]TopicWeight, error)
	LoadPublicRuns(ctx context.Context, tx *gorm.DB, limit int) ([]PublicRunSummary, error)
	GetPublicRun(ctx context.Context, tx *gorm.DB, runID string) (*PublicRunDetail, error)
	LoadRelatedPublicTopics(ctx context.Context, tx *gorm.DB, baseTags []string, excludeRunID string, limit int) ([]RelatedTopic, error)
}

type researchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResearchRepo(db *gorm.DB, baseLog *logger.Logger) ResearchRepo {
	return &researchRepo{db: db, log: baseLog.With("repo", "ResearchRepo")}
}

func (r *researchRepo) CreateRun(ctx context.Context, tx *gorm.DB, chatID int64, goalText string, intent types.ResearchIntent, isPublic bool) (string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	intentRaw, err := json.Marshal(intent)
	if err != nil {
		return "", err
	}
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	now := time.Now().UTC()
	run := types.ResearchRun{
		RunID:      runID,
		ChatID:     chatID,
		GoalText:   strings.TrimSpace(goalText),
		IsPublic:   isPublic,
		IntentJSON: intentRaw,
		Status:     types.RunStatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := transaction.WithContext(ctx).Create(&run).Error; err != nil {
		return "", err
	}
	return runID, nil
}

func (r *researchRepo) FinalizeRun(ctx context.Context, tx *gorm.DB, runID, status, reportText string, summary *types.ResearchSummary) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	updates := map[string]any{
		"status":      status,
		"report_text": reportText,
		"updated_at":  time.Now().UTC(),
	}
	if summary != nil {
		raw, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		updates["summary_json"] = raw
	}
	return transaction.WithContext(ctx).
		Model(&types.ResearchRun{}).
		Where("run_id = ?", runID).
		Updates(updates).Error
}

func (r *researchRepo) SaveVideos(ctx context.Context, tx *gorm.DB, runID string, videos []types.ResearchVideo) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Transaction(func(t *gorm.DB) error {
		if err := t.Where("run_id = ?", runID).Delete(&types.ResearchVideo{}).Error; err != nil {
			return err
		}
		if len(videos) == 0 {
			return nil
		}
		now := time.Now().UTC()
		for i := range videos {
			videos[i].RunID = runID
			videos[i].CreatedAt = now
			videos[i].UpdatedAt = now
		}
		return t.CreateInBatches(videos, 100).Error
	})
}

func (r *researchRepo) SaveVideoFact(ctx context.Context, tx *gorm.DB, fact *types.ResearchVideoFact) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = now
	}
	fact.UpdatedAt = now
	if fact.Confidence < 0 {
		fact.Confidence = 0
	}
	if fact.Confidence > 1 {
		fact.Confidence = 1
	}
	return transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "video_id"}},
		UpdateAll: true,
	}).Create(fact).Error
}

func (r *researchRepo) SaveVideoTranscript(ctx context.Context, tx *gorm.DB, runID, videoID, transcriptPath, source string, chars int) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.ResearchVideo{}).
		Where("run_id = ? AND video_id = ?", runID, videoID).
		Updates(map[string]any{
			"transcript_path":   transcriptPath,
			"transcript_source": source,
			"transcript_chars":  chars,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// NormalizeTopicTag lowercases, collapses whitespace and caps the tag length.
// Empty result means the tag is unusable.
func NormalizeTopicTag(tag string) string {
	t := strings.ToLower(strings.TrimSpace(tag))
	t = strings.Join(strings.Fields(t), " ")
	if rs := []rune(t); len(rs) > maxTopicTagLen {
		t = strings.TrimSpace(string(rs[:maxTopicTagLen]))
	}
	return t
}

// SaveTopics replaces the run's topic set. Tags are normalized, deduplicated
// first-seen wins, weights clamped to [0,1].
func (r *researchRepo) SaveTopics(ctx context.Context, tx *gorm.DB, runID string, topics []TopicWeight) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	seen := make(map[string]bool, len(topics))
	now := time.Now().UTC()
	rows := make([]types.ResearchRunTopic, 0, len(topics))
	for _, tw := range topics {
		tag := NormalizeTopicTag(tw.Tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		weight := tw.Weight
		if weight < 0 {
			weight = 0
		}
		if weight > 1 {
			weight = 1
		}
		rows = append(rows, types.ResearchRunTopic{RunID: runID, TopicTag: tag, Weight: weight, CreatedAt: now})
	}
	return transaction.WithContext(ctx).Transaction(func(t *gorm.DB) error {
		if err := t.Where("run_id = ?", runID).Delete(&types.ResearchRunTopic{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return t.Create(rows).Error
	})
}

func (r *researchRepo) LoadVideos(ctx context.Context, tx *gorm.DB, runID string) ([]types.ResearchVideo, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var videos []types.ResearchVideo
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("rank ASC").
		Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *researchRepo) LoadVideoFacts(ctx context.Context, tx *gorm.DB, runID string) ([]types.ResearchVideoFact, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var facts []types.ResearchVideoFact
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Find(&facts).Error; err != nil {
		return nil, err
	}
	return facts, nil
}

func (r *researchRepo) LoadTopics(ctx context.Context, tx *gorm.DB, runID string) ([]TopicWeight, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []types.ResearchRunTopic
	if err := transaction.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("weight DESC, topic_tag ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]TopicWeight, 0, len(rows))
	for _, row := range rows {
		out = append(out, TopicWeight{Tag: row.TopicTag, Weight: row.Weight})
	}
	return out, nil
}

func (r *researchRepo) LoadPublicRuns(ctx context.Context, tx *gorm.DB, limit int) ([]PublicRunSummary, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit < 1 {
		limit = 1
	}
	var runs []types.ResearchRun
	if err := transaction.WithContext(ctx).
		Where("is_public = ?", true).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	out := make([]PublicRunSummary, 0, len(runs))
	for _, run := range runs {
		topics, err := r.LoadTopics(ctx, transaction, run.RunID)
		if err != nil {
			return nil, err
		}
		if len(topics) > 10 {
			topics = topics[:10]
		}
		previews, err := r.loadVideoPreviews(ctx, transaction, run.RunID, 4)
		if err != nil {
			return nil, err
		}
		var intent types.ResearchIntent
		if len(run.IntentJSON) > 0 {
			_ = json.Unmarshal(run.IntentJSON, &intent)
		}
		runKind := strings.TrimSpace(intent.RunKind)
		if runKind == "" {
			runKind = types.RunKindResearch
		}
		var summary types.ResearchSummary
		if len(run.SummaryJSON) > 0 {
			_ = json.Unmarshal(run.SummaryJSON, &summary)
		}
		excerpt := run.ReportText
		if rs := []rune(excerpt); len(rs) > 700 {
			excerpt = string(rs[:700])
		}
		out = append(out, PublicRunSummary{
			RunID:         run.RunID,
			GoalText:      run.GoalText,
			DisplayTitle:  summary.DisplayTitle,
			Status:        run.Status,
			RunKind:       runKind,
			CreatedAt:     run.CreatedAt,
			UpdatedAt:     run.UpdatedAt,
			ReportExcerpt: excerpt,
			Topics:        topics,
			PreviewVideos: previews,
		})
	}
	return out, nil
}

// loadVideoPreviews returns the top-ranked videos of a run as slim cards.
// The thumbnail lives in meta_json, written at candidate time.
func (r *researchRepo) loadVideoPreviews(ctx context.Context, tx *gorm.DB, runID string, limit int) ([]RunVideoPreview, error) {
	var videos []types.ResearchVideo
	if err := tx.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("rank ASC").
		Limit(limit).
		Find(&videos).Error; err != nil {
		return nil, err
	}
	out := make([]RunVideoPreview, 0, len(videos))
	for _, v := range videos {
		preview := RunVideoPreview{VideoID: v.VideoID, Rank: v.Rank, Title: v.Title}
		if len(v.MetaJSON) > 0 {
			var meta types.VideoPreview
			if err := json.Unmarshal(v.MetaJSON, &meta); err == nil {
				preview.ThumbnailURL = meta.ThumbnailURL
			}
		}
		out = append(out, preview)
	}
	return out, nil
}

func (r *researchRepo) GetPublicRun(ctx context.Context, tx *gorm.DB, runID string) (*PublicRunDetail, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.ResearchRun
	err := transaction.WithContext(ctx).
		Where("run_id = ? AND is_public = ?", runID, true).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	detail := &PublicRunDetail{Run: run}
	if len(run.IntentJSON) > 0 {
		_ = json.Unmarshal(run.IntentJSON, &detail.Intent)
	}
	if len(run.SummaryJSON) > 0 {
		_ = json.Unmarshal(run.SummaryJSON, &detail.Summary)
	}
	if detail.Videos, err = r.LoadVideos(ctx, transaction, runID); err != nil {
		return nil, err
	}
	if detail.Facts, err = r.LoadVideoFacts(ctx, transaction, runID); err != nil {
		return nil, err
	}
	if detail.Topics, err = r.LoadTopics(ctx, transaction, runID); err != nil {
		return nil, err
	}
	return detail, nil
}

// LoadRelatedPublicTopics finds tags that co-occur with baseTags in other
// public runs. The aggregation runs in Go so it behaves identically on both
// drivers: run-count desc, then max-weight desc, then tag asc.
func (r *researchRepo) LoadRelatedPublicTopics(ctx context.Context, tx *gorm.DB, baseTags []string, excludeRunID string, limit int) ([]RelatedTopic, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit < 1 {
		limit = 1
	}
	base := make(map[string]bool, len(baseTags))
	normalized := make([]string, 0, len(baseTags))
	for _, tag := range baseTags {
		t := NormalizeTopicTag(tag)
		if t != "" && !base[t] {
			base[t] = true
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		return []RelatedTopic{}, nil
	}

	var matchRunIDs []string
	if err := transaction.WithContext(ctx).
		Model(&types.ResearchRunTopic{}).
		Distinct("research_run_topics.run_id").
		Joins("JOIN research_runs ON research_runs.run_id = research_run_topics.run_id").
		Where("research_runs.is_public = ?", true).
		Where("research_run_topics.topic_tag IN ?", normalized).
		Where("research_run_topics.run_id <> ?", excludeRunID).
		Pluck("research_run_topics.run_id", &matchRunIDs).Error; err != nil {
		return nil, err
	}
	if len(matchRunIDs) == 0 {
		return []RelatedTopic{}, nil
	}

	var rows []types.ResearchRunTopic
	if err := transaction.WithContext(ctx).
		Where("run_id IN ?", matchRunIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	type agg struct {
		runs      map[string]bool
		maxWeight float64
	}
	byTag := map[string]*agg{}
	for _, row := range rows {
		if base[row.TopicTag] {
			continue
		}
		a := byTag[row.TopicTag]
		if a == nil {
			a = &agg{runs: map[string]bool{}}
			byTag[row.TopicTag] = a
		}
		a.runs[row.RunID] = true
		if row.Weight > a.maxWeight {
			a.maxWeight = row.Weight
		}
	}

	out := make([]RelatedTopic, 0, len(byTag))
	for tag, a := range byTag {
		out = append(out, RelatedTopic{Tag: tag, RunCount: len(a.runs), MaxWeight: a.maxWeight})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunCount != out[j].RunCount {
			return out[i].RunCount > out[j].RunCount
		}
		if out[i].MaxWeight != out[j].MaxWeight {
			return out[i].MaxWeight > out[j].MaxWeight
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
