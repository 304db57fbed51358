package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// Notes task kinds used as per-video single-flight keys.
const (
	NotesTaskAsk     = "ask"
	NotesTaskAnalyze = "analyze"
)

// ErrNotesTaskBusy means the same notes task is already running for the video.
var ErrNotesTaskBusy = errors.New("notes task already running for this video")

// ErrTranscriptMissing means Q&A or analysis was requested before a
// transcript exists on disk.
var ErrTranscriptMissing = errors.New("transcript file is missing for this video")

var videoIDLikeRE = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

func IsVideoIDLike(s string) bool {
	return videoIDLikeRE.MatchString(strings.TrimSpace(s))
}

// TitleFromTranscript reads the "Title:" header line of a canonical
// transcript file. Empty when the header is missing or holds the video id.
func TitleFromTranscript(content, videoID string) string {
	for _, line := range strings.SplitN(content, "\n", 6) {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Title:"); ok {
			title := strings.TrimSpace(rest)
			if title != "" && title != videoID {
				return title
			}
			return ""
		}
	}
	return ""
}

// ExtractLLMBackendLabel classifies which backend produced a stored answer or
// analysis from its caption line.
func ExtractLLMBackendLabel(text string) string {
	low := strings.ToLower(text)
	if strings.TrimSpace(low) == "" {
		return "unknown"
	}
	switch {
	case strings.Contains(low, "backend: claude"):
		return "claude"
	case strings.Contains(low, "backend: openai"):
		return "openai"
	case strings.Contains(low, "backend: local transcript fallback"):
		return "local_fallback"
	case strings.Contains(low, "backend: local"):
		return "local"
	}
	return "unknown"
}

// ExtractLLMBackendDetail pulls the human caption after "Backend:" out of a
// stored answer, falling back to the coarse label.
func ExtractLLMBackendDetail(text string) string {
	if strings.TrimSpace(text) == "" {
		return "unknown"
	}
	for _, line := range strings.Split(text, "\n") {
		ln := strings.TrimSpace(line)
		if ln == "" {
			continue
		}
		pos := strings.Index(strings.ToLower(ln), "backend:")
		if pos < 0 {
			continue
		}
		detail := strings.Trim(ln[pos+len("backend:"):], " \t-:")
		detail = strings.Join(strings.Fields(detail), " ")
		if detail != "" {
			return detail
		}
	}
	switch ExtractLLMBackendLabel(text) {
	case "claude":
		return "Claude"
	case "openai":
		return "OpenAI"
	case "local":
		return "local"
	case "local_fallback":
		return "local transcript fallback"
	}
	return "unknown"
}

// AnalysisOutcome is the API shape returned by an analysis run.
type AnalysisOutcome struct {
	Analysis         string  `json:"analysis"`
	Cached           bool    `json:"cached"`
	CacheAgeSec      int     `json:"cache_age_sec"`
	Lang             string  `json:"lang"`
	LLMBackend       string  `json:"llm_backend"`
	LLMBackendDetail string  `json:"llm_backend_detail"`
	ChunkCompleted   int     `json:"chunk_completed"`
	ChunkTotal       int     `json:"chunk_total"`
	AnalysisMDPath   string  `json:"analysis_md_path,omitempty"`
	ElapsedSec       float64 `json:"elapsed_sec"`
}

// QAOutcome is the API shape returned by a Q&A run.
type QAOutcome struct {
	Answer           string  `json:"answer"`
	Cached           bool    `json:"cached"`
	Lang             string  `json:"lang"`
	LLMBackend       string  `json:"llm_backend"`
	LLMBackendDetail string  `json:"llm_backend_detail"`
	QAMDPath         string  `json:"qa_md_path,omitempty"`
	ElapsedSec       float64 `json:"elapsed_sec"`
}

// NotesService runs the transcript knowledge tasks end to end: resolve the
// transcript, consult the caches, call the engines, persist results, export
// markdown notes, and stream progress through the job registry.
type NotesService interface {
	RunAnalysis(ctx context.Context, videoID string, force bool) (AnalysisOutcome, error)
	RunQA(ctx context.Context, videoID, question string) (QAOutcome, error)
}

type notesService struct {
	log         *logger.Logger
	registry    *jobs.Registry
	archive     repos.ArchiveIndexRepo
	qaHistory   repos.QAHistoryRepo
	transcripts TranscriptService
	qa          QAService
	analysis    AnalysisService
	notesDir    string
}

func NewNotesService(
	baseLog *logger.Logger,
	registry *jobs.Registry,
	archive repos.ArchiveIndexRepo,
	qaHistory repos.QAHistoryRepo,
	transcripts TranscriptService,
	qa QAService,
	analysis AnalysisService,
	dataDir string,
) NotesService {
	return &notesService{
		log:         baseLog.With("service", "NotesService"),
		registry:    registry,
		archive:     archive,
		qaHistory:   qaHistory,
		transcripts: transcripts,
		qa:          qa,
		analysis:    analysis,
		notesDir:    filepath.Join(dataDir, "notes_exports"),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func safeVideoID(videoID string) string {
	if IsVideoIDLike(videoID) {
		return strings.TrimSpace(videoID)
	}
	return "video"
}

func watchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// resolveVideoTitle prefers the stored title, then the transcript header,
// then the bare video id.
func resolveVideoTitle(videoID string, rec *types.ArchiveRecord, transcriptPath string) string {
	if rec != nil {
		if title := strings.TrimSpace(rec.Title); title != "" && !IsVideoIDLike(title) {
			return title
		}
	}
	if transcriptPath != "" {
		if raw, err := os.ReadFile(transcriptPath); err == nil {
			if title := TitleFromTranscript(string(raw), videoID); title != "" {
				return title
			}
		}
	}
	return videoID
}

type markdownNote struct {
	Kind           string
	VideoID        string
	Title          string
	TranscriptPath string
	YouTubeURL     string
	Question       string
	Answer         string
	Analysis       string
	Cached         bool
}

// saveMarkdownNote exports one note under <data>/notes_exports. Export
// failures only cost the file, never the request, so they log and return "".
func (s *notesService) saveMarkdownNote(note markdownNote) string {
	kind := strings.ToLower(strings.TrimSpace(note.Kind))
	if kind == "" {
		kind = "note"
	}
	vid := safeVideoID(note.VideoID)
	stamp := time.Now().Format("20060102_150405")
	slugSource := note.Question
	if slugSource == "" {
		slugSource = note.Title
	}
	if slugSource == "" {
		slugSource = vid
	}
	slug := utils.Slugify(slugSource, 52)
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s", vid, kind, note.Question, note.Analysis, note.Answer, stamp)))
	digest := hex.EncodeToString(sum[:])[:12]

	if err := os.MkdirAll(s.notesDir, 0o755); err != nil {
		s.log.Warn("Could not create notes export dir", "dir", s.notesDir, "error", err)
		return ""
	}
	outPath := filepath.Join(s.notesDir, fmt.Sprintf("%s_%s_%s_%s_%s.md", kind, stamp, vid, slug, digest))

	cached := "no"
	if note.Cached {
		cached = "yes"
	}
	lines := []string{
		"# " + strings.ToUpper(kind),
		"",
		"- video_id: " + vid,
		"- title: " + strings.TrimSpace(note.Title),
		"- youtube_url: " + strings.TrimSpace(note.YouTubeURL),
		"- transcript_path: " + strings.TrimSpace(note.TranscriptPath),
		"- cached: " + cached,
		"- created_at: " + time.Now().UTC().Format(time.RFC3339),
		"",
	}
	if note.Question != "" {
		lines = append(lines, "## Question", "", strings.TrimSpace(note.Question), "")
	}
	if note.Answer != "" {
		lines = append(lines, "## Answer", "", strings.TrimSpace(note.Answer), "")
	}
	if note.Analysis != "" {
		lines = append(lines, "## Analysis", "", strings.TrimSpace(note.Analysis), "")
	}
	content := strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
	if err := os.WriteFile(outPath, []byte(content), 0o644); err != nil {
		s.log.Warn("Could not write markdown note", "path", outPath, "error", err)
		return ""
	}
	return outPath
}

// storeAnalysisOnRecord writes the finished analysis and transcript metadata
// back onto the archive record.
func (s *notesService) storeAnalysisOnRecord(ctx context.Context, videoID, title, transcriptPath, analysisText, lang, mdPath string) {
	_, err := s.archive.UpdateRecord(ctx, nil, videoID, func(rec *types.ArchiveRecord) {
		if title != "" && !IsVideoIDLike(title) {
			rec.Title = title
		}
		rec.TranscriptPath = transcriptPath
		if strings.TrimSpace(rec.TranscriptSource) == "" {
			rec.TranscriptSource = types.TranscriptSourceFile
		}
		if rec.TranscriptChars <= 0 {
			if info, statErr := os.Stat(transcriptPath); statErr == nil {
				rec.TranscriptChars = int(info.Size())
			}
		}
		rec.AnalysisText = analysisText
		rec.AnalysisLang = lang
		rec.AnalysisSavedAt = time.Now().UTC().Format(time.RFC3339)
		_ = mdPath
	})
	if err != nil {
		s.log.Warn("Could not persist analysis on archive record", "video_id", videoID, "error", err)
	}
}

func (s *notesService) RunAnalysis(ctx context.Context, videoID string, force bool) (AnalysisOutcome, error) {
	if !s.registry.TryStartNotesTask(videoID, NotesTaskAnalyze) {
		return AnalysisOutcome{}, ErrNotesTaskBusy
	}
	defer s.registry.FinishNotesTask(videoID, NotesTaskAnalyze)

	started := time.Now()
	elapsed := func() float64 { return round2(time.Since(started).Seconds()) }

	rec, err := s.archive.GetRecord(ctx, nil, videoID)
	if err != nil {
		return AnalysisOutcome{}, err
	}
	path := s.transcripts.ResolveExistingPath(videoID, rec)
	if path == "" {
		return AnalysisOutcome{}, ErrTranscriptMissing
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return AnalysisOutcome{}, fmt.Errorf("read transcript %s: %w", path, err)
	}
	transcriptText := strings.TrimSpace(string(raw))
	if transcriptText == "" {
		return AnalysisOutcome{}, fmt.Errorf("transcript file is empty: %s", path)
	}

	estimatedParts := s.analysis.EstimateParts(transcriptText)
	s.registry.SetAnalyzeProgress(videoID, map[string]any{
		"status":           "running",
		"phase":            "preparing",
		"done":             false,
		"error":            "",
		"message":          "Preparing analysis...",
		"started_at":       started.UTC().Format(time.RFC3339),
		"elapsed_sec":      0.0,
		"chunk_completed":  0,
		"chunk_total":      estimatedParts,
		"generated_chars":  0,
		"generated_tokens": 0,
	})

	lang, _ := s.analysis.OutputLanguage(transcriptText)
	title := resolveVideoTitle(videoID, rec, path)

	if !force {
		if cached, age, ok := s.analysis.CachedAnalysis(rec, lang); ok {
			mdPath := s.saveMarkdownNote(markdownNote{
				Kind:           "analysis",
				VideoID:        videoID,
				Title:          title,
				TranscriptPath: path,
				YouTubeURL:     watchURL(videoID),
				Analysis:       cached,
				Cached:         true,
			})
			s.storeAnalysisOnRecord(ctx, videoID, title, path, cached, lang, mdPath)
			backend := ExtractLLMBackendLabel(cached)
			detail := ExtractLLMBackendDetail(cached)
			s.registry.SetAnalyzeProgress(videoID, map[string]any{
				"status":             "completed",
				"phase":              "cached",
				"done":               true,
				"error":              "",
				"message":            fmt.Sprintf("Loaded cached analysis (%ds old).", int(age.Seconds())),
				"elapsed_sec":        elapsed(),
				"chunk_completed":    estimatedParts,
				"chunk_total":        estimatedParts,
				"generated_chars":    len(cached),
				"generated_tokens":   max(1, len(cached)/4),
				"llm_backend":        backend,
				"llm_backend_detail": detail,
			})
			return AnalysisOutcome{
				Analysis:         cached,
				Cached:           true,
				CacheAgeSec:      int(age.Seconds()),
				Lang:             lang,
				LLMBackend:       backend,
				LLMBackendDetail: detail,
				ChunkCompleted:   estimatedParts,
				ChunkTotal:       estimatedParts,
				AnalysisMDPath:   mdPath,
				ElapsedSec:       elapsed(),
			}, nil
		}
	}

	chunkCompleted, chunkTotal := 0, estimatedParts
	onChunk := func(completed, total int) {
		if total < 1 {
			total = 1
		}
		if completed < 0 {
			completed = 0
		}
		if completed > total {
			completed = total
		}
		chunkCompleted, chunkTotal = completed, total
		s.registry.SetAnalyzeProgress(videoID, map[string]any{
			"status":          "running",
			"phase":           "chunking",
			"done":            false,
			"elapsed_sec":     elapsed(),
			"chunk_completed": completed,
			"chunk_total":     total,
			"message":         fmt.Sprintf("Analyzing transcript parts: %d/%d", completed, total),
		})
	}
	s.registry.SetAnalyzeProgress(videoID, map[string]any{
		"status":      "running",
		"phase":       "analyzing",
		"done":        false,
		"elapsed_sec": elapsed(),
		"message":     "Generating analysis...",
	})

	result, err := s.analysis.Analyze(ctx, title, transcriptText, onChunk)
	if err != nil || strings.TrimSpace(result.Text) == "" {
		if err == nil {
			err = fmt.Errorf("llm returned empty analysis")
		}
		s.registry.SetAnalyzeProgress(videoID, map[string]any{
			"status":      "failed",
			"phase":       "failed",
			"done":        true,
			"error":       err.Error(),
			"message":     "Analysis failed: " + err.Error(),
			"elapsed_sec": elapsed(),
		})
		return AnalysisOutcome{}, err
	}

	mdPath := s.saveMarkdownNote(markdownNote{
		Kind:           "analysis",
		VideoID:        videoID,
		Title:          title,
		TranscriptPath: path,
		YouTubeURL:     watchURL(videoID),
		Analysis:       result.Text,
	})
	s.storeAnalysisOnRecord(ctx, videoID, title, path, result.Text, lang, mdPath)

	backend := ExtractLLMBackendLabel(result.Text)
	detail := ExtractLLMBackendDetail(result.Text)
	if chunkTotal < 1 {
		chunkTotal = 1
	}
	if chunkCompleted <= 0 || chunkCompleted > chunkTotal {
		chunkCompleted = chunkTotal
	}
	s.registry.SetAnalyzeProgress(videoID, map[string]any{
		"status":             "completed",
		"phase":              "done",
		"done":               true,
		"error":              "",
		"message":            "Analysis completed.",
		"elapsed_sec":        elapsed(),
		"chunk_completed":    chunkCompleted,
		"chunk_total":        chunkTotal,
		"generated_chars":    len(result.Text),
		"generated_tokens":   max(1, len(result.Text)/4),
		"llm_backend":        backend,
		"llm_backend_detail": detail,
	})
	return AnalysisOutcome{
		Analysis:         result.Text,
		Cached:           false,
		Lang:             lang,
		LLMBackend:       backend,
		LLMBackendDetail: detail,
		ChunkCompleted:   chunkCompleted,
		ChunkTotal:       chunkTotal,
		AnalysisMDPath:   mdPath,
		ElapsedSec:       elapsed(),
	}, nil
}

func (s *notesService) RunQA(ctx context.Context, videoID, question string) (QAOutcome, error) {
	if !s.registry.TryStartNotesTask(videoID, NotesTaskAsk) {
		return QAOutcome{}, ErrNotesTaskBusy
	}
	defer s.registry.FinishNotesTask(videoID, NotesTaskAsk)

	started := time.Now()
	elapsed := func() float64 { return round2(time.Since(started).Seconds()) }
	s.registry.SetAskProgress(videoID, map[string]any{
		"status":      "running",
		"phase":       "preparing",
		"done":        false,
		"error":       "",
		"message":     "Preparing transcript context...",
		"started_at":  started.UTC().Format(time.RFC3339),
		"elapsed_sec": 0.0,
		"cached":      false,
	})

	fail := func(err error) (QAOutcome, error) {
		s.registry.SetAskProgress(videoID, map[string]any{
			"status":      "failed",
			"phase":       "failed",
			"done":        true,
			"error":       err.Error(),
			"message":     "Q&A failed: " + err.Error(),
			"elapsed_sec": elapsed(),
		})
		return QAOutcome{}, err
	}

	rec, err := s.archive.GetRecord(ctx, nil, videoID)
	if err != nil {
		return fail(err)
	}
	path := s.transcripts.ResolveExistingPath(videoID, rec)
	if path == "" {
		return fail(ErrTranscriptMissing)
	}
	questionText := strings.TrimSpace(question)
	title := resolveVideoTitle(videoID, rec, path)
	stamp := s.transcripts.TranscriptStamp(path)

	var (
		answer  string
		lang    string
		cached  bool
		backend string
		detail  string
	)
	if rec != nil {
		if entry, ok := rec.LookupQACache(QuestionKey(questionText), stamp); ok && strings.TrimSpace(entry.Answer) != "" {
			answer = strings.TrimSpace(entry.Answer)
			cached = true
			backend = strings.TrimSpace(entry.Backend)
			if backend == "" {
				backend = ExtractLLMBackendLabel(answer)
			}
			detail = ExtractLLMBackendDetail(answer)
			s.registry.SetAskProgress(videoID, map[string]any{
				"status":             "completed",
				"phase":              "cached",
				"done":               true,
				"error":              "",
				"message":            "Loaded cached answer.",
				"elapsed_sec":        elapsed(),
				"answer_chars":       len(answer),
				"cached":             true,
				"llm_backend":        backend,
				"llm_backend_detail": detail,
			})
		}
	}

	if !cached {
		s.registry.SetAskProgress(videoID, map[string]any{
			"status":      "running",
			"phase":       "answering",
			"done":        false,
			"error":       "",
			"message":     "Generating answer from transcript...",
			"elapsed_sec": elapsed(),
			"cached":      false,
		})
		qaRes, qaErr := s.qa.AnswerQuestion(ctx, QARequest{
			VideoID:        videoID,
			Question:       questionText,
			TranscriptPath: path,
			TitleHint:      title,
		})
		if qaErr != nil {
			return fail(qaErr)
		}
		answer = qaRes.Text
		lang = qaRes.Lang
		backend = ExtractLLMBackendLabel(answer)
		detail = ExtractLLMBackendDetail(answer)

		qKey := QuestionKey(questionText)
		if _, upErr := s.archive.UpdateRecord(ctx, nil, videoID, func(r *types.ArchiveRecord) {
			kept := r.QACache[:0]
			for _, row := range r.QACache {
				if row.QuestionKey == qKey && row.TranscriptStamp == stamp {
					continue
				}
				kept = append(kept, row)
			}
			r.QACache = kept
			r.AppendQACache(types.QACacheEntry{
				QuestionKey:     qKey,
				TranscriptStamp: stamp,
				Answer:          answer,
				Backend:         backend,
				SavedAt:         time.Now().UTC().Format(time.RFC3339),
			})
		}); upErr != nil {
			s.log.Warn("Could not persist Q&A cache entry", "video_id", videoID, "error", upErr)
		}

		s.registry.SetAskProgress(videoID, map[string]any{
			"status":             "completed",
			"phase":              "done",
			"done":               true,
			"error":              "",
			"message":            "Answer ready.",
			"elapsed_sec":        elapsed(),
			"answer_chars":       len(answer),
			"cached":             false,
			"llm_backend":        backend,
			"llm_backend_detail": detail,
		})
	}

	mdPath := s.saveMarkdownNote(markdownNote{
		Kind:           "ask",
		VideoID:        videoID,
		Title:          title,
		TranscriptPath: path,
		YouTubeURL:     watchURL(videoID),
		Question:       questionText,
		Answer:         answer,
		Cached:         cached,
	})

	extra, _ := json.Marshal(map[string]string{"title": title, "url": watchURL(videoID)})
	if histErr := s.qaHistory.Append(ctx, nil, &types.QAHistoryEntry{
		VideoID:        videoID,
		TranscriptPath: path,
		Question:       questionText,
		Answer:         strings.TrimSpace(answer),
		Source:         "web",
		Lang:           lang,
		ExtraJSON:      extra,
	}); histErr != nil {
		s.log.Warn("Could not append Q&A history", "video_id", videoID, "error", histErr)
	}

	return QAOutcome{
		Answer:           answer,
		Cached:           cached,
		Lang:             lang,
		LLMBackend:       backend,
		LLMBackendDetail: detail,
		QAMDPath:         mdPath,
		ElapsedSec:       elapsed(),
	}, nil
}
