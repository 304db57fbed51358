package services

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

const publicFileIndexTTL = 20 * time.Second

var bracketedIDRE = regexp.MustCompile(`\[([A-Za-z0-9_-]{6,20})\]`)

// VideoSummary is one row in the video vault list.
type VideoSummary struct {
	VideoID                  string `json:"video_id"`
	Title                    string `json:"title"`
	Channel                  string `json:"channel"`
	TranscriptPath           string `json:"transcript_path"`
	HasTranscript            bool   `json:"has_transcript"`
	TranscriptUpdatedAtEpoch int64  `json:"transcript_updated_at_epoch"`
	TranscriptSource         string `json:"transcript_source"`
	TranscriptChars          int    `json:"transcript_chars"`
	HasAnalysis              bool   `json:"has_analysis"`
	AnalysisLLMBackend       string `json:"analysis_llm_backend"`
	AnalysisLLMDetail        string `json:"analysis_llm_detail"`
	AnalysisLLMMode          string `json:"analysis_llm_mode"`
	AnalysisSavedAtEpoch     int64  `json:"analysis_saved_at_epoch"`
	Module                   string `json:"module"`
	IsArchive                bool   `json:"is_archive"`
	ArchiveStatus            string `json:"archive_status"`
	ArchiveStatusEffective   string `json:"archive_status_effective"`
	CanStopLive              bool   `json:"can_stop_live"`
	IsLiveActive             bool   `json:"is_live_active"`
	ArchiveDateKey           string `json:"archive_date_key"`
	ArchiveServiceKey        string `json:"archive_service_key"`
	ArchiveServiceLabel      string `json:"archive_service_label"`
	ArchiveStartedLocal      string `json:"archive_started_local"`
	SourceURL                string `json:"source_url"`
	PublicURL                string `json:"public_url"`
	YouTubeURL               string `json:"youtube_url"`
	ThumbnailURL             string `json:"thumbnail_url"`
}

// VideoDetail is the full per-video payload, including the saved transcript
// text and the live notes-task progress.
type VideoDetail struct {
	VideoSummary
	TranscriptExists  bool               `json:"transcript_exists"`
	AnalysisText      string             `json:"analysis_text"`
	AnalysisLang      string             `json:"analysis_lang"`
	TranscriptPreview string             `json:"transcript_preview"`
	NotesProgress     jobs.NotesProgress `json:"notes_progress"`
}

// VideoCatalogService builds the vault views over archive records plus any
// orphan transcripts sitting on disk without a record.
type VideoCatalogService interface {
	ListVideos(ctx context.Context) ([]VideoSummary, error)
	VideoDetail(ctx context.Context, videoID string) (VideoDetail, error)
	ResolvePublicURL(videoID string, rec *types.ArchiveRecord) string
}

type videoCatalogService struct {
	log         *logger.Logger
	archive     repos.ArchiveIndexRepo
	transcripts TranscriptService
	runtime     *RuntimeState
	registry    *jobs.Registry
	media       *ytdlp.Client

	storageDir     string
	transcriptsDir string
	publicBase     string

	indexMu      sync.Mutex
	indexBuiltAt time.Time
	indexByVideo map[string]string
}

func NewVideoCatalogService(
	baseLog *logger.Logger,
	archive repos.ArchiveIndexRepo,
	transcripts TranscriptService,
	runtime *RuntimeState,
	registry *jobs.Registry,
	media *ytdlp.Client,
	storageDir, publicBase string,
) VideoCatalogService {
	return &videoCatalogService{
		log:            baseLog.With("service", "VideoCatalogService"),
		archive:        archive,
		transcripts:    transcripts,
		runtime:        runtime,
		registry:       registry,
		media:          media,
		storageDir:     storageDir,
		transcriptsDir: filepath.Join(storageDir, "transcripts"),
		publicBase:     publicBase,
	}
}

func isArchiveRecord(rec *types.ArchiveRecord) bool {
	if rec == nil {
		return false
	}
	return strings.TrimSpace(rec.DateKey) != "" ||
		strings.TrimSpace(rec.ServiceKey) != "" ||
		strings.TrimSpace(rec.ServiceLabel) != "" ||
		strings.TrimSpace(rec.Filename) != "" ||
		strings.TrimSpace(rec.FullFilename) != ""
}

func analysisLLMMode(backend string) string {
	switch backend {
	case "local", "local_fallback":
		return "local"
	case "claude", "openai":
		return "remote"
	}
	return "unknown"
}

func thumbnailURL(videoID string) string {
	return "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg"
}

// publicFileIndex scans the storage dir and maps video id -> newest media
// file carrying that id in its name. Rebuilt at most every 20 seconds.
func (s *videoCatalogService) publicFileIndex() map[string]string {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.indexByVideo != nil && len(s.indexByVideo) > 0 && time.Since(s.indexBuiltAt) <= publicFileIndexTTL {
		out := make(map[string]string, len(s.indexByVideo))
		for k, v := range s.indexByVideo {
			out[k] = v
		}
		return out
	}

	type hit struct {
		mtime time.Time
		name  string
	}
	resolved := map[string]hit{}
	entries, err := os.ReadDir(s.storageDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			low := strings.ToLower(name)
			if strings.HasSuffix(low, ".part") || strings.HasSuffix(low, ".tmp") ||
				strings.HasSuffix(low, ".temp") || strings.HasSuffix(low, ".ytdl") ||
				strings.HasSuffix(low, ".aria2") {
				continue
			}
			vid := ""
			if m := bracketedIDRE.FindStringSubmatch(name); m != nil {
				vid = m[1]
			} else {
				stem := strings.TrimSuffix(name, filepath.Ext(name))
				if IsVideoIDLike(stem) {
					vid = stem
				}
			}
			if vid == "" {
				continue
			}
			info, infoErr := entry.Info()
			var mtime time.Time
			if infoErr == nil {
				mtime = info.ModTime()
			}
			prev, ok := resolved[vid]
			if !ok || !mtime.Before(prev.mtime) {
				resolved[vid] = hit{mtime: mtime, name: name}
			}
		}
	}

	byVideo := make(map[string]string, len(resolved))
	for vid, h := range resolved {
		byVideo[vid] = h.name
	}
	s.indexBuiltAt = time.Now()
	s.indexByVideo = byVideo

	out := make(map[string]string, len(byVideo))
	for k, v := range byVideo {
		out[k] = v
	}
	return out
}

// ResolvePublicURL returns the download link for a video: the recorded public
// URL first, then a filename from the record, then the storage scan.
func (s *videoCatalogService) ResolvePublicURL(videoID string, rec *types.ArchiveRecord) string {
	if rec != nil {
		if url := strings.TrimSpace(rec.PublicURL); url != "" {
			return url
		}
		if url := strings.TrimSpace(rec.FullPublicURL); url != "" {
			return url
		}
		name := strings.TrimSpace(rec.Filename)
		if name == "" {
			name = strings.TrimSpace(rec.FullFilename)
		}
		if name != "" {
			if base := filepath.Base(name); base != "" && base != "." {
				return utils.BuildPublicURL(s.publicBase, base)
			}
		}
	}
	if IsVideoIDLike(videoID) {
		if name := s.publicFileIndex()[strings.TrimSpace(videoID)]; name != "" {
			return utils.BuildPublicURL(s.publicBase, name)
		}
	}
	return ""
}

func (s *videoCatalogService) summarize(videoID string, rec *types.ArchiveRecord) VideoSummary {
	path := s.transcripts.TranscriptPath(videoID)
	if rec != nil && strings.TrimSpace(rec.TranscriptPath) != "" {
		path = rec.TranscriptPath
	}
	hasTranscript := false
	var transcriptMtime int64
	transcriptChars := 0
	if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Size() > 0 {
		hasTranscript = true
		transcriptMtime = info.ModTime().Unix()
		transcriptChars = int(info.Size())
	}
	source := ""
	analysisText := ""
	if rec != nil {
		source = strings.TrimSpace(rec.TranscriptSource)
		if rec.TranscriptChars > 0 {
			transcriptChars = rec.TranscriptChars
		}
		analysisText = rec.AnalysisText
	}
	if source == "" && hasTranscript {
		source = types.TranscriptSourceFile
	}

	isArchive := isArchiveRecord(rec)
	rawStatus := ""
	if rec != nil {
		rawStatus = rec.Status
	}
	isRecordingStatus := isArchive && strings.EqualFold(rawStatus, types.StatusRecording)
	isLiveActive := isRecordingStatus && s.runtime.IsLiveActive(videoID)
	effective := rawStatus
	if isRecordingStatus && !isLiveActive {
		// Recording rows without an active runner are stale leftovers from a
		// previous process; present them as ended.
		effective = "ended"
	}

	backend := ExtractLLMBackendLabel(analysisText)
	summary := VideoSummary{
		VideoID:                  videoID,
		Title:                    resolveVideoTitle(videoID, rec, path),
		TranscriptPath:           path,
		HasTranscript:            hasTranscript,
		TranscriptUpdatedAtEpoch: transcriptMtime,
		TranscriptSource:         source,
		TranscriptChars:          transcriptChars,
		HasAnalysis:              strings.TrimSpace(analysisText) != "",
		AnalysisLLMBackend:       backend,
		AnalysisLLMDetail:        ExtractLLMBackendDetail(analysisText),
		AnalysisLLMMode:          analysisLLMMode(backend),
		Module:                   "video_vault",
		IsArchive:                isArchive,
		ArchiveStatus:            rawStatus,
		ArchiveStatusEffective:   effective,
		CanStopLive:              isLiveActive || isRecordingStatus,
		IsLiveActive:             isLiveActive,
		PublicURL:                s.ResolvePublicURL(videoID, rec),
		YouTubeURL:               watchURL(videoID),
		ThumbnailURL:             thumbnailURL(videoID),
	}
	if isArchive {
		summary.Module = "archive"
	}
	if rec != nil {
		summary.Channel = rec.Channel
		summary.ArchiveDateKey = rec.DateKey
		summary.ArchiveServiceKey = rec.ServiceKey
		summary.ArchiveServiceLabel = rec.ServiceLabel
		summary.ArchiveStartedLocal = rec.StartedLocal
		summary.SourceURL = rec.SourceURL
		if !isArchive {
			summary.ArchiveStatus = ""
			summary.ArchiveStatusEffective = ""
		}
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec.AnalysisSavedAt)); err == nil {
			summary.AnalysisSavedAtEpoch = ts.Unix()
		}
	}
	return summary
}

// ListVideos merges the archive index with orphan transcript files, newest
// analysis first.
func (s *videoCatalogService) ListVideos(ctx context.Context) ([]VideoSummary, error) {
	index, err := s.archive.LoadIndex(ctx, nil)
	if err != nil {
		return nil, err
	}
	items := make([]VideoSummary, 0, len(index))
	seen := map[string]bool{}
	for videoID, rec := range index {
		if !IsVideoIDLike(videoID) {
			continue
		}
		seen[videoID] = true
		items = append(items, s.summarize(videoID, rec))
	}

	if paths, globErr := filepath.Glob(filepath.Join(s.transcriptsDir, "*.txt")); globErr == nil {
		sort.Strings(paths)
		for _, path := range paths {
			vid := strings.TrimSuffix(filepath.Base(path), ".txt")
			if !IsVideoIDLike(vid) || seen[vid] {
				continue
			}
			items = append(items, s.summarize(vid, nil))
		}
	}

	sort.SliceStable(items, func(i, k int) bool {
		a, b := items[i], items[k]
		if a.AnalysisSavedAtEpoch != b.AnalysisSavedAtEpoch {
			return a.AnalysisSavedAtEpoch > b.AnalysisSavedAtEpoch
		}
		if a.TranscriptUpdatedAtEpoch != b.TranscriptUpdatedAtEpoch {
			return a.TranscriptUpdatedAtEpoch > b.TranscriptUpdatedAtEpoch
		}
		return a.VideoID > b.VideoID
	})
	return items, nil
}

// VideoDetail returns the full payload for one video. A title that had to be
// resolved remotely is written back onto the record so the next list render
// shows it without another probe.
func (s *videoCatalogService) VideoDetail(ctx context.Context, videoID string) (VideoDetail, error) {
	rec, err := s.archive.GetRecord(ctx, nil, videoID)
	if err != nil {
		return VideoDetail{}, err
	}
	summary := s.summarize(videoID, rec)

	title := summary.Title
	if title == "" || IsVideoIDLike(title) {
		if s.media != nil {
			if info, probeErr := s.media.Probe(ctx, watchURL(videoID)); probeErr == nil {
				if fetched := strings.TrimSpace(info.Title); fetched != "" && !IsVideoIDLike(fetched) {
					title = fetched
				}
			}
		}
	}
	if title != "" && !IsVideoIDLike(title) {
		current := ""
		if rec != nil {
			current = strings.TrimSpace(rec.Title)
		}
		if current != title {
			if _, upErr := s.archive.UpdateRecord(ctx, nil, videoID, func(r *types.ArchiveRecord) {
				r.Title = title
			}); upErr != nil {
				s.log.Warn("Could not write back resolved title", "video_id", videoID, "error", upErr)
			}
		}
		summary.Title = title
	}

	detail := VideoDetail{
		VideoSummary:     summary,
		TranscriptExists: summary.HasTranscript,
		NotesProgress:    s.registry.NotesProgressSnapshot(videoID),
	}
	if rec != nil {
		detail.AnalysisText = rec.AnalysisText
		detail.AnalysisLang = rec.AnalysisLang
	}
	if summary.HasTranscript {
		if raw, readErr := os.ReadFile(summary.TranscriptPath); readErr == nil {
			detail.TranscriptPreview = strings.TrimSpace(string(raw))
		}
	}
	return detail, nil
}
