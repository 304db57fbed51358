package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

var ErrBadVideoURL = errors.New("could not extract a YouTube video ID from this URL")

// SaveTranscriptResult reports a transcript fetched (or reused) for a URL.
type SaveTranscriptResult struct {
	VideoID        string `json:"video_id"`
	Title          string `json:"title"`
	TranscriptPath string `json:"transcript_path"`
	Source         string `json:"source"`
	Cached         bool   `json:"cached"`
}

// ClearHistoryResult counts what a history wipe removed.
type ClearHistoryResult struct {
	RemovedIndexEntries int `json:"removed_index_entries"`
	RemovedTranscripts  int `json:"removed_transcripts"`
	RemovedCaptions     int `json:"removed_captions"`
}

// LibraryService covers the archive-wide flows that do not belong to a single
// recording: pulling a transcript straight from a URL and wiping the library.
type LibraryService interface {
	SaveTranscriptFromURL(ctx context.Context, url string, force bool) (SaveTranscriptResult, error)
	ClearHistory(ctx context.Context, deleteFiles bool) (ClearHistoryResult, error)
}

type libraryService struct {
	log         *logger.Logger
	archive     repos.ArchiveIndexRepo
	transcripts TranscriptService

	transcriptsDir string
	captionsDir    string
}

func NewLibraryService(baseLog *logger.Logger, archive repos.ArchiveIndexRepo, transcripts TranscriptService, dataDir string) LibraryService {
	return &libraryService{
		log:            baseLog.With("service", "LibraryService"),
		archive:        archive,
		transcripts:    transcripts,
		transcriptsDir: filepath.Join(dataDir, "transcripts"),
		captionsDir:    filepath.Join(dataDir, "captions"),
	}
}

func (s *libraryService) SaveTranscriptFromURL(ctx context.Context, url string, force bool) (SaveTranscriptResult, error) {
	srcURL := strings.TrimSpace(url)
	videoID := safeVideoID(utils.ExtractYouTubeID(srcURL))
	if videoID == "" {
		return SaveTranscriptResult{}, ErrBadVideoURL
	}

	rec, err := s.archive.GetRecord(ctx, nil, videoID)
	if err != nil {
		return SaveTranscriptResult{}, err
	}

	existing := s.transcripts.ResolveExistingPath(videoID, rec)
	if !force && existing != "" {
		title := resolveVideoTitle(videoID, rec, existing)
		if title != "" && !IsVideoIDLike(title) {
			current := ""
			if rec != nil {
				current = strings.TrimSpace(rec.Title)
			}
			if current != title {
				if _, uerr := s.archive.UpdateRecord(ctx, nil, videoID, func(r *types.ArchiveRecord) {
					r.Title = title
				}); uerr != nil {
					s.log.Warn("Failed to refresh stored video title", "video_id", videoID, "error", uerr)
				}
			}
		}
		source := types.TranscriptSourceCached
		if rec != nil && strings.TrimSpace(rec.TranscriptSource) != "" {
			source = rec.TranscriptSource
		}
		return SaveTranscriptResult{
			VideoID:        videoID,
			Title:          title,
			TranscriptPath: existing,
			Source:         source,
			Cached:         true,
		}, nil
	}

	// Force keeps the old file aside so a failed refresh does not lose it.
	backup := ""
	if force && existing != "" {
		backup = existing + ".bak"
		if rerr := os.Rename(existing, backup); rerr != nil {
			backup = ""
		}
	}

	tr, err := s.transcripts.EnsureTranscript(ctx, srcURL, videoID, "")
	if err != nil {
		if backup != "" {
			_ = os.Rename(backup, existing)
		}
		return SaveTranscriptResult{}, err
	}
	if backup != "" {
		_ = os.Remove(backup)
	}

	title := strings.TrimSpace(tr.Title)
	if title == "" {
		title = videoID
	}
	if _, uerr := s.archive.UpdateRecord(ctx, nil, videoID, func(r *types.ArchiveRecord) {
		if title != "" && !IsVideoIDLike(title) {
			r.Title = title
		}
		r.TranscriptPath = tr.Path
		r.TranscriptSource = tr.Source
		r.TranscriptChars = tr.Chars
	}); uerr != nil {
		s.log.Warn("Failed to record transcript on archive entry", "video_id", videoID, "error", uerr)
	}

	return SaveTranscriptResult{
		VideoID:        videoID,
		Title:          title,
		TranscriptPath: tr.Path,
		Source:         tr.Source,
		Cached:         false,
	}, nil
}

// ClearHistory wipes the archive index and, optionally, the transcript and
// caption files. Research runs and Q&A history are untouched.
func (s *libraryService) ClearHistory(ctx context.Context, deleteFiles bool) (ClearHistoryResult, error) {
	var out ClearHistoryResult

	idx, err := s.archive.LoadIndex(ctx, nil)
	if err != nil {
		return out, err
	}
	out.RemovedIndexEntries = len(idx)
	if err := s.archive.SaveIndex(ctx, nil, map[string]*types.ArchiveRecord{}); err != nil {
		return out, err
	}

	if deleteFiles {
		out.RemovedTranscripts = removeMatchingFiles(filepath.Join(s.transcriptsDir, "*.txt"))
		out.RemovedCaptions = removeMatchingFiles(filepath.Join(s.captionsDir, "*"))
	}
	s.log.Info("Cleared history",
		"index_entries", out.RemovedIndexEntries,
		"transcripts", out.RemovedTranscripts,
		"captions", out.RemovedCaptions)
	return out, nil
}

func removeMatchingFiles(pattern string) int {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0
	}
	removed := 0
	for _, p := range matches {
		info, serr := os.Stat(p)
		if serr != nil || info.IsDir() {
			continue
		}
		if os.Remove(p) == nil {
			removed++
		}
	}
	return removed
}
