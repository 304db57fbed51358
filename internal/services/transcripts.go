package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

// ErrNoTranscript means neither captions nor speech-to-text produced any
// usable text for the video.
var ErrNoTranscript = errors.New("no transcript could be produced")

// TranscriptResult describes where a transcript came from.
type TranscriptResult struct {
	Path   string
	Source string
	Title  string
	Chars  int
}

// TranscriptService builds and caches canonical transcript files. A cached
// file always wins; otherwise captions are tried first and speech-to-text is
// the fallback.
type TranscriptService interface {
	TranscriptPath(videoID string) string
	ResolveExistingPath(videoID string, rec *types.ArchiveRecord) string
	TranscriptStamp(path string) string
	EnsureTranscript(ctx context.Context, url, videoID, titleHint string) (TranscriptResult, error)
	EnsureCaptionsOnly(ctx context.Context, url, videoID, titleHint string) (TranscriptResult, error)
}

type transcriptService struct {
	log            *logger.Logger
	media          *ytdlp.Client
	stt            []llm.SpeechClient
	transcriptsDir string
	captionsDir    string
}

// NewTranscriptService wires the media source and the STT provider chain.
// sttChain is already ordered per VIDEO_STT_BACKEND; nil entries are skipped.
func NewTranscriptService(baseLog *logger.Logger, media *ytdlp.Client, sttChain []llm.SpeechClient, dataDir string) TranscriptService {
	var stt []llm.SpeechClient
	for _, c := range sttChain {
		if c != nil {
			stt = append(stt, c)
		}
	}
	return &transcriptService{
		log:            baseLog.With("service", "TranscriptService"),
		media:          media,
		stt:            stt,
		transcriptsDir: filepath.Join(dataDir, "transcripts"),
		captionsDir:    filepath.Join(dataDir, "captions"),
	}
}

func (s *transcriptService) TranscriptPath(videoID string) string {
	return filepath.Join(s.transcriptsDir, videoID+".txt")
}

// ResolveExistingPath prefers the recorded path when the file still exists,
// then the default location. Empty when no transcript file is on disk.
func (s *transcriptService) ResolveExistingPath(videoID string, rec *types.ArchiveRecord) string {
	if rec != nil && strings.TrimSpace(rec.TranscriptPath) != "" {
		if info, err := os.Stat(rec.TranscriptPath); err == nil && !info.IsDir() && info.Size() > 0 {
			return rec.TranscriptPath
		}
	}
	path := s.TranscriptPath(videoID)
	if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Size() > 0 {
		return path
	}
	return ""
}

// TranscriptStamp fingerprints the transcript file for cache keying:
// "<mtime_ns>:<size>", or "0:0" when the file is missing.
func (s *transcriptService) TranscriptStamp(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "0:0"
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())
}

func (s *transcriptService) EnsureTranscript(ctx context.Context, url, videoID, titleHint string) (TranscriptResult, error) {
	return s.ensure(ctx, url, videoID, titleHint, true)
}

// EnsureCaptionsOnly is the fast-mode variant: cached file or captions, never
// speech-to-text.
func (s *transcriptService) EnsureCaptionsOnly(ctx context.Context, url, videoID, titleHint string) (TranscriptResult, error) {
	return s.ensure(ctx, url, videoID, titleHint, false)
}

func (s *transcriptService) ensure(ctx context.Context, url, videoID, titleHint string, allowSpeech bool) (TranscriptResult, error) {
	path := s.TranscriptPath(videoID)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return TranscriptResult{
			Path:   path,
			Source: types.TranscriptSourceCached,
			Title:  titleHint,
			Chars:  int(info.Size()),
		}, nil
	}

	title := strings.TrimSpace(titleHint)

	body, captionTitle, err := s.fromCaptions(ctx, url, videoID)
	if err != nil {
		if !allowSpeech {
			return TranscriptResult{}, err
		}
		s.log.Info("Caption transcript unavailable, falling back to speech-to-text",
			"video_id", videoID, "error", err)
	}
	source := types.TranscriptSourceCaptions
	if title == "" && captionTitle != "" {
		title = captionTitle
	}

	if body == "" {
		if !allowSpeech {
			return TranscriptResult{}, ErrNoTranscript
		}
		body, err = s.fromSpeech(ctx, url, videoID)
		if err != nil {
			return TranscriptResult{}, err
		}
		source = types.TranscriptSourceSTT
	}
	if strings.TrimSpace(body) == "" {
		return TranscriptResult{}, ErrNoTranscript
	}

	if title == "" {
		title = videoID
	}
	if err := transcript.WriteFile(path, title, videoID, time.Now(), body); err != nil {
		return TranscriptResult{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{Path: path, Source: source, Title: title, Chars: int(info.Size())}, nil
}

// fromCaptions downloads English VTT captions into a scratch dir, keeps a
// copy of the chosen track under <data>/captions, and renders the canonical
// body.
func (s *transcriptService) fromCaptions(ctx context.Context, url, videoID string) (string, string, error) {
	workdir, err := os.MkdirTemp("", "captions-"+videoID+"-")
	if err != nil {
		return "", "", err
	}
	defer os.RemoveAll(workdir)

	vttPath, title, err := s.media.DownloadCaptions(ctx, url, workdir)
	if err != nil {
		return "", title, err
	}
	raw, err := os.ReadFile(vttPath)
	if err != nil {
		return "", title, err
	}
	segments := transcript.ParseVTT(string(raw))
	body := transcript.RenderBody(segments)
	if body == "" {
		return "", title, ErrNoTranscript
	}

	if err := os.MkdirAll(s.captionsDir, 0o755); err == nil {
		_ = os.WriteFile(filepath.Join(s.captionsDir, videoID+".vtt"), raw, 0o644)
	}
	return body, title, nil
}

// fromSpeech downloads the audio track once and walks the STT chain.
func (s *transcriptService) fromSpeech(ctx context.Context, url, videoID string) (string, error) {
	if len(s.stt) == 0 {
		return "", ErrNoTranscript
	}
	workdir, err := os.MkdirTemp("", "audio-"+videoID+"-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(workdir)

	audioPath, _, err := s.media.DownloadAudio(ctx, url, workdir)
	if err != nil {
		return "", fmt.Errorf("download audio for stt: %w", err)
	}

	var lastErr error
	for _, client := range s.stt {
		segments, err := client.Transcribe(ctx, audioPath, "")
		if err != nil {
			s.log.Warn("Speech-to-text provider failed, trying next",
				"provider", client.Name(), "video_id", videoID, "error", err)
			lastErr = err
			continue
		}
		if body := transcript.RenderBody(segments); body != "" {
			return body, nil
		}
		lastErr = fmt.Errorf("%s produced an empty transcript", client.Name())
	}
	if lastErr == nil {
		lastErr = ErrNoTranscript
	}
	return "", fmt.Errorf("%w: %v", ErrNoTranscript, lastErr)
}
