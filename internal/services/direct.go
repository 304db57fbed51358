package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// DirectMediaResult is the response of a temporary-URL resolution. The
// save_* fields only appear on the anti-bot fallback, where the UI must ask
// before a server-side save is started.
type DirectMediaResult struct {
	VideoID        string `json:"video_id"`
	Title          string `json:"title"`
	DownloadURL    string `json:"download_url"`
	MediaType      string `json:"media_type"`
	Temporary      bool   `json:"temporary"`
	SaveStarted    bool   `json:"save_started,omitempty"`
	SaveStatus     string `json:"save_status,omitempty"`
	SaveBusy       bool   `json:"save_busy,omitempty"`
	SaveBusyMsg    string `json:"save_busy_message,omitempty"`
	SaveJobID      string `json:"save_job_id,omitempty"`
	PublicURL      string `json:"public_url,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// ServerSaveResult reports a server-side archive save request.
type ServerSaveResult struct {
	SaveJobID   string `json:"save_job_id"`
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublicURL   string `json:"public_url"`
	Status      string `json:"status"`
	Busy        bool   `json:"busy,omitempty"`
	BusyMessage string `json:"busy_message,omitempty"`
}

// ActiveSave is the single server-save slot snapshot.
type ActiveSave struct {
	SaveJobID string `json:"save_job_id"`
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
}

// DirectMediaService resolves temporary googlevideo URLs and runs the
// one-at-a-time server-side save.
type DirectMediaService interface {
	DirectVideo(ctx context.Context, url string) (DirectMediaResult, error)
	DirectAudio(ctx context.Context, url string) (DirectMediaResult, error)
	StartServerSave(ctx context.Context, url string) (ServerSaveResult, error)
	ActiveServerSave() (ActiveSave, bool)
}

type directMediaService struct {
	log         *logger.Logger
	archive     repos.ArchiveIndexRepo
	media       *ytdlp.Client
	transcripts TranscriptService
	catalog     VideoCatalogService
	live        LiveService

	saveMu     sync.Mutex
	activeSave *ActiveSave
}

func NewDirectMediaService(
	baseLog *logger.Logger,
	archive repos.ArchiveIndexRepo,
	media *ytdlp.Client,
	transcripts TranscriptService,
	catalog VideoCatalogService,
	live LiveService,
) DirectMediaService {
	return &directMediaService{
		log:         baseLog.With("service", "DirectMediaService"),
		archive:     archive,
		media:       media,
		transcripts: transcripts,
		catalog:     catalog,
		live:        live,
	}
}

var ErrVideoIDUnresolved = errors.New("could not extract YouTube video ID from URL")

// resolveDirectTitle prefers a real candidate title, then the stored or
// transcript title, probing YouTube as a last resort.
func (s *directMediaService) resolveDirectTitle(ctx context.Context, url, videoID, candidate string) string {
	raw := strings.TrimSpace(candidate)
	if raw != "" && !IsVideoIDLike(raw) {
		return raw
	}

	vid := strings.TrimSpace(videoID)
	if vid == "" {
		vid = utils.ExtractYouTubeID(url)
	}
	if vid == "" {
		if raw != "" {
			return raw
		}
		return "Video"
	}

	rec, err := s.archive.GetRecord(ctx, nil, vid)
	if err != nil {
		s.log.Warn("Failed to load archive record for title", "video_id", vid, "error", err)
	}
	path := s.transcripts.ResolveExistingPath(vid, rec)
	resolved := strings.TrimSpace(resolveVideoTitle(vid, rec, path))
	if resolved != "" && !IsVideoIDLike(resolved) {
		return resolved
	}
	if info, perr := s.media.Probe(ctx, url); perr == nil {
		if title := strings.TrimSpace(info.Title); title != "" && !IsVideoIDLike(title) {
			return title
		}
	}
	return vid
}

func (s *directMediaService) directMedia(ctx context.Context, url string, kind ytdlp.MediaKind, mediaType string) (DirectMediaResult, error) {
	srcURL := strings.TrimSpace(url)
	if srcURL == "" {
		return DirectMediaResult{}, ErrURLRequired
	}
	videoID := utils.ExtractYouTubeID(srcURL)
	if videoID == "" {
		return DirectMediaResult{}, ErrVideoIDUnresolved
	}

	directURL, title, err := s.media.DirectMediaURL(ctx, srcURL, kind)
	if err != nil {
		low := strings.ToLower(err.Error())
		if mediaType == "video" && (errors.Is(err, ytdlp.ErrAntibotBlocked) || ytdlp.IsAntibotMessage(low) ||
			strings.Contains(low, "confirm youre not a bot")) {
			// The UI must explicitly opt into the server-side save.
			return DirectMediaResult{
				VideoID:        videoID,
				Title:          s.resolveDirectTitle(ctx, srcURL, videoID, ""),
				MediaType:      mediaType,
				Temporary:      true,
				SaveStatus:     "manual_required",
				FallbackReason: "youtube_antibot_direct_blocked",
			}, nil
		}
		return DirectMediaResult{}, err
	}

	return DirectMediaResult{
		VideoID:     videoID,
		Title:       s.resolveDirectTitle(ctx, srcURL, videoID, title),
		DownloadURL: directURL,
		MediaType:   mediaType,
		Temporary:   true,
	}, nil
}

func (s *directMediaService) DirectVideo(ctx context.Context, url string) (DirectMediaResult, error) {
	return s.directMedia(ctx, url, ytdlp.MediaVideo, "video")
}

func (s *directMediaService) DirectAudio(ctx context.Context, url string) (DirectMediaResult, error) {
	return s.directMedia(ctx, url, ytdlp.MediaAudio, "audio")
}

func (s *directMediaService) ActiveServerSave() (ActiveSave, bool) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.activeSave == nil {
		return ActiveSave{}, false
	}
	return *s.activeSave, true
}

// StartServerSave claims the single save slot and runs the download flow in
// the background. An already-archived video short-circuits to its link.
func (s *directMediaService) StartServerSave(ctx context.Context, url string) (ServerSaveResult, error) {
	srcURL := strings.TrimSpace(url)
	if srcURL == "" {
		return ServerSaveResult{}, ErrURLRequired
	}
	videoID := utils.ExtractYouTubeID(srcURL)

	publicURL := ""
	if videoID != "" {
		rec, err := s.archive.GetRecord(ctx, nil, videoID)
		if err != nil {
			s.log.Warn("Failed to load archive record", "video_id", videoID, "error", err)
		}
		if rec != nil {
			publicURL = s.catalog.ResolvePublicURL(videoID, rec)
		}
	}
	title := s.resolveDirectTitle(ctx, srcURL, videoID, "")

	if publicURL != "" {
		return ServerSaveResult{
			VideoID:   videoID,
			Title:     title,
			URL:       srcURL,
			PublicURL: publicURL,
			Status:    "already_saved",
		}, nil
	}

	s.saveMu.Lock()
	if s.activeSave != nil && s.activeSave.Status == "running" {
		active := *s.activeSave
		s.saveMu.Unlock()
		return ServerSaveResult{
			SaveJobID:   active.SaveJobID,
			VideoID:     active.VideoID,
			Title:       active.Title,
			URL:         active.URL,
			Status:      "busy",
			Busy:        true,
			BusyMessage: "Another save is already running. Please wait until it finishes.",
		}, nil
	}
	saveJobID := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.activeSave = &ActiveSave{
		SaveJobID: saveJobID,
		VideoID:   videoID,
		Title:     title,
		URL:       srcURL,
		Status:    "running",
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.saveMu.Unlock()

	go func() {
		defer func() {
			s.saveMu.Lock()
			if s.activeSave != nil && s.activeSave.SaveJobID == saveJobID {
				s.activeSave = nil
			}
			s.saveMu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Server save runner panicked", "url", srcURL, "panic", r)
			}
		}()
		s.live.RunDownloadFlow(context.Background(), srcURL, func(text string) {
			s.log.Info("Server save progress", "video_id", videoID, "message", firstLine(text))
		})
	}()

	return ServerSaveResult{
		SaveJobID: saveJobID,
		VideoID:   videoID,
		Title:     title,
		URL:       srcURL,
		PublicURL: publicURL,
		Status:    "started",
	}, nil
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}

