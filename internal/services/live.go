package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// ErrURLRequired and ErrVideoIDRequired guard the service entry points;
// handlers translate them to 400 responses.
var (
	ErrURLRequired     = errors.New("url is required")
	ErrVideoIDRequired = errors.New("video_id is required")
)

// Startup outcomes reported by StartLive. "requested" means the runner is
// still probing when the startup wait expires; the recording may yet start.
const (
	LiveStartupRequested      = "requested"
	LiveStartupStarted        = "started"
	LiveStartupAlreadyRunning = "already_running"
	LiveStartupArchived       = "archived"
	LiveStartupUpcoming       = "upcoming"
	LiveStartupFailed         = "failed"
)

type LiveStartResult struct {
	LiveJobID      string `json:"live_job_id"`
	VideoID        string `json:"video_id"`
	URL            string `json:"url"`
	Status         string `json:"status"`
	StartupStatus  string `json:"startup_status"`
	StartupMessage string `json:"startup_message"`
}

type LiveStopResult struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

// ReplayScheduler schedules the background full-replay retry after a live
// recording ends partial or saved. Nil disables scheduling.
type ReplayScheduler interface {
	ScheduleFullReplay(url, videoID, title, dateKey, serviceLabel string)
}

// LiveService supervises live and VOD recordings: one worker per video id,
// upcoming-stream waiting, stop/stuck/private handling, and archive status
// persistence. RunDownloadFlow is exposed so the direct server-save flow can
// reuse the same state machine.
type LiveService interface {
	StartLive(ctx context.Context, url string) (LiveStartResult, error)
	StopLive(videoID string) (LiveStopResult, error)
	RunDownloadFlow(ctx context.Context, url string, notify func(text string))
}

type liveService struct {
	log         *logger.Logger
	runtime     *RuntimeState
	archive     repos.ArchiveIndexRepo
	media       *ytdlp.Client
	replay      ReplayScheduler
	notes       NotesService
	transcripts TranscriptService

	storageDir    string
	publicBase    string
	localTZ       *time.Location
	splitHour     int
	upcomingWait  time.Duration
	upcomingPoll  time.Duration
	liveFromStart bool
	enableReplay  bool
	autoNotes     bool
	retentionDays int
	startupWait   time.Duration
	progressEvery time.Duration
}

func NewLiveService(
	baseLog *logger.Logger,
	runtime *RuntimeState,
	archive repos.ArchiveIndexRepo,
	media *ytdlp.Client,
	replay ReplayScheduler,
	notes NotesService,
	transcripts TranscriptService,
	storageDir, publicBase string,
) LiveService {
	log := baseLog.With("service", "LiveService")
	tzName := utils.GetEnv("LOCAL_TZ_NAME", "America/New_York", log)
	localTZ, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warn("Unknown LOCAL_TZ_NAME, using UTC", "tz", tzName, "error", err)
		localTZ = time.UTC
	}
	return &liveService{
		log:           log,
		runtime:       runtime,
		archive:       archive,
		media:         media,
		replay:        replay,
		notes:         notes,
		transcripts:   transcripts,
		storageDir:    storageDir,
		publicBase:    publicBase,
		localTZ:       localTZ,
		splitHour:     utils.GetEnvAsInt("SESSION_SPLIT_HOUR", 17, log),
		upcomingWait:  time.Duration(utils.GetEnvAsInt("UPCOMING_WAIT_SEC", 3600, log)) * time.Second,
		upcomingPoll:  time.Duration(utils.GetEnvAsInt("UPCOMING_POLL_SEC", 15, log)) * time.Second,
		liveFromStart: utils.GetEnvAsBool("LIVE_FROM_START", true, log),
		enableReplay:  utils.GetEnvAsBool("ENABLE_FULL_REPLAY_RETRY", false, log),
		autoNotes:     utils.GetEnvAsBool("AUTO_VIDEO_NOTES_FOR_LIVE", true, log),
		retentionDays: utils.GetEnvAsInt("RETENTION_DAYS", 60, log),
		startupWait:   time.Duration(utils.GetEnvAsFloat("LIVE_STARTUP_WAIT_SEC", 8.0, log) * float64(time.Second)),
		progressEvery: 3 * time.Second,
	}
}

// liveSignal collects the runner's status messages so StartLive can report a
// startup outcome without waiting for the whole recording.
type liveSignal struct {
	mu      sync.Mutex
	status  string
	message string
	errText string
	done    bool
}

func newLiveSignal() *liveSignal {
	return &liveSignal{status: "pending"}
}

// classifyLiveMessage maps a runner status message to a startup outcome.
// "pending" means the message carries no terminal signal yet.
func classifyLiveMessage(clean string) string {
	low := strings.ToLower(clean)
	switch {
	case strings.Contains(low, "already being recorded"):
		return LiveStartupAlreadyRunning
	case strings.Contains(low, "live recording started"):
		return LiveStartupStarted
	case strings.Contains(low, "saving archived live"):
		return LiveStartupArchived
	case strings.Contains(low, "live is planned (upcoming)"):
		return LiveStartupUpcoming
	case strings.Contains(low, "timed out. live did not start"):
		return LiveStartupFailed
	case strings.Contains(low, "could not read video info"), strings.Contains(low, "download failed"):
		return LiveStartupFailed
	case strings.Contains(clean, "⚠️"), strings.Contains(clean, "❌"), strings.Contains(clean, "🔒"):
		return LiveStartupFailed
	}
	return "pending"
}

func (s *liveSignal) observe(text string) {
	clean := utils.CollapseWhitespace(text)
	if clean == "" {
		return
	}
	status := classifyLiveMessage(clean)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = clipRunes(clean, 2400)
	if status != "pending" {
		s.status = status
		if status == LiveStartupFailed {
			s.errText = clipRunes(clean, 2400)
		}
	}
}

func (s *liveSignal) markFailed(err string) {
	msg := clipRunes(utils.CollapseWhitespace(err), 2400)
	if msg == "" {
		msg = "Live runner failed."
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = LiveStartupFailed
	s.errText = msg
	if s.message == "" {
		s.message = msg
	}
}

func (s *liveSignal) markDone() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *liveSignal) snapshot() (status, message, errText string, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.message, s.errText, s.done
}

// StartLive spawns the recording runner and waits a short startup window for
// a classifiable outcome. The runner keeps going after StartLive returns.
func (s *liveService) StartLive(ctx context.Context, url string) (LiveStartResult, error) {
	srcURL := strings.TrimSpace(url)
	if srcURL == "" {
		return LiveStartResult{}, ErrURLRequired
	}
	videoID := utils.ExtractYouTubeID(srcURL)

	liveJobID := strings.ReplaceAll(uuid.NewString(), "-", "")
	signal := newLiveSignal()

	go func() {
		defer signal.markDone()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Live runner panicked", "url", srcURL, "panic", r)
				signal.markFailed("Live runner failed.")
			}
		}()
		s.RunDownloadFlow(context.Background(), srcURL, signal.observe)
	}()

	startupWait := s.startupWait
	if startupWait < 2*time.Second {
		startupWait = 2 * time.Second
	}
	deadline := time.Now().Add(startupWait)
	startupStatus := LiveStartupRequested
	startupMessage := ""

	for time.Now().Before(deadline) {
		if videoID != "" && s.runtime.IsLiveActive(videoID) {
			startupStatus = LiveStartupStarted
			break
		}
		status, message, errText, done := signal.snapshot()
		if status != "pending" && status != LiveStartupRequested {
			startupStatus = status
			startupMessage = firstNonEmpty(errText, message)
			break
		}
		if done {
			startupStatus = LiveStartupFailed
			startupMessage = firstNonEmpty(errText, message, "Live runner exited before startup.")
			break
		}
		select {
		case <-ctx.Done():
			startupStatus = LiveStartupRequested
		case <-time.After(250 * time.Millisecond):
			continue
		}
		break
	}

	if startupMessage == "" {
		_, message, errText, _ := signal.snapshot()
		startupMessage = firstNonEmpty(errText, message)
	}
	if startupStatus == LiveStartupRequested && videoID != "" && s.runtime.IsLiveActive(videoID) {
		startupStatus = LiveStartupStarted
	}

	return LiveStartResult{
		LiveJobID:      liveJobID,
		VideoID:        videoID,
		URL:            srcURL,
		Status:         startupStatus,
		StartupStatus:  startupStatus,
		StartupMessage: startupMessage,
	}, nil
}

// StopLive sets the stop bit for an active recording. The downloader polls
// the bit and winds down with a partial save.
func (s *liveService) StopLive(videoID string) (LiveStopResult, error) {
	vid := strings.TrimSpace(videoID)
	if vid == "" {
		return LiveStopResult{}, ErrVideoIDRequired
	}
	active, ok := s.runtime.GetActiveLive(vid)
	if !ok {
		return LiveStopResult{VideoID: vid, Status: "already_finished"}, nil
	}
	if !s.runtime.RequestLiveStop(vid) {
		return LiveStopResult{VideoID: vid, Status: "already_finished"}, nil
	}
	return LiveStopResult{VideoID: vid, Title: active.Title, Status: "stop_requested"}, nil
}

// --- live metadata helpers -------------------------------------------------

func liveStatusOf(info *ytdlp.VideoInfo) string {
	if info == nil {
		return ""
	}
	return strings.TrimSpace(strings.ToLower(info.LiveStatus))
}

func isLiveLike(info *ytdlp.VideoInfo) bool {
	switch liveStatusOf(info) {
	case "is_live", "live", "is_upcoming", "was_live", "post_live":
		return true
	}
	return info != nil && info.IsLive
}

func isUpcoming(info *ytdlp.VideoInfo) bool {
	return liveStatusOf(info) == "is_upcoming"
}

func looksLikeLiveURL(url string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(url)), "youtube.com/live/")
}

// pickLiveStart returns the best-known start time from probe metadata:
// actual live start, then scheduled release, then upload timestamp.
func pickLiveStart(info *ytdlp.VideoInfo) (time.Time, bool) {
	if info == nil {
		return time.Time{}, false
	}
	for _, ts := range []int64{info.LiveStartTimestamp, info.ReleaseTimestamp, info.Timestamp} {
		if ts > 0 {
			return time.Unix(ts, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// resolveLiveStartedUTC prefers YouTube's live_start_timestamp, re-probing
// once to pick it up after the stream has actually begun. Falls back to the
// scheduled time, then to now.
func (s *liveService) resolveLiveStartedUTC(ctx context.Context, url string, info *ytdlp.VideoInfo) time.Time {
	if info != nil && info.LiveStartTimestamp > 0 {
		return time.Unix(info.LiveStartTimestamp, 0).UTC()
	}
	if latest, err := s.media.Probe(ctx, url); err == nil && latest.LiveStartTimestamp > 0 {
		return time.Unix(latest.LiveStartTimestamp, 0).UTC()
	}
	if start, ok := pickLiveStart(info); ok {
		return start
	}
	return time.Now().UTC()
}

var publicAliasIDRE = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ensurePublicFilename creates an `<id>.<ext>` alias next to the saved file
// so public links survive title edits. Returns the name to publish.
func ensurePublicFilename(storageDir, videoID, filename string) string {
	safeID := publicAliasIDRE.ReplaceAllString(strings.TrimSpace(videoID), "")
	if safeID == "" {
		return filename
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	alias := safeID + ext
	if filepath.Base(filename) == alias {
		return filename
	}
	src := filepath.Join(storageDir, filename)
	dst := filepath.Join(storageDir, alias)
	if _, err := os.Stat(src); err != nil {
		return filename
	}
	if _, err := os.Lstat(dst); err == nil {
		return alias
	}
	if err := os.Symlink(filename, dst); err != nil {
		if err := os.Link(src, dst); err != nil {
			return filename
		}
	}
	return alias
}

func clipRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
