package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// ReplayService retries the plain VOD download of a live stream after the
// recording ended partial or saved. One worker per video id; the full file is
// stored next to the partial, never merged with it.
type ReplayService interface {
	ReplayScheduler
}

type replayService struct {
	log     *logger.Logger
	runtime *RuntimeState
	archive repos.ArchiveIndexRepo
	media   *ytdlp.Client

	storageDir    string
	publicBase    string
	retryWindow   time.Duration
	retryInterval time.Duration
	startDelay    time.Duration
}

func NewReplayService(
	baseLog *logger.Logger,
	runtime *RuntimeState,
	archive repos.ArchiveIndexRepo,
	media *ytdlp.Client,
	storageDir, publicBase string,
) ReplayService {
	log := baseLog.With("service", "ReplayService")
	return &replayService{
		log:           log,
		runtime:       runtime,
		archive:       archive,
		media:         media,
		storageDir:    storageDir,
		publicBase:    publicBase,
		retryWindow:   time.Duration(utils.GetEnvAsInt("FULL_REPLAY_RETRY_MINUTES", 360, log)) * time.Minute,
		retryInterval: time.Duration(utils.GetEnvAsInt("FULL_REPLAY_RETRY_INTERVAL_SEC", 60, log)) * time.Second,
		startDelay:    10 * time.Second,
	}
}

// ScheduleFullReplay registers at most one background replay worker per
// video id. Repeated calls while a worker runs are no-ops.
func (s *replayService) ScheduleFullReplay(url, videoID, title, dateKey, serviceLabel string) {
	if !s.runtime.TryRegisterReplayTask(videoID) {
		return
	}
	go func() {
		defer s.runtime.FinishReplayTask(videoID)
		s.tryDownloadFullReplay(context.Background(), url, videoID, title, dateKey, serviceLabel)
	}()
}

func isReplayBlockMessage(low string) bool {
	return ytdlp.IsAntibotMessage(low) || strings.Contains(low, "no video formats found")
}

func (s *replayService) tryDownloadFullReplay(ctx context.Context, url, videoID, title, dateKey, serviceLabel string) {
	log := s.log.With("video_id", videoID)
	sleepCtx(ctx, s.startDelay)

	deadline := time.Now().Add(s.retryWindow)
	lastPrivate := false

	for !time.Now().After(deadline) {
		if ctx.Err() != nil {
			return
		}

		info, err := s.media.Probe(ctx, url)
		if err != nil {
			low := strings.ToLower(utils.StripANSI(err.Error()))
			switch {
			case errors.Is(err, ytdlp.ErrPrivateUnavailable) || looksLikePrivateUnavailable(low) ||
				(strings.Contains(low, "private") && strings.Contains(low, "unavailable")):
				lastPrivate = true
				sleepCtx(ctx, s.retryInterval)
				continue
			case errors.Is(err, ytdlp.ErrAntibotBlocked) || isReplayBlockMessage(low):
				log.Warn("Full replay aborted, YouTube is blocking this server",
					"message", "⚠️ Could not download FULL replay because YouTube is blocking this server.\nYour LIVE part is kept.\nFix: residential proxy/VPN + fresh cookies.")
				return
			default:
				sleepCtx(ctx, s.retryInterval)
				continue
			}
		}

		if isLiveLike(info) {
			sleepCtx(ctx, s.retryInterval)
			continue
		}

		fullName := utils.MakeSavedFullFilename(title, videoID)
		outputTemplate := strings.Replace(filepath.Join(s.storageDir, fullName), ".mp4", ".%(ext)s", 1)

		finalPath, err := s.media.DownloadWithProgress(ctx, url, videoID, outputTemplate, ytdlp.DownloadOptions{})
		if err != nil {
			low := strings.ToLower(utils.StripANSI(err.Error()))
			switch {
			case errors.Is(err, ytdlp.ErrPrivateUnavailable) || looksLikePrivateUnavailable(low) || strings.Contains(low, "private"):
				lastPrivate = true
				sleepCtx(ctx, s.retryInterval)
				continue
			case errors.Is(err, ytdlp.ErrAntibotBlocked) || isReplayBlockMessage(low):
				log.Warn("Full replay aborted, YouTube is blocking this server",
					"message", "⚠️ Could not download FULL replay because YouTube is blocking this server.\nYour LIVE part is kept.\nFix: residential proxy/VPN + fresh cookies.")
				return
			default:
				sleepCtx(ctx, s.retryInterval)
				continue
			}
		}

		if finalPath == "" {
			finalPath = ytdlp.AnyExistingMediaForVideo(s.storageDir, videoID)
		}
		if finalPath == "" {
			sleepCtx(ctx, s.retryInterval)
			continue
		}

		filename := filepath.Base(finalPath)
		publicName := ensurePublicFilename(s.storageDir, videoID, filename)
		link := utils.BuildPublicURL(s.publicBase, publicName)

		rec, uerr := s.archive.UpdateRecord(ctx, nil, videoID, func(rec *types.ArchiveRecord) {
			if dateKey != "" && rec.DateKey == "" {
				rec.DateKey = dateKey
			}
			if serviceLabel != "" && rec.ServiceLabel == "" {
				rec.ServiceLabel = serviceLabel
			}
			rec.FullFilename = filename
			rec.FullPublicURL = link
			if rec.Status == "" || rec.Status == types.StatusFailed {
				rec.Status = types.StatusSaved
			}
			if rec.Title == "" {
				rec.Title = title
			}
		})
		if uerr != nil {
			log.Warn("Failed to persist full replay result", "error", uerr)
			return
		}

		sessionLine := ""
		if rec.DateKey != "" && rec.ServiceLabel != "" {
			sessionLine = fmt.Sprintf("📅 %s - %s\n", rec.DateKey, rec.ServiceLabel)
		}
		log.Info("Full replay saved",
			"message", fmt.Sprintf("✅ FULL replay saved separately (no merge).\n🎬 %s\n%s🔗 %s", title, sessionLine, link))
		return
	}

	windowMinutes := int(s.retryWindow.Minutes())
	if lastPrivate {
		log.Info("Full replay window expired",
			"message", fmt.Sprintf("ℹ️ FULL replay is still private/unavailable after %d minutes.\nI kept the recorded part.", windowMinutes))
		return
	}
	log.Info("Full replay window expired",
		"message", fmt.Sprintf("ℹ️ Could not get FULL replay within %d minutes.\nI kept the recorded part.", windowMinutes))
}
