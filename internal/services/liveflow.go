package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

func looksLikePrivateUnavailable(low string) bool {
	return (strings.Contains(low, "video unavailable") && strings.Contains(low, "private")) ||
		strings.Contains(low, "this video is private")
}

// waitForUpcomingToStart polls the probe until the stream leaves upcoming
// status or the wait window closes. Progress messages are throttled to one
// per 10s. Nil means the wait timed out (or the context was cancelled).
func (s *liveService) waitForUpcomingToStart(ctx context.Context, url, title string, notify func(string)) *ytdlp.VideoInfo {
	deadline := time.Now().Add(s.upcomingWait)
	var lastEdit time.Time

	for !time.Now().After(deadline) {
		if ctx.Err() != nil {
			return nil
		}
		info, err := s.media.Probe(ctx, url)
		if err != nil {
			sleepCtx(ctx, s.upcomingPoll)
			continue
		}
		if !isUpcoming(info) {
			return info
		}

		if lastEdit.IsZero() || time.Since(lastEdit) >= 10*time.Second {
			lastEdit = time.Now()
			schedTxt := ""
			if sched, ok := pickLiveStart(info); ok {
				schedTxt = "\n🗓 Scheduled (local): " + sched.In(s.localTZ).Format("2006-01-02 03:04 PM")
			}
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			notify(fmt.Sprintf(
				"⏳ LIVE is planned (upcoming). Waiting for it to start...\n🎬 %s%s\n⏱ Max wait: %d min | Remaining: %d min",
				title, schedTxt, int(s.upcomingWait.Minutes()), int(remaining.Minutes())))
		}

		sleepCtx(ctx, s.upcomingPoll)
	}
	return nil
}

// RunDownloadFlow drives one recording from probe to terminal archive
// status. notify receives every user-facing status message; the caller
// decides where those go (startup signal, logs, a chat surface).
func (s *liveService) RunDownloadFlow(ctx context.Context, url string, notify func(string)) {
	if notify == nil {
		notify = func(string) {}
	}

	info, err := s.media.Probe(ctx, url)
	if err != nil {
		emsg := utils.StripANSI(err.Error())
		low := strings.ToLower(emsg)

		if strings.Contains(low, "will begin in a few moments") {
			waitTitle := utils.ExtractYouTubeID(url)
			if waitTitle == "" {
				waitTitle = "Live"
			}
			waited := s.waitForUpcomingToStart(ctx, url, waitTitle, notify)
			if waited == nil {
				notify(fmt.Sprintf("⌛️ Timed out. LIVE did not start within %d minutes.\n🎬 %s",
					int(s.upcomingWait.Minutes()), waitTitle))
				return
			}
			info = waited
		} else {
			switch {
			case errors.Is(err, ytdlp.ErrAntibotBlocked) || ytdlp.IsAntibotMessage(low):
				notify("⚠️ YouTube blocked the server request (anti-bot check).\n" +
					"Fix: refresh cookies and usually use a residential proxy/VPN for the server.")
			case strings.Contains(low, "no video formats found"):
				notify("⚠️ YouTube did not provide formats to this server.\n" +
					"Fix: route yt-dlp through a residential proxy/VPN and try again.")
			case errors.Is(err, ytdlp.ErrPrivateUnavailable) || looksLikePrivateUnavailable(low):
				notify("🔒 This video is private.\n" +
					"The server needs valid YouTube cookies from an account that can access it.")
			default:
				notify("❌ Could not read video info:\n" + clipRunes(emsg, 1200))
			}
			return
		}
	}

	videoID := firstNonEmpty(info.ID, utils.ExtractYouTubeID(url), "unknown")
	title := firstNonEmpty(info.Title, videoID)
	channel := firstNonEmpty(info.Uploader, info.Channel, "Unknown")
	log := s.log.With("video_id", videoID)
	s.runtime.ClearLiveStopRequest(videoID)

	if isUpcoming(info) {
		waited := s.waitForUpcomingToStart(ctx, url, title, notify)
		if waited == nil {
			notify(fmt.Sprintf("⌛️ Timed out. LIVE did not start within %d minutes.\n🎬 %s",
				int(s.upcomingWait.Minutes()), title))
			return
		}
		info = waited
	}

	live := isLiveLike(info) || looksLikeLiveURL(url)
	ls := liveStatusOf(info)
	activeLiveNow := ls == "is_live" || ls == "live" || ls == "is_upcoming" || info.IsLive
	archivedLiveMode := live && looksLikeLiveURL(url) && !activeLiveNow

	if live && !archivedLiveMode {
		if a, ok := s.runtime.GetActiveLive(videoID); ok {
			s.notifyAlreadyRecording(notify, a)
			return
		}
	}

	outputTemplate := filepath.Join(s.storageDir, utils.SanitizeFilename(title)+" ["+videoID+"].%(ext)s")

	if live {
		startUTC := s.resolveLiveStartedUTC(ctx, url, info)
		startLocal := startUTC.In(s.localTZ)
		dateKey := startLocal.Format("2006-01-02")
		serviceKey, serviceLabel := utils.ClassifyServiceByStart(startLocal, s.splitHour)

		if archivedLiveMode {
			notify(fmt.Sprintf(
				"📼 Saving archived LIVE...\n🎬 %s\n⏱ Live started (local): %s\n📂 Session: %s",
				title, startLocal.Format("03:04 PM"), serviceLabel))
		} else {
			active := ActiveLive{
				VideoID:      videoID,
				URL:          url,
				Title:        title,
				Channel:      channel,
				StartedLocal: startLocal,
				DateKey:      dateKey,
				ServiceKey:   serviceKey,
				ServiceLabel: serviceLabel,
				StartedAt:    time.Now(),
			}
			if !s.runtime.TryPutActiveLive(active) {
				if a, ok := s.runtime.GetActiveLive(videoID); ok {
					s.notifyAlreadyRecording(notify, a)
				}
				return
			}
			dvrLine := ""
			if s.liveFromStart {
				dvrLine = "🧲 Trying from start (DVR)...\n"
			}
			notify(fmt.Sprintf(
				"🔴 LIVE recording started!\n🎬 %s\n⏱ Live started (local): %s\n📂 Session: %s\n\n%sI will keep recording until the stream ends.",
				title, startLocal.Format("03:04 PM"), serviceLabel, dvrLine))
		}

		if _, err := s.archive.UpdateRecord(ctx, nil, videoID, func(rec *types.ArchiveRecord) {
			rec.SourceURL = url
			rec.Title = title
			rec.Channel = channel
			rec.StartedUTC = startUTC.Format(time.RFC3339)
			rec.StartedLocal = startLocal.Format(time.RFC3339)
			rec.DateKey = dateKey
			rec.ServiceKey = serviceKey
			rec.ServiceLabel = serviceLabel
			rec.Status = types.StatusRecording
		}); err != nil {
			log.Warn("Failed to persist recording status", "error", err)
		}
	} else {
		notify("⏳ Starting download...\n🎬 " + title)
	}

	var lastProgress time.Time
	onProgress := func(ev ytdlp.ProgressEvent) {
		now := time.Now()
		if now.Sub(lastProgress) < s.progressEvery {
			return
		}
		lastProgress = now
		if ev.Kind == ytdlp.ProgressPercent {
			notify(fmt.Sprintf("⬇️ Downloading: %.1f%%\n⚡ %s\n⏱ ETA: %s\n🎬 %s", ev.Pct, ev.Speed, ev.ETA, title))
			return
		}
		prefix := "🔴 Recording LIVE..."
		if archivedLiveMode {
			prefix = "📼 Saving archived LIVE..."
		}
		notify(prefix + "\n🎬 " + title + "\n\n" + clipRunes(ev.Raw, 600))
	}

	var extraArgs []string
	if live && s.liveFromStart {
		extraArgs = append(extraArgs, "--live-from-start")
	}
	var shouldStop func() bool
	if live {
		shouldStop = func() bool { return s.runtime.IsLiveStopRequested(videoID) }
	}

	finalPath, err := s.media.DownloadWithProgress(ctx, url, videoID, outputTemplate, ytdlp.DownloadOptions{
		IsLive:     live,
		ExtraArgs:  extraArgs,
		ShouldStop: shouldStop,
		OnProgress: onProgress,
	})
	if err != nil {
		s.handleDownloadError(ctx, err, url, videoID, title, info, live, archivedLiveMode, notify)
		return
	}

	if finalPath == "" {
		finalPath = ytdlp.AnyExistingMediaForVideo(s.storageDir, videoID)
	}
	if finalPath == "" {
		if live {
			s.runtime.RemoveActiveLive(videoID)
			if _, uerr := s.archive.UpdateRecord(ctx, nil, videoID, func(rec *types.ArchiveRecord) {
				rec.Status = types.StatusPartial
			}); uerr != nil {
				log.Warn("Failed to persist partial status", "error", uerr)
			}
		}
		notify("✅ Finished, but I could not detect the output filename.")
		return
	}

	filename := filepath.Base(finalPath)
	publicName := ensurePublicFilename(s.storageDir, videoID, filename)
	link := utils.BuildPublicURL(s.publicBase, publicName)

	if live {
		startUTC := s.resolveLiveStartedUTC(ctx, url, info)
		startLocal := startUTC.In(s.localTZ)
		dateKey := startLocal.Format("2006-01-02")
		serviceKey, serviceLabel := utils.ClassifyServiceByStart(startLocal, s.splitHour)

		if _, uerr := s.archive.UpdateRecord(ctx, nil, videoID, func(rec *types.ArchiveRecord) {
			rec.StartedUTC = startUTC.Format(time.RFC3339)
			rec.StartedLocal = startLocal.Format(time.RFC3339)
			rec.DateKey = dateKey
			rec.ServiceKey = serviceKey
			rec.ServiceLabel = serviceLabel
			rec.Filename = filename
			rec.PublicURL = link
			rec.Status = types.StatusSaved
			if rec.Title == "" {
				rec.Title = title
			}
		}); uerr != nil {
			log.Warn("Failed to persist saved status", "error", uerr)
		}
		s.runtime.RemoveActiveLive(videoID)

		statusLine := "✅ LIVE part saved!"
		if archivedLiveMode {
			statusLine = "✅ Archived LIVE saved!"
		}
		followup := ""
		if !archivedLiveMode {
			if s.enableReplay {
				followup = "\n\n🕵️ Now I will keep trying to save the FULL replay separately (no merge)."
			} else {
				followup = "\n\nℹ️ Full replay follow-up is disabled to keep the saved part untouched."
			}
		}
		notify(fmt.Sprintf("%s\n🎬 %s\n📅 %s - %s\n🔗 %s\n🗑 Auto-delete after %d days.%s",
			statusLine, title, dateKey, serviceLabel, link, s.retentionDays, followup))

		if s.enableReplay && !archivedLiveMode && s.replay != nil {
			s.replay.ScheduleFullReplay(url, videoID, title, dateKey, serviceLabel)
		}
		if s.autoNotes {
			go s.runAutoNotes(url, videoID, title)
		}
		return
	}

	notify("✅ Done!\n📥 Download link:\n" + link)
}

func (s *liveService) notifyAlreadyRecording(notify func(string), a ActiveLive) {
	mins := int(time.Since(a.StartedAt).Minutes())
	notify(fmt.Sprintf(
		"🔴 This LIVE is already being recorded.\n🎬 %s\n⏱ Started ~%d min ago.\nI will not start a second recording.",
		a.Title, mins))
}

// handleDownloadError maps a terminal downloader error to the archive status
// and user message it deserves.
func (s *liveService) handleDownloadError(ctx context.Context, err error, url, videoID, title string, info *ytdlp.VideoInfo, live, archivedLiveMode bool, notify func(string)) {
	reason := utils.StripANSI(err.Error())
	log := s.log.With("video_id", videoID)

	if live && errors.Is(err, ytdlp.ErrLiveStopRequested) {
		link := ""
		savedName := ""
		if partFile := ytdlp.NewestPartForVideo(s.storageDir, videoID); partFile != "" {
			partialName := utils.MakeSavedPartialFilename(title, videoID)
			if cerr := copyFile(partFile, filepath.Join(s.storageDir, partialName)); cerr == nil {
				savedName = partialName
				publicName := ensurePublicFilename(s.storageDir, videoID, savedName)
				link = utils.BuildPublicURL(s.publicBase, publicName)
			} else {
				log.Warn("Failed to copy partial file", "error", cerr)
			}
		}
		if _, uerr := s.archive.UpdateRecord(ctx, nil, videoID, func(rec *types.ArchiveRecord) {
			rec.Status = types.StatusStopped
			if savedName != "" {
				rec.Filename = savedName
			}
			if link != "" {
				rec.PublicURL = link
			}
			if rec.Title == "" {
				rec.Title = title
			}
		}); uerr != nil {
			log.Warn("Failed to persist stopped status", "error", uerr)
		}
		s.runtime.RemoveActiveLive(videoID)

		linkLine := ""
		if link != "" {
			linkLine = "🔗 Saved part: " + link + "\n"
		}
		notify(fmt.Sprintf("🛑 LIVE recording stopped by user.\n%s🗑 Auto-delete after %d days.",
			linkLine, s.retentionDays))
		return
	}

	if live && (errors.Is(err, ytdlp.ErrLiveStuckTimeout) || errors.Is(err, ytdlp.ErrLiveBecamePrivate)) {
		startUTC := s.resolveLiveStartedUTC(ctx, url, info)
		startLocal := startUTC.In(s.localTZ)
		dateKey := startLocal.Format("2006-01-02")
		serviceKey, serviceLabel := utils.ClassifyServiceByStart(startLocal, s.splitHour)

		link := ""
		savedName := ""
		if partFile := ytdlp.NewestPartForVideo(s.storageDir, videoID); partFile != "" {
			partialName := utils.MakeSavedPartialFilename(title, videoID)
			partialPath := filepath.Join(s.storageDir, partialName)
			if cerr := copyFile(partFile, partialPath); cerr == nil {
				savedName = partialName
				publicName := ensurePublicFilename(s.storageDir, videoID, savedName)
				link = utils.BuildPublicURL(s.publicBase, publicName)
			} else {
				log.Warn("Failed to copy partial file", "error", cerr)
			}
			if _, uerr := s.archive.UpdateRecord(ctx, nil, videoID, func(rec *types.ArchiveRecord) {
				rec.StartedUTC = startUTC.Format(time.RFC3339)
				rec.StartedLocal = startLocal.Format(time.RFC3339)
				rec.DateKey = dateKey
				rec.ServiceKey = serviceKey
				rec.ServiceLabel = serviceLabel
				rec.Status = types.StatusPartial
				if savedName != "" {
					rec.Filename = savedName
				}
				if link != "" {
					rec.PublicURL = link
				}
				if rec.Title == "" {
					rec.Title = title
				}
			}); uerr != nil {
				log.Warn("Failed to persist partial status", "error", uerr)
			}
		}
		s.runtime.RemoveActiveLive(videoID)

		head := "⚠️ LIVE ended/locked (became private or got stuck).\n"
		if archivedLiveMode {
			head = "⚠️ Archived LIVE was incomplete/locked.\n"
		}
		linkLine := "✅ Partial saved on server."
		if link != "" {
			linkLine = "🔗 " + link
		}
		followup := "\n\nℹ️ Full replay follow-up is disabled to avoid merge/corruption issues."
		if s.enableReplay && !archivedLiveMode {
			followup = "\n\n🕵️ I will keep trying to download the FULL replay separately."
		}
		notify(head + "I saved the part that was recorded.\n" + linkLine +
			fmt.Sprintf("\n🗑 Auto-delete after %d days.", s.retentionDays) + followup)

		if s.enableReplay && !archivedLiveMode && s.replay != nil {
			s.replay.ScheduleFullReplay(url, videoID, title, dateKey, serviceLabel)
		}
		if s.autoNotes {
			go s.runAutoNotes(url, videoID, title)
		}
		return
	}

	low := strings.ToLower(reason)
	if live {
		s.runtime.RemoveActiveLive(videoID)
		if _, uerr := s.archive.UpdateRecord(ctx, nil, videoID, func(rec *types.ArchiveRecord) {
			rec.Status = types.StatusFailed
		}); uerr != nil {
			log.Warn("Failed to persist failed status", "error", uerr)
		}
	}

	switch {
	case errors.Is(err, ytdlp.ErrAntibotBlocked) || ytdlp.IsAntibotMessage(low) || strings.Contains(low, "no video formats found"):
		notify("❌ Download failed due to YouTube blocking this server.\n" +
			"Fix: use a residential proxy/VPN for yt-dlp on the server.")
	case errors.Is(err, ytdlp.ErrPrivateUnavailable) || looksLikePrivateUnavailable(low):
		notify("🔒 This video is private.\n" +
			"The server needs valid cookies from an account that can access it.")
	default:
		notify("❌ Download failed:\n" + clipRunes(reason, 1200))
	}
}

// runAutoNotes builds a transcript and analysis for a finished live in the
// background. Best effort; failures are logged only.
func (s *liveService) runAutoNotes(url, videoID, title string) {
	if s.transcripts == nil || s.notes == nil {
		return
	}
	ctx := context.Background()
	if _, err := s.transcripts.EnsureTranscript(ctx, url, videoID, title); err != nil {
		s.log.Warn("Auto notes transcript failed", "video_id", videoID, "error", err)
		return
	}
	if _, err := s.notes.RunAnalysis(ctx, videoID, false); err != nil && !errors.Is(err, ErrNotesTaskBusy) {
		s.log.Warn("Auto notes analysis failed", "video_id", videoID, "error", err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
