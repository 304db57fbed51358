package ytdlp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/utils"
)

const titleProbeTimeout = 60 * time.Second

// DownloadAudio extracts the best available audio track into workdir,
// walking a client-profile × format ladder until one combination yields a
// non-empty file. Returns the audio path and the video title.
func (c *Client) DownloadAudio(ctx context.Context, url, workdir string) (audioPath, title string, err error) {
	if err := c.cfg.Cookies.assertReady(); err != nil {
		return "", "", err
	}

	title = c.probeTitle(ctx, url)

	outTemplate := filepath.Join(workdir, "audio.%(ext)s")
	modeVariants := [][]string{
		{"-x", "--audio-format", "m4a", "--audio-quality", "0"},
		{"-x", "--audio-format", "mp3", "--audio-quality", "0"},
		{"-f", "bestaudio[ext=m4a]/bestaudio", "--remux-video", "m4a"},
		{"-f", "bestaudio"},
	}

	lastErr := ""
	for _, clientVariant := range clientVariants() {
		for _, modeVariant := range modeVariants {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			removeGlob(filepath.Join(workdir, "audio.*"))

			args := append(c.baseArgs(), clientVariant...)
			args = append(args, modeVariant...)
			args = append(args, "-o", outTemplate, url)

			stdout, stderr, rerr := c.runCapture(ctx, args)
			if rerr != nil {
				if ctx.Err() != nil {
					return "", "", ctx.Err()
				}
				if msg := failureMessage(stdout, stderr); msg != "" {
					lastErr = msg
				} else {
					lastErr = "download failed"
				}
				continue
			}

			best, size := largestAudioFile(workdir)
			if best == "" {
				lastErr = "audio extraction finished, but no audio file was found"
				continue
			}
			if size <= 0 {
				lastErr = "audio download produced an empty file"
				continue
			}
			return best, title, nil
		}
	}
	if lastErr == "" {
		lastErr = "audio download failed"
	}
	return "", "", classifyAccessError(lastErr)
}

// DownloadAudioToArchive extracts audio as mp3 straight into the archive
// directory under "<title> [<id>].mp3" and returns the final path and title.
// Used by the direct-audio save flow where the file must be publicly served.
func (c *Client) DownloadAudioToArchive(ctx context.Context, url string) (path, title string, err error) {
	if err := c.cfg.Cookies.assertReady(); err != nil {
		return "", "", err
	}
	info, err := c.Probe(ctx, url)
	if err != nil {
		return "", "", err
	}
	title = strings.TrimSpace(info.Title)
	if title == "" {
		title = "audio"
	}
	videoID := strings.TrimSpace(info.ID)
	if videoID == "" {
		videoID = utils.ExtractYouTubeID(url)
	}

	outTemplate := filepath.Join(c.cfg.StorageDir, fmt.Sprintf("%s [%s].%%(ext)s", utils.SanitizeFilename(title), videoID))
	args := append(c.baseArgs(),
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"-o", outTemplate,
		url,
	)

	stdout, stderr, rerr := c.runCapture(ctx, args)
	if rerr != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		msg := failureMessage(stdout, stderr)
		if msg == "" {
			msg = "yt-dlp audio download failed"
		}
		return "", "", classifyAccessError(msg)
	}

	final := newestAudioForVideo(c.cfg.StorageDir, videoID)
	if final == "" {
		return "", "", fmt.Errorf("audio download finished, but output file was not found")
	}
	return final, title, nil
}

func (c *Client) probeTitle(ctx context.Context, url string) string {
	tctx, cancel := context.WithTimeout(ctx, titleProbeTimeout)
	defer cancel()

	args := append(c.baseArgs(), "--print", "title", url)
	stdout, _, err := c.runCapture(tctx, args)
	if err != nil {
		return "Live"
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if ln := strings.TrimSpace(lines[i]); ln != "" {
			return ln
		}
	}
	return "Live"
}

func removeGlob(pattern string) {
	matches, _ := filepath.Glob(pattern)
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func largestAudioFile(workdir string) (string, int64) {
	matches, _ := filepath.Glob(filepath.Join(workdir, "audio.*"))
	best := ""
	var bestSize int64
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if best == "" || info.Size() > bestSize {
			best = m
			bestSize = info.Size()
		}
	}
	return best, bestSize
}

var audioExtensions = []string{".mp3", ".m4a", ".aac", ".opus", ".wav", ".flac"}

func newestAudioForVideo(dir, videoID string) string {
	if videoID == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	best := ""
	var bestMtime time.Time
	for _, e := range entries {
		name := e.Name()
		if !strings.Contains(name, videoID) {
			continue
		}
		low := strings.ToLower(name)
		matched := false
		for _, ext := range audioExtensions {
			if strings.HasSuffix(low, ext) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMtime) {
			best = filepath.Join(dir, name)
			bestMtime = info.ModTime()
		}
	}
	return best
}
