package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// Config carries everything needed to shell out to yt-dlp.
type Config struct {
	BinPath      string // yt-dlp binary, default "yt-dlp"
	StorageDir   string // archive directory for .part tracking and audio saves
	Proxy        string
	Cookies      CookieConfig
	MaxHeight    int // format ceiling for video downloads
	StuckTimeout time.Duration
	SubLangs     string   // --sub-langs value, default "en.*,en,-live_chat"
	SubLangPrefs []string // caption-track preference order, default en,en-US,en-GB
}

// Client wraps the yt-dlp binary. All methods are synchronous; long calls
// honour ctx cancellation through exec.CommandContext.
type Client struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, baseLog *logger.Logger) *Client {
	if cfg.BinPath == "" {
		cfg.BinPath = "yt-dlp"
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 1080
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = 5 * time.Minute
	}
	if cfg.SubLangs == "" {
		cfg.SubLangs = "en.*,en,-live_chat"
	}
	if len(cfg.SubLangPrefs) == 0 {
		cfg.SubLangPrefs = []string{"en", "en-us", "en-gb"}
	}
	return &Client{cfg: cfg, log: baseLog.With("component", "ytdlp")}
}

func (c *Client) AssertReady(ctx context.Context) error {
	if _, err := exec.LookPath(c.cfg.BinPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", c.cfg.BinPath, err)
	}
	return c.cfg.Cookies.assertReady()
}

// clientVariants are the extractor profiles tried in order when YouTube
// rejects the default web client.
func clientVariants() [][]string {
	return [][]string{
		nil,
		{"--extractor-args", "youtube:player_client=android,ios,web"},
		{"--extractor-args", "youtube:player_client=tv_embedded,web_safari"},
	}
}

func (c *Client) baseArgs() []string {
	args := []string{"--no-playlist", "--no-warnings"}
	args = append(args, c.cfg.Cookies.args()...)
	if c.cfg.Proxy != "" {
		args = append(args, "--proxy", c.cfg.Proxy)
	}
	return args
}

func (c *Client) runCapture(ctx context.Context, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, c.cfg.BinPath, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func failureMessage(stdout, stderr string) string {
	msg := strings.TrimSpace(utils.StripANSI(stderr))
	if msg == "" {
		msg = strings.TrimSpace(utils.StripANSI(stdout))
	}
	if len(msg) > 1500 {
		msg = msg[len(msg)-1500:]
	}
	return msg
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// VideoInfo is the subset of yt-dlp's single-video JSON the pipeline needs.
type VideoInfo struct {
	ID                   string                     `json:"id"`
	Title                string                     `json:"title"`
	Channel              string                     `json:"channel"`
	Uploader             string                     `json:"uploader"`
	WebpageURL           string                     `json:"webpage_url"`
	Duration             float64                    `json:"duration"`
	ViewCount            int64                      `json:"view_count"`
	ChannelFollowerCount int64                      `json:"channel_follower_count"`
	UploadDate           string                     `json:"upload_date"`
	ReleaseDate          string                     `json:"release_date"`
	ReleaseTimestamp     int64                      `json:"release_timestamp"`
	LiveStartTimestamp   int64                      `json:"live_start_timestamp"`
	Timestamp            int64                      `json:"timestamp"`
	IsLive               bool                       `json:"is_live"`
	WasLive              bool                       `json:"was_live"`
	LiveStatus           string                     `json:"live_status"`
	Thumbnail            string                     `json:"thumbnail"`
	Subtitles            map[string]json.RawMessage `json:"subtitles"`
	AutomaticCaptions    map[string]json.RawMessage `json:"automatic_captions"`
}

// HasCaptions reports caption availability when the probe metadata is
// conclusive; nil means unknown.
func (v *VideoInfo) HasCaptions() *bool {
	if v == nil {
		return nil
	}
	return captionStateFromMaps(v.Subtitles, v.AutomaticCaptions)
}

// Probe fetches single-video metadata, rotating client profiles on
// anti-bot style failures with linear backoff.
func (c *Client) Probe(ctx context.Context, url string) (*VideoInfo, error) {
	if err := c.cfg.Cookies.assertReady(); err != nil {
		return nil, err
	}
	variants := clientVariants()
	var lastErr error
	for idx, variant := range variants {
		args := append(c.baseArgs(), variant...)
		args = append(args, "--dump-single-json", "--skip-download", url)

		stdout, stderr, err := c.runCapture(ctx, args)
		if err == nil {
			var info VideoInfo
			if jerr := json.Unmarshal([]byte(stdout), &info); jerr != nil {
				return nil, fmt.Errorf("parse yt-dlp probe output: %w", jerr)
			}
			return &info, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := failureMessage(stdout, stderr)
		if msg == "" {
			msg = "yt-dlp info failed"
		}
		lastErr = classifyAccessError(msg)
		if !IsRetryableAccessMessage(msg) {
			break
		}
		if idx < len(variants)-1 {
			c.log.Warn("Probe retrying with alternate client profile", "attempt", idx+2, "error", msg)
			if serr := sleepBackoff(ctx, time.Duration(float64(idx+1)*2.0*float64(time.Second))); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, lastErr
}

// MediaKind selects the format ladder for DirectMediaURL.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// DirectMediaURL resolves a temporary googlevideo URL plus the video title
// without downloading anything.
func (c *Client) DirectMediaURL(ctx context.Context, url string, kind MediaKind) (directURL, title string, err error) {
	if err := c.cfg.Cookies.assertReady(); err != nil {
		return "", "", err
	}
	format := "bestaudio/best"
	if kind == MediaVideo {
		format = fmt.Sprintf("best[ext=mp4][height<=%d]/best[height<=%d]/best", c.cfg.MaxHeight, c.cfg.MaxHeight)
	}

	variants := clientVariants()
	var lastErr error
	for idx, variant := range variants {
		args := append(c.baseArgs(), variant...)
		args = append(args, "--print", "%(title)s", "-g", "-f", format, url)

		stdout, stderr, rerr := c.runCapture(ctx, args)
		if rerr == nil {
			var lines []string
			for _, ln := range strings.Split(stdout, "\n") {
				if ln = strings.TrimSpace(ln); ln != "" {
					lines = append(lines, ln)
				}
			}
			if len(lines) >= 2 {
				return lines[len(lines)-1], lines[0], nil
			}
			lastErr = fmt.Errorf("yt-dlp returned empty direct %s URL", kind)
		} else {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			msg := failureMessage(stdout, stderr)
			if msg == "" {
				msg = "yt-dlp direct URL failed"
			}
			lastErr = classifyAccessError(msg)
		}
		if !IsRetryableAccessMessage(lastErr.Error()) {
			break
		}
		if idx < len(variants)-1 {
			if serr := sleepBackoff(ctx, time.Duration(float64(idx+1)*2.0*float64(time.Second))); serr != nil {
				return "", "", serr
			}
		}
	}
	return "", "", lastErr
}

// DownloadCaptions fetches English VTT caption tracks into workdir and
// returns the best track plus the video title. ErrNoCaptions when YouTube
// offers nothing usable in English.
func (c *Client) DownloadCaptions(ctx context.Context, url, workdir string) (vttPath, title string, err error) {
	if err := c.cfg.Cookies.assertReady(); err != nil {
		return "", "", err
	}
	outTemplate := filepath.Join(workdir, "%(id)s.%(ext)s")
	args := append(c.baseArgs(),
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-format", "vtt",
		"--sub-langs", c.cfg.SubLangs,
		"--print", "title",
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
			msg = "caption download failed"
		}
		return "", "", classifyAccessError(msg)
	}

	title = "Video"
	for _, ln := range strings.Split(stdout, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			title = ln
			break
		}
	}

	candidates, _ := filepath.Glob(filepath.Join(workdir, "*.vtt"))
	sort.Strings(candidates)
	if len(candidates) == 0 {
		return "", title, ErrNoCaptions
	}
	chosen, err := pickCaptionFile(candidates, c.cfg.SubLangPrefs)
	if err != nil {
		return "", title, err
	}
	return chosen, title, nil
}

// captionLangFromName extracts the language tag from a yt-dlp caption
// filename like "<id>.en-US.vtt".
func captionLangFromName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), ".vtt")
	dot := strings.LastIndex(base, ".")
	if dot < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(base[dot+1:]))
}

func isEnglishCaptionLang(lang string) bool {
	return lang == "en" || strings.HasPrefix(lang, "en-") || strings.HasPrefix(lang, "en_")
}

// pickCaptionFile selects the best English track: preference-list rank
// first, then timestamp coverage, then file size, then shortest name.
func pickCaptionFile(candidates []string, prefs []string) (string, error) {
	type scored struct {
		prefRank int
		coverage float64
		size     int64
		nameLen  int
		path     string
	}

	var english []scored
	for _, p := range candidates {
		lang := captionLangFromName(p)
		if !isEnglishCaptionLang(lang) {
			continue
		}
		s := scored{prefRank: 100, nameLen: len(filepath.Base(p)), path: p}
		for i, pref := range prefs {
			pref = strings.ToLower(strings.TrimSpace(pref))
			if pref == "" {
				continue
			}
			if lang == pref || strings.HasPrefix(lang, pref) {
				s.prefRank = i
				break
			}
		}
		if raw, err := os.ReadFile(p); err == nil {
			for _, seg := range transcript.ParseVTT(string(raw)) {
				if seg.End > s.coverage {
					s.coverage = seg.End
				}
			}
		}
		if info, err := os.Stat(p); err == nil {
			s.size = info.Size()
		}
		english = append(english, s)
	}
	if len(english) == 0 {
		return "", ErrNoCaptions
	}
	sort.Slice(english, func(i, j int) bool {
		a, b := english[i], english[j]
		if a.prefRank != b.prefRank {
			return a.prefRank < b.prefRank
		}
		if a.coverage != b.coverage {
			return a.coverage > b.coverage
		}
		if a.size != b.size {
			return a.size > b.size
		}
		return a.nameLen < b.nameLen
	})
	return english[0].path, nil
}
