package ytdlp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// ProgressKind labels a progress callback event.
type ProgressKind string

const (
	ProgressPercent   ProgressKind = "percent"
	ProgressLine      ProgressKind = "line"
	ProgressLiveStats ProgressKind = "live_stats"
)

// ProgressEvent is one unit of download feedback. Pct/Speed/ETA are set for
// percent events; Raw always carries the display text.
type ProgressEvent struct {
	Kind  ProgressKind
	Pct   float64
	Speed string
	ETA   string
	Raw   string
}

// DownloadOptions tunes a supervised download.
type DownloadOptions struct {
	IsLive     bool
	ExtraArgs  []string
	ShouldStop func() bool
	OnProgress func(ProgressEvent)
}

var (
	percentRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)
	etaRe     = regexp.MustCompile(`ETA\s+(\d+:\d+)`)
	speedRe   = regexp.MustCompile(`at\s+([0-9.]+[KMG]iB/s)`)
)

// parseProgressLine extracts percent/speed/ETA from a yt-dlp --newline
// progress row. ok is false for non-progress lines.
func parseProgressLine(line string) (pct float64, speed, eta string, ok bool) {
	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, "", "", false
	}
	pct, _ = strconv.ParseFloat(m[1], 64)
	eta = "?"
	if em := etaRe.FindStringSubmatch(line); em != nil {
		eta = em[1]
	}
	speed = "?"
	if sm := speedRe.FindStringSubmatch(line); sm != nil {
		speed = sm[1]
	}
	return pct, speed, eta, true
}

const (
	stopPollInterval   = 500 * time.Millisecond
	liveReportInterval = 10 * time.Second
	mtimeRecentWindow  = 2500 * time.Millisecond
	recentLinesKept    = 40
)

// DownloadWithProgress runs a full supervised download, rotating client
// profiles on retryable access failures. The returned path is whatever
// yt-dlp printed via after_move:filepath, possibly empty when the process
// exited cleanly without moving a file.
func (c *Client) DownloadWithProgress(ctx context.Context, url, videoID, outputTemplate string, opts DownloadOptions) (string, error) {
	if err := c.cfg.Cookies.assertReady(); err != nil {
		return "", err
	}
	if opts.OnProgress == nil {
		opts.OnProgress = func(ProgressEvent) {}
	}

	format := fmt.Sprintf("bv*[height<=%d]+ba/b[height<=%d]/b", c.cfg.MaxHeight, c.cfg.MaxHeight)
	variants := clientVariants()

	var lastErr error
	for idx, variant := range variants {
		path, err := c.runSupervised(ctx, url, videoID, outputTemplate, format, variant, opts)
		if err == nil {
			return path, nil
		}
		if terminalDownloadError(err) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		retryable := IsRetryableAccessMessage(err.Error()) || err.Error() == "yt-dlp download failed"
		if idx < len(variants)-1 && retryable {
			opts.OnProgress(ProgressEvent{
				Kind: ProgressLine,
				Raw:  fmt.Sprintf("Retrying with alternate YouTube client profile (%d/%d)...", idx+2, len(variants)),
			})
			if serr := sleepBackoff(ctx, time.Duration(float64(idx+1)*1.2*float64(time.Second))); serr != nil {
				return "", serr
			}
			continue
		}
		return "", err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("yt-dlp download failed")
	}
	return "", lastErr
}

func (c *Client) runSupervised(ctx context.Context, url, videoID, outputTemplate, format string, variant []string, opts DownloadOptions) (string, error) {
	args := append(c.baseArgs(), variant...)
	args = append(args,
		"--newline",
		"--print", "after_move:filepath",
		"-f", format,
		"--merge-output-format", "mp4",
	)
	args = append(args, opts.ExtraArgs...)
	args = append(args, "-o", outputTemplate, url)

	cmd := exec.Command(c.cfg.BinPath, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return "", fmt.Errorf("start yt-dlp: %w", err)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitCh <- err
	}()

	terminate := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	var (
		finalPath   string
		recentLines []string
		sawPrivate  bool
		termErr     error

		lastChange     = time.Now()
		lastSize       = int64(-1)
		lastRateTime   = time.Now()
		lastRateSize   = int64(-1)
		lastLiveReport time.Time
	)

	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	done := ctx.Done()

scan:
	for {
		select {
		case line, open := <-lines:
			if !open {
				break scan
			}
			s := strings.TrimSpace(utils.StripANSI(line))
			if s == "" {
				continue
			}
			recentLines = append(recentLines, s)
			if len(recentLines) > recentLinesKept {
				recentLines = recentLines[1:]
			}

			if isPrivateUnavailableMessage(s) {
				sawPrivate = true
			}

			if strings.HasPrefix(s, c.cfg.StorageDir+string(filepath.Separator)) &&
				(strings.HasSuffix(s, ".mp4") || strings.HasSuffix(s, ".webm") || strings.HasSuffix(s, ".mkv")) {
				finalPath = s
			}

			if pct, speed, eta, ok := parseProgressLine(s); ok {
				opts.OnProgress(ProgressEvent{Kind: ProgressPercent, Pct: pct, Speed: speed, ETA: eta, Raw: s})
			} else {
				opts.OnProgress(ProgressEvent{Kind: ProgressLine, Raw: s})
			}

		case <-ticker.C:
			if termErr != nil {
				continue
			}
			if opts.ShouldStop != nil && opts.ShouldStop() {
				termErr = ErrLiveStopRequested
				terminate()
				continue
			}
			if !opts.IsLive {
				continue
			}

			_, size, mtime, ok := partStats(c.cfg.StorageDir, videoID)
			now := time.Now()
			if ok {
				if size != lastSize {
					lastSize = size
					lastChange = now
				} else if now.Sub(mtime) < mtimeRecentWindow {
					lastChange = now
				}
			}

			if now.Sub(lastChange) > c.cfg.StuckTimeout {
				termErr = ErrLiveStuckTimeout
				terminate()
				continue
			}

			if ok && now.Sub(lastLiveReport) >= liveReportInterval {
				lastLiveReport = now
				if size == 0 {
					opts.OnProgress(ProgressEvent{Kind: ProgressLiveStats, Raw: "Connected. Waiting for first LIVE chunk..."})
				} else {
					rateTxt := "?"
					if lastRateSize >= 0 {
						dt := now.Sub(lastRateTime).Seconds()
						if dt > 0.5 {
							rate := float64(size-lastRateSize) / dt
							if rate < 0 {
								rate = 0
							}
							rateTxt = HumanBytes(int64(rate)) + " /s"
						}
					}
					opts.OnProgress(ProgressEvent{
						Kind: ProgressLiveStats,
						Raw:  fmt.Sprintf("File: %s | Growth: %s", HumanBytes(size), rateTxt),
					})
				}
				lastRateTime = now
				lastRateSize = size
			}

		case <-done:
			if termErr == nil {
				termErr = ctx.Err()
			}
			terminate()
			done = nil
		}
	}

	werr := <-waitCh
	if termErr != nil {
		return "", termErr
	}
	if werr != nil {
		if sawPrivate && opts.IsLive {
			return "", ErrLiveBecamePrivate
		}
		errLine := ""
		for i := len(recentLines) - 1; i >= 0; i-- {
			low := strings.ToLower(recentLines[i])
			if strings.HasPrefix(low, "error:") || IsRetryableAccessMessage(low) {
				errLine = recentLines[i]
				break
			}
		}
		if errLine == "" {
			return "", fmt.Errorf("yt-dlp download failed")
		}
		return "", classifyAccessError(errLine)
	}
	return finalPath, nil
}
