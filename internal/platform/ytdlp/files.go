package ytdlp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// NewestPartForVideo finds the most recently modified .part file for a video
// in the archive directory. Live downloads write into these until the stream
// ends or the process is stopped.
func NewestPartForVideo(dir, videoID string) string {
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
		if !strings.Contains(name, videoID) || !strings.HasSuffix(name, ".part") {
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

// AnyExistingMediaForVideo finds the most recent finished media file for a
// video id, if one survived an earlier session.
func AnyExistingMediaForVideo(dir, videoID string) string {
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
		if !strings.HasSuffix(name, ".mp4") && !strings.HasSuffix(name, ".webm") && !strings.HasSuffix(name, ".mkv") {
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

func partStats(dir, videoID string) (path string, size int64, mtime time.Time, ok bool) {
	part := NewestPartForVideo(dir, videoID)
	if part == "" {
		return "", 0, time.Time{}, false
	}
	info, err := os.Stat(part)
	if err != nil {
		return part, 0, time.Time{}, false
	}
	return part, info.Size(), info.ModTime(), true
}

// HumanBytes renders a byte count the way progress messages show it.
func HumanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	f := float64(n)
	for _, u := range units {
		if f < 1024.0 || u == units[len(units)-1] {
			if u == "B" {
				return fmt.Sprintf("%d %s", int64(f), u)
			}
			return fmt.Sprintf("%.2f %s", f, u)
		}
		f /= 1024.0
	}
	return fmt.Sprintf("%.2f TB", f)
}
