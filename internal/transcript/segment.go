package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Segment is one timed utterance, from captions or STT.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

var bodyLineRE = regexp.MustCompile(`^\[(\d{1,4}):([0-5]\d)\]\s+(.+)$`)

// FormatStamp renders seconds as mm:ss. Minutes are not folded into hours so
// long streams keep a single sortable field.
func FormatStamp(seconds float64) string {
	sec := int(seconds)
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// RenderBody turns segments into the canonical "[mm:ss] text" body, one line
// per segment, in insertion order.
func RenderBody(segments []Segment) string {
	var lines []string
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		lines = append(lines, "["+FormatStamp(seg.Start)+"] "+text)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// FileContent composes the canonical transcript file: three header lines, a
// blank line, then the body.
func FileContent(title, videoID, generated string, body string) string {
	header := "Title: " + title + "\nVideo ID: " + videoID + "\nGenerated: " + generated + "\n\n"
	return header + body + "\n"
}

// WriteFile writes the canonical transcript atomically (temp file + rename)
// so an existing transcript is never left half overwritten.
func WriteFile(path, title, videoID string, generated time.Time, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	content := FileContent(title, videoID, generated.Format("2006-01-02 03:04:05 PM"), body)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write transcript temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename transcript: %w", err)
	}
	return nil
}

// BodyLines strips the header and blank lines from transcript file content.
func BodyLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		ln := strings.TrimSpace(line)
		if ln == "" {
			continue
		}
		if strings.HasPrefix(ln, "Title:") || strings.HasPrefix(ln, "Video ID:") || strings.HasPrefix(ln, "Generated:") {
			continue
		}
		out = append(out, ln)
	}
	return out
}

// StripStamp removes a leading "[mm:ss] " marker if present.
func StripStamp(line string) string {
	if m := bodyLineRE.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
		return strings.TrimSpace(m[3])
	}
	return strings.TrimSpace(line)
}

// SegmentsFromContent reparses canonical transcript content back into timed
// segments. Lines without a stamp fall back to synthetic 10-second spacing.
func SegmentsFromContent(content string) []Segment {
	var out []Segment
	for _, line := range strings.Split(content, "\n") {
		ln := strings.TrimSpace(line)
		if ln == "" {
			continue
		}
		m := bodyLineRE.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		mm, _ := strconv.Atoi(m[1])
		ss, _ := strconv.Atoi(m[2])
		text := strings.TrimSpace(m[3])
		if text == "" {
			continue
		}
		start := float64(mm*60 + ss)
		out = append(out, Segment{Start: start, End: start + 10.0, Text: text})
	}
	if len(out) > 0 {
		return out
	}

	t := 0.0
	lines := BodyLines(content)
	if len(lines) > 1200 {
		lines = lines[:1200]
	}
	for _, ln := range lines {
		out = append(out, Segment{Start: t, End: t + 10.0, Text: ln})
		t += 10.0
	}
	return out
}
