package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	ansiRE       = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	youtubeURLRE = regexp.MustCompile(`(?i)https?://(?:www\.)?(?:youtube\.com|youtu\.be)/[^\s<>()]+`)
	wsRE         = regexp.MustCompile(`\s+`)

	// Filename characters outside this class collapse to underscore. Cyrillic is
	// kept because saved LIVE titles are frequently Ukrainian.
	unsafeFilenameRE = regexp.MustCompile(`[^\w\s\-\(\)\[\],'’«»А-Яа-яЁёІіЇїЄє]+`)

	youtuBeRE  = regexp.MustCompile(`youtu\.be/([A-Za-z0-9_\-]{6,})`)
	watchRE    = regexp.MustCompile(`[?&]v=([A-Za-z0-9_\-]{6,})`)
	liveRE     = regexp.MustCompile(`youtube\.com/live/([A-Za-z0-9_\-]{6,})`)
	shortsRE   = regexp.MustCompile(`youtube\.com/shorts/([A-Za-z0-9_\-]{6,})`)
	slugDropRE = regexp.MustCompile(`[^a-z0-9]+`)
)

func StripANSI(s string) string {
	return strings.TrimSpace(ansiRE.ReplaceAllString(s, ""))
}

// CollapseWhitespace squashes runs of whitespace into single spaces and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(wsRE.ReplaceAllString(s, " "))
}

// SanitizeFilename makes a title safe for the archive directory: dots become
// underscores (extension confusion), unsafe runs become underscores, length
// capped at 140.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, ".", "_")
	name = unsafeFilenameRE.ReplaceAllString(name, "_")
	name = CollapseWhitespace(name)
	if len(name) > 140 {
		name = strings.TrimSpace(name[:140])
	}
	if name == "" {
		return "video"
	}
	return name
}

func MakeSavedPartialFilename(title, videoID string) string {
	return SanitizeFilename(title) + " [" + videoID + "] (partial).mp4"
}

func MakeSavedFullFilename(title, videoID string) string {
	return SanitizeFilename(title) + " [" + videoID + "] (full).mp4"
}

func IsYouTubeURL(text string) bool {
	t := strings.TrimSpace(text)
	return strings.Contains(t, "youtube.com") || strings.Contains(t, "youtu.be")
}

func ExtractFirstYouTubeURL(text string) string {
	m := youtubeURLRE.FindString(text)
	return strings.TrimRight(m, ".,;:!?)]}>'\"")
}

// ExtractYouTubeID pulls the opaque 6-20 char id out of the common URL shapes
// (youtu.be, watch?v=, /live/, /shorts/). Empty string when none matches.
func ExtractYouTubeID(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	for _, re := range []*regexp.Regexp{youtuBeRE, watchRE, liveRE, shortsRE} {
		if m := re.FindStringSubmatch(u); m != nil {
			id := m[1]
			if len(id) > 20 {
				id = id[:20]
			}
			return id
		}
	}
	return ""
}

func BuildPublicURL(base, filename string) string {
	if strings.TrimSpace(base) == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(filename)
}

// Slugify reduces a title to a short lowercase ascii token for export
// filenames.
func Slugify(s string, maxLen int) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugDropRE.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if maxLen > 0 && len(s) > maxLen {
		s = strings.Trim(s[:maxLen], "-")
	}
	if s == "" {
		return "note"
	}
	return s
}
