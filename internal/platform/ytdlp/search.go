package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// SearchResult is one ytsearch candidate with the metadata the research
// ranking needs.
type SearchResult struct {
	VideoID       string `json:"video_id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Channel       string `json:"channel"`
	ViewCount     int64  `json:"view_count"`
	FollowerCount int64  `json:"follower_count"`
	PublishedUTC  string `json:"published_utc"`
	DurationSec   int64  `json:"duration_sec"`
	ThumbnailURL  string `json:"thumbnail_url"`
	HasCaptions   *bool  `json:"has_captions,omitempty"`
}

type searchEntry struct {
	ID                   string                     `json:"id"`
	URL                  string                     `json:"url"`
	WebpageURL           string                     `json:"webpage_url"`
	Title                string                     `json:"title"`
	Channel              string                     `json:"channel"`
	Uploader             string                     `json:"uploader"`
	ViewCount            int64                      `json:"view_count"`
	ChannelFollowerCount int64                      `json:"channel_follower_count"`
	UploadDate           string                     `json:"upload_date"`
	ReleaseDate          string                     `json:"release_date"`
	Duration             float64                    `json:"duration"`
	Thumbnail            string                     `json:"thumbnail"`
	Thumbnails           []struct{ URL string }     `json:"thumbnails"`
	Subtitles            map[string]json.RawMessage `json:"subtitles"`
	AutomaticCaptions    map[string]json.RawMessage `json:"automatic_captions"`
}

// SearchVideos runs a ytsearchN query and returns candidates in YouTube's
// result order. Failures return an empty slice rather than an error; search
// is best-effort inside a larger research run.
func (c *Client) SearchVideos(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults < 1 {
		maxResults = 1
	}
	// Searches are playlists to yt-dlp, so --no-playlist must not apply.
	args := []string{"--no-warnings"}
	args = append(args, c.cfg.Cookies.args()...)
	if c.cfg.Proxy != "" {
		args = append(args, "--proxy", c.cfg.Proxy)
	}
	args = append(args, "--dump-single-json", fmt.Sprintf("ytsearch%d:%s", maxResults, query))

	stdout, _, err := c.runCapture(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("Video search failed", "query", query, "error", err)
		return nil, nil
	}

	var payload struct {
		Entries []searchEntry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		return nil, nil
	}

	out := make([]SearchResult, 0, len(payload.Entries))
	for _, item := range payload.Entries {
		vid := strings.TrimSpace(item.ID)
		if vid == "" {
			src := item.URL
			if src == "" {
				src = item.WebpageURL
			}
			vid = utils.ExtractYouTubeID(src)
		}
		if vid == "" {
			continue
		}
		url := strings.TrimSpace(item.WebpageURL)
		if url == "" {
			url = "https://www.youtube.com/watch?v=" + vid
		}
		channel := strings.TrimSpace(item.Channel)
		if channel == "" {
			channel = strings.TrimSpace(item.Uploader)
		}
		published := strings.TrimSpace(item.UploadDate)
		if published == "" {
			published = strings.TrimSpace(item.ReleaseDate)
		}
		thumb := strings.TrimSpace(item.Thumbnail)
		if thumb == "" && len(item.Thumbnails) > 0 {
			thumb = strings.TrimSpace(item.Thumbnails[0].URL)
		}
		res := SearchResult{
			VideoID:       vid,
			URL:           url,
			Title:         strings.TrimSpace(item.Title),
			Channel:       channel,
			ViewCount:     item.ViewCount,
			FollowerCount: item.ChannelFollowerCount,
			PublishedUTC:  published,
			DurationSec:   int64(item.Duration),
			ThumbnailURL:  thumb,
		}
		res.HasCaptions = captionStateFromMaps(item.Subtitles, item.AutomaticCaptions)
		out = append(out, res)
	}
	return out, nil
}

func captionStateFromMaps(maps ...map[string]json.RawMessage) *bool {
	sawAny := false
	has := false
	for _, m := range maps {
		if m == nil {
			continue
		}
		sawAny = true
		for _, raw := range m {
			if len(raw) > 0 && string(raw) != "null" && string(raw) != "[]" {
				has = true
			}
		}
	}
	if !sawAny {
		return nil
	}
	return &has
}
