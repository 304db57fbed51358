package services

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// researchCandidate is one search hit that survived the duration and caption
// filters.
type researchCandidate struct {
	VideoID         string
	URL             string
	Title           string
	Channel         string
	ViewCount       int64
	FollowerCount   int64
	PublishedUTC    string
	DurationSec     int
	HasCaptions     bool
	ThumbnailURL    string
	PopularityScore float64
	Rank            int
}

func (c researchCandidate) preview() types.VideoPreview {
	return types.VideoPreview{
		VideoID:         c.VideoID,
		URL:             c.URL,
		Title:           c.Title,
		Channel:         c.Channel,
		ViewCount:       c.ViewCount,
		PublishedUTC:    c.PublishedUTC,
		DurationSec:     c.DurationSec,
		HasCaptions:     c.HasCaptions,
		ThumbnailURL:    c.ThumbnailURL,
		PopularityScore: round2(c.PopularityScore),
		Rank:            c.Rank,
	}
}

var compactDateRE = regexp.MustCompile(`^\d{8}$`)

// parseUploadDate accepts yt-dlp's compact upload_date and ISO timestamps.
func parseUploadDate(raw string) (time.Time, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, false
	}
	if compactDateRE.MatchString(v) {
		t, err := time.Parse("20060102", v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// videoPopularityScore blends log-scaled views and followers with recency and
// a mild length preference. All terms are clamped to [0,1].
func videoPopularityScore(sr ytdlp.SearchResult) float64 {
	viewTerm := math.Min(1.0, math.Log1p(math.Max(0, float64(sr.ViewCount)))/16.0)
	followerTerm := math.Min(1.0, math.Log1p(math.Max(0, float64(sr.FollowerCount)))/16.0)

	durationTerm := 0.0
	if sr.DurationSec > 0 {
		durationTerm = math.Min(1.0, math.Max(0.0, (float64(sr.DurationSec)-180)/1800.0))
	}

	recencyTerm := 0.5
	if dt, ok := parseUploadDate(sr.PublishedUTC); ok {
		days := math.Max(0, time.Since(dt).Seconds()/86400.0)
		recencyTerm = math.Max(0.1, math.Min(1.0, 1.0/(1.0+days/180.0)))
	}

	return 0.55*viewTerm + 0.15*followerTerm + 0.20*recencyTerm + 0.10*durationTerm
}

// resolveCaptionState answers whether a result has captions. deep probes the
// video page when search metadata did not say; results are cached per video
// so repeated hits across queries probe once.
func (r *researchRun) resolveCaptionState(ctx context.Context, sr ytdlp.SearchResult, cache map[string]bool, deep bool) bool {
	if !deep {
		return sr.HasCaptions != nil && *sr.HasCaptions
	}
	if v, ok := cache[sr.VideoID]; ok {
		return v
	}
	state := sr.HasCaptions
	if state == nil {
		if info, err := r.svc.media.Probe(ctx, sr.URL); err == nil {
			state = info.HasCaptions()
		}
	}
	val := state != nil && *state
	cache[sr.VideoID] = val
	return val
}

// collectCandidates searches every query, filters by duration and caption
// availability, and returns the top candidates by popularity. Videos outside
// the duration bounds survive only when captions exist, because a transcript
// can still be fetched cheaply for them.
func (r *researchRun) collectCandidates(ctx context.Context, queries []string) ([]researchCandidate, *types.SearchStats) {
	cfg := r.cfg
	captionCache := make(map[string]bool)
	merged := make(map[string]researchCandidate)

	queryCount := 0
	for _, q := range queries {
		if strings.TrimSpace(q) != "" {
			queryCount++
		}
	}
	stats := &types.SearchStats{
		QueryCount:              queryCount,
		CaptionsOnly:            cfg.CaptionsOnly,
		NoCaptionMaxDurationSec: cfg.NoCaptionMaxDurationSec,
	}

	for _, q := range queries {
		query := strings.TrimSpace(q)
		rows, err := r.svc.media.SearchVideos(ctx, query, cfg.PerQuery)
		if err != nil {
			r.log.Warn("Video search failed", "query", query, "error", err)
		}
		qs := types.QueryStats{Query: query, Returned: len(rows)}

		for _, sr := range rows {
			stats.SeenTotal++
			dur := int(sr.DurationSec)
			tooShortIfNoCaptions := cfg.MinDurationSec > 0 && dur > 0 && dur < cfg.MinDurationSec
			tooLongIfNoCaptions := cfg.NoCaptionMaxDurationSec > 0 && dur > 0 && dur > cfg.NoCaptionMaxDurationSec
			needsCaptionOverride := tooShortIfNoCaptions || tooLongIfNoCaptions

			hasCaptions := r.resolveCaptionState(ctx, sr, captionCache, needsCaptionOverride || cfg.CaptionsOnly)
			if hasCaptions {
				stats.WithCaptions++
				qs.WithCaptions++
			} else {
				stats.WithoutCaptions++
				qs.WithoutCaptions++
			}

			if cfg.CaptionsOnly && !hasCaptions {
				stats.FilteredWithoutCaptions++
				qs.FilteredWithoutCaptions++
				continue
			}
			if needsCaptionOverride && !hasCaptions {
				if tooShortIfNoCaptions {
					stats.FilteredTooShort++
					qs.FilteredTooShort++
				}
				if tooLongIfNoCaptions {
					stats.FilteredNoCaptionTooLong++
					qs.FilteredNoCaptionTooLong++
				}
				continue
			}
			if needsCaptionOverride && hasCaptions {
				stats.CaptionOverrideKept++
				qs.CaptionOverrideKept++
			}

			stats.EligibleTotal++
			qs.Eligible++

			cand := researchCandidate{
				VideoID:         sr.VideoID,
				URL:             sr.URL,
				Title:           sr.Title,
				Channel:         sr.Channel,
				ViewCount:       sr.ViewCount,
				FollowerCount:   sr.FollowerCount,
				PublishedUTC:    sr.PublishedUTC,
				DurationSec:     dur,
				HasCaptions:     hasCaptions,
				ThumbnailURL:    sr.ThumbnailURL,
				PopularityScore: videoPopularityScore(sr),
			}
			prev, seen := merged[sr.VideoID]
			if !seen {
				qs.UniqueAdded++
			}
			if !seen || cand.PopularityScore > prev.PopularityScore {
				merged[sr.VideoID] = cand
			}
		}
		stats.QueryStats = append(stats.QueryStats, qs)
	}

	ranked := make([]researchCandidate, 0, len(merged))
	for _, cand := range merged {
		ranked = append(ranked, cand)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PopularityScore > ranked[j].PopularityScore
	})
	if len(ranked) > cfg.MaxVideos {
		ranked = ranked[:cfg.MaxVideos]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, stats
}

// searchSummaryText compresses collection stats into one sentence for status
// lines and error messages.
func searchSummaryText(stats *types.SearchStats) string {
	if stats == nil {
		stats = &types.SearchStats{}
	}
	summary := fmt.Sprintf("Searched %d queries and got %d results; %d passed filters.",
		stats.QueryCount, stats.SeenTotal, stats.EligibleTotal)
	if stats.CaptionsOnly {
		summary += fmt.Sprintf(" Fast mode removed %d items without captions.", stats.FilteredWithoutCaptions)
	}
	if len(stats.QueryStats) > 0 {
		var chunks []string
		for i, row := range stats.QueryStats {
			if i >= 4 {
				break
			}
			q := utils.CollapseWhitespace(row.Query)
			if len([]rune(q)) > 42 {
				q = strings.TrimRight(clipRunes(q, 39), " ") + "..."
			}
			chunks = append(chunks, fmt.Sprintf("%q→%d", q, row.Returned))
		}
		if len(chunks) > 0 {
			summary += " Per query: " + strings.Join(chunks, ", ") + "."
		}
	}
	return summary
}
