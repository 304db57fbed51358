package services

import (
	"strings"
	"testing"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

func TestParseUploadDateFormats(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"20240115", "2024-01-15", true},
		{"2024-01-15", "2024-01-15", true},
		{"2024-01-15T10:30:00", "2024-01-15", true},
		{"2024-01-15T10:30:00Z", "2024-01-15", true},
		{"", "", false},
		{"yesterday", "", false},
		{"2024011", "", false},
	}
	for _, tc := range cases {
		got, ok := parseUploadDate(tc.raw)
		if ok != tc.ok {
			t.Fatalf("parse %q: ok want=%v got=%v", tc.raw, tc.ok, ok)
		}
		if ok && got.Format("2006-01-02") != tc.want {
			t.Fatalf("parse %q: want=%s got=%s", tc.raw, tc.want, got.Format("2006-01-02"))
		}
	}
}

func TestVideoPopularityScoreBounds(t *testing.T) {
	zero := videoPopularityScore(ytdlp.SearchResult{})
	if zero < 0 || zero > 1 {
		t.Fatalf("empty result score out of range: %v", zero)
	}

	recent := time.Now().UTC().Add(-24 * time.Hour).Format("20060102")
	big := videoPopularityScore(ytdlp.SearchResult{
		ViewCount:     50_000_000,
		FollowerCount: 10_000_000,
		DurationSec:   2400,
		PublishedUTC:  recent,
	})
	if big <= zero {
		t.Fatalf("popular recent video should outscore empty: big=%v zero=%v", big, zero)
	}
	if big > 1.0 {
		t.Fatalf("score exceeds 1.0: %v", big)
	}

	old := videoPopularityScore(ytdlp.SearchResult{
		ViewCount:     50_000_000,
		FollowerCount: 10_000_000,
		DurationSec:   2400,
		PublishedUTC:  "20150101",
	})
	if old >= big {
		t.Fatalf("recency should matter: old=%v recent=%v", old, big)
	}
}

func TestSearchSummaryText(t *testing.T) {
	got := searchSummaryText(nil)
	if !strings.Contains(got, "Searched 0 queries and got 0 results; 0 passed filters.") {
		t.Fatalf("nil stats summary: %q", got)
	}

	stats := &types.SearchStats{
		QueryCount:              3,
		SeenTotal:               24,
		EligibleTotal:           7,
		CaptionsOnly:            true,
		FilteredWithoutCaptions: 11,
		QueryStats: []types.QueryStats{
			{Query: "how to start a bakery", Returned: 8},
			{Query: "bakery profit breakdown", Returned: 9},
		},
	}
	got = searchSummaryText(stats)
	if !strings.Contains(got, "Searched 3 queries and got 24 results; 7 passed filters.") {
		t.Fatalf("summary head: %q", got)
	}
	if !strings.Contains(got, "Fast mode removed 11 items without captions.") {
		t.Fatalf("captions-only clause missing: %q", got)
	}
	if !strings.Contains(got, `"how to start a bakery"→8`) {
		t.Fatalf("per-query chunk missing: %q", got)
	}
}

func TestSearchSummaryTextClipsLongQueries(t *testing.T) {
	long := strings.Repeat("bakery ", 20)
	got := searchSummaryText(&types.SearchStats{
		QueryCount: 1,
		QueryStats: []types.QueryStats{{Query: long, Returned: 2}},
	})
	if !strings.Contains(got, "...") {
		t.Fatalf("long query should be clipped: %q", got)
	}
}

func TestNoCandidateErrorBranches(t *testing.T) {
	run := &researchRun{svc: &researchService{noCaptionMaxSec: 600}}

	run.cfg = types.ResearchConfig{CaptionsOnly: true}
	got := run.noCandidateError(&types.SearchStats{SeenTotal: 5, FilteredWithoutCaptions: 5})
	if !strings.Contains(got, "none had captions/transcripts for fast mode") {
		t.Fatalf("captions-only branch: %q", got)
	}

	run.cfg = types.ResearchConfig{}
	got = run.noCandidateError(&types.SearchStats{SeenTotal: 4, FilteredNoCaptionTooLong: 4})
	if !strings.Contains(got, "no-caption limit is 10 minutes max each") {
		t.Fatalf("no-caption-too-long branch: %q", got)
	}

	got = run.noCandidateError(&types.SearchStats{
		SeenTotal: 4, FilteredNoCaptionTooLong: 4, NoCaptionMaxDurationSec: 300,
	})
	if !strings.Contains(got, "limit is 5 minutes") {
		t.Fatalf("stats ceiling should win: %q", got)
	}

	run.cfg = types.ResearchConfig{MinDurationSec: 240}
	got = run.noCandidateError(&types.SearchStats{SeenTotal: 3, FilteredTooShort: 3})
	if !strings.Contains(got, "shorter than your minimum duration setting") {
		t.Fatalf("too-short branch: %q", got)
	}

	run.cfg = types.ResearchConfig{}
	got = run.noCandidateError(&types.SearchStats{})
	if !strings.Contains(got, "Search returned no videos for the generated queries.") {
		t.Fatalf("empty search branch: %q", got)
	}

	got = run.noCandidateError(nil)
	if !strings.HasPrefix(got, "No candidate videos found. Try a broader goal.") {
		t.Fatalf("nil stats fallback: %q", got)
	}
}

func TestBuildKnowledgeJuiceGoal(t *testing.T) {
	if got := BuildKnowledgeJuiceGoal("   "); got != "" {
		t.Fatalf("blank topic: got=%q", got)
	}
	got := BuildKnowledgeJuiceGoal("  mobile   car detailing ")
	if !strings.HasPrefix(got, "I want to become successful in mobile car detailing.") {
		t.Fatalf("goal text: %q", got)
	}
}

func TestTranscriptSourceLabel(t *testing.T) {
	cases := map[string]string{
		types.TranscriptSourceCaptions: "youtube captions",
		types.TranscriptSourceSTT:      "audio transcription",
		"":                             "transcript",
		"manual_upload":                "manual_upload",
	}
	for in, want := range cases {
		if got := transcriptSourceLabel(in); got != want {
			t.Fatalf("label(%q): want=%q got=%q", in, want, got)
		}
	}
}
