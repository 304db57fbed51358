package utils

import (
	"testing"
	"time"
)

func TestExtractYouTubeID(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10s", "dQw4w9WgXcQ"},
		{"https://youtube.com/live/AbC123xyz_-", "AbC123xyz_-"},
		{"https://www.youtube.com/shorts/AbC123", "AbC123"},
		{"https://example.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"not a url", ""},
		{"https://youtu.be/ab", ""},
	}
	for _, tc := range cases {
		if got := ExtractYouTubeID(tc.url); got != tc.want {
			t.Fatalf("ExtractYouTubeID(%q): want=%q got=%q", tc.url, tc.want, got)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{"dots.become.underscores", "dots_become_underscores"},
		{"slash/and|pipe", "slash_and_pipe"},
		{"  spaced   out  ", "spaced out"},
		{"", "video"},
		{"Вечірнє служіння", "Вечірнє служіння"},
	}
	for _, tc := range cases {
		if got := SanitizeFilename(tc.in); got != tc.want {
			t.Fatalf("SanitizeFilename(%q): want=%q got=%q", tc.in, tc.want, got)
		}
	}
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeFilename(string(long)); len(got) != 140 {
		t.Fatalf("long name not capped: len=%d", len(got))
	}
}

func TestMakeSavedFilenames(t *testing.T) {
	if got := MakeSavedPartialFilename("My Live", "abc123"); got != "My Live [abc123] (partial).mp4" {
		t.Fatalf("partial filename: got=%q", got)
	}
	if got := MakeSavedFullFilename("My Live", "abc123"); got != "My Live [abc123] (full).mp4" {
		t.Fatalf("full filename: got=%q", got)
	}
}

func TestClassifyServiceByStart(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		dt := time.Date(2025, 3, 9, hour, 30, 0, 0, time.UTC)
		key, label := ClassifyServiceByStart(dt, 17)
		wantKey := ServiceSlot1
		if hour >= 17 {
			wantKey = ServiceSlot2
		}
		if key != wantKey {
			t.Fatalf("hour=%d: want=%s got=%s", hour, wantKey, key)
		}
		if label == "" {
			t.Fatalf("hour=%d: empty label", hour)
		}
	}
}

func TestBuildPublicURL(t *testing.T) {
	got := BuildPublicURL("https://cdn.example.com/files/", "My Live [abc] (partial).mp4")
	want := "https://cdn.example.com/files/My%20Live%20%5Babc%5D%20%28partial%29.mp4"
	if got != want {
		t.Fatalf("BuildPublicURL: want=%q got=%q", want, got)
	}
	if BuildPublicURL("", "x.mp4") != "" {
		t.Fatalf("empty base should produce empty url")
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("  a \t b\n\nc "); got != "a b c" {
		t.Fatalf("CollapseWhitespace: got=%q", got)
	}
}

func TestSlugify(t *testing.T) {
	if got := Slugify("What Is The Revenue Target?", 24); got != "what-is-the-revenue-targ" {
		t.Fatalf("Slugify: got=%q", got)
	}
	if got := Slugify("???", 24); got != "note" {
		t.Fatalf("Slugify empty: got=%q", got)
	}
}
