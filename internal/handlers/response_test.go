package handlers

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSafeVideoID(t *testing.T) {
	cases := map[string]string{
		"dQw4w9WgXcQ":    "dQw4w9WgXcQ",
		"  dQw4w9WgXcQ ": "dQw4w9WgXcQ",
		"abc":            "",
		"has space here": "",
		"semi;colon":     "",
		"":               "",
	}
	for in, want := range cases {
		if got := SafeVideoID(in); got != want {
			t.Fatalf("SafeVideoID(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestFriendlyAPIError(t *testing.T) {
	got := friendlyAPIError(errors.New("ERROR: [youtube] abc: rate-limited by YouTube"))
	if !strings.Contains(got, "YouTube temporarily rate-limited this server session") {
		t.Fatalf("rate-limit rewrite: %q", got)
	}

	got = friendlyAPIError(errors.New("yt-dlp: This content isn't available, try again later"))
	if !strings.Contains(got, "rate-limited this server session") {
		t.Fatalf("content-unavailable rewrite: %q", got)
	}

	got = friendlyAPIError(errors.New("This content isn't available, try again later"))
	if strings.Contains(got, "rate-limited") {
		t.Fatalf("rewrite should require a youtube/yt-dlp marker: %q", got)
	}

	got = friendlyAPIError(errors.New("ERROR: Private video. Sign in if you've been granted access"))
	if !strings.Contains(got, "Use cookies from an account that can access it.") {
		t.Fatalf("private-video rewrite: %q", got)
	}

	if got = friendlyAPIError(errors.New("disk full")); got != "disk full" {
		t.Fatalf("passthrough: %q", got)
	}
	if got = friendlyAPIError(nil); got != "unknown error" {
		t.Fatalf("nil error: %q", got)
	}
}

func TestFlatten(t *testing.T) {
	type result struct {
		VideoID string `json:"video_id"`
		Cached  bool   `json:"cached"`
	}
	out := flatten(result{VideoID: "dQw4w9WgXcQ", Cached: true}, gin.H{"elapsed_sec": 0.42})
	if out["video_id"] != "dQw4w9WgXcQ" {
		t.Fatalf("struct field not folded: %+v", out)
	}
	if out["cached"] != true {
		t.Fatalf("bool field not folded: %+v", out)
	}
	if out["elapsed_sec"] != 0.42 {
		t.Fatalf("extra field lost: %+v", out)
	}
}

func TestBoolParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]bool{
		"1": true, "true": true, "YES": true,
		"0": false, "false": false, "": false, "maybe": false,
	}
	for raw, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/?flag="+raw, nil)
		if got := boolParam(c, "flag"); got != want {
			t.Fatalf("boolParam(%q): want=%v got=%v", raw, want, got)
		}
	}
}
