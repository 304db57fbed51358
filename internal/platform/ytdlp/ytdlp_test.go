package ytdlp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseProgressLine(t *testing.T) {
	cases := []struct {
		line  string
		ok    bool
		pct   float64
		speed string
		eta   string
	}{
		{"[download]  42.3% of 1.20GiB at 3.45MiB/s ETA 04:12", true, 42.3, "3.45MiB/s", "04:12"},
		{"[download] 100% of 880.12MiB in 00:03:12", true, 100, "?", "?"},
		{"[download]   0.1% of ~2.00GiB at 512.00KiB/s ETA 68:22", true, 0.1, "512.00KiB/s", "68:22"},
		{"[youtube] abc123: Downloading webpage", false, 0, "", ""},
		{"", false, 0, "", ""},
	}
	for _, tc := range cases {
		pct, speed, eta, ok := parseProgressLine(tc.line)
		if ok != tc.ok {
			t.Fatalf("parseProgressLine(%q) ok: want=%v got=%v", tc.line, tc.ok, ok)
		}
		if !ok {
			continue
		}
		if pct != tc.pct {
			t.Fatalf("parseProgressLine(%q) pct: want=%v got=%v", tc.line, tc.pct, pct)
		}
		if speed != tc.speed {
			t.Fatalf("parseProgressLine(%q) speed: want=%q got=%q", tc.line, tc.speed, speed)
		}
		if eta != tc.eta {
			t.Fatalf("parseProgressLine(%q) eta: want=%q got=%q", tc.line, tc.eta, eta)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		msg       string
		antibot   bool
		retryable bool
	}{
		{"ERROR: Sign in to confirm you're not a bot", true, true},
		{"ERROR: Sign in to confirm you’re not a bot. Use --cookies", true, true},
		{"ERROR: No video formats found!", false, true},
		{"ERROR: challenge solving failed", false, true},
		{"ERROR: Video unavailable. This video is private", false, false},
		{"some transient network error", false, false},
	}
	for _, tc := range cases {
		if got := IsAntibotMessage(tc.msg); got != tc.antibot {
			t.Fatalf("IsAntibotMessage(%q): want=%v got=%v", tc.msg, tc.antibot, got)
		}
		if got := IsRetryableAccessMessage(tc.msg); got != tc.retryable {
			t.Fatalf("IsRetryableAccessMessage(%q): want=%v got=%v", tc.msg, tc.retryable, got)
		}
	}
}

func TestClassifyAccessError(t *testing.T) {
	err := classifyAccessError("ERROR: Sign in to confirm you're not a bot")
	if !errors.Is(err, ErrAntibotBlocked) {
		t.Fatalf("antibot message not tagged: got=%v", err)
	}
	err = classifyAccessError("ERROR: Video unavailable. This video is private")
	if !errors.Is(err, ErrPrivateUnavailable) {
		t.Fatalf("private message not tagged: got=%v", err)
	}
	err = classifyAccessError("ordinary failure")
	if errors.Is(err, ErrAntibotBlocked) || errors.Is(err, ErrPrivateUnavailable) {
		t.Fatalf("plain message should stay untagged: got=%v", err)
	}
}

func TestTerminalDownloadError(t *testing.T) {
	for _, err := range []error{ErrLiveStopRequested, ErrLiveStuckTimeout, ErrLiveBecamePrivate} {
		if !terminalDownloadError(err) {
			t.Fatalf("terminalDownloadError(%v): want=true got=false", err)
		}
	}
	if terminalDownloadError(ErrAntibotBlocked) {
		t.Fatalf("antibot must stay retryable")
	}
}

func writeCookieFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookies.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("write cookie fixture: %v", err)
	}
	return path
}

func TestCookieCheck(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).Unix()
	good := "# Netscape HTTP Cookie File\n" +
		fmt.Sprintf(".youtube.com\tTRUE\t/\tTRUE\t%d\t__Secure-1PSID\tvalue\n", future)

	t.Run("valid file", func(t *testing.T) {
		cfg := CookieConfig{File: writeCookieFile(t, good)}
		if reasons := cfg.Check(); len(reasons) != 0 {
			t.Fatalf("valid cookies flagged: %v", reasons)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := CookieConfig{File: filepath.Join(t.TempDir(), "nope.txt")}
		if reasons := cfg.Check(); len(reasons) == 0 {
			t.Fatalf("missing file not flagged")
		}
	})

	t.Run("wrong format", func(t *testing.T) {
		cfg := CookieConfig{File: writeCookieFile(t, "not a cookie file\n")}
		reasons := cfg.Check()
		if len(reasons) != 1 {
			t.Fatalf("format problem: want 1 reason, got %v", reasons)
		}
	})

	t.Run("expired session cookies", func(t *testing.T) {
		past := time.Now().Add(-24 * time.Hour).Unix()
		stale := "# Netscape HTTP Cookie File\n" +
			fmt.Sprintf(".youtube.com\tTRUE\t/\tTRUE\t%d\tSID\tvalue\n", past)
		cfg := CookieConfig{File: writeCookieFile(t, stale)}
		if reasons := cfg.Check(); len(reasons) == 0 {
			t.Fatalf("expired session cookies not flagged")
		}
	})

	t.Run("session cookie with zero expiry never expires", func(t *testing.T) {
		session := "# Netscape HTTP Cookie File\n" +
			".youtube.com\tTRUE\t/\tTRUE\t0\tHSID\tvalue\n"
		cfg := CookieConfig{File: writeCookieFile(t, session)}
		if reasons := cfg.Check(); len(reasons) != 0 {
			t.Fatalf("zero-expiry session cookie flagged: %v", reasons)
		}
	})

	t.Run("browser source skips checks", func(t *testing.T) {
		cfg := CookieConfig{FromBrowser: "chrome", File: "/does/not/exist"}
		if reasons := cfg.Check(); len(reasons) != 0 {
			t.Fatalf("browser cookies flagged: %v", reasons)
		}
	})
}

func TestCookieArgs(t *testing.T) {
	cfg := CookieConfig{FromBrowser: "firefox", File: "/tmp/c.txt"}
	args := cfg.args()
	if len(args) != 2 || args[0] != "--cookies-from-browser" || args[1] != "firefox" {
		t.Fatalf("browser args: got=%v", args)
	}
	cfg = CookieConfig{File: "/tmp/c.txt"}
	args = cfg.args()
	if len(args) != 2 || args[0] != "--cookies" || args[1] != "/tmp/c.txt" {
		t.Fatalf("file args: got=%v", args)
	}
	if args := (CookieConfig{}).args(); args != nil {
		t.Fatalf("empty config should add no args: got=%v", args)
	}
}

func TestPickCaptionFile(t *testing.T) {
	dir := t.TempDir()
	vtt := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write vtt fixture: %v", err)
		}
		return p
	}

	long := "WEBVTT\n\n00:00:00.000 --> 00:20:00.000\nlong coverage\n"
	short := "WEBVTT\n\n00:00:00.000 --> 00:00:30.000\nshort coverage\n"

	t.Run("preference order wins", func(t *testing.T) {
		a := vtt("abc.en-GB.vtt", short)
		b := vtt("abc.en-US.vtt", long)
		got, err := pickCaptionFile([]string{a, b}, []string{"en-gb", "en-us"})
		if err != nil {
			t.Fatalf("pickCaptionFile: %v", err)
		}
		if got != a {
			t.Fatalf("preferred track: want=%s got=%s", a, got)
		}
	})

	t.Run("coverage breaks ties", func(t *testing.T) {
		a := vtt("xyz.en-US.vtt", short)
		b := vtt("xyz.en-AU.vtt", long)
		got, err := pickCaptionFile([]string{a, b}, []string{"en"})
		if err != nil {
			t.Fatalf("pickCaptionFile: %v", err)
		}
		if got != b {
			t.Fatalf("coverage tiebreak: want=%s got=%s", b, got)
		}
	})

	t.Run("non-english only", func(t *testing.T) {
		a := vtt("qqq.uk.vtt", long)
		_, err := pickCaptionFile([]string{a}, []string{"en"})
		if !errors.Is(err, ErrNoCaptions) {
			t.Fatalf("non-english tracks: want ErrNoCaptions got=%v", err)
		}
	})
}

func TestCaptionLangFromName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"abc123.en.vtt", "en"},
		{"abc123.en-US.vtt", "en-us"},
		{"some.video.id.en_GB.vtt", "en_gb"},
		{"noext.vtt", "noext"},
	}
	for _, tc := range cases {
		if got := captionLangFromName(tc.name); got != tc.want {
			t.Fatalf("captionLangFromName(%q): want=%q got=%q", tc.name, tc.want, got)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
	}
	for _, tc := range cases {
		if got := HumanBytes(tc.n); got != tc.want {
			t.Fatalf("HumanBytes(%d): want=%q got=%q", tc.n, tc.want, got)
		}
	}
}

func TestNewestPartForVideo(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "Stream [vid123].f303.part")
	newer := filepath.Join(dir, "Stream [vid123].f251.part")
	other := filepath.Join(dir, "Other [zzz999].part")
	for _, p := range []string{old, newer, other} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if got := NewestPartForVideo(dir, "vid123"); got != newer {
		t.Fatalf("NewestPartForVideo: want=%s got=%s", newer, got)
	}
	if got := NewestPartForVideo(dir, "missing"); got != "" {
		t.Fatalf("unknown id: want empty got=%s", got)
	}
}

func TestVideoInfoHasCaptions(t *testing.T) {
	var v *VideoInfo
	if got := v.HasCaptions(); got != nil {
		t.Fatalf("nil info: want nil got=%v", *got)
	}
	v = &VideoInfo{}
	if got := v.HasCaptions(); got != nil {
		t.Fatalf("no caption keys: want nil got=%v", *got)
	}
	v = &VideoInfo{Subtitles: map[string]json.RawMessage{"en": json.RawMessage(`[{"url":"x"}]`)}}
	if got := v.HasCaptions(); got == nil || !*got {
		t.Fatalf("subtitles present: want true got=%v", got)
	}
	v = &VideoInfo{Subtitles: map[string]json.RawMessage{}}
	if got := v.HasCaptions(); got == nil || *got {
		t.Fatalf("empty subtitles map: want false got=%v", got)
	}
}
