package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatStamp(t *testing.T) {
	cases := []struct {
		sec  float64
		want string
	}{
		{0, "00:00"}, {15, "00:15"}, {75.9, "01:15"}, {3601, "60:01"}, {-5, "00:00"},
	}
	for _, tc := range cases {
		if got := FormatStamp(tc.sec); got != tc.want {
			t.Fatalf("FormatStamp(%v): want=%q got=%q", tc.sec, tc.want, got)
		}
	}
}

func TestWriteFileAndBodyRoundTrip(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 4, Text: "hello there"},
		{Start: 15, End: 20, Text: "the revenue target is five thousand dollars"},
	}
	body := RenderBody(segs)
	path := filepath.Join(t.TempDir(), "abc123.txt")
	if err := WriteFile(path, "My Video", "abc123", time.Now(), body); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	content := string(raw)
	lines := strings.Split(content, "\n")
	if !strings.HasPrefix(lines[0], "Title: My Video") {
		t.Fatalf("header line 0: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "Video ID: abc123") {
		t.Fatalf("header line 1: %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "Generated: ") {
		t.Fatalf("header line 2: %q", lines[2])
	}
	if lines[3] != "" {
		t.Fatalf("header separator missing: %q", lines[3])
	}
	if lines[4] != "[00:00] hello there" {
		t.Fatalf("body line 0: %q", lines[4])
	}

	got := BodyLines(content)
	if len(got) != 2 || got[1] != "[00:15] the revenue target is five thousand dollars" {
		t.Fatalf("BodyLines: %v", got)
	}

	back := SegmentsFromContent(content)
	if len(back) != 2 || back[1].Start != 15 || StripStamp(got[1]) != "the revenue target is five thousand dollars" {
		t.Fatalf("SegmentsFromContent: %+v", back)
	}
}

func TestParseVTT(t *testing.T) {
	vtt := `WEBVTT
Kind: captions
Language: en

00:00:01.000 --> 00:00:04.000
<c>hello</c> world

00:00:04.000 --> 00:00:06.500 align:start position:0%
hello world

00:01:02.500 --> 00:01:05.000
second   cue
continues here
`
	segs := ParseVTT(vtt)
	if len(segs) != 2 {
		t.Fatalf("rollup dedup failed: %+v", segs)
	}
	if segs[0].Text != "hello world" || segs[0].Start != 1.0 {
		t.Fatalf("first cue: %+v", segs[0])
	}
	if segs[0].End != 6.5 {
		t.Fatalf("rollup should extend end: %+v", segs[0])
	}
	if segs[1].Text != "second cue continues here" || segs[1].Start != 62.5 {
		t.Fatalf("second cue: %+v", segs[1])
	}
}

func TestParseVTTTimestamp(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"00:00:01.000", 1}, {"01:02:03.500", 3723.5}, {"02:05.25", 125.25}, {"bogus", 0}, {"", 0},
	}
	for _, tc := range cases {
		if got := ParseVTTTimestamp(tc.raw); got != tc.want {
			t.Fatalf("ParseVTTTimestamp(%q): want=%v got=%v", tc.raw, tc.want, got)
		}
	}
}

func makeSegments(n int) []Segment {
	segs := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		segs = append(segs, Segment{
			Start: float64(i * 10),
			End:   float64(i*10 + 8),
			Text:  "line " + string(rune('a'+i%26)),
		})
	}
	return segs
}

func TestBuildChunksWindows(t *testing.T) {
	segs := makeSegments(20)
	chunks := BuildChunks(segs, 8, 2)
	if len(chunks) == 0 {
		t.Fatalf("no chunks")
	}
	for i, ch := range chunks {
		if ch.Idx != i {
			t.Fatalf("chunk idx not contiguous: want=%d got=%d", i, ch.Idx)
		}
		if ch.EndTS < ch.StartTS {
			t.Fatalf("chunk %d: end %v < start %v", i, ch.EndTS, ch.StartTS)
		}
	}
	// stride 6: windows begin at segment 0, 6, 12, 18
	if chunks[0].StartTS != 0 || chunks[1].StartTS != 60 || chunks[2].StartTS != 120 {
		t.Fatalf("stride wrong: %+v %+v %+v", chunks[0], chunks[1], chunks[2])
	}
	if want := 4; len(chunks) != want {
		t.Fatalf("chunk count: want=%d got=%d", want, len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "[00:00] line a\n[00:10] line b") {
		t.Fatalf("chunk text: %q", chunks[0].Text)
	}
}

func TestBuildChunksClampsParams(t *testing.T) {
	segs := makeSegments(10)
	// perChunk below minimum is raised to 4; overlap >= perChunk forces stride 1
	chunks := BuildChunks(segs, 1, 10)
	if len(chunks) != 10 {
		t.Fatalf("stride clamp: want 10 chunks got %d", len(chunks))
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := BuildChunks(makeSegments(20), 8, 2)
	b := BuildChunks(makeSegments(20), 8, 2)
	ha, hb := ContentHash(a), ContentHash(b)
	if ha == "" || ha != hb {
		t.Fatalf("hash not deterministic: %q vs %q", ha, hb)
	}
	c := BuildChunks(makeSegments(21), 8, 2)
	if ContentHash(c) == ha {
		t.Fatalf("different content produced the same hash")
	}
}
