package gcpspeech

import (
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"
)

func dur(sec float64) *durationpb.Duration {
	return durationpb.New(time.Duration(sec * float64(time.Second)))
}

func TestLanguageCode(t *testing.T) {
	cases := []struct {
		hint string
		want string
	}{
		{"", "en-US"},
		{"en", "en-US"},
		{"uk", "uk-UA"},
		{"de-DE", "de-DE"},
	}
	for _, tc := range cases {
		if got := languageCode(tc.hint); got != tc.want {
			t.Fatalf("languageCode(%q): want=%q got=%q", tc.hint, tc.want, got)
		}
	}
}

func TestInferEncoding(t *testing.T) {
	cases := []struct {
		path string
		want speechpb.RecognitionConfig_AudioEncoding
	}{
		{"a.wav", speechpb.RecognitionConfig_LINEAR16},
		{"a.flac", speechpb.RecognitionConfig_FLAC},
		{"a.mp3", speechpb.RecognitionConfig_MP3},
		{"a.opus", speechpb.RecognitionConfig_OGG_OPUS},
		{"a.m4a", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED},
	}
	for _, tc := range cases {
		if got := inferEncoding(tc.path); got != tc.want {
			t.Fatalf("inferEncoding(%q): want=%v got=%v", tc.path, tc.want, got)
		}
	}
}

func TestGroupByTimeWindows(t *testing.T) {
	words := []timedWord{
		{"one", 0, 1},
		{"two", 2, 3},
		{"three", 11, 12},
		{"four", 12.5, 13},
	}
	segs := groupByTime(words, 10)
	if len(segs) != 2 {
		t.Fatalf("segments: want=2 got=%d (%+v)", len(segs), segs)
	}
	if segs[0].Text != "one two" || segs[0].Start != 0 || segs[0].End != 3 {
		t.Fatalf("first segment: got=%+v", segs[0])
	}
	if segs[1].Text != "three four" || segs[1].Start != 11 {
		t.Fatalf("second segment: got=%+v", segs[1])
	}
}

func TestSegmentsFromResponseFallsBackToTranscript(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "hello world"}}},
		},
	}
	segs := segmentsFromResponse(resp)
	if len(segs) != 1 || segs[0].Text != "hello world" {
		t.Fatalf("fallback transcript: got=%+v", segs)
	}
}

func TestSegmentsFromResponseWithWords(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Transcript: "hello world",
				Words: []*speechpb.WordInfo{
					{Word: "hello", StartTime: dur(0), EndTime: dur(1)},
					{Word: "world", StartTime: dur(1), EndTime: dur(2)},
				},
			}}},
		},
	}
	segs := segmentsFromResponse(resp)
	if len(segs) != 1 || segs[0].Text != "hello world" || segs[0].End != 2 {
		t.Fatalf("word grouping: got=%+v", segs)
	}
}
