package services

import (
	"math"
	"strings"
	"testing"

	"github.com/hubrts/youtube-command-deck/internal/transcript"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLexicalChunkScoresKeywordFormula(t *testing.T) {
	chunks := []transcript.Chunk{
		{Idx: 0, Text: "[00:01] the bakery opened in spring"},
		{Idx: 1, Text: "[00:20] bakery bakery bakery bakery bakery bakery bakery bakery bakery bakery"},
		{Idx: 2, Text: "[00:40] nothing relevant here"},
	}
	scores := lexicalChunkScores(chunks, "bakery margins", nil)

	// One occurrence: 1 + 0.2*1.
	if !almostEqual(scores[0], 1.2) {
		t.Fatalf("single occurrence: want=1.2 got=%v", scores[0])
	}
	// Ten occurrences: repetition bonus capped at 1.5.
	if !almostEqual(scores[1], 2.5) {
		t.Fatalf("capped repetition: want=2.5 got=%v", scores[1])
	}
	if !almostEqual(scores[2], 0.0) {
		t.Fatalf("no match: want=0 got=%v", scores[2])
	}
}

func TestLexicalChunkScoresPhraseBonus(t *testing.T) {
	chunks := []transcript.Chunk{
		{Idx: 0, Text: "[00:01] she said it all started with one oven"},
		{Idx: 1, Text: "[00:30] all started later with one oven"},
	}
	scores := lexicalChunkScores(chunks, "it all started", nil)

	// Both chunks match "started"; only chunk 0 contains the full question.
	if diff := scores[0] - scores[1]; !almostEqual(diff, 3.0) {
		t.Fatalf("phrase bonus: want diff=3.0 got=%v (scores %v)", diff, scores)
	}
}

func TestLexicalChunkScoresPlannerKeywords(t *testing.T) {
	chunks := []transcript.Chunk{
		{Idx: 0, Text: "[00:01] margins were thin in year one"},
	}
	without := lexicalChunkScores(chunks, "how was money", nil)
	with := lexicalChunkScores(chunks, "how was money", []string{"margins"})
	if with[0] <= without[0] {
		t.Fatalf("planner keywords should add matches: with=%v without=%v", with[0], without[0])
	}
}

func TestBlendRetrievalScore(t *testing.T) {
	if got := blendRetrievalScore(0.8, 0.9, false); !almostEqual(got, 0.8) {
		t.Fatalf("lexical-only blend: want=0.8 got=%v", got)
	}
	if got := blendRetrievalScore(1.0, 0.0, true); !almostEqual(got, 0.45) {
		t.Fatalf("blend weights lexical side: want=0.45 got=%v", got)
	}
	if got := blendRetrievalScore(0.0, 1.0, true); !almostEqual(got, 0.55) {
		t.Fatalf("blend weights semantic side: want=0.55 got=%v", got)
	}
	if got := blendRetrievalScore(0.5, 0.5, true); !almostEqual(got, 0.5) {
		t.Fatalf("balanced blend: want=0.5 got=%v", got)
	}
}

func TestChunkFocusBoost(t *testing.T) {
	if got := chunkFocusBoost(0, 1, "ending"); !almostEqual(got, 0.0) {
		t.Fatalf("single chunk: want=0 got=%v", got)
	}
	if got := chunkFocusBoost(10, 11, "ending"); !almostEqual(got, 0.25) {
		t.Fatalf("ending boost at last chunk: want=0.25 got=%v", got)
	}
	if got := chunkFocusBoost(0, 11, "ending"); !almostEqual(got, 0.0) {
		t.Fatalf("ending boost at first chunk: want=0 got=%v", got)
	}
	if got := chunkFocusBoost(0, 11, "beginning"); !almostEqual(got, 0.25) {
		t.Fatalf("beginning boost at first chunk: want=0.25 got=%v", got)
	}
	if got := chunkFocusBoost(5, 11, "middle"); !almostEqual(got, 0.20) {
		t.Fatalf("middle boost at center: want=0.20 got=%v", got)
	}
	if got := chunkFocusBoost(0, 11, "middle"); !almostEqual(got, 0.0) {
		t.Fatalf("middle boost at edge: want=0 got=%v", got)
	}
	if got := chunkFocusBoost(7, 11, ""); !almostEqual(got, 0.0) {
		t.Fatalf("no focus: want=0 got=%v", got)
	}
}

func TestVerifyEvidenceLines(t *testing.T) {
	transcriptText := strings.Join([]string{
		"Title: How the shop started",
		"Video ID: vid01abc",
		"",
		"[00:05] we opened the first location in March",
		"[00:42] rent was the biggest cost by far",
		"[01:10] we broke even after nine months",
	}, "\n")

	evidence := []string{
		"[00:05] we opened the first location in March",
		"rent was the biggest cost",
		"we opened the first location in March",
		"completely invented claim about franchising",
		"short",
	}
	got := VerifyEvidenceLines(evidence, transcriptText, 5)

	want := []string{
		"we opened the first location in March",
		"rent was the biggest cost by far",
	}
	if len(got) != len(want) {
		t.Fatalf("verified lines: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: want=%q got=%q", i, want[i], got[i])
		}
	}
}

func TestVerifyEvidenceLinesHonorsLimit(t *testing.T) {
	transcriptText := "[00:05] alpha line of the transcript\n[00:10] beta line of the transcript\n"
	evidence := []string{"alpha line of the transcript", "beta line of the transcript"}

	got := VerifyEvidenceLines(evidence, transcriptText, 1)
	if len(got) != 1 || got[0] != "alpha line of the transcript" {
		t.Fatalf("limit: got=%v", got)
	}
}
