package repos

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hubrts/youtube-command-deck/internal/db"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

func testState(t *testing.T) (*db.StateService, *logger.Logger) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	svc, err := db.NewStateService(log, "file::memory:?cache=private", 8)
	if err != nil {
		t.Fatalf("NewStateService: %v", err)
	}
	if err := svc.AutoMigrateAll(); err != nil {
		t.Fatalf("AutoMigrateAll: %v", err)
	}
	return svc, log
}

func TestArchiveIndexRoundTrip(t *testing.T) {
	svc, log := testState(t)
	repo := NewArchiveIndexRepo(svc.DB(), log)
	ctx := context.Background()

	index := map[string]*types.ArchiveRecord{
		"vid111": {VideoID: "vid111", Title: "First", Status: types.StatusSaved, ServiceKey: "slot_1"},
		"vid222": {VideoID: "vid222", Title: "Second", Status: types.StatusPartial, TranscriptChars: 420},
	}
	if err := repo.SaveIndex(ctx, nil, index); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}
	loaded, err := repo.LoadIndex(ctx, nil)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if err := repo.SaveIndex(ctx, nil, loaded); err != nil {
		t.Fatalf("SaveIndex(LoadIndex()): %v", err)
	}
	again, err := repo.LoadIndex(ctx, nil)
	if err != nil {
		t.Fatalf("LoadIndex again: %v", err)
	}
	if !reflect.DeepEqual(loaded, again) {
		t.Fatalf("save(load()) not a no-op: %+v vs %+v", loaded, again)
	}
	if again["vid222"].TranscriptChars != 420 {
		t.Fatalf("record field lost: %+v", again["vid222"])
	}
}

func TestArchiveUpdateRecordUpsert(t *testing.T) {
	svc, log := testState(t)
	repo := NewArchiveIndexRepo(svc.DB(), log)
	ctx := context.Background()

	rec, err := repo.UpdateRecord(ctx, nil, "vid333", func(r *types.ArchiveRecord) {
		r.Title = "Created"
		r.Status = types.StatusRecording
	})
	if err != nil {
		t.Fatalf("UpdateRecord create: %v", err)
	}
	if rec.VideoID != "vid333" || rec.Status != types.StatusRecording {
		t.Fatalf("created record: %+v", rec)
	}

	rec, err = repo.UpdateRecord(ctx, nil, "vid333", func(r *types.ArchiveRecord) {
		r.Status = types.StatusSaved
	})
	if err != nil {
		t.Fatalf("UpdateRecord mutate: %v", err)
	}
	if rec.Title != "Created" || rec.Status != types.StatusSaved {
		t.Fatalf("mutated record lost fields: %+v", rec)
	}

	got, err := repo.GetRecord(ctx, nil, "vid333")
	if err != nil || got == nil {
		t.Fatalf("GetRecord: rec=%v err=%v", got, err)
	}
	if got.Status != types.StatusSaved {
		t.Fatalf("persisted status: %q", got.Status)
	}

	missing, err := repo.GetRecord(ctx, nil, "nope")
	if err != nil || missing != nil {
		t.Fatalf("absent row should be (nil, nil), got rec=%v err=%v", missing, err)
	}
}

func TestKnownChatsRoundTrip(t *testing.T) {
	svc, log := testState(t)
	repo := NewBotMetaRepo(svc.DB(), log)
	ctx := context.Background()

	if err := repo.SaveKnownChats(ctx, nil, []int64{42, 7, 42, 99}); err != nil {
		t.Fatalf("SaveKnownChats: %v", err)
	}
	got, err := repo.LoadKnownChats(ctx, nil)
	if err != nil {
		t.Fatalf("LoadKnownChats: %v", err)
	}
	want := []int64{7, 42, 99}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("known chats: want=%v got=%v", want, got)
	}
	if err := repo.SaveKnownChats(ctx, nil, got); err != nil {
		t.Fatalf("save(load()): %v", err)
	}
	again, _ := repo.LoadKnownChats(ctx, nil)
	if !reflect.DeepEqual(again, want) {
		t.Fatalf("round trip changed set: %v", again)
	}
}

func TestResearchTopicsDedupAndClamp(t *testing.T) {
	svc, log := testState(t)
	repo := NewResearchRepo(svc.DB(), log)
	ctx := context.Background()

	runID, err := repo.CreateRun(ctx, nil, 1, "bakery research", types.ResearchIntent{Objective: "bakery"}, true)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	topics := []TopicWeight{
		{Tag: "A", Weight: 0.2},
		{Tag: "  a ", Weight: 0.9},
		{Tag: "b", Weight: 0.5},
		{Tag: "c", Weight: 1.7},
		{Tag: "d", Weight: -0.3},
	}
	if err := repo.SaveTopics(ctx, nil, runID, topics); err != nil {
		t.Fatalf("SaveTopics: %v", err)
	}
	got, err := repo.LoadTopics(ctx, nil, runID)
	if err != nil {
		t.Fatalf("LoadTopics: %v", err)
	}
	byTag := map[string]float64{}
	for _, tw := range got {
		byTag[tw.Tag] = tw.Weight
	}
	if len(byTag) != 4 {
		t.Fatalf("dedupe failed: %v", got)
	}
	if byTag["a"] != 0.2 {
		t.Fatalf("first-seen weight: want=0.2 got=%v", byTag["a"])
	}
	if byTag["c"] != 1.0 || byTag["d"] != 0.0 {
		t.Fatalf("weights not clamped: %v", byTag)
	}
}

func TestLoadRelatedPublicTopics(t *testing.T) {
	svc, log := testState(t)
	repo := NewResearchRepo(svc.DB(), log)
	ctx := context.Background()

	mkRun := func(public bool, topics ...TopicWeight) string {
		runID, err := repo.CreateRun(ctx, nil, 1, "r", types.ResearchIntent{}, public)
		if err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		if err := repo.SaveTopics(ctx, nil, runID, topics); err != nil {
			t.Fatalf("SaveTopics: %v", err)
		}
		return runID
	}

	base := mkRun(true, TopicWeight{Tag: "bakery", Weight: 0.9}, TopicWeight{Tag: "sourdough", Weight: 0.4})
	mkRun(true, TopicWeight{Tag: "bakery", Weight: 0.8}, TopicWeight{Tag: "pricing", Weight: 0.7})
	mkRun(true, TopicWeight{Tag: "bakery", Weight: 0.3}, TopicWeight{Tag: "pricing", Weight: 0.2}, TopicWeight{Tag: "marketing", Weight: 0.9})
	mkRun(false, TopicWeight{Tag: "bakery", Weight: 0.8}, TopicWeight{Tag: "hidden", Weight: 0.99})
	mkRun(true, TopicWeight{Tag: "unrelated", Weight: 0.9}, TopicWeight{Tag: "other", Weight: 0.9})

	got, err := repo.LoadRelatedPublicTopics(ctx, nil, []string{"bakery", "sourdough"}, base, 10)
	if err != nil {
		t.Fatalf("LoadRelatedPublicTopics: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("related topics: %+v", got)
	}
	if got[0].Tag != "pricing" || got[0].RunCount != 2 {
		t.Fatalf("ordering by run count: %+v", got)
	}
	if got[1].Tag != "marketing" {
		t.Fatalf("second topic: %+v", got)
	}
	for _, rt := range got {
		if rt.Tag == "bakery" || rt.Tag == "sourdough" {
			t.Fatalf("base tag leaked: %+v", rt)
		}
		if rt.Tag == "hidden" {
			t.Fatalf("private run leaked: %+v", rt)
		}
	}
}

func TestResearchRunLifecycle(t *testing.T) {
	svc, log := testState(t)
	repo := NewResearchRepo(svc.DB(), log)
	ctx := context.Background()

	runID, err := repo.CreateRun(ctx, nil, 42, "goal", types.ResearchIntent{Objective: "goal", RunKind: types.RunKindKnowledgeJuice}, true)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	videos := []types.ResearchVideo{
		{VideoID: "vidAAA", Rank: 1, Title: "A", PopularityScore: 0.9},
		{VideoID: "vidBBB", Rank: 2, Title: "B", PopularityScore: 0.5},
	}
	if err := repo.SaveVideos(ctx, nil, runID, videos); err != nil {
		t.Fatalf("SaveVideos: %v", err)
	}
	if err := repo.SaveVideoTranscript(ctx, nil, runID, "vidAAA", "/data/transcripts/vidAAA.txt", "youtube_captions", 1234); err != nil {
		t.Fatalf("SaveVideoTranscript: %v", err)
	}
	fact := &types.ResearchVideoFact{RunID: runID, VideoID: "vidAAA", IsOwnerStory: true, Confidence: 0.8, BusinessModel: "retail bakery"}
	if err := repo.SaveVideoFact(ctx, nil, fact); err != nil {
		t.Fatalf("SaveVideoFact: %v", err)
	}
	// upsert path
	fact.Confidence = 0.9
	if err := repo.SaveVideoFact(ctx, nil, fact); err != nil {
		t.Fatalf("SaveVideoFact upsert: %v", err)
	}
	if err := repo.FinalizeRun(ctx, nil, runID, types.RunStatusCompleted, "report body", &types.ResearchSummary{Similarities: []string{"s"}}); err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}

	detail, err := repo.GetPublicRun(ctx, nil, runID)
	if err != nil || detail == nil {
		t.Fatalf("GetPublicRun: detail=%v err=%v", detail, err)
	}
	if detail.Run.Status != types.RunStatusCompleted || detail.Run.ReportText != "report body" {
		t.Fatalf("finalized run: %+v", detail.Run)
	}
	if len(detail.Videos) != 2 || detail.Videos[0].VideoID != "vidAAA" {
		t.Fatalf("joined videos: %+v", detail.Videos)
	}
	if detail.Videos[0].TranscriptChars != 1234 {
		t.Fatalf("transcript linkage: %+v", detail.Videos[0])
	}
	if len(detail.Facts) != 1 || detail.Facts[0].Confidence != 0.9 {
		t.Fatalf("facts upsert: %+v", detail.Facts)
	}

	runs, err := repo.LoadPublicRuns(ctx, nil, 0)
	if err != nil {
		t.Fatalf("LoadPublicRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("limit clamp to >=1: %v", runs)
	}
}

func TestPrivateRunHiddenFromPublicViews(t *testing.T) {
	svc, log := testState(t)
	repo := NewResearchRepo(svc.DB(), log)
	ctx := context.Background()

	runID, err := repo.CreateRun(ctx, nil, 1, "secret", types.ResearchIntent{}, false)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	detail, err := repo.GetPublicRun(ctx, nil, runID)
	if err != nil {
		t.Fatalf("GetPublicRun: %v", err)
	}
	if detail != nil {
		t.Fatalf("private run visible through public getter")
	}
}

func TestChunkPersistenceAndEmbeddingMeta(t *testing.T) {
	svc, log := testState(t)
	repo := NewTranscriptChunkRepo(svc.DB(), log, svc.SemanticSearchAvailable())
	ctx := context.Background()

	chunks := []transcript.Chunk{
		{Idx: 0, StartTS: 0, EndTS: 30, Text: "[00:00] alpha"},
		{Idx: 1, StartTS: 30, EndTS: 60, Text: "[00:30] beta"},
	}
	hash := transcript.ContentHash(chunks)
	if err := repo.SaveChunks(ctx, nil, "vidCCC", hash, chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	loaded, storedHash, err := repo.LoadChunks(ctx, nil, "vidCCC")
	if err != nil {
		t.Fatalf("LoadChunks: %v", err)
	}
	if storedHash != hash || !reflect.DeepEqual(loaded, chunks) {
		t.Fatalf("chunk round trip: hash=%q chunks=%+v", storedHash, loaded)
	}

	gotHash, count, err := repo.GetEmbeddingMeta(ctx, nil, "vidCCC", "openai:test")
	if err != nil {
		t.Fatalf("GetEmbeddingMeta empty: %v", err)
	}
	if gotHash != "" || count != 0 {
		t.Fatalf("empty meta: hash=%q count=%d", gotHash, count)
	}

	vectors := []ChunkVector{
		{Idx: 0, Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0}},
		{Idx: 1, Vector: []float32{0, 1, 0, 0, 0, 0, 0, 0}},
	}
	if err := repo.SaveChunkEmbeddings(ctx, nil, "vidCCC", "openai:test", hash, vectors); err != nil {
		t.Fatalf("SaveChunkEmbeddings: %v", err)
	}
	gotHash, count, err = repo.GetEmbeddingMeta(ctx, nil, "vidCCC", "openai:test")
	if err != nil {
		t.Fatalf("GetEmbeddingMeta: %v", err)
	}
	if gotHash != hash || count != 2 {
		t.Fatalf("meta after save: hash=%q count=%d", gotHash, count)
	}

	if svc.SemanticSearchAvailable() {
		t.Fatalf("sqlite backend should not report semantic search")
	}
	if _, err := repo.SemanticSearch(ctx, nil, "vidCCC", "openai:test", vectors[0].Vector, 5); err == nil {
		t.Fatalf("SemanticSearch should fail on sqlite backend")
	}
}

func TestQAHistoryRecent(t *testing.T) {
	svc, log := testState(t)
	repo := NewQAHistoryRepo(svc.DB(), log)
	ctx := context.Background()

	for i, q := range []string{"first?", "second?", "third?"} {
		entry := &types.QAHistoryEntry{
			VideoID:   "vidDDD",
			Question:  q,
			Answer:    "answer",
			Source:    "web",
			Lang:      "en",
			ExtraJSON: []byte(`{"title":"T","url":"https://youtu.be/vidDDD"}`),
		}
		if err := repo.Append(ctx, nil, entry); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	recent, err := repo.LoadRecent(ctx, nil, 2)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("limit: %d", len(recent))
	}
	if recent[0].Question != "third?" {
		t.Fatalf("newest first: %+v", recent[0])
	}
	if recent[0].Title != "T" || recent[0].URL != "https://youtu.be/vidDDD" {
		t.Fatalf("extra json projection: %+v", recent[0])
	}
}

func TestVectorLiteral(t *testing.T) {
	if got := VectorLiteral([]float32{0.5, -1, 2}); got != "[0.5,-1,2]" {
		t.Fatalf("VectorLiteral: %q", got)
	}
	if got := VectorLiteral(nil); got != "[]" {
		t.Fatalf("VectorLiteral empty: %q", got)
	}
}

func TestNormalizeTopicTag(t *testing.T) {
	if got := NormalizeTopicTag("  Home   BAKERY  "); got != "home bakery" {
		t.Fatalf("NormalizeTopicTag: %q", got)
	}
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	if got := NormalizeTopicTag(string(long)); len(got) != 120 {
		t.Fatalf("tag length cap: %d", len(got))
	}
}

func TestNormalizeTopicTagRuneTruncation(t *testing.T) {
	// The leading ASCII rune forces every later Cyrillic rune onto an odd
	// byte offset, so a byte-indexed cut would split one.
	long := "x" + strings.Repeat("пекарня", 40)
	got := NormalizeTopicTag(long)

	if !utf8.ValidString(got) {
		t.Fatalf("truncated tag is not valid UTF-8: %q", got)
	}
	if n := len([]rune(got)); n > 120 {
		t.Fatalf("tag rune length: want<=120 got=%d", n)
	}
	if strings.Contains(got, "�") {
		t.Fatalf("truncation produced a replacement rune: %q", got)
	}
}
