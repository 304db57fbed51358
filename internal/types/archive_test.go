package types

import (
	"fmt"
	"testing"
)

func TestAppendQACacheCapsAtNewest(t *testing.T) {
	rec := &ArchiveRecord{}
	for i := 0; i < MaxQACacheEntries+10; i++ {
		rec.AppendQACache(QACacheEntry{
			QuestionKey:     fmt.Sprintf("q%d", i),
			TranscriptStamp: "stamp1",
			Answer:          fmt.Sprintf("a%d", i),
		})
	}

	if len(rec.QACache) != MaxQACacheEntries {
		t.Fatalf("cache size: want=%d got=%d", MaxQACacheEntries, len(rec.QACache))
	}
	if rec.QACache[0].QuestionKey != "q10" {
		t.Fatalf("oldest surviving entry: want=q10 got=%s", rec.QACache[0].QuestionKey)
	}
	if last := rec.QACache[len(rec.QACache)-1]; last.QuestionKey != fmt.Sprintf("q%d", MaxQACacheEntries+9) {
		t.Fatalf("newest entry: got=%s", last.QuestionKey)
	}
}

func TestLookupQACacheNewestFirst(t *testing.T) {
	rec := &ArchiveRecord{}
	rec.AppendQACache(QACacheEntry{QuestionKey: "how", TranscriptStamp: "stamp1", Answer: "old"})
	rec.AppendQACache(QACacheEntry{QuestionKey: "how", TranscriptStamp: "stamp1", Answer: "new"})
	rec.AppendQACache(QACacheEntry{QuestionKey: "how", TranscriptStamp: "stamp2", Answer: "other stamp"})

	got, ok := rec.LookupQACache("how", "stamp1")
	if !ok || got.Answer != "new" {
		t.Fatalf("newest matching entry: ok=%v answer=%q", ok, got.Answer)
	}

	if _, ok := rec.LookupQACache("how", "stamp3"); ok {
		t.Fatalf("stale transcript stamp should miss")
	}
	if _, ok := rec.LookupQACache("when", "stamp1"); ok {
		t.Fatalf("unknown question key should miss")
	}
}
