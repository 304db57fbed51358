package services

import (
	"context"
	"math"
	"testing"

	"gorm.io/gorm"

	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
)

type fakeChunkRepo struct {
	hits []repos.ChunkHit
}

func (f *fakeChunkRepo) SaveChunks(context.Context, *gorm.DB, string, string, []transcript.Chunk) error {
	return nil
}

func (f *fakeChunkRepo) LoadChunks(context.Context, *gorm.DB, string) ([]transcript.Chunk, string, error) {
	return nil, "", nil
}

func (f *fakeChunkRepo) GetEmbeddingMeta(context.Context, *gorm.DB, string, string) (string, int, error) {
	return "", 0, nil
}

func (f *fakeChunkRepo) SaveChunkEmbeddings(context.Context, *gorm.DB, string, string, string, []repos.ChunkVector) error {
	return nil
}

func (f *fakeChunkRepo) SemanticSearch(context.Context, *gorm.DB, string, string, []float32, int) ([]repos.ChunkHit, error) {
	return f.hits, nil
}

func (f *fakeChunkRepo) SemanticSearchAvailable() bool { return true }

type fakeEmbedder struct {
	dim      int
	queryDim int
}

func (f *fakeEmbedder) Available() bool { return true }
func (f *fakeEmbedder) ModelID() string { return "fake-embed" }
func (f *fakeEmbedder) Dim() int { return f.dim }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, string, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, f.ModelID(), nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, string, error) {
	return make([]float32, f.queryDim), f.ModelID(), nil
}

func TestSearchRescalesCosineSimilarity(t *testing.T) {
	repo := &fakeChunkRepo{hits: []repos.ChunkHit{
		{Idx: 0, Similarity: 1.0},
		{Idx: 1, Similarity: 0.0},
		{Idx: 2, Similarity: -1.0},
		{Idx: 3, Similarity: 0.5},
		{Idx: 4, Similarity: 1.2},
	}}
	svc := &semanticIndexService{
		log:      testLog(t),
		chunks:   repo,
		embedder: &fakeEmbedder{dim: 4, queryDim: 4},
	}

	scores, err := svc.Search(context.Background(), "vid01abc", "how did it start", 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := map[int]float64{0: 1.0, 1: 0.5, 2: 0.0, 3: 0.75, 4: 1.0}
	if len(scores) != len(want) {
		t.Fatalf("score count: want=%d got=%d (%v)", len(want), len(scores), scores)
	}
	for idx, w := range want {
		if got := scores[idx]; math.Abs(got-w) > 1e-9 {
			t.Fatalf("semantic score for chunk %d: want=%v got=%v", idx, w, got)
		}
	}
}

func TestSearchSkipsMismatchedQueryDimension(t *testing.T) {
	svc := &semanticIndexService{
		log:      testLog(t),
		chunks:   &fakeChunkRepo{hits: []repos.ChunkHit{{Idx: 0, Similarity: 0.9}}},
		embedder: &fakeEmbedder{dim: 4, queryDim: 3},
	}

	scores, err := svc.Search(context.Background(), "vid01abc", "question", 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if scores != nil {
		t.Fatalf("mismatched dimension should yield no semantic scores, got %v", scores)
	}
}
