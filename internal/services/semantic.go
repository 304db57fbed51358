package services

import (
	"context"
	"fmt"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// SemanticIndexService keeps per-video chunk embeddings current and serves
// similarity search over them. Indexing is idempotent: vectors are rebuilt
// only when the stored (content hash, row count) no longer matches the
// transcript's chunk set.
type SemanticIndexService interface {
	Available() bool
	EnsureIndexed(ctx context.Context, videoID string, segments []transcript.Segment) ([]transcript.Chunk, error)
	Search(ctx context.Context, videoID, question string, chunkCount int) (map[int]float64, error)
}

type semanticIndexService struct {
	log      *logger.Logger
	chunks   repos.TranscriptChunkRepo
	embedder EmbeddingService

	perChunk int
	overlap  int
}

func NewSemanticIndexService(baseLog *logger.Logger, chunkRepo repos.TranscriptChunkRepo, embedder EmbeddingService) SemanticIndexService {
	log := baseLog.With("service", "SemanticIndexService")
	return &semanticIndexService{
		log:      log,
		chunks:   chunkRepo,
		embedder: embedder,
		perChunk: utils.GetEnvAsInt("VIDEO_QA_CHUNK_LINES", transcript.DefaultChunkLines, log),
		overlap:  utils.GetEnvAsInt("VIDEO_QA_CHUNK_OVERLAP", transcript.DefaultChunkOverlap, log),
	}
}

func (s *semanticIndexService) Available() bool {
	return s.embedder.Available() && s.chunks.SemanticSearchAvailable()
}

// EnsureIndexed chunks the transcript, persists the chunk set when it
// changed, and rebuilds the embedding rows when the stored hash or count
// disagrees with the current chunk set. Returns the chunk set either way.
func (s *semanticIndexService) EnsureIndexed(ctx context.Context, videoID string, segments []transcript.Segment) ([]transcript.Chunk, error) {
	chunks := transcript.BuildChunks(segments, s.perChunk, s.overlap)
	if len(chunks) == 0 {
		return nil, nil
	}
	hash := transcript.ContentHash(chunks)

	stored, _, err := s.chunks.LoadChunks(ctx, nil, videoID)
	if err != nil {
		return nil, fmt.Errorf("load chunks %s: %w", videoID, err)
	}
	if len(stored) != len(chunks) {
		if err := s.chunks.SaveChunks(ctx, nil, videoID, hash, chunks); err != nil {
			return nil, fmt.Errorf("save chunks %s: %w", videoID, err)
		}
	}

	if !s.Available() {
		return chunks, nil
	}

	model := s.embedder.ModelID()
	storedHash, storedCount, err := s.chunks.GetEmbeddingMeta(ctx, nil, videoID, model)
	if err != nil {
		return nil, fmt.Errorf("embedding meta %s: %w", videoID, err)
	}
	if storedHash == hash && storedCount >= len(chunks) {
		return chunks, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, usedModel, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return chunks, fmt.Errorf("embed chunks %s: %w", videoID, err)
	}
	rows := make([]repos.ChunkVector, len(chunks))
	for i, ch := range chunks {
		rows[i] = repos.ChunkVector{Idx: ch.Idx, Vector: vectors[i]}
	}
	if err := s.chunks.SaveChunkEmbeddings(ctx, nil, videoID, usedModel, hash, rows); err != nil {
		return chunks, fmt.Errorf("save embeddings %s: %w", videoID, err)
	}
	s.log.Info("Rebuilt semantic index", "video_id", videoID, "chunks", len(chunks), "model", usedModel)
	return chunks, nil
}

// Search embeds the question and returns chunk idx -> similarity in [0,1].
// The result limit scales with the transcript size, between 12 and 40 rows.
func (s *semanticIndexService) Search(ctx context.Context, videoID, question string, chunkCount int) (map[int]float64, error) {
	if !s.Available() {
		return nil, nil
	}
	vec, model, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(vec) != s.embedder.Dim() {
		// A differently-sized query vector cannot be compared to the stored
		// index; retrieval falls back to lexical scoring alone.
		s.log.Warn("Query embedding dimension differs from index, skipping semantic scores",
			"video_id", videoID, "got", len(vec), "want", s.embedder.Dim())
		return nil, nil
	}

	limit := chunkCount
	if limit < 12 {
		limit = 12
	}
	if limit > 40 {
		limit = 40
	}
	hits, err := s.chunks.SemanticSearch(ctx, nil, videoID, model, vec, limit)
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(hits))
	for _, h := range hits {
		// Cosine similarity lands in [-1,1]; rescale so an orthogonal match
		// blends as 0.5 rather than 0.
		sim := (h.Similarity + 1.0) / 2.0
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		out[h.Idx] = sim
	}
	return out, nil
}
