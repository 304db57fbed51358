package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

const (
	embedBatchSize   = 16
	embedMaxInFlight = 4
)

// EmbeddingService turns transcript chunks and questions into vectors using
// the configured provider order. Batch indexing is strict about dimensions;
// single-query embedding tolerates a mismatch so retrieval can still blend a
// differently-sized vector's similarity scores.
type EmbeddingService interface {
	Available() bool
	ModelID() string
	Dim() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, string, error)
}

type embeddingService struct {
	log     *logger.Logger
	order   []llm.EmbeddingClient
	dim     int
	timeout time.Duration
}

// NewEmbeddingService builds the provider order from VIDEO_EMBED_BACKEND:
// "openai", "ollama"/"local", or "auto" (openai when a key is configured,
// then ollama). Nil clients drop out of the order.
func NewEmbeddingService(baseLog *logger.Logger, openaiClient, ollamaClient llm.EmbeddingClient) EmbeddingService {
	log := baseLog.With("service", "EmbeddingService")
	backend := strings.ToLower(strings.TrimSpace(utils.GetEnv("VIDEO_EMBED_BACKEND", "auto", log)))
	dim := utils.GetEnvAsInt("VIDEO_EMBED_DIM", 1536, log)
	timeoutSec := utils.GetEnvAsInt("VIDEO_EMBED_TIMEOUT_SEC", 90, log)

	var order []llm.EmbeddingClient
	appendClient := func(c llm.EmbeddingClient) {
		if c != nil {
			order = append(order, c)
		}
	}
	switch backend {
	case "openai":
		appendClient(openaiClient)
	case "ollama", "local":
		appendClient(ollamaClient)
	default:
		appendClient(openaiClient)
		appendClient(ollamaClient)
	}
	if len(order) == 0 {
		log.Warn("No embedding provider configured, semantic retrieval disabled", "backend", backend)
	}
	return &embeddingService{
		log:     log,
		order:   order,
		dim:     dim,
		timeout: time.Duration(timeoutSec) * time.Second,
	}
}

func (s *embeddingService) Available() bool { return len(s.order) > 0 }

func (s *embeddingService) Dim() int { return s.dim }

// ModelID is "<provider>:<model>" of the preferred provider. Vectors are
// stored under the id of whichever provider actually served, which is
// normally the same one.
func (s *embeddingService) ModelID() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0].Name() + ":" + s.order[0].Model()
}

func modelIDOf(c llm.EmbeddingClient) string {
	return c.Name() + ":" + c.Model()
}

func (s *embeddingService) embedWith(ctx context.Context, client llm.EmbeddingClient, texts []string, strictDim bool) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vectors, err := client.Embed(callCtx, texts)
	if err != nil {
		return nil, fmt.Errorf("%s_embed_error: %w", client.Name(), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%s_empty_vectors", client.Name())
	}
	for _, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("%s_empty_vectors", client.Name())
		}
		if strictDim && len(vec) != s.dim {
			return nil, fmt.Errorf("%s_dim_mismatch", client.Name())
		}
	}
	return vectors, nil
}

// EmbedBatch embeds all texts with the first provider that can serve the
// whole set at the configured dimension. Sub-batches fan out with a bounded
// errgroup so a long transcript does not serialize hundreds of calls.
func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error) {
	if len(texts) == 0 {
		return nil, s.ModelID(), nil
	}
	var lastErr error
	for _, client := range s.order {
		vectors := make([][]float32, len(texts))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(embedMaxInFlight)

		for start := 0; start < len(texts); start += embedBatchSize {
			start := start
			end := start + embedBatchSize
			if end > len(texts) {
				end = len(texts)
			}
			g.Go(func() error {
				part, err := s.embedWith(gctx, client, texts[start:end], true)
				if err != nil {
					return err
				}
				copy(vectors[start:end], part)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			s.log.Warn("Embedding batch failed, trying next provider",
				"provider", client.Name(), "error", err)
			lastErr = err
			continue
		}
		return vectors, modelIDOf(client), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no embedding provider available: %w", llm.ErrProviderUnavailable)
	}
	return nil, "", lastErr
}

// EmbedQuery embeds one question. Dimension mismatches are tolerated here;
// the caller decides whether the vector is usable against the stored index.
func (s *embeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, string, error) {
	var lastErr error
	for _, client := range s.order {
		vectors, err := s.embedWith(ctx, client, []string{text}, false)
		if err != nil {
			lastErr = err
			continue
		}
		return vectors[0], modelIDOf(client), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no embedding provider available: %w", llm.ErrProviderUnavailable)
	}
	return nil, "", lastErr
}
