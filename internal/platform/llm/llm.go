// Package llm defines the provider-neutral capability surfaces the pipeline
// consumes. Concrete clients live in sibling platform packages; services
// compose them into fallback chains by backend configuration.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/transcript"
)

// ErrProviderUnavailable tags failures that mean "this provider cannot serve
// right now" (missing key, unreachable host) so chains skip to the next one.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ChatRequest is a single system+user exchange. JSONMode asks the provider
// for a machine-parseable JSON object where supported.
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
	Timeout     time.Duration
}

// ChatClient produces one completion per call.
type ChatClient interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// EmbeddingClient turns texts into fixed-dimension vectors.
type EmbeddingClient interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SpeechClient transcribes an audio file into timed segments.
type SpeechClient interface {
	Name() string
	Transcribe(ctx context.Context, audioPath, langHint string) ([]transcript.Segment, error)
}
