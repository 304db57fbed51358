package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/anthropic"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/platform/ollama"
	"github.com/hubrts/youtube-command-deck/internal/platform/openai"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// Chat providers the backend chains are built from.
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// ChatAttempt is one (provider, model) step in a fallback chain.
type ChatAttempt struct {
	Provider string
	Model    string
	Client   llm.ChatClient
}

// Backends resolves backend names (env values like VIDEO_QA_BACKEND) into
// ordered chat attempt chains. Providers without credentials resolve to nil
// clients and are skipped at call time, so a chain never fails to build.
type Backends struct {
	log    *logger.Logger
	local  *ollama.Client
	openai *openai.Client
	claude *anthropic.Client

	qaLocalFallbackModel  string
	qaOpenAIFallbackModel string
	qaClaudeFallbackModel string
}

func NewBackends(baseLog *logger.Logger, local *ollama.Client, openaiClient *openai.Client, claudeClient *anthropic.Client) *Backends {
	log := baseLog.With("service", "Backends")
	return &Backends{
		log:                   log,
		local:                 local,
		openai:                openaiClient,
		claude:                claudeClient,
		qaLocalFallbackModel:  utils.GetEnv("VIDEO_QA_LOCAL_FALLBACK_MODEL", "", log),
		qaOpenAIFallbackModel: utils.GetEnv("VIDEO_QA_FALLBACK_MODEL", "gpt-4.1-nano", log),
		qaClaudeFallbackModel: utils.GetEnv("VIDEO_QA_CLAUDE_FALLBACK_MODEL", "claude-3-5-haiku-latest", log),
	}
}

// providerChain maps a backend name to its provider order. "claude" keeps a
// local safety net; "auto" tries cheapest-first.
func providerChain(backend string) []string {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case ProviderLocal, "ollama":
		return []string{ProviderLocal}
	case ProviderOpenAI:
		return []string{ProviderOpenAI}
	case ProviderClaude, "anthropic":
		return []string{ProviderClaude, ProviderLocal}
	default:
		return []string{ProviderLocal, ProviderClaude, ProviderOpenAI}
	}
}

func (b *Backends) primaryAttempt(provider string) ChatAttempt {
	switch provider {
	case ProviderLocal:
		if b.local == nil {
			return ChatAttempt{Provider: provider}
		}
		return ChatAttempt{Provider: provider, Model: b.local.ChatModel(), Client: b.local}
	case ProviderOpenAI:
		if b.openai == nil {
			return ChatAttempt{Provider: provider}
		}
		return ChatAttempt{Provider: provider, Model: b.openai.ChatModel(), Client: b.openai}
	case ProviderClaude:
		if b.claude == nil {
			return ChatAttempt{Provider: provider}
		}
		return ChatAttempt{Provider: provider, Model: b.claude.ChatModel(), Client: b.claude}
	}
	return ChatAttempt{Provider: provider}
}

func (b *Backends) fallbackAttempt(provider string) (ChatAttempt, bool) {
	switch provider {
	case ProviderLocal:
		if b.local == nil || b.qaLocalFallbackModel == "" || b.qaLocalFallbackModel == b.local.ChatModel() {
			return ChatAttempt{}, false
		}
		return ChatAttempt{Provider: provider, Model: b.qaLocalFallbackModel, Client: b.local.WithModel(b.qaLocalFallbackModel)}, true
	case ProviderOpenAI:
		if b.openai == nil || b.qaOpenAIFallbackModel == "" || b.qaOpenAIFallbackModel == b.openai.ChatModel() {
			return ChatAttempt{}, false
		}
		return ChatAttempt{Provider: provider, Model: b.qaOpenAIFallbackModel, Client: b.openai.WithModel(b.qaOpenAIFallbackModel)}, true
	case ProviderClaude:
		if b.claude == nil || b.qaClaudeFallbackModel == "" || b.qaClaudeFallbackModel == b.claude.ChatModel() {
			return ChatAttempt{}, false
		}
		return ChatAttempt{Provider: provider, Model: b.qaClaudeFallbackModel, Client: b.claude.WithModel(b.qaClaudeFallbackModel)}, true
	}
	return ChatAttempt{}, false
}

// Chain builds the plain attempt chain for a backend name, primary model per
// provider.
func (b *Backends) Chain(backend string) []ChatAttempt {
	var out []ChatAttempt
	for _, provider := range providerChain(backend) {
		out = append(out, b.primaryAttempt(provider))
	}
	return out
}

// QAChain builds the Q&A chain: each provider's primary model followed by
// its cheaper fallback model, if one is configured.
func (b *Backends) QAChain(backend string) []ChatAttempt {
	var out []ChatAttempt
	for _, provider := range providerChain(backend) {
		out = append(out, b.primaryAttempt(provider))
		if fb, ok := b.fallbackAttempt(provider); ok {
			out = append(out, fb)
		}
	}
	return out
}

// ChatWithChain walks the attempts in order and returns the first non-empty
// completion together with the attempt that produced it.
func (b *Backends) ChatWithChain(ctx context.Context, attempts []ChatAttempt, req llm.ChatRequest) (string, ChatAttempt, error) {
	var lastErr error
	for _, attempt := range attempts {
		if attempt.Client == nil {
			continue
		}
		if ctx.Err() != nil {
			return "", ChatAttempt{}, ctx.Err()
		}
		text, err := attempt.Client.Chat(ctx, req)
		if err != nil {
			b.log.Warn("Chat attempt failed, trying next backend",
				"provider", attempt.Provider, "model", attempt.Model, "error", err)
			lastErr = err
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			lastErr = fmt.Errorf("%s returned an empty completion", attempt.Provider)
			continue
		}
		return text, attempt, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no chat backend available: %w", llm.ErrProviderUnavailable)
	}
	return "", ChatAttempt{}, lastErr
}

var jsonObjectRE = regexp.MustCompile(`(?s)\{.*\}`)

// ParseJSONBlock decodes a model completion that should be a JSON object,
// tolerating prose around the object.
func ParseJSONBlock(text string, out any) error {
	raw := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	m := jsonObjectRE.FindString(raw)
	if m == "" {
		return fmt.Errorf("completion contains no JSON object")
	}
	return json.Unmarshal([]byte(m), out)
}
