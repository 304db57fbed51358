package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

// llmJSON walks the configured backend chain and returns the first completion
// that parses into a non-empty JSON object, together with the provider name.
// Total failure yields an empty map and "unknown"; every caller has a
// deterministic fallback for that case.
func (r *researchRun) llmJSON(ctx context.Context, system, user string, timeout time.Duration) (map[string]any, string) {
	for _, attempt := range r.svc.backends.Chain(r.svc.backend) {
		if attempt.Client == nil {
			continue
		}
		if ctx.Err() != nil {
			return map[string]any{}, "unknown"
		}
		text, err := attempt.Client.Chat(ctx, llm.ChatRequest{
			System:      system,
			User:        user,
			Temperature: 0.1,
			MaxTokens:   1600,
			JSONMode:    true,
			Timeout:     timeout,
		})
		if err != nil {
			r.log.Warn("Research completion failed, trying next backend",
				"provider", attempt.Provider, "model", attempt.Model, "error", err)
			continue
		}
		payload := map[string]any{}
		if perr := ParseJSONBlock(text, &payload); perr != nil || len(payload) == 0 {
			continue
		}
		return payload, attempt.Provider
	}
	return map[string]any{}, "unknown"
}

func jsonString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func jsonFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	}
	return 0
}

func jsonStringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s := jsonString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *researchRun) parseGoalIntent(ctx context.Context) types.ResearchIntent {
	system := "Extract structured research intent for a business-learning request. " +
		"Return JSON with keys: domain, objective, target_region, target_language, audience, success_signals. " +
		"success_signals must be a short list."
	payload, provider := r.llmJSON(ctx, system, "Request: "+r.goal, 60*time.Second)
	r.markBackend(provider)

	intent := types.ResearchIntent{
		Domain:         jsonString(payload["domain"]),
		Objective:      jsonString(payload["objective"]),
		TargetRegion:   jsonString(payload["target_region"]),
		TargetLanguage: jsonString(payload["target_language"]),
		Audience:       jsonString(payload["audience"]),
		SuccessSignals: jsonStringList(payload["success_signals"]),
	}
	if intent.Objective == "" {
		intent.Objective = r.goal
	}
	return intent
}

func (r *researchRun) generateQueries(ctx context.Context, intent types.ResearchIntent) []string {
	system := "Generate high-quality YouTube search queries for finding owner success stories and practical business lessons. " +
		"Return JSON with key queries (list of strings). Keep queries diverse and concise."
	intentJSON, err := json.Marshal(intent)
	if err != nil {
		intentJSON = []byte("{}")
	}
	user := fmt.Sprintf("Goal: %s\nIntent: %s\nMax queries: %d", r.goal, intentJSON, r.cfg.MaxQueries)
	payload, provider := r.llmJSON(ctx, system, user, 60*time.Second)
	r.markBackend(provider)

	queries := jsonStringList(payload["queries"])

	// Generic fallback, still domain-agnostic.
	if len(queries) == 0 {
		queries = []string{
			r.goal + " success story",
			r.goal + " owner interview",
			r.goal + " how I started",
			r.goal + " business case study",
			r.goal + " mistakes and lessons",
			r.goal + " from zero to profitable",
		}
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, r.cfg.MaxQueries)
	for _, q := range queries {
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) >= r.cfg.MaxQueries {
			break
		}
	}
	return out
}

// extractBusinessFacts asks for the structured learning payload of one
// transcript. Only the first 22k characters are shown to the model.
func (r *researchRun) extractBusinessFacts(ctx context.Context, title, transcriptText string) map[string]any {
	window := clipRunes(transcriptText, 22000)
	system := "You extract business-learning facts from a transcript. " +
		"Return JSON only with keys: is_owner_story, confidence, business_model, growth_levers, " +
		"marketing_channels, operations, mistakes, key_metrics, differentiators, evidence_quotes. " +
		"All list fields should contain short strings."
	user := fmt.Sprintf("Research goal: %s\nVideo title: %s\n\nTranscript:\n%s", r.goal, title, window)
	payload, provider := r.llmJSON(ctx, system, user, 120*time.Second)
	r.markBackend(provider)
	if len(payload) > 0 {
		return payload
	}
	return map[string]any{
		"is_owner_story":     "unknown",
		"confidence":         0.0,
		"business_model":     "",
		"growth_levers":      []string{},
		"marketing_channels": []string{},
		"operations":         []string{},
		"mistakes":           []string{},
		"key_metrics":        []string{},
		"differentiators":    []string{},
		"evidence_quotes":    []string{},
	}
}

// comparisonEntry is the per-video payload handed to the comparison model.
type comparisonEntry struct {
	VideoID       string          `json:"video_id"`
	Title         string          `json:"title"`
	Channel       string          `json:"channel"`
	ViewCount     int64           `json:"view_count"`
	Facts         json.RawMessage `json:"facts"`
	IsOwnerStory  bool            `json:"is_owner_story"`
	Confidence    float64         `json:"confidence"`
	BusinessModel string          `json:"business_model"`
}

// buildComparisonReport extracts cross-video patterns and renders the final
// report text. When at least two confident owner stories exist, the
// comparison narrows to those.
func (r *researchRun) buildComparisonReport(ctx context.Context, videos []reportVideo, facts []factsRow) (string, types.ResearchSummary) {
	factsByVid := make(map[string]factsRow, len(facts))
	for _, row := range facts {
		factsByVid[row.VideoID] = row
	}

	ownerIDs := make(map[string]struct{})
	payload := make([]comparisonEntry, 0, len(videos))
	for _, v := range videos {
		row := factsByVid[v.VideoID]
		if row.IsOwnerStory && row.Confidence >= r.svc.ownerConfidenceMin {
			ownerIDs[v.VideoID] = struct{}{}
		}
		rawFacts := row.Facts
		if len(rawFacts) == 0 {
			rawFacts = json.RawMessage("{}")
		}
		payload = append(payload, comparisonEntry{
			VideoID:       v.VideoID,
			Title:         v.Title,
			Channel:       v.Channel,
			ViewCount:     v.ViewCount,
			Facts:         rawFacts,
			IsOwnerStory:  row.IsOwnerStory,
			Confidence:    row.Confidence,
			BusinessModel: row.BusinessModel,
		})
	}

	comparison := payload
	if len(ownerIDs) >= 2 {
		comparison = comparison[:0:0]
		for _, entry := range payload {
			if _, ok := ownerIDs[entry.VideoID]; ok {
				comparison = append(comparison, entry)
			}
		}
	}

	system := "You compare multiple business success stories. " +
		"Return JSON with keys: similarities, differences, recommendations. " +
		"Each value should be a list of concise bullets."
	comparisonJSON, err := json.Marshal(comparison)
	if err != nil {
		comparisonJSON = []byte("[]")
	}
	user := fmt.Sprintf("Goal: %s\n\nAnalyzed videos and extracted facts:\n%s",
		r.goal, clipRunes(string(comparisonJSON), 42000))
	resp, provider := r.llmJSON(ctx, system, user, 120*time.Second)
	r.markBackend(provider)

	summary := types.ResearchSummary{
		Similarities:    jsonStringList(resp["similarities"]),
		Differences:     jsonStringList(resp["differences"]),
		Recommendations: jsonStringList(resp["recommendations"]),
		OwnerMatches:    len(ownerIDs),
	}

	lines := []string{
		"📊 Business Research Report",
		"🎯 Goal: " + r.goal,
		fmt.Sprintf("🎥 Videos analyzed: %d", len(videos)),
		fmt.Sprintf("👤 Owner-story matches: %d", len(ownerIDs)),
		"",
		"Top videos:",
	}
	for i, v := range videos {
		if i >= 10 {
			break
		}
		title := v.Title
		if title == "" {
			title = v.VideoID
		}
		channel := v.Channel
		if channel == "" {
			channel = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("• %s (%s, views: %d)", title, channel, v.ViewCount))
	}

	appendSection := func(header string, items []string, empty string) {
		lines = append(lines, "", header)
		if len(items) == 0 {
			lines = append(lines, "• "+empty)
			return
		}
		for i, item := range items {
			if i >= 8 {
				break
			}
			lines = append(lines, "• "+item)
		}
	}
	appendSection("✅ Similarities", summary.Similarities, "Not enough consistent overlap extracted yet.")
	appendSection("🧩 Differences", summary.Differences, "Not enough strong contrasts extracted yet.")
	appendSection("🛠 Recommended next actions", summary.Recommendations, "Collect more interviews and compare again.")

	return strings.TrimSpace(strings.Join(lines, "\n")), summary
}

// extractResearchTopics asks for cross-domain topic tags and falls back to
// the intent domain and seen business models when the model yields nothing.
func (r *researchRun) extractResearchTopics(ctx context.Context, intent types.ResearchIntent, facts []factsRow) []repos.TopicWeight {
	system := "Extract concise topic tags for cross-domain business learning. " +
		`Return JSON: {"topics":[{"tag":"...","weight":0.0-1.0}]} with 5-12 tags.`
	userPayload := map[string]any{
		"goal_text": r.goal,
		"intent":    intent,
		"facts":     facts,
	}
	userJSON, err := json.Marshal(userPayload)
	if err != nil {
		userJSON = []byte("{}")
	}
	payload, provider := r.llmJSON(ctx, system, "Data:\n"+clipRunes(string(userJSON), 32000), 90*time.Second)
	r.markBackend(provider)

	var out []repos.TopicWeight
	if raw, ok := payload["topics"].([]any); ok {
		for _, item := range raw {
			tag := ""
			weight := 0.5
			if m, isMap := item.(map[string]any); isMap {
				tag = jsonString(m["tag"])
				if tag == "" {
					tag = jsonString(m["topic"])
				}
				if w := jsonFloat(m["weight"]); w > 0 {
					weight = w
				}
			} else {
				tag = jsonString(item)
			}
			tag = repos.NormalizeTopicTag(tag)
			if tag == "" {
				continue
			}
			if weight < 0 {
				weight = 0
			}
			if weight > 1 {
				weight = 1
			}
			out = append(out, repos.TopicWeight{Tag: tag, Weight: weight})
		}
	}

	seen := make(map[string]struct{})
	dedup := make([]repos.TopicWeight, 0, len(out))
	for _, t := range out {
		if _, dup := seen[t.Tag]; dup {
			continue
		}
		seen[t.Tag] = struct{}{}
		dedup = append(dedup, t)
		if len(dedup) >= 12 {
			break
		}
	}
	if len(dedup) > 0 {
		return dedup
	}

	var fallback []repos.TopicWeight
	if tag := repos.NormalizeTopicTag(intent.Domain); tag != "" {
		fallback = append(fallback, repos.TopicWeight{Tag: tag, Weight: 0.8})
	}
	for _, row := range facts {
		if tag := repos.NormalizeTopicTag(row.BusinessModel); tag != "" {
			fallback = append(fallback, repos.TopicWeight{Tag: tag, Weight: 0.6})
		}
		if len(fallback) >= 8 {
			break
		}
	}
	return fallback
}
