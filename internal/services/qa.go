package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/pkg/httpx"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

const qaAnswerHeader = "❓ Q&A Answer"

const defaultQASystemPrompt = "You are a strict transcript-grounded assistant. " +
	"Use ONLY the provided transcript content. " +
	"Do not use outside knowledge. " +
	"If evidence is missing or ambiguous, return insufficient. " +
	"Return ONLY JSON with keys: status, answer, evidence. " +
	"status must be 'answered' or 'insufficient'. " +
	"evidence must be a list of short verbatim lines from transcript content. " +
	"Make answer short (one sentence, <= 25 words)."

// QARequest asks one question against one saved transcript.
type QARequest struct {
	VideoID        string
	Question       string
	TranscriptPath string
	TitleHint      string
}

// QAAnswer is the formatted result. Text is the full display block including
// the header and backend caption; Answer is the bare compacted sentence.
type QAAnswer struct {
	Text        string
	Answer      string
	Provider    string
	Model       string
	Lang        string
	Answered    bool
	Fallback    bool
	Translation bool
}

// QAService answers questions strictly from a saved transcript. Retrieval
// blends lexical keyword scores with semantic similarity when an embedding
// index exists, and the model chain degrades to a transcript-line fallback
// rather than inventing an answer.
type QAService interface {
	AnswerQuestion(ctx context.Context, req QARequest) (QAAnswer, error)
}

type qaService struct {
	log      *logger.Logger
	backends *Backends
	semantic SemanticIndexService

	backend            string
	promptOverride     string
	maxChars           int
	timeout            time.Duration
	retries            int
	topChunks          int
	chunkLines         int
	chunkOverlap       int
	plannerEnabled     bool
	rerankEnabled      bool
	plannerTimeout     time.Duration
	rerankTimeout      time.Duration
	allowLocalFallback bool
	cyrillicDefault    string
	defaultLang        string
}

func NewQAService(baseLog *logger.Logger, backends *Backends, semantic SemanticIndexService) QAService {
	log := baseLog.With("service", "QAService")
	retries := utils.GetEnvAsInt("VIDEO_QA_RETRIES", 1, log)
	if retries < 1 {
		retries = 1
	}
	topChunks := utils.GetEnvAsInt("VIDEO_QA_TOP_CHUNKS", 6, log)
	if topChunks < 4 {
		topChunks = 4
	}
	chunkLines := utils.GetEnvAsInt("VIDEO_QA_CHUNK_LINES", transcript.DefaultChunkLines, log)
	if chunkLines < 4 {
		chunkLines = 4
	}
	chunkOverlap := utils.GetEnvAsInt("VIDEO_QA_CHUNK_OVERLAP", transcript.DefaultChunkOverlap, log)
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	return &qaService{
		log:                log,
		backends:           backends,
		semantic:           semantic,
		backend:            utils.GetEnv("VIDEO_QA_BACKEND", "auto", log),
		promptOverride:     strings.TrimSpace(utils.GetEnv("VIDEO_QA_PROMPT", "", log)),
		maxChars:           utils.GetEnvAsInt("VIDEO_QA_MAX_CHARS", 24000, log),
		timeout:            time.Duration(utils.GetEnvAsInt("VIDEO_QA_TIMEOUT_SEC", 180, log)) * time.Second,
		retries:            retries,
		topChunks:          topChunks,
		chunkLines:         chunkLines,
		chunkOverlap:       chunkOverlap,
		plannerEnabled:     utils.GetEnvAsBool("VIDEO_QA_QUERY_PLANNER", false, log),
		rerankEnabled:      utils.GetEnvAsBool("VIDEO_QA_LLM_RERANK", false, log),
		plannerTimeout:     time.Duration(utils.GetEnvAsInt("VIDEO_QA_PLANNER_TIMEOUT_SEC", 45, log)) * time.Second,
		rerankTimeout:      time.Duration(utils.GetEnvAsInt("VIDEO_QA_RERANK_TIMEOUT_SEC", 45, log)) * time.Second,
		allowLocalFallback: utils.GetEnvAsBool("VIDEO_QA_ALLOW_LOCAL_FALLBACK", true, log),
		cyrillicDefault:    utils.GetEnv("VIDEO_QA_CYRILLIC_DEFAULT_LANG", LangUK, log),
		defaultLang:        utils.GetEnv("VIDEO_QA_DEFAULT_LANG", LangUK, log),
	}
}

func qaUnreliableText(lang string) string {
	if lang == LangEN {
		return "I cannot answer this reliably from the saved transcript context."
	}
	return "Я не можу надійно відповісти за збереженим контекстом транскрипту."
}

func qaUnavailableText(lang, reason string) string {
	if lang == LangEN {
		return fmt.Sprintf("AI answer unavailable right now (%s). Try again shortly.", reason)
	}
	return fmt.Sprintf("AI-відповідь зараз недоступна (%s). Спробуйте трохи пізніше.", reason)
}

type plannerResult struct {
	Focus    string
	Keywords []string
	Expanded string
}

// planQuery asks a model for retrieval intent. Planning is best-effort: any
// failure returns the neutral plan and retrieval proceeds lexically.
func (s *qaService) planQuery(ctx context.Context, question, targetLang string) plannerResult {
	neutral := plannerResult{Focus: "any"}
	if !s.plannerEnabled {
		return neutral
	}
	req := llm.ChatRequest{
		System: "You extract retrieval intent from a user question about a transcript. " +
			"Return only JSON with keys: focus, keywords, expanded_question. " +
			"focus must be one of: beginning, middle, ending, any. " +
			"keywords must be a short list (<=8) of retrieval terms.\n" +
			languageDirective(targetLang),
		User:        "Question: " + question,
		Temperature: 0.0,
		JSONMode:    true,
		Timeout:     s.plannerTimeout,
	}
	text, _, err := s.backends.ChatWithChain(ctx, s.backends.Chain(s.backend), req)
	if err != nil {
		return neutral
	}
	var raw struct {
		Focus    string `json:"focus"`
		Keywords []any  `json:"keywords"`
		Expanded string `json:"expanded_question"`
	}
	if err := ParseJSONBlock(text, &raw); err != nil {
		return neutral
	}
	plan := neutral
	switch strings.ToLower(strings.TrimSpace(raw.Focus)) {
	case "beginning", "middle", "ending":
		plan.Focus = strings.ToLower(strings.TrimSpace(raw.Focus))
	}
	for _, item := range raw.Keywords {
		kw, ok := item.(string)
		if !ok {
			continue
		}
		if kw = strings.TrimSpace(kw); kw != "" {
			plan.Keywords = append(plan.Keywords, kw)
		}
		if len(plan.Keywords) >= 8 {
			break
		}
	}
	if expanded := strings.TrimSpace(raw.Expanded); expanded != "" {
		r := []rune(expanded)
		if len(r) > 300 {
			r = r[:300]
		}
		plan.Expanded = string(r)
	}
	return plan
}

// rerankCandidates lets a model reorder up to ten candidate chunks by
// directness. The model can only promote ids it was shown; everything else
// keeps its original order, and any failure keeps the input order.
func (s *qaService) rerankCandidates(ctx context.Context, question string, chunks []transcript.Chunk, candidates []int, targetLang string) []int {
	if !s.rerankEnabled || len(candidates) < 2 {
		return candidates
	}
	ids := candidates
	if len(ids) > 10 {
		ids = ids[:10]
	}
	byIdx := make(map[int]transcript.Chunk, len(chunks))
	for _, ch := range chunks {
		byIdx[ch.Idx] = ch
	}
	var snippets []string
	sent := make(map[int]bool, len(ids))
	for _, idx := range ids {
		ch, ok := byIdx[idx]
		if !ok {
			continue
		}
		body := strings.Join(strings.Fields(ch.Text), " ")
		if r := []rune(body); len(r) > 260 {
			body = string(r[:260])
		}
		snippets = append(snippets, fmt.Sprintf("%d: [%s] %s", idx, transcript.FormatStamp(ch.StartTS), body))
		sent[idx] = true
	}
	if len(snippets) == 0 {
		return candidates
	}
	req := llm.ChatRequest{
		System: "Rank transcript snippets by how directly they answer the user question. " +
			`Return JSON only: {"ordered_ids":[...]} using only provided IDs.` + "\n" +
			languageDirective(targetLang),
		User:        "Question: " + question + "\n\nSnippets:\n" + strings.Join(snippets, "\n"),
		Temperature: 0.0,
		JSONMode:    true,
		Timeout:     s.rerankTimeout,
	}
	text, _, err := s.backends.ChatWithChain(ctx, s.backends.Chain(s.backend), req)
	if err != nil {
		return candidates
	}
	var raw struct {
		OrderedIDs []any `json:"ordered_ids"`
	}
	if err := ParseJSONBlock(text, &raw); err != nil {
		return candidates
	}
	var ordered []int
	seen := make(map[int]bool)
	for _, item := range raw.OrderedIDs {
		var idx int
		switch v := item.(type) {
		case float64:
			idx = int(v)
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				continue
			}
			idx = n
		default:
			continue
		}
		if sent[idx] && !seen[idx] {
			seen[idx] = true
			ordered = append(ordered, idx)
		}
	}
	if len(ordered) == 0 {
		return candidates
	}
	for _, idx := range candidates {
		if !seen[idx] {
			seen[idx] = true
			ordered = append(ordered, idx)
		}
	}
	return ordered
}

type qaContext struct {
	Text      string
	Truncated bool
	Hints     []string
	Plan      plannerResult
}

// buildContext selects the transcript slice a model gets to see: score every
// chunk lexically and semantically, pick the winners plus their neighbors,
// then pack them in transcript order under the character budget.
func (s *qaService) buildContext(ctx context.Context, question, transcriptText, videoID, targetLang string) qaContext {
	segments := transcript.SegmentsFromContent(transcriptText)
	chunks := transcript.BuildChunks(segments, s.chunkLines, s.chunkOverlap)

	if len(chunks) == 0 {
		lines := transcript.BodyLines(transcriptText)
		if len(lines) > 120 {
			lines = lines[:120]
		}
		text := strings.Join(lines, "\n")
		hints := lines
		if len(hints) > 4 {
			hints = hints[:4]
		}
		return qaContext{
			Text:      text,
			Truncated: len(text) < len(transcriptText),
			Hints:     hints,
			Plan:      plannerResult{Focus: "any"},
		}
	}

	plan := s.planQuery(ctx, question, targetLang)
	queryText := question
	if plan.Expanded != "" {
		queryText = question + "\n" + plan.Expanded
	}

	lexical := lexicalChunkScores(chunks, question, plan.Keywords)

	var semantic map[int]float64
	if videoID != "" && s.semantic != nil {
		if indexed, err := s.semantic.EnsureIndexed(ctx, videoID, segments); err != nil {
			s.log.Warn("Semantic index refresh failed, lexical retrieval only",
				"video_id", videoID, "error", err)
		} else if len(indexed) > 0 {
			chunks = indexed
		}
		scores, err := s.semantic.Search(ctx, videoID, queryText, len(chunks))
		if err != nil {
			s.log.Warn("Semantic search failed, lexical retrieval only",
				"video_id", videoID, "error", err)
		} else {
			semantic = scores
		}
	}

	maxLex := 0.0
	for _, v := range lexical {
		if v > maxLex {
			maxLex = v
		}
	}
	type scoredChunk struct {
		score float64
		idx   int
	}
	combined := make([]scoredChunk, 0, len(chunks))
	for _, ch := range chunks {
		lexNorm := 0.0
		if maxLex > 0 {
			lexNorm = lexical[ch.Idx] / maxLex
		}
		base := blendRetrievalScore(lexNorm, semantic[ch.Idx], len(semantic) > 0)
		combined = append(combined, scoredChunk{
			score: base + chunkFocusBoost(ch.Idx, len(chunks), plan.Focus),
			idx:   ch.Idx,
		})
	}
	sort.SliceStable(combined, func(i, k int) bool { return combined[i].score > combined[k].score })

	candidateCount := s.topChunks
	if candidateCount < 8 {
		candidateCount = 8
	}
	var candidates []int
	for i := 0; i < len(combined) && i < candidateCount; i++ {
		candidates = append(candidates, combined[i].idx)
	}
	if len(candidates) == 0 {
		candidates = []int{chunks[len(chunks)-1].Idx}
	}

	candidates = s.rerankCandidates(ctx, question, chunks, candidates, targetLang)
	primary := candidates
	if len(primary) > s.topChunks {
		primary = primary[:s.topChunks]
	}
	picked := make(map[int]bool, len(primary)*3)
	for _, idx := range primary {
		picked[idx] = true
		if idx-1 >= 0 {
			picked[idx-1] = true
		}
		if idx+1 < len(chunks) {
			picked[idx+1] = true
		}
	}
	order := make([]int, 0, len(picked))
	for idx := range picked {
		order = append(order, idx)
	}
	sort.Ints(order)

	byIdx := make(map[int]transcript.Chunk, len(chunks))
	for _, ch := range chunks {
		byIdx[ch.Idx] = ch
	}
	var blocks []string
	var hints []string
	used := 0
	for _, idx := range order {
		ch, ok := byIdx[idx]
		if !ok {
			continue
		}
		block := strings.TrimSpace(ch.Text)
		if block == "" {
			continue
		}
		if used+len(block)+2 > s.maxChars && len(blocks) > 0 {
			break
		}
		blocks = append(blocks, block)
		used += len(block) + 2
		if len(hints) >= 6 {
			continue
		}
		blockLines := strings.SplitN(block, "\n", 3)
		if len(blockLines) > 2 {
			blockLines = blockLines[:2]
		}
		for _, line := range blockLines {
			clean := strings.TrimSpace(line)
			if clean == "" {
				continue
			}
			dup := false
			for _, h := range hints {
				if h == clean {
					dup = true
					break
				}
			}
			if !dup {
				hints = append(hints, clean)
			}
			if len(hints) >= 6 {
				break
			}
		}
	}

	text := strings.TrimSpace(strings.Join(blocks, "\n\n"))
	if text == "" {
		text = transcriptText
		if len(text) > s.maxChars {
			text = text[:s.maxChars]
		}
	}
	return qaContext{
		Text:      text,
		Truncated: len(text) < len(transcriptText),
		Hints:     hints,
		Plan:      plan,
	}
}

// chatErrorTag classifies a failed chat call into a short diagnostic tag and
// reports whether a retry could help.
func chatErrorTag(provider string, err error) (string, bool) {
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		return fmt.Sprintf("%s_http_%d", provider, code), httpx.IsRetryableHTTPStatus(code)
	}
	return provider + "_network_or_parse_error", true
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *qaService) AnswerQuestion(ctx context.Context, req QARequest) (QAAnswer, error) {
	raw, err := os.ReadFile(req.TranscriptPath)
	if err != nil {
		return QAAnswer{}, fmt.Errorf("read transcript %s: %w", req.TranscriptPath, err)
	}
	transcriptText := string(raw)
	question := strings.TrimSpace(req.Question)

	targetLang, translateRequested := TargetLanguage(question, s.cyrillicDefault, s.defaultLang)

	// Pure translation requests never need retrieval; translate the quoted
	// source text directly.
	if translateRequested {
		if source := ExtractTranslationSource(question); source != "" {
			translated := strings.TrimSpace(s.backends.TranslateText(ctx, s.backend, source, targetLang))
			if translated == "" {
				translated = source
			}
			return QAAnswer{
				Text:        qaAnswerHeader + "\n\n" + translated,
				Answer:      translated,
				Lang:        targetLang,
				Answered:    true,
				Translation: true,
			}, nil
		}
	}

	qaCtx := s.buildContext(ctx, question, transcriptText, req.VideoID, targetLang)

	systemPrompt := s.promptOverride
	if systemPrompt == "" {
		systemPrompt = defaultQASystemPrompt
	}
	systemPrompt += "\n" + languageDirective(targetLang) + "\n" +
		"If the user requests translation, provide the translated answer in the requested language."

	title := strings.TrimSpace(req.TitleHint)
	if title == "" {
		title = "Video"
	}
	truncatedMark := ""
	if qaCtx.Truncated {
		truncatedMark = "(filtered/truncated)"
	}
	hintCount := len(qaCtx.Hints)
	if hintCount > 4 {
		hintCount = 4
	}
	userPrompt := fmt.Sprintf(
		"Title: %s\nRetrieval focus: %s\nPlanner keywords: %s\nPriority evidence lines: %s\n\n"+
			"Transcript file content %s:\n%s\n\nQuestion: %s\n\n"+
			"Return JSON only. Example:\n"+
			`{"status":"answered","answer":"...","evidence":["line 1","line 2"]}`,
		title,
		qaCtx.Plan.Focus,
		strings.Join(qaCtx.Plan.Keywords, ", "),
		strings.Join(qaCtx.Hints[:hintCount], " | "),
		truncatedMark,
		qaCtx.Text,
		question,
	)

	chatReq := llm.ChatRequest{
		System:      systemPrompt,
		User:        userPrompt,
		Temperature: 0.2,
		JSONMode:    true,
		Timeout:     s.timeout,
	}

	lastAIError := ""
	sawInsufficient := false

attempts:
	for _, attempt := range s.backends.QAChain(s.backend) {
		if attempt.Client == nil {
			continue
		}
		for try := 0; try < s.retries; try++ {
			if ctx.Err() != nil {
				break attempts
			}
			text, chatErr := attempt.Client.Chat(ctx, chatReq)
			if chatErr != nil {
				tag, retryable := chatErrorTag(attempt.Provider, chatErr)
				lastAIError = tag
				s.log.Warn("Q&A chat attempt failed",
					"provider", attempt.Provider, "model", attempt.Model, "error", chatErr)
				if retryable && try+1 < s.retries {
					sleepCtx(ctx, time.Duration(1500*(try+1))*time.Millisecond)
					continue
				}
				break
			}

			var reply struct {
				Status   string `json:"status"`
				Answer   string `json:"answer"`
				Evidence []any  `json:"evidence"`
			}
			if err := ParseJSONBlock(text, &reply); err != nil {
				lastAIError = attempt.Provider + "_invalid_json"
				if try+1 < s.retries {
					sleepCtx(ctx, time.Duration(1000*(try+1))*time.Millisecond)
					continue
				}
				break
			}

			status := strings.ToLower(strings.TrimSpace(reply.Status))
			answer := strings.TrimSpace(reply.Answer)
			var evidence []string
			for _, item := range reply.Evidence {
				if ln, ok := item.(string); ok {
					if ln = strings.TrimSpace(ln); ln != "" {
						evidence = append(evidence, ln)
					}
				}
			}
			if len(evidence) == 0 {
				evidence = qaCtx.Hints
			}
			verified := VerifyEvidenceLines(evidence, transcriptText, 3)

			if status == "answered" && answer != "" && len(verified) > 0 {
				final := CompactAnswer(answer, 220)
				if final != "" {
					final = s.backends.EnsureOutputLanguage(ctx, s.backend, final, targetLang)
					return QAAnswer{
						Text:     qaAnswerHeader + "\n" + BackendCaption(attempt.Provider, attempt.Model) + "\n\n" + final,
						Answer:   final,
						Provider: attempt.Provider,
						Model:    attempt.Model,
						Lang:     targetLang,
						Answered: true,
					}, nil
				}
				break
			}
			sawInsufficient = true
			lastAIError = attempt.Provider + "_insufficient"
			if try+1 < s.retries {
				sleepCtx(ctx, time.Duration(800*(try+1))*time.Millisecond)
				continue
			}
			break
		}
	}

	if !s.allowLocalFallback {
		reason := lastAIError
		if reason == "" {
			if sawInsufficient {
				reason = "insufficient"
			} else {
				reason = "ai_unavailable"
			}
		}
		msg := qaUnavailableText(targetLang, reason)
		return QAAnswer{Text: qaAnswerHeader + "\n\n" + msg, Answer: msg, Lang: targetLang}, nil
	}

	fallbackSource := qaCtx.Text
	if fallbackSource == "" {
		fallbackSource = transcriptText
	}
	if fb := fallbackAnswer(question, fallbackSource); fb != "" {
		fb = s.backends.EnsureOutputLanguage(ctx, s.backend, fb, targetLang)
		return QAAnswer{
			Text:     qaAnswerHeader + "\n🧩 Backend: local transcript fallback\n\n" + fb,
			Answer:   fb,
			Lang:     targetLang,
			Fallback: true,
		}, nil
	}
	msg := qaUnreliableText(targetLang)
	return QAAnswer{Text: qaAnswerHeader + "\n\n" + msg, Answer: msg, Lang: targetLang}, nil
}
