package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/transcript"
	"github.com/hubrts/youtube-command-deck/internal/types"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

const analysisHeader = "🧠 AI Video Analysis\n"

func defaultAnalysisPrompt(lang string) string {
	if lang == LangEN {
		return "You analyze video transcripts and return concise, useful notes in English. " +
			"Output sections exactly: " +
			"1) Short video idea, " +
			"2) Key points (5-10 bullets), " +
			"3) Practical takeaways / what to do next, " +
			"4) Uncertain points / risks (if any, with timestamps). " +
			"If uncertain, say it is uncertain."
	}
	return "Ти аналізуєш транскрипти відео і повертаєш короткі, корисні нотатки українською. " +
		"Поверни рівно такі розділи: " +
		"1) Коротка ідея відео, " +
		"2) Ключові тези (5-10 пунктів), " +
		"3) Практичні висновки/що робити далі, " +
		"4) Невизначені моменти/ризики (якщо є, з таймкодами). " +
		"Якщо не впевнений, так і напиши."
}

// AnalysisResult carries one finished transcript analysis. Text is the full
// display block with the banner; Body is the bare model output.
type AnalysisResult struct {
	Text       string
	Body       string
	Provider   string
	Model      string
	Lang       string
	LangLabel  string
	ChunkParts int
	Truncated  bool
}

// AnalysisService produces the structured transcript analysis. Long
// transcripts on the local backend are analyzed map-reduce style: windows
// are summarized separately, then merged into one final pass.
type AnalysisService interface {
	Enabled() bool
	TTL() time.Duration
	OutputLanguage(transcriptText string) (lang, label string)
	CachedAnalysis(rec *types.ArchiveRecord, expectedLang string) (text string, age time.Duration, ok bool)
	// EstimateParts predicts how many local map-reduce windows a transcript
	// would produce, for progress reporting before the run starts.
	EstimateParts(transcriptText string) int
	Analyze(ctx context.Context, title, transcriptText string, onChunk func(completed, total int)) (AnalysisResult, error)
}

type analysisService struct {
	log      *logger.Logger
	backends *Backends

	enabled        bool
	backend        string
	promptOverride string
	outputLangMode string
	maxChars       int
	timeout        time.Duration
	ttl            time.Duration

	chunkTrigger  int
	chunkChars    int
	chunkOverlap  int
	maxChunks     int
	synthMaxChars int

	cyrillicDefault string
	defaultLang     string
}

func NewAnalysisService(baseLog *logger.Logger, backends *Backends) AnalysisService {
	log := baseLog.With("service", "AnalysisService")
	ttlHours := utils.GetEnvAsFloat("VIDEO_AI_ANALYSIS_TTL_HOURS", 24, log)
	ttl := time.Duration(0)
	if ttlHours > 0 {
		ttl = time.Duration(ttlHours * float64(time.Hour))
	}
	chunkTrigger := utils.GetEnvAsInt("VIDEO_AI_LOCAL_CHUNK_TRIGGER_CHARS", 12000, log)
	if chunkTrigger < 4000 {
		chunkTrigger = 4000
	}
	chunkChars := utils.GetEnvAsInt("VIDEO_AI_LOCAL_CHUNK_CHARS", 7000, log)
	if chunkChars < 2500 {
		chunkChars = 2500
	}
	chunkOverlap := utils.GetEnvAsInt("VIDEO_AI_LOCAL_CHUNK_OVERLAP_CHARS", 400, log)
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	maxChunks := utils.GetEnvAsInt("VIDEO_AI_LOCAL_MAX_CHUNKS", 8, log)
	if maxChunks < 1 {
		maxChunks = 1
	}
	synthMax := utils.GetEnvAsInt("VIDEO_AI_LOCAL_SYNTH_MAX_CHARS", 22000, log)
	if synthMax < 8000 {
		synthMax = 8000
	}
	return &analysisService{
		log:             log,
		backends:        backends,
		enabled:         utils.GetEnvAsBool("VIDEO_USE_AI_ANALYZER", true, log),
		backend:         utils.GetEnv("VIDEO_AI_BACKEND", "auto", log),
		promptOverride:  strings.TrimSpace(utils.GetEnv("VIDEO_AI_PROMPT", "", log)),
		outputLangMode:  utils.GetEnv("VIDEO_AI_OUTPUT_LANG", "auto", log),
		maxChars:        utils.GetEnvAsInt("VIDEO_AI_MAX_CHARS", 24000, log),
		timeout:         time.Duration(utils.GetEnvAsInt("VIDEO_AI_TIMEOUT_SEC", 240, log)) * time.Second,
		ttl:             ttl,
		chunkTrigger:    chunkTrigger,
		chunkChars:      chunkChars,
		chunkOverlap:    chunkOverlap,
		maxChunks:       maxChunks,
		synthMaxChars:   synthMax,
		cyrillicDefault: utils.GetEnv("VIDEO_QA_CYRILLIC_DEFAULT_LANG", LangUK, log),
		defaultLang:     utils.GetEnv("VIDEO_QA_DEFAULT_LANG", LangUK, log),
	}
}

func (s *analysisService) Enabled() bool { return s.enabled }

func (s *analysisService) TTL() time.Duration { return s.ttl }

// OutputLanguage resolves the analysis language: the configured mode wins;
// "auto" detects from the first transcript lines.
func (s *analysisService) OutputLanguage(transcriptText string) (string, string) {
	mode := strings.ToLower(strings.TrimSpace(s.outputLangMode))
	if mode != "auto" && mode != "detect" && mode != "" {
		lang, label := ResolveOutputLang(mode, "")
		return lang, label
	}
	lines := transcript.BodyLines(transcriptText)
	if len(lines) > 400 {
		lines = lines[:400]
	}
	sample := strings.Join(lines, "\n")
	if sample == "" {
		sample = transcriptText
	}
	detected := DetectLang(sample, s.cyrillicDefault, LangEN)
	return detected, LanguageName(detected) + " (auto)"
}

// CachedAnalysis returns the stored analysis when it is in the expected
// language and younger than the TTL.
func (s *analysisService) CachedAnalysis(rec *types.ArchiveRecord, expectedLang string) (string, time.Duration, bool) {
	if s.ttl <= 0 || rec == nil {
		return "", 0, false
	}
	cached := strings.TrimSpace(rec.AnalysisText)
	if cached == "" {
		return "", 0, false
	}
	storedLang := strings.ToLower(strings.TrimSpace(rec.AnalysisLang))
	if storedLang == "" || storedLang != expectedLang {
		return "", 0, false
	}
	savedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(rec.AnalysisSavedAt))
	if err != nil {
		return "", 0, false
	}
	age := time.Since(savedAt)
	if age < 0 {
		age = 0
	}
	if age <= s.ttl {
		return cached, age, true
	}
	return "", age, false
}

func (s *analysisService) EstimateParts(transcriptText string) int {
	if transcriptText == "" {
		return 1
	}
	used := transcriptText
	if len(used) > s.maxChars {
		used = used[:s.maxChars]
	}
	if len(used) < s.chunkTrigger {
		return 1
	}
	chunks := splitTextWindows(used, s.chunkChars, s.chunkOverlap)
	if len(chunks) > s.maxChunks {
		chunks = chunks[:s.maxChunks]
	}
	if len(chunks) < 1 {
		return 1
	}
	return len(chunks)
}

// splitTextWindows cuts text into overlapping windows, preferring to break on
// a newline (then a space) in the last 45% of each window.
func splitTextWindows(text string, windowChars, overlapChars int) []string {
	src := strings.TrimSpace(text)
	if src == "" {
		return nil
	}
	win := windowChars
	if win < 1200 {
		win = 1200
	}
	overlap := overlapChars
	if overlap < 0 {
		overlap = 0
	}
	if overlap > win/3 {
		overlap = win / 3
	}
	var out []string
	start := 0
	n := len(src)
	for start < n {
		end := start + win
		if end > n {
			end = n
		}
		if end < n {
			minCut := start + int(float64(win)*0.55)
			cut := -1
			if minCut < end {
				if i := strings.LastIndex(src[minCut:end], "\n"); i >= 0 {
					cut = minCut + i
				} else if i := strings.LastIndex(src[minCut:end], " "); i >= 0 {
					cut = minCut + i
				}
			}
			if cut > start {
				end = cut
			}
		}
		if chunk := strings.TrimSpace(src[start:end]); chunk != "" {
			out = append(out, chunk)
		}
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// analyzeLocalChunked runs the map-reduce path for long transcripts on the
// local model. Returns ("", parts) when the transcript is short enough for a
// single pass or every part failed.
func (s *analysisService) analyzeLocalChunked(ctx context.Context, client llm.ChatClient, title, text string, truncated bool, lang, systemPrompt string, onChunk func(completed, total int)) (string, int) {
	if len(text) < s.chunkTrigger {
		return "", 0
	}
	chunks := splitTextWindows(text, s.chunkChars, s.chunkOverlap)
	if len(chunks) > s.maxChunks {
		chunks = chunks[:s.maxChunks]
	}
	if len(chunks) <= 1 {
		return "", 0
	}
	if onChunk != nil {
		onChunk(0, len(chunks))
	}

	truncatedMark := ""
	if truncated {
		if lang == LangEN {
			truncatedMark = "(source transcript was truncated)"
		} else {
			truncatedMark = "(вхідний транскрипт був обрізаний)"
		}
	}

	var notes []string
	for i, chunk := range chunks {
		var userPrompt string
		if lang == LangEN {
			userPrompt = fmt.Sprintf(
				"Title: %s\nTranscript part %d/%d %s:\n\n%s\n\n"+
					"Task: summarize ONLY this part with concrete facts, practical actions, and uncertainties.",
				title, i+1, len(chunks), truncatedMark, chunk)
		} else {
			userPrompt = fmt.Sprintf(
				"Назва: %s\nЧастина транскрипту %d/%d %s:\n\n%s\n\n"+
					"Завдання: підсумуй ТІЛЬКИ цю частину з фактами, практичними діями та невизначеностями.",
				title, i+1, len(chunks), truncatedMark, chunk)
		}
		part, err := client.Chat(ctx, llm.ChatRequest{
			System:      systemPrompt,
			User:        userPrompt,
			Temperature: 0.2,
			Timeout:     s.timeout,
		})
		if err != nil {
			s.log.Warn("Chunked analysis part failed", "part", i+1, "parts", len(chunks), "error", err)
			continue
		}
		if part = strings.TrimSpace(part); part != "" {
			notes = append(notes, part)
		}
		if onChunk != nil {
			onChunk(i+1, len(chunks))
		}
	}
	if len(notes) == 0 {
		return "", len(chunks)
	}
	if len(notes) == 1 {
		return notes[0], len(chunks)
	}

	parts := make([]string, len(notes))
	for i, note := range notes {
		parts[i] = fmt.Sprintf("PART %d/%d:\n%s", i+1, len(notes), note)
	}
	joined := strings.Join(parts, "\n\n")
	if len(joined) > s.synthMaxChars {
		joined = joined[:s.synthMaxChars]
	}
	var synthPrompt string
	if lang == LangEN {
		synthPrompt = fmt.Sprintf(
			"Title: %s\nBelow are analyses from multiple transcript parts. Merge them into one final coherent analysis.\n\n%s",
			title, joined)
	} else {
		synthPrompt = fmt.Sprintf(
			"Назва: %s\nНижче аналізи з кількох частин транскрипту. Об'єднай їх у фінальний узгоджений аналіз.\n\n%s",
			title, joined)
	}
	final, err := client.Chat(ctx, llm.ChatRequest{
		System:      systemPrompt,
		User:        synthPrompt,
		Temperature: 0.2,
		Timeout:     s.timeout,
	})
	if err == nil {
		if final = strings.TrimSpace(final); final != "" {
			return final, len(chunks)
		}
	} else {
		s.log.Warn("Chunked analysis synthesis failed, joining part notes", "error", err)
	}

	fallbackParts := make([]string, len(notes))
	for i, note := range notes {
		fallbackParts[i] = fmt.Sprintf("Part %d/%d\n%s", i+1, len(notes), note)
	}
	return strings.TrimSpace(strings.Join(fallbackParts, "\n\n")), len(chunks)
}

func (s *analysisService) Analyze(ctx context.Context, title, transcriptText string, onChunk func(completed, total int)) (AnalysisResult, error) {
	if !s.enabled {
		return AnalysisResult{}, nil
	}
	lang, langLabel := s.OutputLanguage(transcriptText)

	used := transcriptText
	if len(used) > s.maxChars {
		used = used[:s.maxChars]
	}
	truncated := len(transcriptText) > len(used)

	systemPrompt := s.promptOverride
	if systemPrompt == "" {
		systemPrompt = defaultAnalysisPrompt(lang)
	}
	systemPrompt += "\n" + languageDirective(lang)

	truncatedMark := ""
	if truncated {
		if lang == LangEN {
			truncatedMark = "(truncated to character limit)"
		} else {
			truncatedMark = "(обрізаний до ліміту символів)"
		}
	}
	var userPrompt string
	if lang == LangEN {
		userPrompt = fmt.Sprintf("Title: %s\nTranscript %s:\n\n%s", title, truncatedMark, used)
	} else {
		userPrompt = fmt.Sprintf("Назва: %s\nТранскрипт %s:\n\n%s", title, truncatedMark, used)
	}

	var (
		body        string
		usedAttempt ChatAttempt
		chunkParts  int
		lastErr     error
	)
	for _, attempt := range s.backends.Chain(s.backend) {
		if attempt.Client == nil {
			continue
		}
		if attempt.Provider == ProviderLocal {
			if chunked, parts := s.analyzeLocalChunked(ctx, attempt.Client, title, used, truncated, lang, systemPrompt, onChunk); strings.TrimSpace(chunked) != "" {
				body = chunked
				usedAttempt = attempt
				chunkParts = parts
				break
			}
		}
		text, err := attempt.Client.Chat(ctx, llm.ChatRequest{
			System:      systemPrompt,
			User:        userPrompt,
			Temperature: 0.2,
			Timeout:     s.timeout,
		})
		if err != nil {
			s.log.Warn("Analysis attempt failed, trying next backend",
				"provider", attempt.Provider, "model", attempt.Model, "error", err)
			lastErr = err
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			body = text
			usedAttempt = attempt
			break
		}
	}
	if body == "" {
		if lastErr == nil {
			lastErr = fmt.Errorf("no analysis backend produced output: %w", llm.ErrProviderUnavailable)
		}
		return AnalysisResult{}, lastErr
	}

	prefix := analysisHeader
	prefix += BackendCaption(usedAttempt.Provider, usedAttempt.Model) + "\n"
	prefix += "🗣 Output language: " + langLabel + "\n"
	if usedAttempt.Provider == ProviderLocal && chunkParts > 1 {
		prefix += fmt.Sprintf("ℹ️ Local chunked analysis: %d parts.\n", chunkParts)
	}
	if truncated {
		prefix += "ℹ️ Analysis used a truncated transcript window due to size limits.\n"
	}
	return AnalysisResult{
		Text:       prefix + body,
		Body:       body,
		Provider:   usedAttempt.Provider,
		Model:      usedAttempt.Model,
		Lang:       lang,
		LangLabel:  langLabel,
		ChunkParts: chunkParts,
		Truncated:  truncated,
	}, nil
}
