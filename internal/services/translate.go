package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
)

// languageDirective is appended to prompts so a model never answers in the
// wrong language.
func languageDirective(lang string) string {
	if lang == LangEN {
		return "Respond only in English."
	}
	return "Відповідай тільки українською."
}

var translateENHits = []string{"англійською", "english", "in english"}
var translateUKHits = []string{"українською", "ukrainian", "in ukrainian"}
var translateTriggers = []string{"translate", "переклади", "translation", "переклад"}

// extractTranslateTargetLang returns the explicitly requested translation
// language, or "" when the question names none.
func extractTranslateTargetLang(question string) string {
	low := strings.ToLower(strings.TrimSpace(question))
	if low == "" {
		return ""
	}
	for _, h := range translateENHits {
		if strings.Contains(low, h) {
			return LangEN
		}
	}
	for _, h := range translateUKHits {
		if strings.Contains(low, h) {
			return LangUK
		}
	}
	return ""
}

func isTranslationRequest(question string) bool {
	low := strings.ToLower(strings.TrimSpace(question))
	if low == "" {
		return false
	}
	for _, t := range translateTriggers {
		if strings.Contains(low, t) {
			return true
		}
	}
	return false
}

// TargetLanguage resolves the answer language for a question: an explicit
// translation target wins, otherwise the question's own language. The bool
// reports whether the question is a translation request.
func TargetLanguage(question, cyrillicDefault, fallback string) (string, bool) {
	if target := extractTranslateTargetLang(question); target != "" {
		return target, true
	}
	return DetectLang(question, cyrillicDefault, fallback), isTranslationRequest(question)
}

var quotedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"([^"]{2,500})"`),
	regexp.MustCompile(`“([^”]{2,500})”`),
	regexp.MustCompile(`'([^']{2,500})'`),
}

var translateTailRE = regexp.MustCompile(
	`(?is)^(?:translate|переклади|translation|переклад)\b.*?(?:to|на|in)?\s*` +
		`(?:english|англійською|ukrainian|українською)?\s*` +
		`(?:text|текст)?\s*[-–—]?\s*(.+)$`,
)

func extractQuotedText(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	for _, pat := range quotedPatterns {
		if m := pat.FindStringSubmatch(t); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// ExtractTranslationSource pulls the text to translate out of a translation
// request: quoted text first, then an after-colon tail, then whatever follows
// the translate verb.
func ExtractTranslationSource(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return ""
	}
	if quoted := extractQuotedText(q); quoted != "" {
		return quoted
	}
	if idx := strings.Index(q, ":"); idx >= 0 {
		tail := strings.TrimSpace(q[idx+1:])
		if len([]rune(tail)) >= 2 {
			return tail
		}
	}
	if m := translateTailRE.FindStringSubmatch(q); m != nil {
		tail := strings.TrimSpace(m[1])
		if len([]rune(tail)) >= 2 {
			return tail
		}
	}
	return ""
}

// TranslateText translates text with the configured chat backend chain.
// Returns the source text unchanged when every backend fails, so callers
// never lose an answer to a translation hiccup.
func (b *Backends) TranslateText(ctx context.Context, backend, text, targetLang string) string {
	src := strings.TrimSpace(text)
	if src == "" {
		return ""
	}
	lang := NormalizeLang(targetLang, "")
	if lang == "" {
		return src
	}
	req := llm.ChatRequest{
		System: "You are a professional translator. Translate to " + LanguageName(lang) +
			". Preserve meaning and keep it concise. Return only translated text.",
		User:        "Text:\n" + src,
		Temperature: 0.0,
	}
	out, _, err := b.ChatWithChain(ctx, b.Chain(backend), req)
	if err != nil {
		b.log.Warn("Translation failed, keeping source text", "target_lang", lang, "error", err)
		return src
	}
	return out
}

// EnsureOutputLanguage translates text when its detected language differs
// from the requested one.
func (b *Backends) EnsureOutputLanguage(ctx context.Context, backend, text, targetLang string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	lang := NormalizeLang(targetLang, "")
	if lang == "" {
		return t
	}
	if DetectLang(t, LangUK, LangUK) == lang {
		return t
	}
	return b.TranslateText(ctx, backend, t, lang)
}
