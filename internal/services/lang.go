package services

import "strings"

// Answer languages the pipeline distinguishes. Everything that is not
// English is folded into Ukrainian, the archive's dominant language.
const (
	LangEN = "en"
	LangUK = "uk"
)

// NormalizeLang folds the accepted language spellings onto "uk"/"en".
// Unknown values return the fallback.
func NormalizeLang(value, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "uk", "ua", "ukr", "ukrainian":
		return LangUK
	case "en", "eng", "english":
		return LangEN
	}
	return fallback
}

func isCyrillicRune(r rune) bool {
	return (r >= 0x0400 && r <= 0x04FF) || r == 'Ґ' || r == 'ґ'
}

func isLatinRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// DetectLang guesses the language of a short text. Ukrainian-specific
// letters decide immediately; otherwise the Latin/Cyrillic letter counts do.
// cyrillicDefault is returned for Cyrillic text without Ukrainian markers
// (usually still "uk"); fallback covers texts with no letters at all.
func DetectLang(text, cyrillicDefault, fallback string) string {
	cyr, lat := 0, 0
	for _, r := range text {
		switch r {
		case 'і', 'І', 'ї', 'Ї', 'є', 'Є', 'ґ', 'Ґ':
			return LangUK
		}
		if isCyrillicRune(r) {
			cyr++
		} else if isLatinRune(r) {
			lat++
		}
	}
	if lat > cyr {
		return LangEN
	}
	if cyr > 0 {
		return NormalizeLang(cyrillicDefault, LangUK)
	}
	return NormalizeLang(fallback, LangUK)
}

// ResolveOutputLang applies the configured output-language mode to a
// detected language. "auto" keeps the detection and marks the label.
func ResolveOutputLang(mode, detected string) (lang, label string) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case LangEN:
		return LangEN, "English"
	case LangUK, "ua":
		return LangUK, "Ukrainian"
	}
	lang = NormalizeLang(detected, LangUK)
	return lang, LanguageName(lang) + " (auto)"
}

func LanguageName(lang string) string {
	if NormalizeLang(lang, LangUK) == LangEN {
		return "English"
	}
	return "Ukrainian"
}

// BackendCaption renders the backend banner line shown above answers and
// analyses.
func BackendCaption(provider, model string) string {
	switch provider {
	case ProviderClaude:
		return "☁️ Backend: Claude (" + model + ")"
	case ProviderOpenAI:
		return "☁️ Backend: OpenAI (" + model + ")"
	case ProviderLocal:
		return "🖥️ Backend: local (" + model + ")"
	}
	return "🧩 Backend: unknown"
}
