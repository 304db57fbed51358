package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hubrts/youtube-command-deck/internal/transcript"
)

// qaStopwords are filler words that would otherwise dominate keyword
// matching. Both question languages contribute entries.
var qaStopwords = map[string]bool{
	"what": true, "with": true, "this": true, "that": true, "about": true,
	"video": true, "відео": true, "they": true, "them": true, "their": true,
	"theirs": true, "doing": true, "does": true, "did": true, "done": true,
	"are": true, "were": true, "have": true, "has": true, "had": true,
	"there": true,
}

var (
	keywordRE     = regexp.MustCompile(`[A-Za-zА-Яа-яІіЇїЄєЁё0-9]{3,}`)
	asciiWordRE   = regexp.MustCompile(`^[a-z0-9]{3,}$`)
	cyrillicRE    = regexp.MustCompile(`[а-яёіїєґ]`)
	stampPrefixRE = regexp.MustCompile(`^\[\d{1,4}:[0-5]\d\]\s*`)
	sentenceRE    = regexp.MustCompile(`(.{40,220}?[.!?])(?:\s|$)`)
)

// cyrillicSuffixes are stripped for broad matching, longest first so "ами"
// beats "и".
var cyrillicSuffixes = []string{
	"ами", "ями", "ові",
	"ев", "ов", "ый", "ий", "ій", "ая", "ое", "ые", "их", "ых",
	"ом", "ем", "ам", "ям", "ах", "ях", "ів", "ей",
	"у", "ю", "а", "я", "и", "ы", "е", "о", "й",
}

func keywordVariants(w string) []string {
	set := map[string]bool{w: true}
	if asciiWordRE.MatchString(w) {
		n := len(w)
		if strings.HasSuffix(w, "ies") && n > 4 {
			set[w[:n-3]+"y"] = true
		}
		if strings.HasSuffix(w, "es") && n > 4 {
			set[w[:n-2]] = true
		}
		if strings.HasSuffix(w, "s") && n > 3 {
			set[w[:n-1]] = true
		}
		if strings.HasSuffix(w, "ing") && n > 5 {
			set[w[:n-3]] = true
		}
		if strings.HasSuffix(w, "ed") && n > 4 {
			set[w[:n-2]] = true
		}
	}
	if cyrillicRE.MatchString(w) {
		for _, sfx := range cyrillicSuffixes {
			if strings.HasSuffix(w, sfx) {
				stem := strings.TrimSuffix(w, sfx)
				if len([]rune(stem)) >= 3 {
					set[stem] = true
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	// Keep the base word first, then variants in a stable order.
	if set[w] && len([]rune(w)) >= 3 {
		out = append(out, w)
		delete(set, w)
	}
	rest := make([]string, 0, len(set))
	for v := range set {
		if len([]rune(v)) >= 3 {
			rest = append(rest, v)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// QuestionKeywords extracts stemmed, stopword-filtered retrieval terms from
// a question, preserving first-seen order.
func QuestionKeywords(question string) []string {
	var out []string
	seen := map[string]bool{}
	for _, raw := range keywordRE.FindAllString(question, -1) {
		w := strings.ToLower(raw)
		if qaStopwords[w] {
			continue
		}
		for _, v := range keywordVariants(w) {
			if qaStopwords[v] || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// lexicalChunkScores counts keyword occurrences per chunk. Each matched
// keyword contributes 1 plus a capped repetition bonus; the full question
// appearing verbatim adds 3.
func lexicalChunkScores(chunks []transcript.Chunk, question string, plannerKeywords []string) map[int]float64 {
	words := QuestionKeywords(question)
	if len(plannerKeywords) > 0 {
		seen := map[string]bool{}
		for _, w := range words {
			seen[w] = true
		}
		for _, w := range QuestionKeywords(strings.Join(plannerKeywords, " ")) {
			if !seen[w] {
				seen[w] = true
				words = append(words, w)
			}
		}
	}
	qLow := strings.ToLower(strings.TrimSpace(question))

	scores := make(map[int]float64, len(chunks))
	for _, chunk := range chunks {
		low := strings.ToLower(chunk.Text)
		if low == "" {
			continue
		}
		score := 0.0
		for _, word := range words {
			if n := strings.Count(low, word); n > 0 {
				bonus := 0.2 * float64(n)
				if bonus > 1.5 {
					bonus = 1.5
				}
				score += 1.0 + bonus
			}
		}
		if qLow != "" && strings.Contains(low, qLow) {
			score += 3.0
		}
		scores[chunk.Idx] = score
	}
	return scores
}

// blendRetrievalScore combines normalized lexical and semantic scores.
// Without a semantic index the lexical score stands alone.
func blendRetrievalScore(lexNorm, semantic float64, hasSemantic bool) float64 {
	if !hasSemantic {
		return lexNorm
	}
	return 0.45*lexNorm + 0.55*semantic
}

// chunkFocusBoost nudges scores toward the part of the video the question
// points at ("how does it end" prefers late chunks).
func chunkFocusBoost(chunkIdx, total int, focus string) float64 {
	if total <= 1 {
		return 0.0
	}
	pos := float64(chunkIdx) / float64(total-1)
	switch focus {
	case "ending":
		return 0.25 * pos
	case "beginning":
		return 0.25 * (1.0 - pos)
	case "middle":
		off := pos - 0.5
		if off < 0 {
			off = -off
		}
		return 0.20 * (1.0 - off*2.0)
	}
	return 0.0
}

func normForMatch(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// VerifyEvidenceLines keeps only claimed evidence that actually appears in
// the transcript: normalized substring match in either direction against the
// body lines, timestamps stripped on both sides. At most limit lines, deduped.
func VerifyEvidenceLines(evidence []string, transcriptText string, limit int) []string {
	bodyLines := transcript.BodyLines(transcriptText)
	if len(bodyLines) == 0 {
		return nil
	}
	normLines := make([]string, len(bodyLines))
	origLines := make([]string, len(bodyLines))
	for i, ln := range bodyLines {
		stripped := stampPrefixRE.ReplaceAllString(ln, "")
		normLines[i] = normForMatch(stripped)
		origLines[i] = strings.TrimSpace(stripped)
	}

	var matched []string
	seen := map[string]bool{}
	for _, raw := range evidence {
		ev := normForMatch(stampPrefixRE.ReplaceAllString(raw, ""))
		if len([]rune(ev)) < 8 {
			continue
		}
		for i, ln := range normLines {
			if strings.Contains(ln, ev) || strings.Contains(ev, ln) {
				key := normForMatch(origLines[i])
				if !seen[key] {
					seen[key] = true
					matched = append(matched, origLines[i])
				}
				break
			}
		}
		if len(matched) >= limit {
			break
		}
	}
	return matched
}

// CompactAnswer squashes whitespace and trims the answer to one sentence
// within maxChars, cutting hard with an ellipsis when no sentence boundary
// lands in range.
func CompactAnswer(text string, maxChars int) string {
	t := strings.Join(strings.Fields(text), " ")
	if t == "" {
		return ""
	}
	if len(t) <= maxChars {
		return t
	}
	if m := sentenceRE.FindStringSubmatch(t); m != nil {
		return strings.TrimSpace(m[1])
	}
	cut := maxChars - 3
	if cut < 1 {
		cut = 1
	}
	return strings.TrimRight(t[:cut], " ") + "..."
}

// fallbackAnswer picks the best transcript line by raw keyword hits when no
// model could answer. Empty when nothing matches.
func fallbackAnswer(question, contextText string) string {
	bodyLines := transcript.BodyLines(contextText)
	words := QuestionKeywords(question)

	if len(words) == 0 {
		for _, ln := range bodyLines {
			clean := strings.TrimSpace(stampPrefixRE.ReplaceAllString(ln, ""))
			if len(clean) >= 20 {
				return CompactAnswer(clean, 220)
			}
		}
		if len(bodyLines) > 0 {
			return CompactAnswer(bodyLines[0], 220)
		}
		return ""
	}

	type scoredLine struct {
		score int
		line  string
	}
	var scored []scoredLine
	for _, ln := range bodyLines {
		low := strings.ToLower(ln)
		score := 0
		for _, w := range words {
			if strings.Contains(low, w) {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, scoredLine{score: score, line: ln})
		}
	}
	if len(scored) == 0 {
		return ""
	}
	sort.SliceStable(scored, func(i, k int) bool { return scored[i].score > scored[k].score })
	first := strings.TrimSpace(stampPrefixRE.ReplaceAllString(scored[0].line, ""))
	if first == "" {
		return ""
	}
	return CompactAnswer(first, 220)
}

// QuestionKey canonicalizes a question for the per-video answer cache.
func QuestionKey(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}
