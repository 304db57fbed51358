package transcript

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	vttTagRE = regexp.MustCompile(`<[^>]+>`)
	vttWSRE  = regexp.MustCompile(`\s+`)
)

// ParseVTTTimestamp parses hh:mm:ss.mmm or mm:ss.mmm cue times. Malformed
// input yields 0.
func ParseVTTTimestamp(raw string) float64 {
	t := strings.TrimSpace(raw)
	if t == "" {
		return 0
	}
	t = strings.ReplaceAll(t, ",", ".")
	parts := strings.Split(t, ":")
	switch len(parts) {
	case 3:
		hh, err1 := strconv.Atoi(parts[0])
		mm, err2 := strconv.Atoi(parts[1])
		ss, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return 0
		}
		return float64(hh)*3600 + float64(mm)*60 + ss
	case 2:
		mm, err1 := strconv.Atoi(parts[0])
		ss, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return 0
		}
		return float64(mm)*60 + ss
	}
	return 0
}

// ParseVTT extracts cue segments from WebVTT content. Markup tags are
// stripped, cue text lines are joined with spaces, and rollup captions that
// repeat the previous cue verbatim are dropped.
func ParseVTT(content string) []Segment {
	lines := strings.Split(content, "\n")
	var out []Segment
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if !strings.Contains(line, "-->") {
			i++
			continue
		}
		left, right, _ := strings.Cut(line, "-->")
		start := ParseVTTTimestamp(firstField(left))
		end := ParseVTTTimestamp(firstField(right))
		i++

		var textLines []string
		for i < len(lines) {
			cur := strings.TrimSpace(lines[i])
			if cur == "" {
				break
			}
			textLines = append(textLines, cur)
			i++
		}
		text := strings.Join(textLines, " ")
		text = vttTagRE.ReplaceAllString(text, "")
		text = strings.TrimSpace(vttWSRE.ReplaceAllString(text, " "))
		if text != "" {
			if len(out) > 0 && out[len(out)-1].Text == text {
				// Auto captions re-emit the previous cue while the next line
				// rolls in; keep the first occurrence only.
				out[len(out)-1].End = maxFloat(out[len(out)-1].End, end)
			} else {
				out = append(out, Segment{
					Start: maxFloat(0, start),
					End:   maxFloat(start, end),
					Text:  text,
				})
			}
		}
		i++
	}
	return out
}

func firstField(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
