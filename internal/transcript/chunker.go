package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const (
	DefaultChunkLines   = 8
	DefaultChunkOverlap = 2
)

// Chunk is a contiguous transcript window, the unit of embedding and
// retrieval.
type Chunk struct {
	Idx     int     `json:"idx"`
	StartTS float64 `json:"start_ts"`
	EndTS   float64 `json:"end_ts"`
	Text    string  `json:"text"`
}

// BuildChunks slides a window of perChunk segments with the given overlap
// over the segment list. Chunk indices are 0-based and contiguous; chunk text
// is the window's "[mm:ss] text" lines joined with newlines.
func BuildChunks(segments []Segment, perChunk, overlap int) []Chunk {
	if perChunk < 4 {
		perChunk = 4
	}
	if overlap < 0 {
		overlap = 0
	}
	stride := perChunk - overlap
	if stride < 1 {
		stride = 1
	}

	var chunks []Chunk
	idx := 0
	for start := 0; start < len(segments); start += stride {
		end := start + perChunk
		if end > len(segments) {
			end = len(segments)
		}
		window := segments[start:end]
		if len(window) == 0 {
			continue
		}
		firstTS := window[0].Start
		lastTS := window[len(window)-1].End

		var lines []string
		for _, seg := range window {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			lines = append(lines, "["+FormatStamp(seg.Start)+"] "+text)
		}
		body := strings.TrimSpace(strings.Join(lines, "\n"))
		if body == "" {
			continue
		}
		endTS := lastTS
		if endTS < firstTS {
			endTS = firstTS
		}
		chunks = append(chunks, Chunk{Idx: idx, StartTS: firstTS, EndTS: endTS, Text: body})
		idx++
	}
	return chunks
}

// canonicalChunk fixes the key order for hashing so the digest is stable.
type canonicalChunk struct {
	EndTS   float64 `json:"end_ts"`
	Idx     int     `json:"idx"`
	StartTS float64 `json:"start_ts"`
	Text    string  `json:"text"`
}

// ContentHash is the SHA-256 of the canonical JSON of the whole chunk set.
// Embeddings stored for a (video, model) pair carry this hash; a mismatch
// means the transcript changed and the vectors must be rebuilt.
func ContentHash(chunks []Chunk) string {
	canonical := make([]canonicalChunk, 0, len(chunks))
	for _, ch := range chunks {
		canonical = append(canonical, canonicalChunk{
			EndTS:   ch.EndTS,
			Idx:     ch.Idx,
			StartTS: ch.StartTS,
			Text:    ch.Text,
		})
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
