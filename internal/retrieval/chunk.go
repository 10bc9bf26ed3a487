package retrieval

import "strings"

// Chunking defaults. Overlap carries trailing context from one chunk into the
// next so sentences split across a boundary remain searchable in both.
const (
	DefaultChunkSize    = 700
	DefaultChunkOverlap = 120
)

// separators are tried in order: paragraph breaks first, then lines,
// sentences, words, and finally single characters.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk splits text into overlapping chunks of at most chunkSize characters,
// preferring to break at paragraph, line, and sentence boundaries.
func Chunk(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	pieces := splitRecursive(text, separators, chunkSize)
	return mergePieces(pieces, chunkSize, overlap)
}

// splitRecursive breaks text into pieces no longer than chunkSize, using the
// coarsest separator that works and recursing with finer ones as needed.
func splitRecursive(text string, seps []string, chunkSize int) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardSplit(text, chunkSize)
	}

	sep := seps[0]
	rest := seps[1:]
	if sep == "" {
		return hardSplit(text, chunkSize)
	}

	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return splitRecursive(text, rest, chunkSize)
	}

	var pieces []string
	for i, part := range parts {
		// Keep the separator attached so merged chunks read naturally.
		if i < len(parts)-1 {
			part += sep
		}
		if part == "" {
			continue
		}
		if len(part) <= chunkSize {
			pieces = append(pieces, part)
		} else {
			pieces = append(pieces, splitRecursive(part, rest, chunkSize)...)
		}
	}
	return pieces
}

// hardSplit cuts text into fixed-width slices when no separator helps.
func hardSplit(text string, chunkSize int) []string {
	var out []string
	for len(text) > chunkSize {
		out = append(out, text[:chunkSize])
		text = text[chunkSize:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// mergePieces greedily packs pieces into chunks of at most chunkSize,
// seeding each new chunk with up to overlap characters of trailing pieces
// from the previous one.
func mergePieces(pieces []string, chunkSize, overlap int) []string {
	var chunks []string
	var current []string
	currentLen := 0
	newSinceFlush := false

	flush := func() {
		if currentLen == 0 {
			return
		}
		if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
			chunks = append(chunks, chunk)
		}

		// Retain trailing pieces within the overlap budget.
		var kept []string
		keptLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			if keptLen+len(current[i]) > overlap {
				break
			}
			kept = append([]string{current[i]}, kept...)
			keptLen += len(current[i])
		}
		current = kept
		currentLen = keptLen
		newSinceFlush = false
	}

	for _, p := range pieces {
		if currentLen > 0 && currentLen+len(p) > chunkSize {
			flush()
			// Drop the overlap seed when it would push this chunk over size.
			if currentLen+len(p) > chunkSize {
				current = nil
				currentLen = 0
			}
		}
		current = append(current, p)
		currentLen += len(p)
		newSinceFlush = true
	}
	// Emit the tail only if it contains content beyond the carried overlap.
	if newSinceFlush {
		if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
