// Package chunk implements the Chunker (spec §4.4, C4): sentence-aware
// fixed-size packing with Anthropic contextual-retrieval situating
// calls. Grounded on the teacher's deleted engine/ingest/transform.go
// splitSentences/chunkSentences shape, generalized to the spec's
// token-overlap requirement, and on original_source's chunking_service.py
// for the waved-concurrency LLM call pattern.
package chunk

import (
	"regexp"
	"strings"
)

// approxCharsPerToken is the 4-chars-per-token heuristic spec §4.4
// specifies in place of a real tokenizer.
const approxCharsPerToken = 4

const (
	targetTokens  = 800
	overlapTokens = 100
)

var sentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

// splitSentences breaks text into sentences on ./!/? followed by
// whitespace, keeping the terminator attached to its sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	parts := sentenceBoundary.Split(text, -1)
	matches := sentenceBoundary.FindAllStringSubmatch(text, -1)

	var sentences []string
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i < len(matches) {
			p += matches[i][1]
		}
		sentences = append(sentences, p)
	}
	return sentences
}

func estimateTokens(s string) int {
	n := len(s) / approxCharsPerToken
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// Raw is one packed chunk before its LLM-derived context is attached.
type Raw struct {
	Index     int
	Content   string
	CharStart int
	CharEnd   int
	Tokens    int
}

// PackSentences greedily packs sentences into ~targetTokens chunks,
// carrying the trailing ~overlapTokens worth of sentences from the
// previous chunk forward into the next one (spec §4.4).
func PackSentences(text string) []Raw {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Raw
	var cur []string
	curTokens := 0
	charOffset := 0
	chunkStart := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		content := strings.Join(cur, " ")
		chunks = append(chunks, Raw{
			Index:     len(chunks),
			Content:   content,
			CharStart: chunkStart,
			CharEnd:   chunkStart + len(content),
			Tokens:    curTokens,
		})
	}

	for _, s := range sentences {
		st := estimateTokens(s)
		if curTokens+st > targetTokens && len(cur) > 0 {
			flush()

			// carry overlap: walk back from the end of cur collecting
			// sentences until ~overlapTokens is reached.
			var overlap []string
			overlapT := 0
			for i := len(cur) - 1; i >= 0 && overlapT < overlapTokens; i-- {
				overlap = append([]string{cur[i]}, overlap...)
				overlapT += estimateTokens(cur[i])
			}
			cur = overlap
			curTokens = overlapT
			chunkStart = charOffset - len(strings.Join(overlap, " "))
			if chunkStart < 0 {
				chunkStart = charOffset
			}
		}
		cur = append(cur, s)
		curTokens += st
		charOffset += len(s) + 1
	}
	flush()
	return chunks
}

// ShortDocumentBypass reports whether text is small enough that
// chunking is skipped entirely in favor of one chunk spanning the
// whole document, context set to title (spec §4.4 edge case).
func ShortDocumentBypass(text string) bool {
	return estimateTokens(text) <= targetTokens
}
