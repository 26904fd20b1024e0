package chunk

import (
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two! Three?")
	want := []string{"One.", "Two!", "Three?"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestShortDocumentBypass(t *testing.T) {
	if !ShortDocumentBypass("a short document.") {
		t.Fatal("expected short text to bypass chunking")
	}
	long := strings.Repeat("word ", 5000)
	if ShortDocumentBypass(long) {
		t.Fatal("expected long text not to bypass chunking")
	}
}

func TestPackSentencesOverlap(t *testing.T) {
	sentence := strings.Repeat("word ", 50) + "."
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString(sentence)
		sb.WriteString(" ")
	}
	chunks := PackSentences(sb.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Tokens == 0 {
			t.Fatalf("chunk %d has zero estimated tokens", i)
		}
		if i > 0 && c.CharStart >= chunks[i-1].CharEnd {
			t.Fatalf("chunk %d (start %d) does not overlap chunk %d (end %d)", i, c.CharStart, i-1, chunks[i-1].CharEnd)
		}
	}
}
