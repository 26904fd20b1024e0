package chunk

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/pkg/llmclient"
)

// fakeSituator is a situator test double that counts calls globally
// (across retried waves) and can be told to fail exactly one call
// ordinal with a rate-limit error, mirroring spec §8 scenario S3
// ("inject a 429 with Retry-After: 7 on the 3rd wave of chunking").
type fakeSituator struct {
	mu         sync.Mutex
	calls      int
	failOn     int
	retryAfter int
}

func (f *fakeSituator) SituateChunk(_ context.Context, _, chunkText string) (string, llmclient.Usage, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if n == f.failOn {
		return "", llmclient.Usage{}, &domain.RateLimitError{Provider: "anthropic", RetryAfter: f.retryAfter}
	}
	return "context:" + firstWords(chunkText, 3), llmclient.Usage{}, nil
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func newTestGenerator(sit situator, maxConcurrent int) *Generator {
	return &Generator{
		llm:           sit,
		maxConcurrent: maxConcurrent,
		stagger:       rate.NewLimiter(rate.Every(time.Millisecond), 1),
	}
}

func longDocText(nSentences int) string {
	var sb strings.Builder
	sentence := strings.Repeat("lorem ipsum dolor sit amet consectetur ", 20) + "."
	for i := 0; i < nSentences; i++ {
		sb.WriteString(sentence)
		sb.WriteString(" ")
	}
	return sb.String()
}

func TestGenerate_ShortDocumentBypassesLLM(t *testing.T) {
	sit := &fakeSituator{}
	g := newTestGenerator(sit, 5)

	out, err := g.Generate(context.Background(), "My Title", "a short document.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected a single bypass chunk, got %d", len(out))
	}
	if out[0].Context != "My Title" {
		t.Fatalf("expected bypass chunk context to be the title, got %q", out[0].Context)
	}
	if sit.calls != 0 {
		t.Fatalf("expected zero LLM calls for the bypass path, got %d", sit.calls)
	}
}

func TestGenerate_MultiWaveSuccessPreservesOrderAndDensity(t *testing.T) {
	sit := &fakeSituator{}
	g := newTestGenerator(sit, 3) // forces multiple waves for a long document

	text := longDocText(60)
	out, err := g.Generate(context.Background(), "Doc", text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) < 4 {
		t.Fatalf("expected several chunks for a long document, got %d", len(out))
	}
	for i, c := range out {
		if c.Index != i {
			t.Fatalf("expected dense 0..N-1 chunk indices, chunk %d has Index %d", i, c.Index)
		}
		if c.Context == "" {
			t.Fatalf("chunk %d missing situated context", i)
		}
	}
	// first chunk is situated alone before any wave; every chunk after it
	// must have gone through the LLM too.
	if sit.calls != len(out) {
		t.Fatalf("expected one LLM call per chunk, got %d calls for %d chunks", sit.calls, len(out))
	}
}

// TestRunWave_RetriesWholeWaveOn429 is spec §8 scenario S3: a 429 with
// a Retry-After hint pauses the wave for at least that long and the
// whole wave is retried rather than failing the job; the final result
// set still has one entry per chunk with no duplicates.
func TestRunWave_RetriesWholeWaveOn429(t *testing.T) {
	sit := &fakeSituator{failOn: 2, retryAfter: 1}
	g := newTestGenerator(sit, 3)

	wave := []Raw{
		{Index: 1, Content: "chunk one content"},
		{Index: 2, Content: "chunk two content"},
		{Index: 3, Content: "chunk three content"},
	}

	start := time.Now()
	results, err := g.runWave(context.Background(), "<document/>", wave)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected the wave to eventually succeed after retry, got %v", err)
	}
	if len(results) != len(wave) {
		t.Fatalf("expected %d results, got %d", len(wave), len(results))
	}
	if elapsed < time.Duration(sit.retryAfter)*time.Second {
		t.Fatalf("expected the wave to pause at least retry_after=%ds, elapsed %s", sit.retryAfter, elapsed)
	}
	// the 2nd global call failed once; every call of the retried wave has
	// a higher ordinal and never collides with it again, so it must not
	// still be armed.
	if sit.calls <= len(wave) {
		t.Fatalf("expected the wave to have been attempted twice, saw %d total calls", sit.calls)
	}
}

func TestRunWave_NonRateLimitErrorFailsWithoutRetry(t *testing.T) {
	sit := &failingSituator{err: context.DeadlineExceeded}
	g := newTestGenerator(sit, 2)

	wave := []Raw{{Index: 1, Content: "a"}, {Index: 2, Content: "b"}}
	_, err := g.runWave(context.Background(), "<document/>", wave)
	if err == nil {
		t.Fatal("expected a non-rate-limit error to surface immediately")
	}
}

type failingSituator struct{ err error }

func (f *failingSituator) SituateChunk(context.Context, string, string) (string, llmclient.Usage, error) {
	return "", llmclient.Usage{}, f.err
}
