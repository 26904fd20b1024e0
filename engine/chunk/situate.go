package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/ratelimit"
	"github.com/mentorfy/ingestpipe/pkg/llmclient"
)

const (
	maxConcurrentDefault = 5
	waveStagger          = 250 * time.Millisecond
	interWavePause       = 2 * time.Second
	maxWaveRetries       = 10
	// maxSituateOutputTokens bounds the situating completion's output,
	// matching llmclient.Client.SituateChunk's MaxTokens budget
	// (spec §4.5 step 3: "≤100 output tokens").
	maxSituateOutputTokens = 100
)

// situator is the narrow slice of pkg/llmclient.Client the Generator
// depends on, named here so tests can supply a fake without driving a
// real Anthropic call (grounded on the same narrow-interface-at-the-
// consumer convention as engine/graph.Engine and engine/queue.Broker).
type situator interface {
	SituateChunk(ctx context.Context, cacheSystem, chunkText string) (string, llmclient.Usage, error)
}

// Generator produces Chunked documents by packing sentences and then
// asking the LLM to situate each chunk within the whole document,
// priming the prompt cache with the first chunk alone before running
// the remaining chunks in waves (spec §4.4).
type Generator struct {
	llm           situator
	governor      *ratelimit.Governor
	rateProvider  string
	rpmCap        int
	tpmCap        int
	maxConcurrent int
	stagger       *rate.Limiter
}

// NewGenerator builds a Generator. rpmCap bounds requests/minute via
// the shared Rate Governor; tpmCap bounds tokens/minute (0 disables
// token reservation). The wave size (in-flight chunk calls within a
// single document's waves) starts at maxConcurrentDefault and is
// changed with SetMaxConcurrent. The generator's internal stagger
// limiter paces wave-start fan-out at one call per waveStagger interval
// (spec §4.5 step 4: "intra-wave start stagger (~250 ms)"), using
// golang.org/x/time/rate rather than
// a hand-rolled sleep-by-index so the pacing holds even when a
// previous call in the wave finishes late.
func NewGenerator(llm *llmclient.Client, governor *ratelimit.Governor, rateProvider string, rpmCap, tpmCap int) *Generator {
	mc := maxConcurrentDefault
	return &Generator{
		llm: llm, governor: governor, rateProvider: rateProvider, rpmCap: rpmCap, tpmCap: tpmCap, maxConcurrent: mc,
		stagger: rate.NewLimiter(rate.Every(waveStagger), 1),
	}
}

// SetMaxConcurrent overrides the wave size, driven by the
// CHUNKING_MAX_CONCURRENT startup setting (spec §6).
func (g *Generator) SetMaxConcurrent(n int) {
	if n > 0 {
		g.maxConcurrent = n
	}
}

// Chunked is one situated chunk ready for graph ingestion.
type Chunked struct {
	Index     int
	Content   string
	Context   string
	Tokens    int
	CharStart int
	CharEnd   int
}

// Generate packs text into chunks and situates each one. If the
// document is short enough, it returns a single chunk whose context is
// title, bypassing the LLM entirely (spec §4.4 edge case).
func (g *Generator) Generate(ctx context.Context, documentTitle, text string) ([]Chunked, error) {
	if ShortDocumentBypass(text) {
		return []Chunked{{Index: 0, Content: text, Context: documentTitle, Tokens: estimateTokens(text), CharStart: 0, CharEnd: len(text)}}, nil
	}

	raw := PackSentences(text)
	if len(raw) == 0 {
		return nil, nil
	}

	cacheSystem := situatingSystemPrompt(documentTitle, text)
	out := make([]Chunked, len(raw))

	// Prime the cache with the first chunk alone before fanning out the
	// rest in waves, so every subsequent call hits the cached prefix.
	first, err := g.situateOne(ctx, cacheSystem, raw[0], true)
	if err != nil {
		return nil, err
	}
	out[0] = first

	rest := raw[1:]
	for start := 0; start < len(rest); start += g.maxConcurrent {
		end := start + g.maxConcurrent
		if end > len(rest) {
			end = len(rest)
		}
		wave := rest[start:end]

		results, err := g.runWave(ctx, cacheSystem, wave)
		if err != nil {
			return nil, err
		}
		for i, r := range results {
			out[1+start+i] = r
		}

		if end < len(rest) {
			time.Sleep(interWavePause)
		}
	}

	return out, nil
}

func (g *Generator) runWave(ctx context.Context, cacheSystem string, wave []Raw) ([]Chunked, error) {
	var lastErr error
	for attempt := 0; attempt < maxWaveRetries; attempt++ {
		results, rateLimited, err := g.tryWave(ctx, cacheSystem, wave)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !rateLimited {
			return nil, err
		}
		var rle *domain.RateLimitError
		wait := interWavePause
		if errors.As(err, &rle) && rle.RetryAfter > 0 {
			wait = time.Duration(rle.RetryAfter) * time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("chunk: wave exhausted %d retries: %w", maxWaveRetries, lastErr)
}

// tryWave runs one wave of up to maxConcurrent chunks concurrently,
// staggering each goroutine's start by waveStagger so the provider's
// acceleration (ramp-up) limit isn't hit all at once (spec §4.5 step
// 4). A 429 anywhere in the wave cancels the rest via the errgroup's
// shared context and reports rateLimited so the caller retries the
// whole wave.
func (g *Generator) tryWave(ctx context.Context, cacheSystem string, wave []Raw) ([]Chunked, bool, error) {
	results := make([]Chunked, len(wave))
	var rateLimited atomic.Bool

	grp, gctx := errgroup.WithContext(ctx)
	for i, r := range wave {
		i, r := i, r
		grp.Go(func() error {
			if err := g.stagger.Wait(gctx); err != nil {
				return err
			}
			c, err := g.situateOne(gctx, cacheSystem, r, false)
			if err != nil {
				var rle *domain.RateLimitError
				if errors.As(err, &rle) {
					rateLimited.Store(true)
				}
				return err
			}
			results[i] = c
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, rateLimited.Load(), err
	}
	return results, false, nil
}

// situateOne issues one situating call, token-reserving against the
// Rate Governor using the pre-estimated total for the call (spec §4.5
// step 4). primeCache marks the cache-write call: it pays for the full
// cacheable system prefix plus the chunk, where every later call on
// the same document only pays for its own chunk (spec §4.5 step 3:
// "cache-write cost ... paid once; subsequent chunks pay only chunk +
// output").
func (g *Generator) situateOne(ctx context.Context, cacheSystem string, r Raw, primeCache bool) (Chunked, error) {
	if g.governor != nil {
		if err := g.governor.WaitForRequest(ctx, g.rateProvider, g.rpmCap); err != nil {
			return Chunked{}, fmt.Errorf("chunk: rate governor: %w", err)
		}
		if g.tpmCap > 0 {
			estTokens := estimateTokens(r.Content) + maxSituateOutputTokens
			if primeCache {
				estTokens += estimateTokens(cacheSystem)
			}
			if err := g.governor.WaitForTokens(ctx, g.rateProvider, estTokens, g.tpmCap); err != nil {
				return Chunked{}, fmt.Errorf("chunk: rate governor tokens: %w", err)
			}
		}
	}

	context, _, err := g.llm.SituateChunk(ctx, cacheSystem, r.Content)
	if err != nil {
		return Chunked{}, fmt.Errorf("chunk: situate chunk %d: %w", r.Index, err)
	}
	return Chunked{
		Index:     r.Index,
		Content:   r.Content,
		Context:   strings.TrimSpace(context),
		Tokens:    r.Tokens,
		CharStart: r.CharStart,
		CharEnd:   r.CharEnd,
	}, nil
}

func situatingSystemPrompt(title, fullText string) string {
	return fmt.Sprintf("<document title=\"%s\">\n%s\n</document>", title, fullText)
}
